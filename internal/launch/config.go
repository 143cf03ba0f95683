package launch

import (
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sys/unix"

	"github.com/lutaod/tinycage/internal/mount"
	"github.com/lutaod/tinycage/internal/pid1"
)

// Descriptors of the helper process, in the order of exec.Cmd.ExtraFiles.
const (
	configFd = 3
	syncFd   = 4
	stdioFd  = 5
)

// Config is the copy of a Command handed to the helper process. It owns all
// of its data; descriptors are renumbered to the helper's view.
type Config struct {
	User           *int
	RestoreSigmask bool
	Stdio          *Stdio
	LogPrefix      string
	Root           string
	Candidates     []string
	Args           []string
	Env            []string
	Workdir        string
	Mounts         []mount.Spec
	PID1           pid1.Mode
}

// Paths and arguments are arbitrary bytes on Linux.
var decMode, _ = cbor.DecOptions{UTF8: cbor.UTF8DecodeInvalid}.DecMode()

// config copies c into a Config. The returned files are duplicates of the
// caller's stdio descriptors, to be passed to the helper after the config
// and sync descriptors and closed once it has started.
func (c *Command) config() (*Config, []*os.File, error) {
	cfg := &Config{
		RestoreSigmask: c.RestoreSigmask,
		LogPrefix:      c.LogPrefix,
		Root:           c.Root,
		Candidates:     c.candidates(),
		Args:           append([]string(nil), c.Args...),
		Env:            append([]string(nil), c.Env...),
		Workdir:        c.Workdir,
		Mounts:         append([]mount.Spec(nil), c.Mounts...),
		PID1:           c.PID1,
	}
	if c.User != nil {
		uid := *c.User
		cfg.User = &uid
	}
	if cfg.Workdir == "" {
		cfg.Workdir = "/"
	}

	if c.Stdio == nil {
		return cfg, nil, nil
	}

	var files []*os.File
	pass := func(fd int, name string) (int, error) {
		dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			return 0, fmt.Errorf("invalid %s descriptor %d: %w", name, fd, err)
		}
		files = append(files, os.NewFile(uintptr(dup), name))
		return stdioFd + len(files) - 1, nil
	}

	var err error
	stdio := &Stdio{Stdin: c.Stdio.Stdin}
	if c.Stdio.Stdin > 0 {
		stdio.Stdin, err = pass(c.Stdio.Stdin, "stdin")
	}
	if err == nil {
		stdio.Stdout, err = pass(c.Stdio.Stdout, "stdout")
	}
	if err == nil {
		stdio.Stderr, err = pass(c.Stdio.Stderr, "stderr")
	}
	if err != nil {
		closeFiles(files)
		return nil, nil, err
	}
	cfg.Stdio = stdio

	return cfg, files, nil
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

func (cfg *Config) encode() ([]byte, error) {
	data, err := cbor.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode launch config: %w", err)
	}

	return data, nil
}

// readConfig decodes the Config written by Launch and closes r.
func readConfig(r io.ReadCloser) (*Config, error) {
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read launch config: %w", err)
	}

	var cfg Config
	if err := decMode.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode launch config: %w", err)
	}

	return &cfg, nil
}
