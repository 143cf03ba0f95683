package launch

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/lutaod/tinycage/internal/mount"
	"github.com/lutaod/tinycage/internal/pid1"
)

// Exit statuses of the helper process when it fails on its own.
const (
	ExitSetup = 121
	ExitExec  = 127
)

// System is the process context the helper mutates while setting up. Each
// method maps to a single system call, so tests can record the sequence.
type System interface {
	mount.Mounter

	SetPdeathsig(sig syscall.Signal) error
	OpenNull() (int, error)
	Dup(oldfd, newfd int) error
	Close(fd int) error
	Read(fd int, p []byte) (int, error)
	Chdir(dir string) error
	Chroot(dir string) error
	Setuid(uid int) error
	RestoreSignals() error
	Exec(path string, args, env []string) error
	Spawn(path string, args, env []string) (int, error)
}

// SetupError is a failure before the target is executed.
type SetupError struct {
	Step string
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("failed to %s %s: %v", e.Step, e.Path, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// ExecError means none of the candidate executables could be started.
type ExecError struct {
	Path string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("failed to execute %s: %v", e.Path, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Setup prepares the helper process for cfg, in order: parent death
// signal, stdio redirection, sync handshake, mounts, root change, uid drop
// and signal restore. It stops at the first failure.
func Setup(sys System, cfg *Config) error {
	if err := sys.SetPdeathsig(syscall.SIGKILL); err != nil {
		return &SetupError{Step: "set parent death signal", Err: err}
	}

	if err := redirect(sys, cfg.Stdio); err != nil {
		return err
	}

	err := awaitRelease(sys.Read, syncFd)
	sys.Close(syncFd)
	if err != nil {
		return &SetupError{Step: "wait for release", Err: err}
	}

	if err := mount.Apply(sys, cfg.Mounts); err != nil {
		var merr *mount.Error
		if errors.As(err, &merr) {
			return &SetupError{Step: merr.Op, Path: merr.Target, Err: merr.Err}
		}
		return &SetupError{Step: "mount", Err: err}
	}

	if err := sys.Chdir(cfg.Root); err != nil {
		return &SetupError{Step: "chdir", Path: cfg.Root, Err: err}
	}
	if err := sys.Chroot(cfg.Root); err != nil {
		return &SetupError{Step: "chroot", Path: cfg.Root, Err: err}
	}
	if err := sys.Chdir(cfg.Workdir); err != nil {
		return &SetupError{Step: "chdir", Path: cfg.Workdir, Err: err}
	}

	if cfg.User != nil {
		if err := sys.Setuid(*cfg.User); err != nil {
			return &SetupError{Step: fmt.Sprintf("set uid %d", *cfg.User), Err: err}
		}
	}

	if cfg.RestoreSigmask {
		if err := sys.RestoreSignals(); err != nil {
			return &SetupError{Step: "restore signals", Err: err}
		}
	}

	return nil
}

func redirect(sys System, stdio *Stdio) error {
	if stdio == nil {
		return nil
	}

	switch {
	case stdio.Stdin < 0:
		if err := dupNull(sys); err != nil {
			return err
		}
	case stdio.Stdin > 0:
		if err := dupClose(sys, stdio.Stdin, 0); err != nil {
			return err
		}
	}

	if err := dupClose(sys, stdio.Stdout, 1); err != nil {
		return err
	}

	return dupClose(sys, stdio.Stderr, 2)
}

func dupNull(sys System) error {
	fd, err := sys.OpenNull()
	if err != nil {
		return &SetupError{Step: "open", Path: nullDevice, Err: err}
	}
	defer sys.Close(fd)

	if err := sys.Dup(fd, 0); err != nil {
		return &SetupError{Step: "redirect stdin to", Path: nullDevice, Err: err}
	}

	return nil
}

func dupClose(sys System, fd, target int) error {
	if err := sys.Dup(fd, target); err != nil {
		return &SetupError{Step: fmt.Sprintf("redirect descriptor %d from %d", target, fd), Err: err}
	}
	if fd != target {
		sys.Close(fd)
	}

	return nil
}

// Start runs the target of cfg. In exec mode it replaces the process and
// returns only on failure; otherwise it supervises the target as pid 1 and
// returns the status to exit with.
func Start(sys System, cfg *Config, log logrus.FieldLogger) (int, error) {
	if cfg.PID1 == pid1.Exec {
		return 0, tryCandidates(cfg, func(path string) error {
			return sys.Exec(path, cfg.Args, cfg.Env)
		})
	}

	return pid1.Run(cfg.PID1, func() (int, error) {
		var pid int
		err := tryCandidates(cfg, func(path string) (err error) {
			pid, err = sys.Spawn(path, cfg.Args, cfg.Env)
			return err
		})
		if err == nil {
			log.Debugf("started pid %d", pid)
		}
		return pid, err
	})
}

// tryCandidates calls run for each candidate until one succeeds. The error
// names the first candidate.
func tryCandidates(cfg *Config, run func(path string) error) error {
	var first error
	for _, path := range cfg.Candidates {
		err := run(path)
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
	}

	path := ""
	if len(cfg.Candidates) > 0 {
		path = cfg.Candidates[0]
	}
	if first == nil {
		first = errors.New("no executable given")
	}

	return &ExecError{Path: path, Err: first}
}

// Main performs Setup and Start and maps the outcome to an exit status.
func Main(sys System, cfg *Config, log logrus.FieldLogger) int {
	if err := Setup(sys, cfg); err != nil {
		log.Error(err)
		return ExitSetup
	}

	status, err := Start(sys, cfg, log)
	if err != nil {
		log.Error(err)

		var eerr *ExecError
		if errors.As(err, &eerr) {
			return ExitExec
		}
		return ExitSetup
	}

	return status
}
