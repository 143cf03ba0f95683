package container

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/lutaod/tinycage/internal/launch"
	"github.com/lutaod/tinycage/internal/mount"
	"github.com/lutaod/tinycage/internal/network"
	"github.com/lutaod/tinycage/internal/overlay"
	"github.com/lutaod/tinycage/internal/pid1"
	"github.com/lutaod/tinycage/internal/signals"
	"github.com/lutaod/tinycage/internal/uidmap"
	"github.com/lutaod/tinycage/internal/volume"
)

// Options configures Run.
type Options struct {
	Root       string
	Workdir    string
	Volumes    volume.Volumes
	Envs       Envs
	User       *int
	Namespaces uintptr
	PID1       pid1.Mode
	// Overlay keeps Root pristine by writing to an overlay on top of it.
	Overlay    bool
	StateDir   string
	AutoRemove bool
	// LogPath captures the output of the command instead of passing the
	// terminal through.
	LogPath   string
	NullStdin bool
	// Tmp mounts an empty tmpfs on /tmp.
	Tmp         bool
	KeepSigmask bool
	Timeout     time.Duration
	// TimeoutSignal is sent when Timeout expires.
	TimeoutSignal string
}

// Run executes args inside new namespaces with Root as the filesystem root
// and returns its shell-style exit status.
func Run(opts *Options, args []string) (int, error) {
	if len(args) == 0 {
		return 0, errNoCommand
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve root: %w", err)
	}

	timeoutSignal := syscall.SIGKILL
	if opts.TimeoutSignal != "" {
		if timeoutSignal, err = parseSignal(opts.TimeoutSignal); err != nil {
			return 0, err
		}
	}

	id := generateID()
	runs := newStore(opts.StateDir)
	mounts := []mount.Spec{mount.Slave("/")}

	if opts.Overlay {
		layout := overlay.New(opts.StateDir, id, []string{root})
		if err := layout.Prepare(); err != nil {
			return 0, err
		}
		if opts.AutoRemove {
			defer func() {
				if err := layout.Cleanup(); err != nil {
					logrus.Warn(err)
				}
			}()
		}
		mounts = append(mounts, layout.Mount())
		root = layout.Merged()
	}

	if err := opts.Volumes.Prepare(); err != nil {
		return 0, err
	}
	mounts = append(mounts, opts.Volumes.Mounts(root)...)

	namespaces := opts.Namespaces | unix.CLONE_NEWNS
	if namespaces&unix.CLONE_NEWPID != 0 {
		mounts = append(mounts, mount.WithMkdir(mount.Proc(filepath.Join(root, "proc"))))
	}
	if opts.Tmp {
		mounts = append(mounts, mount.WithMkdir(mount.Tmpfs(filepath.Join(root, "tmp"), "mode=1777")))
	}

	cmd := &launch.Command{
		Namespaces:     namespaces,
		User:           opts.User,
		RestoreSigmask: !opts.KeepSigmask,
		LogPrefix:      id,
		Root:           root,
		Candidates:     candidates(args[0]),
		Args:           args,
		Env:            mergeEnv(os.Environ(), opts.Envs),
		Workdir:        opts.Workdir,
		Mounts:         mounts,
		PID1:           opts.PID1,
	}

	if namespaces&unix.CLONE_NEWUSER != 0 {
		cmd.UIDMappings, cmd.GIDMappings = uidmap.Root(os.Getuid(), os.Getgid())
	}

	stdin := 0
	if opts.NullStdin {
		stdin = -1
		cmd.Stdio = &launch.Stdio{Stdin: stdin, Stdout: 1, Stderr: 2}
	}

	var output, outputWriter *os.File
	var logFile io.WriteCloser
	if opts.LogPath != "" {
		logFile, err = os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, fmt.Errorf("failed to create log file: %w", err)
		}
		defer logFile.Close()

		r, w, err := os.Pipe()
		if err != nil {
			return 0, fmt.Errorf("failed to create output pipe: %w", err)
		}
		defer r.Close()
		defer w.Close()

		output, outputWriter = r, w
		cmd.Stdio = &launch.Stdio{Stdin: stdin, Stdout: int(w.Fd()), Stderr: int(w.Fd())}
	}

	info := &info{
		ID:        id,
		Status:    running,
		Root:      opts.Root,
		Command:   args,
		CreatedAt: time.Now(),
	}

	ready := func(pid int) error {
		info.PID = pid
		if err := runs.save(info); err != nil {
			return err
		}

		if namespaces&unix.CLONE_NEWNET != 0 {
			if err := network.EnableLoopback(pid); err != nil {
				return err
			}
		}

		return nil
	}

	status, err := execute(cmd, ready, func(s *supervisor) {
		if output != nil {
			// Only the child writes from now on
			outputWriter.Close()
			s.fd = int(output.Fd())
			s.out = logFile
		}
		s.timeout = opts.Timeout
		s.timeoutSignal = timeoutSignal
	})
	if err != nil {
		return 0, err
	}

	info.Status = exited
	info.ExitStatus = status
	if opts.AutoRemove {
		err = runs.remove(id)
	} else {
		err = runs.save(info)
	}
	if err != nil {
		logrus.Warn(err)
	}

	return status, nil
}

// List prints the runs recorded below stateDir.
func List(stateDir string, showAll bool) error {
	return newStore(stateDir).list(os.Stdout, showAll)
}

// execute launches cmd, lets ready act on the new pid while the child is
// still blocked, releases it and supervises it until it exits. Signals are
// captured before the launch so the child's death cannot be missed.
func execute(cmd *launch.Command, ready func(pid int) error, configure func(*supervisor)) (int, error) {
	set := signals.BlockAll()
	defer set.Stop()

	loop, err := signals.NewLoop(set)
	if err != nil {
		return 0, err
	}
	defer loop.Close()

	sync, err := launch.NewSyncPipe()
	if err != nil {
		return 0, err
	}
	defer sync.Close()
	cmd.Sync = sync.Reader()

	pid, err := launch.Launch(cmd)
	if err != nil {
		return 0, err
	}

	s := newSupervisor(loop, pid)
	if configure != nil {
		configure(s)
	}
	if s.fd >= 0 {
		if err := loop.AddInput(s.fd, "output"); err != nil {
			unix.Kill(pid, unix.SIGKILL)
			return 0, err
		}
	}

	if ready != nil {
		if err := ready(pid); err != nil {
			// Closing the pipe unreleased makes the child abort
			sync.Close()
			unix.Kill(pid, unix.SIGKILL)
			return 0, err
		}
	}

	if err := sync.Release(); err != nil {
		unix.Kill(pid, unix.SIGKILL)
		return 0, err
	}

	return s.wait()
}
