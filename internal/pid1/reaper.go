package pid1

import (
	"errors"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/lutaod/tinycage/internal/signals"
)

// Waiter collects one changed child without blocking. A zero pid means no
// child is ready; unix.ECHILD means there are no children left.
type Waiter func() (pid int, ws unix.WaitStatus, err error)

// Killer delivers sig to pid with kill(2) semantics.
type Killer func(pid int, sig syscall.Signal) error

func wait4() (int, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
	return pid, ws, err
}

// Reaper tracks the supervised child and decides when supervision is over.
type Reaper struct {
	mode   Mode
	child  int
	status int
	gone   bool
	done   bool

	wait Waiter
	kill Killer
}

// NewReaper returns a Reaper for child using the real wait4 and kill.
func NewReaper(mode Mode, child int) *Reaper {
	return &Reaper{
		mode:  mode,
		child: child,
		wait:  wait4,
		kill:  unix.Kill,
	}
}

// Status returns the shell-style status of the last relevant reap.
func (r *Reaper) Status() int {
	return r.status
}

// Handle consumes one signal. SIGCHLD drains every exited child; anything
// else is forwarded to the target (Wait) or to every process in the
// namespace (WaitAll). It reports whether the terminal state was reached.
func (r *Reaper) Handle(sig syscall.Signal) (bool, error) {
	if r.done {
		return true, nil
	}

	if sig != syscall.SIGCHLD {
		r.forward(sig)
		return false, nil
	}

	if err := r.drain(); err != nil {
		return false, err
	}

	if r.mode == Wait && r.gone {
		r.done = true
	}
	return r.done, nil
}

func (r *Reaper) drain() error {
	for {
		pid, ws, err := r.wait()
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			if r.mode == WaitAll || r.gone {
				r.done = true
			}
			return nil
		case err != nil:
			return err
		case pid <= 0:
			return nil
		}

		status := signals.Status(ws)
		logrus.Debugf("reaped pid %d with status %d", pid, status)

		switch {
		case pid == r.child:
			r.status = status
			r.gone = true
		case r.mode == WaitAll:
			r.status = status
		}
	}
}

func (r *Reaper) forward(sig syscall.Signal) {
	target := r.child
	if r.mode == WaitAll {
		target = -1
	}

	if err := r.kill(target, sig); err != nil {
		logrus.Debugf("failed to forward %v to %d: %v", sig, target, err)
	}
}
