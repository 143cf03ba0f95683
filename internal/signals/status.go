package signals

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// Event is a single signal notification. For SIGCHLD, Pid and Status
// describe the reaped child; Status is already translated to the shell
// convention.
type Event struct {
	Signal syscall.Signal
	Pid    int
	Status int
}

// Status translates a wait status the way shells do: the exit code for a
// normal exit, 128 plus the signal number for a signal death.
func Status(ws unix.WaitStatus) int {
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}

	return ws.ExitStatus()
}

// Reap collects one exited child without blocking. It returns a zero pid
// when no child has changed state or when there are no children at all.
func Reap() (pid int, status int, err error) {
	var ws unix.WaitStatus
	for {
		pid, err = unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			return 0, 0, nil
		case err != nil:
			return 0, 0, err
		case pid <= 0:
			return 0, 0, nil
		}

		return pid, Status(ws), nil
	}
}
