package container

import (
	"errors"
	"io"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/lutaod/tinycage/internal/signals"
)

// poller is the part of signals.Loop the supervisor uses.
type poller interface {
	Poll() (signals.Notice, error)
	RemoveInput(fd int) error
	AddTimeout(d time.Duration, name string)
}

const timeoutName = "timeout"

// supervisor waits for the launched process while copying its output.
type supervisor struct {
	loop poller
	pid  int
	// out receives the child's output read from fd; fd < 0 when the output
	// is not captured.
	fd  int
	out io.Writer
	// timeout kills the child with timeoutSignal when positive.
	timeout       time.Duration
	timeoutSignal syscall.Signal

	kill func(pid int, sig syscall.Signal) error
	read func(fd int, p []byte) (int, error)
}

func newSupervisor(loop poller, pid int) *supervisor {
	return &supervisor{
		loop:          loop,
		pid:           pid,
		fd:            -1,
		timeoutSignal: syscall.SIGKILL,
		kill:          unix.Kill,
		read:          unix.Read,
	}
}

// wait returns the shell-style status of the child.
func (s *supervisor) wait() (int, error) {
	if s.timeout > 0 {
		s.loop.AddTimeout(s.timeout, timeoutName)
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := s.loop.Poll()
		if err != nil {
			return 0, err
		}

		switch n.Kind {
		case signals.Child:
			if n.Pid != s.pid {
				continue
			}
			s.drain(buf)
			return n.Status, nil

		case signals.Signal:
			if !n.Terminates() {
				logrus.Debugf("ignoring signal %v", n.Signal)
				continue
			}
			if err := s.kill(s.pid, n.Signal); err != nil {
				logrus.Warnf("failed to forward %v to pid %d: %v", n.Signal, s.pid, err)
			}

		case signals.Input:
			if n.Fd != s.fd {
				continue
			}
			if !s.copyOnce(buf) {
				if err := s.loop.RemoveInput(s.fd); err != nil {
					return 0, err
				}
			}

		case signals.Timeout:
			if n.Name != timeoutName {
				continue
			}
			logrus.Warnf("pid %d timed out after %s, sending %v", s.pid, s.timeout, s.timeoutSignal)
			if err := s.kill(s.pid, s.timeoutSignal); err != nil {
				logrus.Warnf("failed to send %v to pid %d: %v", s.timeoutSignal, s.pid, err)
			}
		}
	}
}

// copyOnce moves one read of output. It returns false at end of file.
func (s *supervisor) copyOnce(buf []byte) bool {
	n, err := s.read(s.fd, buf)
	if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
		return true
	}
	if err != nil {
		logrus.Warnf("failed to read output: %v", err)
		return false
	}
	if n == 0 {
		return false
	}

	if _, err := s.out.Write(buf[:n]); err != nil {
		logrus.Warnf("failed to write output: %v", err)
	}
	return true
}

// drain copies output still buffered after the child exited without
// waiting for writers that outlive it.
func (s *supervisor) drain(buf []byte) {
	if s.fd < 0 {
		return
	}
	if err := unix.SetNonblock(s.fd, true); err != nil {
		logrus.Warnf("failed to drain output: %v", err)
		return
	}

	for {
		n, err := s.read(s.fd, buf)
		if err != nil || n <= 0 {
			return
		}
		if _, err := s.out.Write(buf[:n]); err != nil {
			logrus.Warnf("failed to write output: %v", err)
			return
		}
	}
}

var errNoCommand = errors.New("no command given")
