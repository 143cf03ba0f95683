package signals

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// ErrNoEvent is returned by Wait when the timeout expired before a signal
// arrived. Callers should simply wait again.
var ErrNoEvent = errors.New("no signal event")

// queueSize bounds the number of signals buffered between waits. Further
// signals of the same kind coalesce as they would in the kernel.
const queueSize = 64

// Set holds every signal delivered to the process until it is consumed.
type Set struct {
	ch   chan os.Signal
	reap func() (int, int, error)
}

// BlockAll redirects all catchable signals into a new Set. From this point
// on no signal runs its default action; each must be consumed through the
// Set. It must be called before starting any child whose death has to be
// observed, so the notification cannot be missed.
func BlockAll() *Set {
	s := &Set{
		ch:   make(chan os.Signal, queueSize),
		reap: Reap,
	}
	signal.Notify(s.ch)

	return s
}

// Stop restores default signal handling.
func (s *Set) Stop() {
	signal.Stop(s.ch)
}

// Next blocks until one signal is pending and returns it without any
// further processing. A zero timeout waits forever; otherwise ErrNoEvent is
// returned when it expires.
func (s *Set) Next(timeout time.Duration) (syscall.Signal, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-expired:
			return 0, ErrNoEvent
		case sig := <-s.ch:
			num, ok := sig.(syscall.Signal)
			if !ok || runtimeSignal(num) {
				continue
			}
			return num, nil
		}
	}
}

// Wait is like Next, but for SIGCHLD it also reaps one exited child and
// reports its pid and translated status.
func (s *Set) Wait(timeout time.Duration) (Event, error) {
	num, err := s.Next(timeout)
	if err != nil {
		return Event{}, err
	}

	ev := Event{Signal: num}
	if num == syscall.SIGCHLD {
		pid, status, err := s.reap()
		if err != nil {
			return Event{}, err
		}
		ev.Pid, ev.Status = pid, status
	}

	return ev, nil
}

// runtimeSignal reports signals the Go runtime raises for itself, which are
// never meant for the supervised processes.
func runtimeSignal(sig syscall.Signal) bool {
	return sig == syscall.SIGURG
}
