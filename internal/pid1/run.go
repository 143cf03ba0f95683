package pid1

import (
	"fmt"
	"syscall"
	"time"

	"github.com/lutaod/tinycage/internal/signals"
)

// Source yields the next signal delivered to the supervisor.
type Source interface {
	Next(timeout time.Duration) (syscall.Signal, error)
}

// Run starts the target through start and supervises it until the mode's
// terminal state, returning the status the init process should exit with.
// Signals are subscribed before start is called so the death of a fast
// child is never missed. Exec mode is not supervised and is rejected.
func Run(mode Mode, start func() (int, error)) (int, error) {
	if mode == Exec {
		return 0, fmt.Errorf("pid1 mode %s does not supervise", mode)
	}

	set := signals.BlockAll()
	defer set.Stop()

	pid, err := start()
	if err != nil {
		return 0, err
	}

	return supervise(NewReaper(mode, pid), set)
}

func supervise(r *Reaper, src Source) (int, error) {
	for {
		sig, err := src.Next(0)
		if err != nil {
			return 0, fmt.Errorf("failed to wait for signal: %w", err)
		}

		done, err := r.Handle(sig)
		if err != nil {
			return 0, fmt.Errorf("failed to reap children: %w", err)
		}
		if done {
			return r.Status(), nil
		}
	}
}
