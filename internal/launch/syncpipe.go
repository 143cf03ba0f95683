package launch

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SyncPipe releases a launched process once the parent has finished the
// namespace setup the child cannot do on its own.
type SyncPipe struct {
	r *os.File
	w *os.File
}

// NewSyncPipe creates the pipe. Its reader goes into Command.Sync.
func NewSyncPipe() (*SyncPipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create sync pipe: %w", err)
	}

	return &SyncPipe{r: r, w: w}, nil
}

// Reader returns the end the child blocks on.
func (p *SyncPipe) Reader() *os.File {
	return p.r
}

// Release writes the single release byte and closes both ends held by the
// parent.
func (p *SyncPipe) Release() error {
	defer p.Close()

	if _, err := p.w.Write([]byte{'x'}); err != nil {
		return fmt.Errorf("failed to release child: %w", err)
	}

	return nil
}

// Close closes both ends. A child still waiting sees end of file and
// aborts.
func (p *SyncPipe) Close() error {
	rerr := p.r.Close()
	werr := p.w.Close()
	if errors.Is(rerr, os.ErrClosed) {
		rerr = nil
	}
	if errors.Is(werr, os.ErrClosed) {
		werr = nil
	}

	return errors.Join(rerr, werr)
}

// errUnreleased is returned when the pipe is closed without a release byte.
var errUnreleased = errors.New("sync pipe closed before release")

// awaitRelease blocks until one byte can be read from fd. Interrupted and
// would-block reads are retried.
func awaitRelease(read func(fd int, p []byte) (int, error), fd int) error {
	buf := make([]byte, 1)
	for {
		n, err := read(fd, buf)
		switch {
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN):
			continue
		case err != nil:
			return fmt.Errorf("failed to read sync pipe: %w", err)
		case n == 0:
			return errUnreleased
		}

		return nil
	}
}
