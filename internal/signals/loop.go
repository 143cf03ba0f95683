package signals

import (
	"container/heap"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Kind tells what woke a Loop up.
type Kind int

const (
	// Signal is any delivered signal other than SIGCHLD.
	Signal Kind = iota + 1
	// Child is an exited child, already reaped.
	Child
	// Input is a registered descriptor that became readable.
	Input
	// Timeout is an expired named timeout.
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Signal:
		return "signal"
	case Child:
		return "child"
	case Input:
		return "input"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Notice is the result of a Loop poll.
type Notice struct {
	Kind Kind
	Event
	// Name of the input or timeout that fired.
	Name string
	// Fd of the readable input.
	Fd int
}

// Terminates reports whether the notice is a request to shut down.
func (n Notice) Terminates() bool {
	if n.Kind != Signal {
		return false
	}

	switch n.Signal {
	case syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT:
		return true
	}
	return false
}

// Loop multiplexes signals, readable descriptors and timeouts over epoll so
// a parent can watch a child's output while waiting for it to die. Signals
// reach epoll through a non-blocking pipe fed from the Set.
type Loop struct {
	set      *Set
	epfd     int
	sigRead  int
	sigWrite int
	inputs   map[int]string
	timeouts timeoutQueue
	reap     func() (int, int, error)
	done     chan struct{}
	stopped  chan struct{}
}

// NewLoop takes ownership of set: its events are only delivered through
// the Loop from now on.
func NewLoop(set *Set) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoll: %w", err)
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("failed to create signal pipe: %w", err)
	}

	l := &Loop{
		set:      set,
		epfd:     epfd,
		sigRead:  p[0],
		sigWrite: p[1],
		inputs:   make(map[int]string),
		reap:     set.reap,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	if err := l.register(l.sigRead); err != nil {
		l.closeFds()
		return nil, err
	}

	go l.forward()

	return l, nil
}

// forward copies queued signals into the signal pipe. A full pipe drops the
// signal number, which is harmless as the reader only needs to wake up and
// signals of one kind coalesce anyway.
func (l *Loop) forward() {
	defer close(l.stopped)

	for {
		select {
		case <-l.done:
			return
		case sig := <-l.set.ch:
			num, ok := sig.(syscall.Signal)
			if !ok || runtimeSignal(num) {
				continue
			}
			if _, err := unix.Write(l.sigWrite, []byte{byte(num)}); err != nil && !errors.Is(err, unix.EAGAIN) {
				logrus.Warnf("failed to queue signal %v: %v", num, err)
			}
		}
	}
}

func (l *Loop) register(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("failed to register fd %d: %w", fd, err)
	}

	return nil
}

// AddInput watches fd for readability. The caller must drain the descriptor
// on every Input notice and remove it once it reaches end of file.
func (l *Loop) AddInput(fd int, name string) error {
	if err := l.register(fd); err != nil {
		return err
	}
	l.inputs[fd] = name

	return nil
}

// RemoveInput stops watching fd.
func (l *Loop) RemoveInput(fd int) error {
	delete(l.inputs, fd)
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("failed to unregister fd %d: %w", fd, err)
	}

	return nil
}

// AddTimeout schedules a Timeout notice named name after d.
func (l *Loop) AddTimeout(d time.Duration, name string) {
	heap.Push(&l.timeouts, timeout{deadline: time.Now().Add(d), name: name})
}

// Poll blocks until the next notice. Children that already exited are
// reported before anything else.
func (l *Loop) Poll() (Notice, error) {
	events := make([]unix.EpollEvent, 1)

	for {
		pid, status, err := l.reap()
		if err != nil {
			return Notice{}, fmt.Errorf("failed to reap children: %w", err)
		}
		if pid > 0 {
			return Notice{
				Kind:  Child,
				Event: Event{Signal: syscall.SIGCHLD, Pid: pid, Status: status},
			}, nil
		}

		n, err := unix.EpollWait(l.epfd, events, l.nextTimeout())
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return Notice{}, fmt.Errorf("failed to wait on epoll: %w", err)
		}

		if n == 0 {
			if name, ok := l.expired(); ok {
				return Notice{Kind: Timeout, Name: name}, nil
			}
			continue
		}

		fd := int(events[0].Fd)
		if fd != l.sigRead {
			return Notice{Kind: Input, Name: l.inputs[fd], Fd: fd}, nil
		}

		sig, err := l.readSignal()
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return Notice{}, fmt.Errorf("failed to read signal: %w", err)
		}

		// Child deaths are picked up by the reap at the top of the loop
		if sig == syscall.SIGCHLD {
			continue
		}

		return Notice{Kind: Signal, Event: Event{Signal: sig}}, nil
	}
}

func (l *Loop) readSignal() (syscall.Signal, error) {
	var buf [1]byte

	n, err := unix.Read(l.sigRead, buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("signal pipe closed")
	}

	return syscall.Signal(buf[0]), nil
}

// nextTimeout returns the epoll timeout in milliseconds, -1 for none.
func (l *Loop) nextTimeout() int {
	if l.timeouts.Len() == 0 {
		return -1
	}

	left := time.Until(l.timeouts[0].deadline)
	if left <= 0 {
		return 0
	}

	// Round up so an early wake up does not spin
	return int((left + time.Millisecond - 1) / time.Millisecond)
}

func (l *Loop) expired() (string, bool) {
	if l.timeouts.Len() == 0 || time.Now().Before(l.timeouts[0].deadline) {
		return "", false
	}

	t := heap.Pop(&l.timeouts).(timeout)
	return t.name, true
}

// Close releases the epoll instance and stops signal forwarding. The Set
// keeps queueing signals until it is stopped.
func (l *Loop) Close() error {
	close(l.done)
	<-l.stopped

	return l.closeFds()
}

func (l *Loop) closeFds() error {
	var errs []error
	for _, fd := range []int{l.sigRead, l.sigWrite, l.epfd} {
		if err := unix.Close(fd); err != nil {
			errs = append(errs, os.NewSyscallError("close", err))
		}
	}

	return errors.Join(errs...)
}

type timeout struct {
	deadline time.Time
	name     string
}

// timeoutQueue is a min-heap of deadlines.
type timeoutQueue []timeout

func (q timeoutQueue) Len() int           { return len(q) }
func (q timeoutQueue) Less(i, j int) bool { return q[i].deadline.Before(q[j].deadline) }
func (q timeoutQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *timeoutQueue) Push(x any) {
	*q = append(*q, x.(timeout))
}

func (q *timeoutQueue) Pop() any {
	old := *q
	t := old[len(old)-1]
	*q = old[:len(old)-1]
	return t
}
