package container

import (
	"bytes"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lutaod/tinycage/internal/signals"
)

type fakeLoop struct {
	notices  []signals.Notice
	removed  []int
	timeouts []time.Duration
}

func (l *fakeLoop) Poll() (signals.Notice, error) {
	if len(l.notices) == 0 {
		return signals.Notice{}, errors.New("no more notices")
	}
	n := l.notices[0]
	l.notices = l.notices[1:]
	return n, nil
}

func (l *fakeLoop) RemoveInput(fd int) error {
	l.removed = append(l.removed, fd)
	return nil
}

func (l *fakeLoop) AddTimeout(d time.Duration, name string) {
	l.timeouts = append(l.timeouts, d)
}

type sent struct {
	Pid int
	Sig syscall.Signal
}

func child(pid, status int) signals.Notice {
	return signals.Notice{Kind: signals.Child, Event: signals.Event{Signal: syscall.SIGCHLD, Pid: pid, Status: status}}
}

func signal(sig syscall.Signal) signals.Notice {
	return signals.Notice{Kind: signals.Signal, Event: signals.Event{Signal: sig}}
}

func TestSupervisorWait(t *testing.T) {
	tests := []struct {
		name       string
		notices    []signals.Notice
		timeout    time.Duration
		wantStatus int
		wantSent   []sent
	}{
		{
			name:       "exit status",
			notices:    []signals.Notice{child(10, 3)},
			wantStatus: 3,
		},
		{
			name:       "other children ignored",
			notices:    []signals.Notice{child(11, 1), child(10, 137)},
			wantStatus: 137,
		},
		{
			name: "termination forwarded",
			notices: []signals.Notice{
				signal(syscall.SIGINT),
				signal(syscall.SIGWINCH),
				signal(syscall.SIGTERM),
				child(10, 143),
			},
			wantStatus: 143,
			wantSent:   []sent{{Pid: 10, Sig: syscall.SIGINT}, {Pid: 10, Sig: syscall.SIGTERM}},
		},
		{
			name: "timeout",
			notices: []signals.Notice{
				{Kind: signals.Timeout, Name: "other"},
				{Kind: signals.Timeout, Name: timeoutName},
				child(10, 137),
			},
			timeout:    time.Second,
			wantStatus: 137,
			wantSent:   []sent{{Pid: 10, Sig: syscall.SIGKILL}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loop := &fakeLoop{notices: tt.notices}
			s := newSupervisor(loop, 10)
			s.timeout = tt.timeout

			var got []sent
			s.kill = func(pid int, sig syscall.Signal) error {
				got = append(got, sent{Pid: pid, Sig: sig})
				return nil
			}

			status, err := s.wait()
			if err != nil {
				t.Fatalf("wait() error = %v", err)
			}
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if diff := cmp.Diff(tt.wantSent, got); diff != "" {
				t.Errorf("signals mismatch (-want +got):\n%s", diff)
			}
			if tt.timeout > 0 && len(loop.timeouts) != 1 {
				t.Errorf("timeouts = %v", loop.timeouts)
			}
		})
	}
}

func TestSupervisorCopiesOutput(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	fd := int(r.Fd())
	loop := &fakeLoop{notices: []signals.Notice{
		{Kind: signals.Input, Fd: fd},
		{Kind: signals.Input, Fd: fd},
		child(10, 0),
	}}

	var out bytes.Buffer
	s := newSupervisor(loop, 10)
	s.fd = fd
	s.out = &out

	if _, err := w.WriteString("hello\n"); err != nil {
		t.Fatal(err)
	}
	w.Close()

	status, err := s.wait()
	if err != nil {
		t.Fatalf("wait() error = %v", err)
	}
	if status != 0 {
		t.Errorf("status = %d, want 0", status)
	}
	if out.String() != "hello\n" {
		t.Errorf("output = %q", out.String())
	}
	if diff := cmp.Diff([]int{fd}, loop.removed); diff != "" {
		t.Errorf("removed inputs mismatch (-want +got):\n%s", diff)
	}
}

func TestSupervisorDrainsAfterExit(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	// A descendant may keep the write end open after the child exits.
	defer w.Close()

	if _, err := w.WriteString("last words"); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	s := newSupervisor(&fakeLoop{notices: []signals.Notice{child(10, 1)}}, 10)
	s.fd = int(r.Fd())
	s.out = &out

	status, err := s.wait()
	if err != nil {
		t.Fatalf("wait() error = %v", err)
	}
	if status != 1 || out.String() != "last words" {
		t.Errorf("status %d, output %q", status, out.String())
	}
}
