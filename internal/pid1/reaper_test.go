package pid1

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

type reap struct {
	pid int
	ws  unix.WaitStatus
	err error
}

// exited builds a wait status the way the kernel encodes a normal exit.
func exited(code int) unix.WaitStatus {
	return unix.WaitStatus(code << 8)
}

// killed builds a wait status for a signal death.
func killed(sig syscall.Signal) unix.WaitStatus {
	return unix.WaitStatus(sig)
}

type kill struct {
	Pid int
	Sig syscall.Signal
}

type fakeProcs struct {
	reaps []reap
	kills []kill
}

func (f *fakeProcs) wait() (int, unix.WaitStatus, error) {
	if len(f.reaps) == 0 {
		return 0, 0, nil
	}
	r := f.reaps[0]
	f.reaps = f.reaps[1:]
	return r.pid, r.ws, r.err
}

func (f *fakeProcs) kill(pid int, sig syscall.Signal) error {
	f.kills = append(f.kills, kill{Pid: pid, Sig: sig})
	return nil
}

func newFakeReaper(mode Mode, child int, f *fakeProcs) *Reaper {
	r := NewReaper(mode, child)
	r.wait = f.wait
	r.kill = f.kill
	return r
}

func TestReaperWait(t *testing.T) {
	tests := []struct {
		name       string
		reaps      []reap
		wantDone   bool
		wantStatus int
	}{
		{
			name:       "exit code",
			reaps:      []reap{{pid: 10, ws: exited(3)}},
			wantDone:   true,
			wantStatus: 3,
		},
		{
			name:       "killed by signal",
			reaps:      []reap{{pid: 10, ws: killed(syscall.SIGKILL)}},
			wantDone:   true,
			wantStatus: 137,
		},
		{
			name:     "orphan only",
			reaps:    []reap{{pid: 11, ws: exited(1)}},
			wantDone: false,
		},
		{
			name: "child with orphans still running",
			reaps: []reap{
				{pid: 11, ws: exited(1)},
				{pid: 10, ws: exited(0)},
			},
			wantDone:   true,
			wantStatus: 0,
		},
		{
			name:       "interrupted",
			reaps:      []reap{{err: unix.EINTR}, {pid: 10, ws: exited(7)}},
			wantDone:   true,
			wantStatus: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeProcs{reaps: tt.reaps}
			r := newFakeReaper(Wait, 10, f)

			done, err := r.Handle(syscall.SIGCHLD)
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if done != tt.wantDone {
				t.Errorf("done = %v, want %v", done, tt.wantDone)
			}
			if done && r.Status() != tt.wantStatus {
				t.Errorf("Status() = %d, want %d", r.Status(), tt.wantStatus)
			}
		})
	}
}

func TestReaperWaitAll(t *testing.T) {
	f := &fakeProcs{reaps: []reap{{pid: 10, ws: exited(0)}}}
	r := newFakeReaper(WaitAll, 10, f)

	done, err := r.Handle(syscall.SIGCHLD)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("wait-all finished while descendants may remain")
	}

	f.reaps = []reap{{pid: 12, ws: exited(5)}, {err: unix.ECHILD}}
	done, err = r.Handle(syscall.SIGCHLD)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("wait-all did not finish on ECHILD")
	}
	if r.Status() != 5 {
		t.Errorf("Status() = %d, want 5", r.Status())
	}
}

func TestReaperForwarding(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		want []kill
	}{
		{
			name: "wait targets child",
			mode: Wait,
			want: []kill{{Pid: 10, Sig: syscall.SIGTERM}, {Pid: 10, Sig: syscall.SIGHUP}},
		},
		{
			name: "wait-all targets namespace",
			mode: WaitAll,
			want: []kill{{Pid: -1, Sig: syscall.SIGTERM}, {Pid: -1, Sig: syscall.SIGHUP}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeProcs{}
			r := newFakeReaper(tt.mode, 10, f)

			for _, sig := range []syscall.Signal{syscall.SIGTERM, syscall.SIGHUP} {
				if done, err := r.Handle(sig); err != nil || done {
					t.Fatalf("Handle(%v) = %v, %v", sig, done, err)
				}
			}
			if diff := cmp.Diff(tt.want, f.kills); diff != "" {
				t.Errorf("kills mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReaperWaitError(t *testing.T) {
	f := &fakeProcs{reaps: []reap{{err: unix.EINVAL}}}
	r := newFakeReaper(Wait, 10, f)

	if _, err := r.Handle(syscall.SIGCHLD); !errors.Is(err, unix.EINVAL) {
		t.Errorf("Handle() error = %v, want EINVAL", err)
	}
}

type scripted []syscall.Signal

func (s *scripted) Next(time.Duration) (syscall.Signal, error) {
	if len(*s) == 0 {
		return 0, errors.New("script exhausted")
	}
	sig := (*s)[0]
	*s = (*s)[1:]
	return sig, nil
}

func TestSupervise(t *testing.T) {
	f := &fakeProcs{}
	r := newFakeReaper(Wait, 10, f)
	src := &scripted{syscall.SIGINT, syscall.SIGCHLD, syscall.SIGCHLD}

	// First SIGCHLD finds nothing ready, second one reaps the child.
	f.reaps = []reap{{pid: 0}, {pid: 10, ws: killed(syscall.SIGINT)}}

	status, err := supervise(r, src)
	if err != nil {
		t.Fatalf("supervise() error = %v", err)
	}
	if status != 130 {
		t.Errorf("status = %d, want 130", status)
	}
	if diff := cmp.Diff([]kill{{Pid: 10, Sig: syscall.SIGINT}}, f.kills); diff != "" {
		t.Errorf("kills mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRejectsExec(t *testing.T) {
	if _, err := Run(Exec, func() (int, error) { return 1, nil }); err == nil {
		t.Error("Run(Exec) succeeded")
	}
}
