package signals

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestWaitSignal(t *testing.T) {
	set := BlockAll()
	defer set.Stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR2); err != nil {
		t.Fatal(err)
	}

	ev, err := set.Wait(5 * time.Second)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if ev.Signal != syscall.SIGUSR2 {
		t.Errorf("Signal = %v, want SIGUSR2", ev.Signal)
	}
}

func TestWaitTimeout(t *testing.T) {
	set := BlockAll()
	defer set.Stop()

	_, err := set.Wait(10 * time.Millisecond)
	if !errors.Is(err, ErrNoEvent) {
		t.Errorf("Wait() error = %v, want ErrNoEvent", err)
	}
}

func TestWaitChild(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	tests := []struct {
		name   string
		script string
		want   int
	}{
		{
			name:   "normal exit",
			script: "exit 3",
			want:   3,
		},
		{
			name:   "killed",
			script: "kill -9 $$",
			want:   137,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := BlockAll()
			defer set.Stop()

			pid, err := syscall.ForkExec("/bin/sh", []string{"sh", "-c", tt.script}, nil)
			if err != nil {
				t.Fatal(err)
			}

			deadline := time.Now().Add(10 * time.Second)
			for time.Now().Before(deadline) {
				ev, err := set.Wait(time.Second)
				if errors.Is(err, ErrNoEvent) {
					continue
				}
				if err != nil {
					t.Fatalf("Wait() error: %v", err)
				}
				if ev.Signal != syscall.SIGCHLD || ev.Pid != pid {
					continue
				}
				if ev.Status != tt.want {
					t.Errorf("Status = %d, want %d", ev.Status, tt.want)
				}
				return
			}
			t.Fatal("child exit was not reported")
		})
	}
}

func TestWaitReapError(t *testing.T) {
	set := BlockAll()
	defer set.Stop()
	set.reap = func() (int, int, error) {
		return 0, 0, syscall.EINVAL
	}

	if err := syscall.Kill(os.Getpid(), syscall.SIGCHLD); err != nil {
		t.Fatal(err)
	}

	if _, err := set.Wait(5 * time.Second); !errors.Is(err, syscall.EINVAL) {
		t.Errorf("Wait() error = %v, want EINVAL", err)
	}
}
