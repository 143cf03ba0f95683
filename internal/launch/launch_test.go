package launch

import (
	"errors"
	"os"
	"runtime"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/lutaod/tinycage/internal/mount"
	"github.com/lutaod/tinycage/internal/pid1"
	"github.com/lutaod/tinycage/internal/signals"
	"github.com/lutaod/tinycage/internal/uidmap"
)

// The test binary doubles as the helper: Launch re-executes it with
// InitCommand, just as it does the tinycage binary.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == InitCommand {
		runtime.GOMAXPROCS(1)
		runtime.LockOSThread()
		Init()
	}

	os.Exit(m.Run())
}

const testPath = "PATH=/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin"

// launchAndWait launches c, releases it and returns its shell-style exit
// status.
func launchAndWait(t *testing.T, c *Command) int {
	t.Helper()

	sync, err := NewSyncPipe()
	if err != nil {
		t.Fatal(err)
	}
	defer sync.Close()
	c.Sync = sync.Reader()

	pid, err := Launch(c)
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSPC) {
		t.Skipf("cannot create namespaces: %v", err)
	}
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	if err := sync.Release(); err != nil {
		unix.Kill(pid, unix.SIGKILL)
		t.Fatalf("Release() error = %v", err)
	}

	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			t.Fatalf("failed to wait for pid %d: %v", pid, err)
		}
		break
	}

	return signals.Status(ws)
}

func TestLaunch(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires root")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	uids, gids := uidmap.Root(os.Getuid(), os.Getgid())

	tests := []struct {
		name       string
		namespaces uintptr
		uids, gids []syscall.SysProcIDMap
		candidates []string
		script     string
		mounts     []mount.Spec
		mode       pid1.Mode
		want       int
	}{
		{
			name:   "exit code",
			script: "exit 3",
			mode:   pid1.Wait,
			want:   3,
		},
		{
			name:   "exec mode",
			script: "exit 4",
			mode:   pid1.Exec,
			want:   4,
		},
		{
			// The orphaned sleep is reaped last.
			name:   "wait-all",
			script: "sleep 1 & exit 5",
			mode:   pid1.WaitAll,
			want:   0,
		},
		{
			name:   "killed by signal",
			script: "kill -9 $$",
			mode:   pid1.Wait,
			want:   137,
		},
		{
			name:   "mount failure",
			script: "exit 0",
			mounts: []mount.Spec{mount.Bind("/nonexistent/source", "/nonexistent/target", false)},
			mode:   pid1.Wait,
			want:   ExitSetup,
		},
		{
			name:       "no executable",
			candidates: []string{"/nonexistent/sh"},
			mode:       pid1.Wait,
			want:       ExitExec,
		},
		{
			name:       "user namespace",
			namespaces: unix.CLONE_NEWUSER,
			uids:       uids,
			gids:       gids,
			script:     `[ "$(id -u)" = 0 ]`,
			mounts:     []mount.Spec{mount.Private("/")},
			mode:       pid1.Wait,
			want:       0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates := tt.candidates
			if candidates == nil {
				candidates = []string{"/bin/sh"}
			}
			mounts := append([]mount.Spec{mount.Slave("/")}, tt.mounts...)

			c := &Command{
				Namespaces:     unix.CLONE_NEWNS | unix.CLONE_NEWPID | tt.namespaces,
				UIDMappings:    tt.uids,
				GIDMappings:    tt.gids,
				RestoreSigmask: true,
				LogPrefix:      tt.name,
				Root:           "/",
				Candidates:     candidates,
				Args:           []string{"sh", "-c", tt.script},
				Env:            []string{testPath},
				Mounts:         mounts,
				PID1:           tt.mode,
			}

			if got := launchAndWait(t, c); got != tt.want {
				t.Errorf("exit status = %d, want %d", got, tt.want)
			}
		})
	}
}
