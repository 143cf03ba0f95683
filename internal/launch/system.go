package launch

import (
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/lutaod/tinycage/internal/mount"
)

const nullDevice = "/dev/null"

// unixSystem is the System backed by the kernel. All calls must happen on
// one locked OS thread, since the signal mask is per thread.
type unixSystem struct {
	mount.System
}

func (unixSystem) SetPdeathsig(sig syscall.Signal) error {
	return unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(sig), 0, 0, 0)
}

func (unixSystem) OpenNull() (int, error) {
	return unix.Open(nullDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func (unixSystem) Dup(oldfd, newfd int) error {
	return unix.Dup3(oldfd, newfd, 0)
}

func (unixSystem) Close(fd int) error {
	return unix.Close(fd)
}

func (unixSystem) Read(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

func (unixSystem) Chdir(dir string) error {
	return unix.Chdir(dir)
}

func (unixSystem) Chroot(dir string) error {
	return unix.Chroot(dir)
}

func (unixSystem) Setuid(uid int) error {
	return unix.Setuid(uid)
}

// RestoreSignals drops every handler the runtime installed on request and
// unblocks all signals in the calling thread.
func (unixSystem) RestoreSignals() error {
	signal.Reset()

	var empty unix.Sigset_t
	return unix.PthreadSigmask(unix.SIG_SETMASK, &empty, nil)
}

func (unixSystem) Exec(path string, args, env []string) error {
	return unix.Exec(path, args, env)
}

// Spawn forks and executes path with the standard streams of the current
// process. The child starts with default signal handlers and the mask the
// process was started with.
func (unixSystem) Spawn(path string, args, env []string) (int, error) {
	return syscall.ForkExec(path, args, &syscall.ProcAttr{
		Env:   env,
		Files: []uintptr{0, 1, 2},
		Sys:   &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL},
	})
}
