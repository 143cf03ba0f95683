package launch

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/lutaod/tinycage/internal/uidmap"
)

// InitCommand is the first argument the helper process is started with.
// The binary's main must hand control to Init when it sees it.
const InitCommand = "_init"

// HelperPath is the binary re-executed as the helper.
var HelperPath = "/proc/self/exe"

// Launch starts c inside new namespaces and returns the pid of the new
// process. The process stays blocked until the sync pipe is released.
// SIGCHLD is delivered when it exits; the caller is responsible for
// reaping it.
func Launch(c *Command) (int, error) {
	if err := c.validate(); err != nil {
		return 0, fmt.Errorf("invalid command: %w", err)
	}

	cfg, files, err := c.config()
	if err != nil {
		return 0, err
	}
	defer closeFiles(files)

	data, err := cfg.encode()
	if err != nil {
		return 0, err
	}

	// Create unnamed pipe for passing the config
	reader, writer, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("failed to create config pipe: %w", err)
	}
	defer writer.Close()

	cmd := exec.Command(HelperPath, InitCommand)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = append([]*os.File{reader, c.Sync}, files...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags:  c.Namespaces,
		Pdeathsig:   syscall.SIGKILL,
		UidMappings: c.UIDMappings,
		GidMappings: c.GIDMappings,
		// An unprivileged parent may only write the gid map after
		// setgroups is denied.
		GidMappingsEnableSetgroups: false,
	}
	if len(c.UIDMappings) > 0 {
		logrus.Debugf("mapping uids %s gids %s", uidmap.Format(c.UIDMappings), uidmap.Format(c.GIDMappings))
	}

	if err := start(cmd); err != nil {
		reader.Close()
		return 0, fmt.Errorf("failed to start helper: %w", err)
	}
	reader.Close()

	pid := cmd.Process.Pid
	// The caller reaps the helper with wait4; drop the handle exec keeps.
	cmd.Process.Release()

	if _, err := writer.Write(data); err != nil {
		return pid, fmt.Errorf("failed to write launch config: %w", err)
	}
	if err := writer.Close(); err != nil {
		return pid, fmt.Errorf("failed to close config pipe: %w", err)
	}

	logrus.Debugf("launched %s as pid %d", c.LogPrefix, pid)

	return pid, nil
}

// start runs cmd.Start on a locked thread. The parent death signal is tied
// to the thread that forked the child, so it must not be one the runtime
// may retire while the child lives.
func start(cmd *exec.Cmd) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	return cmd.Start()
}
