// Package launch starts a command inside new Linux namespaces.
//
// The caller describes the command with a Command value and calls Launch,
// which re-executes the current binary with the InitCommand argument inside
// the requested namespaces. That helper process must call Init as the very
// first thing it does. Init reads a self-contained copy of the Command,
// waits for the parent to release it through the sync pipe, applies the
// mounts, changes root and finally executes the target, either directly or
// under the pid1 supervisor.
package launch

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/lutaod/tinycage/internal/mount"
	"github.com/lutaod/tinycage/internal/pid1"
)

// Stdio describes replacement descriptors for the standard streams, as
// numbered in the calling process. A negative Stdin attaches the null
// device, zero keeps the inherited stdin and a positive value is
// duplicated onto descriptor 0. Stdout and Stderr must be open descriptors
// and are always duplicated onto 1 and 2.
type Stdio struct {
	Stdin  int
	Stdout int
	Stderr int
}

// Command describes a process to start in new namespaces.
type Command struct {
	// Namespaces holds CLONE_NEW* flags.
	Namespaces uintptr
	// UIDMappings and GIDMappings populate a new user namespace. They are
	// written before the helper executes, so it starts with its
	// capabilities inside the namespace.
	UIDMappings []syscall.SysProcIDMap
	GIDMappings []syscall.SysProcIDMap
	// Sync is the read end of the pipe the child blocks on until released.
	Sync *os.File
	// User is the uid to switch to after chroot. Nil keeps the current one.
	User *int
	// RestoreSigmask unblocks every signal and resets dispositions before
	// the target runs.
	RestoreSigmask bool
	// Stdio redirects the standard streams. Nil inherits them.
	Stdio *Stdio
	// LogPrefix tags diagnostics of the child.
	LogPrefix string

	Root       string
	Path       string
	Candidates []string
	Args       []string
	Env        []string
	Workdir    string
	Mounts     []mount.Spec
	PID1       pid1.Mode
}

func (c *Command) validate() error {
	if c.Root == "" {
		return errors.New("root directory is not set")
	}
	if c.Path == "" && len(c.Candidates) == 0 {
		return errors.New("no executable to run")
	}
	if c.Sync == nil {
		return errors.New("sync pipe is not set")
	}
	if c.Stdio != nil && (c.Stdio.Stdout < 0 || c.Stdio.Stderr < 0) {
		return errors.New("stdout and stderr must be open descriptors when redirecting")
	}

	userns := c.Namespaces&syscall.CLONE_NEWUSER != 0
	if userns && len(c.UIDMappings) == 0 {
		return errors.New("user namespace requires a uid mapping")
	}
	if !userns && (len(c.UIDMappings) > 0 || len(c.GIDMappings) > 0) {
		return errors.New("id mappings require a user namespace")
	}
	// The supervisor forwards signals to every process it can see, which
	// is only its own tree when it is pid 1.
	if c.PID1 != pid1.Exec && c.Namespaces&syscall.CLONE_NEWPID == 0 {
		return fmt.Errorf("pid1 mode %s requires a pid namespace", c.PID1)
	}

	return nil
}

// candidates lists the executables to try in order.
func (c *Command) candidates() []string {
	var paths []string
	if c.Path != "" {
		paths = append(paths, c.Path)
	}

	return append(paths, c.Candidates...)
}
