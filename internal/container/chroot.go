package container

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/lutaod/tinycage/internal/launch"
	"github.com/lutaod/tinycage/internal/mount"
	"github.com/lutaod/tinycage/internal/pid1"
)

// ChrootOptions configures Chroot.
type ChrootOptions struct {
	// Writeable leaves the root bind mount writable.
	Writeable bool
	// Inventory exposes the directory of the tinycage binary at the same
	// path inside the root, read-only.
	Inventory bool
	// Environ is added to the inherited environment.
	Environ Envs
}

// defaultShell runs when no command follows the root, like chroot(8).
const defaultShell = "/bin/sh"

// Chroot is the target of chroot calls redirected by the fakeroot shim:
// args are ROOT [COMMAND [ARG...]]. It returns the shell-style status of
// the command.
func Chroot(opts *ChrootOptions, args []string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("'_chroot' requires a root directory")
	}

	cmd, err := chrootCommand(opts, args)
	if err != nil {
		return 0, err
	}

	return execute(cmd, nil, nil)
}

func chrootCommand(opts *ChrootOptions, args []string) (*launch.Command, error) {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	command := args[1:]
	if len(command) == 0 {
		command = []string{defaultShell, "-i"}
	}

	mounts := []mount.Spec{
		mount.Private("/"),
		mount.Bind(root, root, !opts.Writeable),
	}

	if opts.Inventory {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		dir := filepath.Dir(exe)
		mounts = append(mounts, mount.WithMkdir(mount.Bind(dir, filepath.Join(root, dir), true)))
	}

	mounts = append(mounts, mount.WithMkdir(mount.Proc(filepath.Join(root, "proc"))))

	return &launch.Command{
		Namespaces:     unix.CLONE_NEWNS | unix.CLONE_NEWPID,
		RestoreSigmask: true,
		LogPrefix:      "chroot",
		Root:           root,
		Candidates:     candidates(command[0]),
		Args:           command,
		Env:            mergeEnv(os.Environ(), opts.Environ),
		Workdir:        "/",
		Mounts:         mounts,
		PID1:           pid1.Wait,
	}, nil
}
