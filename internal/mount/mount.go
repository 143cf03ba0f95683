package mount

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// ExtFlags are mount options handled by the engine itself rather than by
// the kernel.
type ExtFlags uint

const (
	// ExtMkdir creates the target directory (mode 0755) before mounting.
	ExtMkdir ExtFlags = 1 << iota
)

// bindReadonly is the flag pair that cannot be applied in a single mount call
// when the source is writable.
const bindReadonly = unix.MS_BIND | unix.MS_RDONLY

// Spec describes a single mount operation. Target must be an absolute path
// reachable from the eventual new root.
type Spec struct {
	Source  string
	Target  string
	FSType  string
	Options string
	// Flags holds MS_* flags. It is fixed-width so a Spec can be encoded.
	Flags uint64
	Ext   ExtFlags
}

// String returns a short human readable form used in logs.
func (s Spec) String() string {
	return fmt.Sprintf("%s on %s type %s (flags %#x)", s.Source, s.Target, s.FSType, s.Flags)
}

// readonlyBind reports whether the spec requests a read-only bind mount,
// which has to be performed as a bind followed by a read-only remount.
func (s Spec) readonlyBind() bool {
	return s.Flags&bindReadonly == bindReadonly
}

// Mounter performs the system calls the engine depends on.
type Mounter interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
	Mkdir(path string, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
}

// System is the Mounter backed by the kernel.
type System struct{}

func (System) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (System) Mkdir(path string, perm os.FileMode) error {
	return os.Mkdir(path, perm)
}

func (System) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Error records the failing step, target and kernel error of a mount entry.
type Error struct {
	Op     string
	Target string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Apply performs the given mounts strictly in order and stops at the first
// failure. Nothing is rolled back: the mount namespace dies with the process.
func Apply(m Mounter, specs []Spec) error {
	for _, s := range specs {
		if err := apply(m, s); err != nil {
			return err
		}
	}

	return nil
}

func apply(m Mounter, s Spec) error {
	if s.Ext&ExtMkdir != 0 {
		if err := mkdir(m, s.Target); err != nil {
			return &Error{Op: "mkdir", Target: s.Target, Err: err}
		}
	}

	if !s.readonlyBind() {
		if err := m.Mount(s.Source, s.Target, s.FSType, uintptr(s.Flags), s.Options); err != nil {
			return &Error{Op: "mount", Target: s.Target, Err: err}
		}
		return nil
	}

	bind := s.Flags &^ (unix.MS_REMOUNT | unix.MS_RDONLY)
	if err := m.Mount(s.Source, s.Target, s.FSType, uintptr(bind), s.Options); err != nil {
		return &Error{Op: "mount", Target: s.Target, Err: err}
	}

	remount := uintptr(unix.MS_BIND | unix.MS_RDONLY | unix.MS_REMOUNT)
	if err := m.Mount(s.Source, s.Target, s.FSType, remount, ""); err != nil {
		return &Error{Op: "remount read-only", Target: s.Target, Err: err}
	}

	return nil
}

// mkdir creates path, accepting an existing directory but not an existing
// file of another type.
func mkdir(m Mounter, path string) error {
	err := m.Mkdir(path, 0755)
	if err == nil || !errors.Is(err, fs.ErrExist) {
		return err
	}

	info, statErr := m.Stat(path)
	if statErr != nil {
		return statErr
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", path)
	}

	return nil
}
