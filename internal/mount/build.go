package mount

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Bind returns a recursive bind mount of source onto target. A read-only
// bind is applied by the engine as a bind followed by a remount.
func Bind(source, target string, readonly bool) Spec {
	flags := uint64(unix.MS_BIND | unix.MS_REC)
	if readonly {
		flags |= unix.MS_RDONLY
	}

	return Spec{Source: source, Target: target, Flags: flags}
}

// Slave marks target and everything below it as a slave mount so that mounts
// made inside the namespace do not propagate back to the host.
func Slave(target string) Spec {
	return Spec{Source: "none", Target: target, Flags: unix.MS_SLAVE | unix.MS_REC}
}

// Private makes target a private mount.
func Private(target string) Spec {
	return Spec{Source: "none", Target: target, Flags: unix.MS_PRIVATE}
}

// Pseudo mounts a kernel pseudo filesystem such as proc or sysfs.
func Pseudo(fstype, target, options string, readonly bool) Spec {
	flags := uint64(unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV | unix.MS_NOATIME)
	if readonly {
		flags |= unix.MS_RDONLY
	}

	return Spec{Source: fstype, Target: target, FSType: fstype, Options: options, Flags: flags}
}

// Proc mounts a fresh procfs, which reflects the pid namespace of the process
// performing the mount.
func Proc(target string) Spec {
	return Spec{
		Source: "proc",
		Target: target,
		FSType: "proc",
		Flags:  unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV,
	}
}

// Tmpfs mounts an empty tmpfs on target.
func Tmpfs(target, options string) Spec {
	return Spec{
		Source:  "tmpfs",
		Target:  target,
		FSType:  "tmpfs",
		Options: options,
		Flags:   unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOATIME,
	}
}

// Overlay mounts an overlay filesystem built from lower (topmost first),
// upper and work directories on target.
func Overlay(lower []string, upper, work, target string) Spec {
	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s",
		strings.Join(lower, ":"),
		upper,
		work,
	)

	return Spec{Source: "overlay", Target: target, FSType: "overlay", Options: opts}
}

// WithMkdir returns a copy of s that creates its target before mounting.
func WithMkdir(s Spec) Spec {
	s.Ext |= ExtMkdir
	return s
}
