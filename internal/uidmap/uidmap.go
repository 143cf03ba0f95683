// Package uidmap builds the identity mapping of a new user namespace. The
// maps are written by the parent while the child is still stopped in
// clone, before it executes anything.
package uidmap

import (
	"fmt"
	"strings"
	"syscall"
)

// Root makes root inside a new user namespace correspond to uid and gid
// outside, a single id each.
func Root(uid, gid int) (uids, gids []syscall.SysProcIDMap) {
	uids = []syscall.SysProcIDMap{{ContainerID: 0, HostID: uid, Size: 1}}
	gids = []syscall.SysProcIDMap{{ContainerID: 0, HostID: gid, Size: 1}}

	return uids, gids
}

// Format renders maps in the layout of /proc/PID/uid_map, for logs.
func Format(maps []syscall.SysProcIDMap) string {
	lines := make([]string, 0, len(maps))
	for _, m := range maps {
		lines = append(lines, fmt.Sprintf("%d %d %d", m.ContainerID, m.HostID, m.Size))
	}

	return strings.Join(lines, ",")
}
