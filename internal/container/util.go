package container

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

const idLength = 6

// generateID creates a random ID for a run.
func generateID() string {
	const chars = "0123456789abcdef"

	result := make([]byte, idLength)
	for i := range result {
		result[i] = chars[rand.Intn(len(chars))]
	}

	return string(result)
}

// searchPath lists the directories tried for a command given by name only.
// The host PATH means nothing inside the new root.
var searchPath = []string{"/usr/local/sbin", "/usr/local/bin", "/usr/sbin", "/usr/bin", "/sbin", "/bin"}

// candidates returns the executables to try for name inside the new root.
func candidates(name string) []string {
	if strings.Contains(name, "/") {
		return []string{name}
	}

	paths := make([]string, 0, len(searchPath))
	for _, dir := range searchPath {
		paths = append(paths, filepath.Join(dir, name))
	}

	return paths
}

var namespaceFlags = map[string]uintptr{
	"mount": unix.CLONE_NEWNS,
	"uts":   unix.CLONE_NEWUTS,
	"ipc":   unix.CLONE_NEWIPC,
	"pid":   unix.CLONE_NEWPID,
	"net":   unix.CLONE_NEWNET,
	"user":  unix.CLONE_NEWUSER,
}

// ParseNamespaces turns a comma separated list such as "pid,net" into
// clone flags. The mount namespace is always included.
func ParseNamespaces(list string) (uintptr, error) {
	flags := uintptr(unix.CLONE_NEWNS)
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		flag, ok := namespaceFlags[name]
		if !ok {
			return 0, fmt.Errorf("unknown namespace %q", name)
		}
		flags |= flag
	}

	return flags, nil
}

// parseSignal parses signal names (e.g., SIGTERM, KILL) and numeric signals.
func parseSignal(sig string) (syscall.Signal, error) {
	name := strings.ToUpper(sig)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if s := unix.SignalNum(name); s != 0 {
		return s, nil
	}

	var num int
	if _, err := fmt.Sscanf(sig, "%d", &num); err != nil || num <= 0 {
		return 0, fmt.Errorf("invalid signal: %s", sig)
	}
	return syscall.Signal(num), nil
}

// mergeEnv returns base with every KEY=VALUE of extra applied, replacing
// an existing KEY in place or appending it.
func mergeEnv(base, extra []string) []string {
	env := append([]string(nil), base...)
	index := make(map[string]int, len(env))
	for i, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}

	for _, kv := range extra {
		key, _, _ := strings.Cut(kv, "=")
		if i, ok := index[key]; ok {
			env[i] = kv
			continue
		}
		index[key] = len(env)
		env = append(env, kv)
	}

	return env
}
