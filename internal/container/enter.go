package container

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/lutaod/tinycage/internal/signals"
)

// enterEnv tells the constructor in setns.go which process to join.
const enterEnv = "TINYCAGE_ENTER_PID"

// Enter runs command inside the namespaces and root of target, a pid or a
// run ID, and returns its shell-style status.
//
// A new process is forked to enter the namespaces before executing the
// command due to Linux kernel restrictions on mount namespace transitions in
// multi-threaded processes.
func Enter(stateDir, target string, command []string) (int, error) {
	if len(command) == 0 {
		return 0, errNoCommand
	}

	pid, err := newStore(stateDir).resolvePID(target)
	if err != nil {
		return 0, err
	}

	args := append([]string{"enter", target, "--"}, command...)
	cmd := exec.Command("/proc/self/exe", args...)

	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	envs, err := os.ReadFile(fmt.Sprintf("/proc/%d/environ", pid))
	if err != nil {
		return 0, fmt.Errorf("failed to read environment variables: %w", err)
	}

	cmd.Env = append(splitEnviron(envs), fmt.Sprintf("%s=%d", enterEnv, pid))

	err = cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ws := exitErr.Sys().(syscall.WaitStatus)
		return signals.Status(unix.WaitStatus(ws)), nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to enter pid %d: %w", pid, err)
	}

	return 0, nil
}

func splitEnviron(data []byte) []string {
	var env []string
	for _, kv := range strings.Split(string(data), "\x00") {
		if kv != "" {
			env = append(env, kv)
		}
	}

	return env
}
