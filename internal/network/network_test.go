package network

import (
	"os"
	"os/exec"
	"syscall"
	"testing"
)

func TestEnableLoopback(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires root")
	}

	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: syscall.CLONE_NEWNET}
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot create network namespace: %v", err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	pid := cmd.Process.Pid

	up, err := LoopbackUp(pid)
	if err != nil {
		t.Fatalf("LoopbackUp() error = %v", err)
	}
	if up {
		t.Fatal("loopback of a fresh namespace is already up")
	}

	if err := EnableLoopback(pid); err != nil {
		t.Fatalf("EnableLoopback() error = %v", err)
	}

	up, err = LoopbackUp(pid)
	if err != nil {
		t.Fatalf("LoopbackUp() error = %v", err)
	}
	if !up {
		t.Error("loopback is still down")
	}
}
