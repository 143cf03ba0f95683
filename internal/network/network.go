package network

import (
	"fmt"
	"net"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// EnableLoopback sets up loopback interface in the network namespace of pid.
func EnableLoopback(pid int) error {
	return withNS(pid, func() error {
		lo, err := netlink.LinkByName("lo")
		if err != nil {
			return fmt.Errorf("failed to find loopback interface: %w", err)
		}

		if err := netlink.LinkSetUp(lo); err != nil {
			return fmt.Errorf("failed to set loopback up: %w", err)
		}

		return nil
	})
}

// LoopbackUp reports whether the loopback interface of pid's network
// namespace is up.
func LoopbackUp(pid int) (bool, error) {
	var up bool
	err := withNS(pid, func() error {
		lo, err := netlink.LinkByName("lo")
		if err != nil {
			return fmt.Errorf("failed to find loopback interface: %w", err)
		}

		up = lo.Attrs().Flags&net.FlagUp != 0
		return nil
	})

	return up, err
}

// withNS runs fn in target pid's network namespace. The namespace is a
// property of the OS thread, so the goroutine stays locked to it until the
// host namespace is restored.
func withNS(pid int, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hostNS, err := netns.Get()
	if err != nil {
		return fmt.Errorf("failed to get host namespace: %w", err)
	}
	defer hostNS.Close()

	targetNS, err := netns.GetFromPid(pid)
	if err != nil {
		return fmt.Errorf("failed to get namespace of pid %d: %w", pid, err)
	}
	defer targetNS.Close()

	if err = netns.Set(targetNS); err != nil {
		return fmt.Errorf("failed to enter namespace of pid %d: %w", pid, err)
	}
	defer netns.Set(hostNS)

	return fn()
}
