//go:build linux

package canbus

import (
	"errors"
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Linux network interface helpers.
// These functions toggle the IFF_UP flag via ioctl on a SOCK_DGRAM socket.
//
// Bringing interfaces up/down requires CAP_NET_ADMIN. When run without
// sufficient privileges they return EPERM.

func withIfreq(name string, fn func(fd int, ifr *unix.Ifreq) error) error {
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return fmt.Errorf("canbus: invalid interface name %q: %w", name, err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return fn(fd, ifr)
}

func getInterfaceFlags(name string) (uint16, error) {
	var flags uint16
	err := withIfreq(name, func(fd int, ifr *unix.Ifreq) error {
		if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
			return err
		}
		flags = ifr.Uint16()
		return nil
	})
	return flags, err
}

func setInterfaceFlags(name string, flags uint16) error {
	return withIfreq(name, func(fd int, ifr *unix.Ifreq) error {
		ifr.SetUint16(flags)
		return unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr)
	})
}

// IsInterfaceUp returns true if the Linux network interface has IFF_UP set.
func IsInterfaceUp(name string) (bool, error) {
	flags, err := getInterfaceFlags(name)
	if err != nil {
		return false, err
	}
	return flags&unix.IFF_UP != 0, nil
}

// SetInterfaceUp sets IFF_UP on the given interface. Requires CAP_NET_ADMIN.
func SetInterfaceUp(name string) error {
	flags, err := getInterfaceFlags(name)
	if err != nil {
		return err
	}
	if flags&unix.IFF_UP != 0 {
		return nil
	}
	return RequireRootOrCapNetAdmin(setInterfaceFlags(name, flags|unix.IFF_UP))
}

// SetInterfaceDown clears IFF_UP on the given interface. Requires CAP_NET_ADMIN.
func SetInterfaceDown(name string) error {
	flags, err := getInterfaceFlags(name)
	if err != nil {
		return err
	}
	if flags&unix.IFF_UP == 0 {
		return nil
	}
	return RequireRootOrCapNetAdmin(setInterfaceFlags(name, flags&^unix.IFF_UP))
}

// RequireRootOrCapNetAdmin maps EPERM to a clearer error message.
func RequireRootOrCapNetAdmin(err error) error {
	if errors.Is(err, unix.EPERM) {
		return fmt.Errorf("operation requires CAP_NET_ADMIN (or root): %w", err)
	}
	return err
}

// LinuxCANInterfaceOptions controls common CAN interface parameters through the system `ip` tool.
//
// Changing bitrate/restart-ms typically requires the interface to be DOWN.
type LinuxCANInterfaceOptions struct {
	// Bitrate sets the arbitration bit-rate in bits per second (e.g., 125000, 500000).
	// Zero leaves it unchanged.
	Bitrate uint32

	// RestartMs sets automatic bus-off recovery delay in milliseconds.
	// If nil, restart-ms is left unchanged. Set to 0 to disable auto-restart.
	RestartMs *uint32
}

// ConfigureLinuxCANInterface applies the provided options to a Linux CAN network
// interface by invoking `ip link set ... type can`. Requires CAP_NET_ADMIN.
func ConfigureLinuxCANInterface(name string, opts LinuxCANInterfaceOptions) error {
	if len(name) == 0 || len(name) >= unix.IFNAMSIZ {
		return fmt.Errorf("canbus: invalid interface name %q", name)
	}
	if opts.Bitrate == 0 && opts.RestartMs == nil {
		return nil
	}
	args := []string{"link", "set", "dev", name, "type", "can"}
	if opts.Bitrate != 0 {
		args = append(args, "bitrate", fmt.Sprintf("%d", opts.Bitrate))
	}
	if opts.RestartMs != nil {
		args = append(args, "restart-ms", fmt.Sprintf("%d", *opts.RestartMs))
	}
	cmd := exec.Command("ip", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return RequireRootOrCapNetAdmin(fmt.Errorf("ip link set type can failed: %w; output: %s", err, string(out)))
	}
	return nil
}
