//go:build !windows

package binder

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

func inUseError(name string) error {
	return &net.OpError{
		Op:   "listen",
		Net:  "unix",
		Addr: &net.UnixAddr{Name: name, Net: "unix"},
		Err:  os.NewSyscallError("bind", unix.EADDRINUSE),
	}
}
