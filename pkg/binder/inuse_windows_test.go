//go:build windows

package binder

import (
	"net"
	"os"

	"golang.org/x/sys/windows"
)

func inUseError(name string) error {
	return &net.OpError{
		Op:  "listen",
		Net: "pipe",
		Err: os.NewSyscallError("CreateNamedPipe", windows.ERROR_ACCESS_DENIED),
	}
}
