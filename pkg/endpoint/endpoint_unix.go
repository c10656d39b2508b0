//go:build !windows

package endpoint

import (
	"context"
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

func listen(name string) (net.Listener, error) {
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: name, Net: "unix"})
	if err != nil {
		return nil, err
	}
	// Remove the socket file when the listener closes so the name is free
	// for later runs.
	ln.SetUnlinkOnClose(true)
	return ln, nil
}

func dial(ctx context.Context, name string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", name)
}

func isAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}
