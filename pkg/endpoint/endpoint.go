// Package endpoint is the capability boundary to the named-channel transport:
// create a named listening endpoint, accept connections on it, and connect
// to it by name. On Unix-like systems endpoints are Unix domain sockets; on
// Windows they are named pipes in byte mode.
//
// The transport itself is assumed correct. This package only adapts it to
// the function types the binder, serve loop and client consume, and
// classifies the one error the binder retries: the name being in use.
package endpoint

import (
	"context"
	"net"
)

// ListenFunc creates a listening endpoint registered under name
type ListenFunc func(name string) (net.Listener, error)

// DialFunc connects to the endpoint registered under name
type DialFunc func(ctx context.Context, name string) (net.Conn, error)

// Listen creates a listening endpoint using the platform transport
func Listen(name string) (net.Listener, error) {
	return listen(name)
}

// Dial connects to a named endpoint using the platform transport
func Dial(ctx context.Context, name string) (net.Conn, error) {
	return dial(ctx, name)
}

// IsAddrInUse reports whether err means another endpoint already owns the
// name. It is the only bind error worth retrying under a different name.
func IsAddrInUse(err error) bool {
	return err != nil && isAddrInUse(err)
}

// CloseWrite half-closes the write side of conn when the transport supports
// it, signalling end of stream to the peer while keeping the read side open.
// It reports whether a half-close was performed.
func CloseWrite(conn net.Conn) (bool, error) {
	hc, ok := conn.(interface{ CloseWrite() error })
	if !ok {
		return false, nil
	}
	return true, hc.CloseWrite()
}
