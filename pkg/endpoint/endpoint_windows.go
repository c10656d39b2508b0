//go:build windows

package endpoint

import (
	"context"
	"errors"
	"net"

	winio "github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

const pipeBufferSize = 65536

func listen(name string) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		MessageMode:      false,
		InputBufferSize:  pipeBufferSize,
		OutputBufferSize: pipeBufferSize,
	}
	return winio.ListenPipe(name, cfg)
}

func dial(ctx context.Context, name string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, name)
}

// The first pipe instance is created exclusively, so an existing pipe with
// the same name surfaces as access denied or pipe busy.
func isAddrInUse(err error) bool {
	return errors.Is(err, windows.ERROR_ACCESS_DENIED) ||
		errors.Is(err, windows.ERROR_PIPE_BUSY) ||
		errors.Is(err, windows.ERROR_ALREADY_EXISTS)
}
