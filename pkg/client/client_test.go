package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pcerrors "github.com/ajitpratap0/pipecheck/pkg/errors"
	"github.com/ajitpratap0/pipecheck/pkg/exchange"
)

// pipeDial returns a DialFunc handing out the client end of a net.Pipe and
// running serverSide on the other end.
func pipeDial(serverSide func(conn net.Conn)) func(ctx context.Context, name string) (net.Conn, error) {
	return func(ctx context.Context, name string) (net.Conn, error) {
		s, c := net.Pipe()
		go func() {
			defer s.Close()
			serverSide(s)
		}()
		return c, nil
	}
}

func TestClientSendsClientMessage(t *testing.T) {
	received := make(chan string, 1)
	dial := pipeDial(func(conn net.Conn) {
		line, _ := exchange.ReceiveLine(conn)
		received <- line
	})

	require.NoError(t, Run(context.Background(), "pipe", dial, exchange.ClientToServer))

	select {
	case line := <-received:
		assert.Equal(t, exchange.ClientMessage, line)
	case <-time.After(5 * time.Second):
		t.Fatal("server side never received the payload")
	}
}

func TestClientVerifiesServerMessage(t *testing.T) {
	dial := pipeDial(func(conn net.Conn) {
		_ = exchange.Send(conn, exchange.ServerMessage)
	})

	assert.NoError(t, New(dial).Run(context.Background(), "pipe", exchange.ServerToClient))
}

func TestClientDetectsMismatch(t *testing.T) {
	dial := pipeDial(func(conn net.Conn) {
		_ = exchange.Send(conn, "Hello from SERVER!\n")
	})

	err := New(dial).Run(context.Background(), "pipe", exchange.ServerToClient)
	require.Error(t, err)
	assert.True(t, pcerrors.IsCode(err, pcerrors.CodePayloadMismatch))
}

func TestClientConnectFailure(t *testing.T) {
	refused := errors.New("connection refused")
	dial := func(ctx context.Context, name string) (net.Conn, error) {
		return nil, refused
	}

	err := Run(context.Background(), "/tmp/nowhere.sock", dial, exchange.ClientToServer)
	require.Error(t, err)
	assert.True(t, pcerrors.IsCode(err, pcerrors.CodeConnectFailed))
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, "Connect failed: connection refused", err.Error())

	he, ok := pcerrors.AsHarnessError(err)
	require.True(t, ok)
	assert.Equal(t, "/tmp/nowhere.sock", he.Context().Endpoint)
}
