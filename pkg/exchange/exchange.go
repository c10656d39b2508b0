// Package exchange implements the single directional payload exchange the
// harness performs on every connection, shared by the server's serve loop
// and the client task.
//
// One side writes a fixed newline-terminated payload and flushes it; the
// other side reads one line and asserts byte-for-byte equality with the same
// constant. A mismatch means the transport under test is broken.
package exchange

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/pipecheck/pkg/endpoint"
	pcerrors "github.com/ajitpratap0/pipecheck/pkg/errors"
	"github.com/ajitpratap0/pipecheck/pkg/observability"
)

// Fixed payloads. They must match bit-exact on the receiving side.
const (
	ClientMessage = "Hello from client!\n"
	ServerMessage = "Hello from server!\n"
)

// MaxLineLength bounds a single line read; a longer line cannot match either
// payload and is reported as a mismatch.
const MaxLineLength = 4096

// Direction is the direction the payload travels
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

// String returns the config spelling of d
func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client_to_server"
	case ServerToClient:
		return "server_to_client"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection parses "client_to_server" or "server_to_client"
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "client_to_server", "c2s":
		return ClientToServer, nil
	case "server_to_client", "s2c":
		return ServerToClient, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (d Direction) MarshalText() ([]byte, error) {
	if d != ClientToServer && d != ServerToClient {
		return nil, fmt.Errorf("unknown direction %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Payload returns the message that travels in direction d
func (d Direction) Payload() string {
	if d == ServerToClient {
		return ServerMessage
	}
	return ClientMessage
}

// Role is the side of a connection
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Sends reports whether role writes the payload in direction d
func (r Role) Sends(d Direction) bool {
	return (r == RoleClient) == (d == ClientToServer)
}

// Send writes msg through a buffered writer, flushes it, and half-closes
// the write side when the transport supports it.
func Send(conn net.Conn, msg string) error {
	w := bufio.NewWriterSize(conn, len(msg))
	if _, err := w.WriteString(msg); err != nil {
		return pcerrors.SendFailed(err)
	}
	if err := w.Flush(); err != nil {
		return pcerrors.FlushFailed(err)
	}
	if _, err := endpoint.CloseWrite(conn); err != nil && !errors.Is(err, net.ErrClosed) {
		return pcerrors.FlushFailed(err)
	}
	return nil
}

// ReceiveLine reads one line including its delimiter. End of stream is not
// an error: whatever arrived before it is returned for verification, so a
// truncated payload surfaces as a mismatch rather than an I/O failure.
func ReceiveLine(r io.Reader) (string, error) {
	br := bufio.NewReader(io.LimitReader(r, MaxLineLength))
	line, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return line, pcerrors.ReceiveFailed(err)
	}
	return line, nil
}

// Verify asserts got equals want byte for byte
func Verify(got, want string) error {
	if got != want {
		return pcerrors.PayloadMismatch(got, want)
	}
	return nil
}

// ReceiveAndVerify reads one line from conn and verifies it against want
func ReceiveAndVerify(conn net.Conn, want string) error {
	got, err := ReceiveLine(conn)
	if err != nil {
		return err
	}
	return Verify(got, want)
}

// Exchanger performs exchanges and records them
type Exchanger struct {
	metrics observability.Recorder
	tracer  trace.Tracer
}

// Option configures an Exchanger
type Option func(*Exchanger)

// WithMetrics sets the metrics recorder
func WithMetrics(r observability.Recorder) Option {
	return func(e *Exchanger) {
		e.metrics = r
	}
}

// WithTracer sets the tracer
func WithTracer(t trace.Tracer) Option {
	return func(e *Exchanger) {
		e.tracer = t
	}
}

// NewExchanger creates an Exchanger
func NewExchanger(opts ...Option) *Exchanger {
	e := &Exchanger{
		metrics: observability.NoopRecorder{},
		tracer:  observability.DefaultTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do performs role's half of the exchange in direction dir on conn and
// closes conn afterwards, whatever the outcome. A deadline on ctx becomes
// the connection deadline; cancellation without a deadline is not observed.
func (e *Exchanger) Do(ctx context.Context, conn net.Conn, role Role, dir Direction) (err error) {
	_, span := observability.StartPhase(ctx, e.tracer, "exchange",
		attribute.String("pipecheck.role", string(role)),
		attribute.String("pipecheck.direction", dir.String()),
	)
	start := time.Now()
	defer func() {
		_ = conn.Close()

		status := observability.StatusOK
		if err != nil {
			status = observability.StatusError
		}
		e.metrics.RecordExchange(string(role), dir.String(), status, time.Since(start))
		observability.EndSpan(span, err)
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if role.Sends(dir) {
		return Send(conn, dir.Payload())
	}
	return ReceiveAndVerify(conn, dir.Payload())
}

// Handler returns a per-connection function performing role's half of the
// exchange, suitable for the serve loop.
func (e *Exchanger) Handler(role Role, dir Direction) func(ctx context.Context, conn net.Conn) error {
	return func(ctx context.Context, conn net.Conn) error {
		return e.Do(ctx, conn, role, dir)
	}
}
