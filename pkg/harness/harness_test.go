package harness

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	pcerrors "github.com/ajitpratap0/pipecheck/pkg/errors"
	"github.com/ajitpratap0/pipecheck/pkg/exchange"
	"github.com/ajitpratap0/pipecheck/pkg/logging"
	"github.com/ajitpratap0/pipecheck/pkg/observability"
	"github.com/ajitpratap0/pipecheck/pkg/serve"
	"github.com/ajitpratap0/pipecheck/pkg/utils"
)

// memListener is an in-memory endpoint: dial hands one end of a net.Pipe
// to Accept.
type memListener struct {
	conns  chan net.Conn
	closed chan struct{}
	once   sync.Once
}

func newMemListener() *memListener {
	return &memListener{
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

func (l *memListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *memListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *memListener) Addr() net.Addr { return &net.UnixAddr{Name: "mem", Net: "unix"} }

func (l *memListener) listen(string) (net.Listener, error) { return l, nil }

func (l *memListener) dial(ctx context.Context, name string) (net.Conn, error) {
	server, client := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.closed:
		return nil, errors.New("connection refused")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// tamperConn rewrites every byte it writes or reads to upper case
type tamperConn struct {
	net.Conn
}

func (c *tamperConn) Write(p []byte) (int, error) {
	return c.Conn.Write(bytes.ToUpper(p))
}

func (c *tamperConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	copy(p, bytes.ToUpper(p[:n]))
	return n, err
}

func testConfig(backend string, dir exchange.Direction, clients int) Config {
	cfg := DefaultConfig()
	cfg.Backend = backend
	cfg.Direction = dir
	cfg.NumClients = clients
	return cfg
}

func newMemHarness(t *testing.T, cfg Config, opts ...Option) (*Harness, *memListener) {
	t.Helper()
	ml := newMemListener()
	opts = append([]Option{
		WithLogger(logging.NewNop()),
		WithListenFunc(ml.listen),
		WithDialFunc(ml.dial),
	}, opts...)
	h, err := New(cfg, opts...)
	require.NoError(t, err)
	return h, ml
}

func TestRunRoundTrip(t *testing.T) {
	for _, backend := range []string{serve.BlockingName, serve.CooperativeName} {
		for _, dir := range []exchange.Direction{exchange.ClientToServer, exchange.ServerToClient} {
			t.Run(backend+"/"+dir.String(), func(t *testing.T) {
				detector := utils.NewGoroutineLeakDetector(t).Start()
				defer detector.Check()

				rec, err := observability.NewPrometheusRecorder(observability.MetricsConfig{})
				require.NoError(t, err)

				h, _ := newMemHarness(t, testConfig(backend, dir, 3), WithMetrics(rec))
				out, err := h.Run(context.Background())
				require.NoError(t, err)

				assert.True(t, out.Passed())
				assert.NotEmpty(t, out.RunID)
				assert.Contains(t, out.Endpoint, "pipecheck-")
				assert.Equal(t, 1, out.BindAttempts)
				assert.Equal(t, serve.Stats{Attempts: 3, Served: 3}, out.Server)
				for _, err := range out.ClientErrs {
					assert.NoError(t, err)
				}

				assert.Equal(t, 1.0, testutil.ToFloat64(rec.Runs.WithLabelValues(backend, VerdictPass)))
				assert.Equal(t, 3.0, testutil.ToFloat64(
					rec.Exchanges.WithLabelValues(string(exchange.RoleServer), dir.String(), observability.StatusOK)))
				assert.Equal(t, 3.0, testutil.ToFloat64(
					rec.Exchanges.WithLabelValues(string(exchange.RoleClient), dir.String(), observability.StatusOK)))
			})
		}
	}
}

func TestRunServerDetectsTamperedPayload(t *testing.T) {
	for _, backend := range []string{serve.BlockingName, serve.CooperativeName} {
		t.Run(backend, func(t *testing.T) {
			ml := newMemListener()
			dial := func(ctx context.Context, name string) (net.Conn, error) {
				conn, err := ml.dial(ctx, name)
				if err != nil {
					return nil, err
				}
				return &tamperConn{Conn: conn}, nil
			}

			h, err := New(testConfig(backend, exchange.ClientToServer, 1),
				WithLogger(logging.NewNop()),
				WithListenFunc(ml.listen),
				WithDialFunc(dial),
			)
			require.NoError(t, err)

			out, err := h.Run(context.Background())
			require.Error(t, err)
			assert.False(t, out.Passed())
			assert.Same(t, out.ServerErr, err)
			assert.True(t, pcerrors.IsCode(err, pcerrors.CodePayloadMismatch), "got %v", err)
			assert.Contains(t, err.Error(), "HELLO FROM CLIENT!")
		})
	}
}

func TestRunClientDetectsTamperedPayload(t *testing.T) {
	ml := newMemListener()
	dial := func(ctx context.Context, name string) (net.Conn, error) {
		conn, err := ml.dial(ctx, name)
		if err != nil {
			return nil, err
		}
		return &tamperConn{Conn: conn}, nil
	}

	h, err := New(testConfig(serve.CooperativeName, exchange.ServerToClient, 1),
		WithLogger(logging.NewNop()),
		WithListenFunc(ml.listen),
		WithDialFunc(dial),
	)
	require.NoError(t, err)

	out, err := h.Run(context.Background())
	require.Error(t, err)
	assert.NoError(t, out.ServerErr)
	assert.Same(t, out.ClientErrs[0], err)
	assert.True(t, pcerrors.IsCode(err, pcerrors.CodePayloadMismatch))

	he, ok := pcerrors.AsHarnessError(err)
	require.True(t, ok)
	assert.Equal(t, out.RunID, he.Context().RunID)
}

func TestRunBindFailureTakesPrecedence(t *testing.T) {
	denied := errors.New("permission denied")
	h, err := New(testConfig(serve.CooperativeName, exchange.ClientToServer, 2),
		WithLogger(logging.NewNop()),
		WithListenFunc(func(string) (net.Listener, error) { return nil, denied }),
		WithDialFunc(func(context.Context, string) (net.Conn, error) {
			t.Error("no client may connect without an endpoint")
			return nil, errors.New("unreachable")
		}),
	)
	require.NoError(t, err)

	out, err := h.Run(context.Background())
	require.Error(t, err)
	assert.True(t, pcerrors.IsCode(err, pcerrors.CodeBindFailed))
	assert.ErrorIs(t, err, denied)
	assert.Empty(t, out.Endpoint)
	assert.Len(t, out.ClientErrs, 2)
	for _, cerr := range out.ClientErrs {
		assert.True(t, pcerrors.IsCode(cerr, pcerrors.CodeHandoffAborted), "got %v", cerr)
	}
}

func TestRunClientPanicIsCaptured(t *testing.T) {
	ml := newMemListener()
	h, err := New(testConfig(serve.CooperativeName, exchange.ClientToServer, 1),
		WithLogger(logging.NewNop()),
		WithListenFunc(ml.listen),
		WithDialFunc(func(context.Context, string) (net.Conn, error) {
			panic("dialer exploded")
		}),
	)
	require.NoError(t, err)

	out, err := h.Run(context.Background())
	require.Error(t, err)
	assert.True(t, pcerrors.IsCode(err, pcerrors.CodeTaskPanicked))
	assert.Equal(t, "Client task panicked: panic: dialer exploded", err.Error())
	assert.Equal(t, serve.Stats{Attempts: 1, Skipped: 1}, out.Server, "the unfilled slot is forfeited once the listener closes")
}

func TestRunTimeoutClosesListener(t *testing.T) {
	ml := newMemListener()
	cfg := testConfig(serve.BlockingName, exchange.ClientToServer, 2)
	cfg.Timeout = Duration(100 * time.Millisecond)

	h, err := New(cfg,
		WithLogger(logging.NewNop()),
		WithListenFunc(ml.listen),
		WithDialFunc(func(ctx context.Context, name string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)
	require.NoError(t, err)

	start := time.Now()
	out, err := h.Run(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.True(t, pcerrors.IsCode(err, pcerrors.CodeListenerTimeout), "got %v", err)
	assert.True(t, pcerrors.IsCode(err, pcerrors.CodeConnectFailed))
	assert.Equal(t, serve.Stats{Attempts: 2, Skipped: 2}, out.Server)
}

func TestRunParentCancellation(t *testing.T) {
	ml := newMemListener()
	ctx, cancel := context.WithCancel(context.Background())
	h, err := New(testConfig(serve.CooperativeName, exchange.ClientToServer, 1),
		WithLogger(logging.NewNop()),
		WithListenFunc(ml.listen),
		WithDialFunc(func(ctx context.Context, name string) (net.Conn, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)
	require.NoError(t, err)

	_, err = h.Run(ctx)
	require.Error(t, err)
	assert.False(t, pcerrors.IsCode(err, pcerrors.CodeListenerTimeout))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerdictPrecedence(t *testing.T) {
	bindErr := pcerrors.BindFailed("x", errors.New("denied"))
	serverErr := pcerrors.SendFailed(errors.New("broken pipe"))
	cause := pcerrors.PayloadMismatch("a", "b")
	collateral := pcerrors.ConnectFailed("x", context.Canceled)

	o := &Outcome{
		BindErr:    bindErr,
		ServerErr:  serverErr,
		ClientErrs: []error{cause},
		aftermath:  []bool{false},
	}
	assert.Same(t, bindErr, o.verdict())

	o.BindErr = nil
	assert.Same(t, serverErr, o.verdict())

	o.ServerErr = nil
	o.ClientErrs = []error{nil, collateral, cause}
	o.aftermath = []bool{false, true, false}
	assert.Same(t, cause, o.verdict(), "the error that started the teardown wins")

	o.ClientErrs = []error{nil, collateral, nil}
	assert.Same(t, collateral, o.verdict())

	o.ClientErrs = []error{nil, nil, nil}
	assert.NoError(t, o.verdict())
}

func TestRunLogsWithRunID(t *testing.T) {
	var buf bytes.Buffer
	f := logging.NewTextFormatter()
	f.DisableColors, f.DisableTimestamp = true, true
	logger := logging.New(&buf, f)

	h, _ := newMemHarness(t, testConfig(serve.CooperativeName, exchange.ClientToServer, 1), WithLogger(logger))
	out, err := h.Run(context.Background())
	require.NoError(t, err)

	logs := buf.String()
	assert.Contains(t, logs, "Run passed")
	assert.Contains(t, logs, out.RunID)
	assert.Contains(t, logs, "Endpoint ready")
}

func TestRunSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	h, _ := newMemHarness(t, testConfig(serve.CooperativeName, exchange.ServerToClient, 2),
		WithTracer(tp.Tracer("test")))
	_, err := h.Run(context.Background())
	require.NoError(t, err)

	counts := map[string]int{}
	for _, s := range sr.Ended() {
		counts[s.Name()]++
	}
	assert.Equal(t, 1, counts["pipecheck.run"])
	assert.Equal(t, 1, counts["pipecheck.bind"])
	assert.Equal(t, 1, counts["pipecheck.serve"])
	assert.Equal(t, 2, counts["pipecheck.client"])
	assert.Equal(t, 4, counts["pipecheck.exchange"])
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumClients = 0
	_, err := New(cfg)
	assert.True(t, pcerrors.IsCode(err, pcerrors.CodeInvalidConfig))
}

func TestNewBuildsConfiguredObservability(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Namespace = "pctest"
	cfg.Tracing.Enabled = true

	h, err := New(cfg, WithLogger(logging.NewNop()))
	require.NoError(t, err)
	defer func() { assert.NoError(t, h.Close(context.Background())) }()

	require.NotNil(t, h.Prometheus())
	families, err := h.Prometheus().Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		assert.True(t, strings.HasPrefix(mf.GetName(), "pctest_"), mf.GetName())
	}
}
