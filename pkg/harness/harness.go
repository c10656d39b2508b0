// Package harness wires the components into one end-to-end run: a server
// binds a fresh endpoint, hands its name to the clients, and serves exactly
// NumClients connections while the clients connect and exchange one payload
// each.
package harness

import (
	"context"
	"errors"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/pipecheck/pkg/binder"
	"github.com/ajitpratap0/pipecheck/pkg/client"
	"github.com/ajitpratap0/pipecheck/pkg/endpoint"
	pcerrors "github.com/ajitpratap0/pipecheck/pkg/errors"
	"github.com/ajitpratap0/pipecheck/pkg/exchange"
	"github.com/ajitpratap0/pipecheck/pkg/handoff"
	"github.com/ajitpratap0/pipecheck/pkg/logging"
	"github.com/ajitpratap0/pipecheck/pkg/namegen"
	"github.com/ajitpratap0/pipecheck/pkg/observability"
	"github.com/ajitpratap0/pipecheck/pkg/serve"
)

// Run verdicts as recorded in metrics
const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// Harness runs configured end-to-end exchanges
type Harness struct {
	cfg     Config
	logger  logging.Logger
	metrics observability.Recorder
	tracer  trace.Tracer
	listen  endpoint.ListenFunc
	dial    endpoint.DialFunc

	prometheus *observability.PrometheusRecorder
	tracing    *observability.TracingProvider
}

// Option configures a Harness
type Option func(*Harness)

// WithLogger sets the logger instead of building one from Config.Logging
func WithLogger(logger logging.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithMetrics sets the recorder instead of building one from Config.Metrics
func WithMetrics(r observability.Recorder) Option {
	return func(h *Harness) {
		h.metrics = r
	}
}

// WithTracer sets the tracer instead of building one from Config.Tracing
func WithTracer(t trace.Tracer) Option {
	return func(h *Harness) {
		h.tracer = t
	}
}

// WithListenFunc replaces the platform listener
func WithListenFunc(listen endpoint.ListenFunc) Option {
	return func(h *Harness) {
		h.listen = listen
	}
}

// WithDialFunc replaces the platform dialer
func WithDialFunc(dial endpoint.DialFunc) Option {
	return func(h *Harness) {
		h.dial = dial
	}
}

// New validates cfg and creates a harness
func New(cfg Config, opts ...Option) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Harness{cfg: cfg}
	for _, opt := range opts {
		opt(h)
	}

	if h.logger == nil {
		formatter, _ := logging.NewFormatter(cfg.Logging.Format)
		level, _ := logging.ParseLevel(cfg.Logging.Level)
		h.logger = logging.New(os.Stderr, formatter)
		h.logger.SetLevel(level)
	}

	if h.metrics == nil {
		if cfg.Metrics.Enabled {
			rec, err := observability.NewPrometheusRecorder(observability.MetricsConfig{
				Namespace: cfg.Metrics.Namespace,
				Logger:    h.logger,
			})
			if err != nil {
				return nil, err
			}
			h.prometheus = rec
			h.metrics = rec
		} else {
			h.metrics = observability.NoopRecorder{}
		}
	}

	if h.tracer == nil {
		if cfg.Tracing.Enabled {
			tp, err := observability.NewTracingProvider(observability.TracingConfig{
				ServiceName:  "pipecheck",
				ExporterType: observability.ExporterType(cfg.Tracing.Exporter),
				Endpoint:     cfg.Tracing.Endpoint,
				Insecure:     cfg.Tracing.Insecure,
				SampleRate:   cfg.Tracing.SampleRate,
			})
			if err != nil {
				return nil, err
			}
			h.tracing = tp
			h.tracer = tp.Tracer()
		} else {
			h.tracer = observability.DefaultTracer()
		}
	}

	if h.listen == nil {
		h.listen = endpoint.Listen
	}
	if h.dial == nil {
		h.dial = endpoint.Dial
	}

	h.logger = h.logger.WithFields(logging.Component("harness"))
	return h, nil
}

// Config returns the validated configuration
func (h *Harness) Config() Config {
	return h.cfg
}

// Prometheus returns the recorder built from Config.Metrics, or nil when
// metrics are disabled or supplied through WithMetrics
func (h *Harness) Prometheus() *observability.PrometheusRecorder {
	return h.prometheus
}

// Close flushes and stops the tracing provider built from Config.Tracing
func (h *Harness) Close(ctx context.Context) error {
	if h.tracing == nil {
		return nil
	}
	return h.tracing.Shutdown(ctx)
}

// Outcome is the result of one run
type Outcome struct {
	RunID      string             `json:"run_id"`
	Endpoint   string             `json:"endpoint,omitempty"`
	Backend    string             `json:"backend"`
	Direction  exchange.Direction `json:"direction"`
	NumClients int                `json:"num_clients"`

	// BindAttempts counts listener creation attempts
	BindAttempts int         `json:"bind_attempts"`
	Server       serve.Stats `json:"server"`

	// BindErr is set when no endpoint could be created
	BindErr error `json:"-"`
	// ServerErr is the accept loop's fatal error
	ServerErr error `json:"-"`
	// ClientErrs holds each client's error by index
	ClientErrs []error `json:"-"`

	// Err is the overall verdict; nil means the run passed
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// aftermath marks client errors that happened after the run was
	// already being torn down
	aftermath []bool
}

// Passed reports whether the run succeeded
func (o *Outcome) Passed() bool {
	return o.Err == nil
}

// verdict picks the first fatal condition: bind, then serve, then clients
// in index order. A client error caused by a teardown started elsewhere
// loses to one that caused the teardown.
func (o *Outcome) verdict() error {
	if o.BindErr != nil {
		return o.BindErr
	}
	if o.ServerErr != nil {
		return o.ServerErr
	}
	var first error
	for i, err := range o.ClientErrs {
		if err == nil {
			continue
		}
		if !o.aftermath[i] {
			return err
		}
		if first == nil {
			first = err
		}
	}
	return first
}

// Run performs one end-to-end exchange. The returned error is Outcome.Err.
func (h *Harness) Run(ctx context.Context) (*Outcome, error) {
	cfg := h.cfg
	start := time.Now()
	runID := logging.NewRunID()
	ctx = logging.ContextWithRunID(ctx, runID)

	ctx, span := observability.StartPhase(ctx, h.tracer, "run",
		attribute.String("pipecheck.run_id", runID),
		attribute.String("pipecheck.backend", cfg.Backend),
		attribute.String("pipecheck.direction", cfg.Direction.String()),
		attribute.Int("pipecheck.num_clients", cfg.NumClients),
	)
	logger := h.logger.WithContext(ctx).WithFields(
		logging.String("backend", cfg.Backend),
		logging.String("direction", cfg.Direction.String()),
		logging.Int("clients", cfg.NumClients),
	)

	out := &Outcome{
		RunID:      runID,
		Backend:    cfg.Backend,
		Direction:  cfg.Direction,
		NumClients: cfg.NumClients,
		ClientErrs: make([]error, cfg.NumClients),
		aftermath:  make([]bool, cfg.NumClients),
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Timeout))
	}
	defer cancel()

	backend, err := serve.NewBackend(cfg.Backend,
		serve.WithLogger(h.logger),
		serve.WithMetrics(h.metrics),
		serve.WithTracer(h.tracer),
	)
	if err != nil {
		return h.finish(span, logger, out, start, err)
	}
	exchanger := exchange.NewExchanger(exchange.WithMetrics(h.metrics), exchange.WithTracer(h.tracer))
	names := namegen.New(
		namegen.WithPrefix(cfg.Names.Prefix),
		namegen.WithDir(cfg.Names.Dir),
		namegen.WithNamespaced(cfg.Names.Namespaced),
	)
	bind := binder.New(h.listen,
		binder.WithLogger(h.logger),
		binder.WithMetrics(h.metrics),
		binder.WithTracer(h.tracer),
	)
	cl := client.New(h.dial,
		client.WithLogger(h.logger),
		client.WithExchanger(exchanger),
		client.WithTracer(h.tracer),
	)
	ch := handoff.New()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		bound, err := bind.Bind(gctx, names.Names())
		if err != nil {
			out.BindErr = err
			return err
		}
		defer bound.Close()
		out.Endpoint = bound.Name
		out.BindAttempts = bound.Attempts

		// Closing the listener is the only way to end a wait in Accept.
		stop := context.AfterFunc(gctx, func() { _ = bound.Listener.Close() })
		defer stop()

		ch.Send(bound.Name)
		logger.Info("Endpoint ready", logging.String("endpoint", bound.Name))

		stats, err := backend.Serve(gctx, bound.Listener, cfg.NumClients,
			exchanger.Handler(exchange.RoleServer, cfg.Direction))
		out.Server = stats
		if err != nil {
			out.ServerErr = err
			return err
		}
		return nil
	})

	for i := 0; i < cfg.NumClients; i++ {
		g.Go(func() error {
			err := runClient(gctx, cl, ch, i, cfg.Direction)
			if err != nil {
				out.aftermath[i] = gctx.Err() != nil
				out.ClientErrs[i] = err
			}
			return err
		})
	}

	_ = g.Wait()

	verdict := out.verdict()
	if verdict != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		verdict = pcerrors.ListenerTimeout(out.Endpoint, verdict)
	}
	return h.finish(span, logger, out, start, verdict)
}

func (h *Harness) finish(span trace.Span, logger logging.Logger, out *Outcome, start time.Time, verdict error) (*Outcome, error) {
	out.Err = verdict
	out.Duration = time.Since(start)

	status := VerdictPass
	if verdict != nil {
		status = VerdictFail
	}
	h.metrics.RecordRun(out.Backend, status, out.Duration)

	if out.Endpoint != "" {
		span.SetAttributes(attribute.String("pipecheck.endpoint", out.Endpoint))
	}
	observability.EndSpan(span, verdict)

	fields := []logging.Field{
		logging.Duration("duration", out.Duration),
		logging.Int("served", out.Server.Served),
		logging.Int("skipped", out.Server.Skipped),
	}
	if verdict != nil {
		logger.WithError(verdict).Error("Run failed", append(fields, logging.ErrorField(verdict))...)
	} else {
		logger.Info("Run passed", fields...)
	}
	return out, verdict
}

// runClient waits for the endpoint name and runs one client. A panic in
// the client is reported as a task panic rather than crashing the run.
func runClient(ctx context.Context, cl *client.Client, ch *handoff.Channel, index int, dir exchange.Direction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pcerrors.ClientPanicked(index, r)
		}
	}()

	name, err := ch.Receive(ctx)
	if err != nil {
		return pcerrors.HandoffAborted(err)
	}
	if err := cl.Run(ctx, name, dir); err != nil {
		if he, ok := pcerrors.AsHarnessError(err); ok && he.Context() != nil {
			c := *he.Context()
			c.TaskIndex = index
			c.RunID = logging.RunIDFromContext(ctx)
			return he.WithContext(&c)
		}
		return err
	}
	return nil
}
