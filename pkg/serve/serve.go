// Package serve runs the server side accept loop.
//
// The loop makes exactly numClients accept attempts. A failed accept is
// logged and its slot forfeited; it never aborts the loop. A failed
// exchange on an accepted connection is fatal and propagates.
//
// Two backends implement the same contract. Blocking serves each connection
// inline before accepting the next. Cooperative hands each connection to its
// own Task and keeps accepting, then joins all tasks in spawn order.
//
// The loop has no timeout of its own: if fewer than numClients clients ever
// connect, it waits in Accept until the listener is closed. Callers that
// cannot guarantee the client count must close the listener to end the
// wait; every remaining slot then fails fast as a forfeited accept.
package serve

import (
	"context"
	"net"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	pcerrors "github.com/ajitpratap0/pipecheck/pkg/errors"
	"github.com/ajitpratap0/pipecheck/pkg/logging"
	"github.com/ajitpratap0/pipecheck/pkg/observability"
)

// Handler performs the exchange on one accepted connection. It owns conn.
type Handler func(ctx context.Context, conn net.Conn) error

// Stats summarises one accept loop
type Stats struct {
	// Attempts is the number of accept calls made; always numClients
	Attempts int `json:"attempts"`
	// Served counts connections handed to the handler
	Served int `json:"served"`
	// Skipped counts forfeited slots whose accept failed
	Skipped int `json:"skipped"`
}

// Backend is a suspension strategy for the accept loop
type Backend interface {
	// Name identifies the backend in logs, metrics and config
	Name() string
	// Serve runs the accept loop on ln
	Serve(ctx context.Context, ln net.Listener, numClients int, h Handler) (Stats, error)
}

// Backend names
const (
	BlockingName    = "blocking"
	CooperativeName = "cooperative"
)

// Option configures a backend
type Option func(*base)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(b *base) {
		b.logger = logger
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(r observability.Recorder) Option {
	return func(b *base) {
		b.metrics = r
	}
}

// WithTracer sets the tracer
func WithTracer(t trace.Tracer) Option {
	return func(b *base) {
		b.tracer = t
	}
}

type base struct {
	logger  logging.Logger
	metrics observability.Recorder
	tracer  trace.Tracer
}

func newBase(name string, opts []Option) base {
	b := base{
		logger:  logging.NewNop(),
		metrics: observability.NoopRecorder{},
		tracer:  observability.DefaultTracer(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.logger = b.logger.WithFields(logging.Component("serve"), logging.String("backend", name))
	return b
}

// acceptLoop makes exactly n accept attempts and passes each accepted
// connection to onConn. It stops early only when onConn returns an error.
func (b *base) acceptLoop(ctx context.Context, ln net.Listener, n int, onConn func(slot int, conn net.Conn) error) (Stats, error) {
	logger := b.logger.WithContext(ctx)
	var stats Stats

	for slot := 0; slot < n; slot++ {
		stats.Attempts++
		conn, err := ln.Accept()
		if err != nil {
			stats.Skipped++
			b.metrics.RecordAccept(observability.StatusError)
			logger.WithError(pcerrors.AcceptFailed(slot, err)).
				Warn("Incoming connection failed", logging.Int("slot", slot))
			continue
		}

		stats.Served++
		b.metrics.RecordAccept(observability.StatusOK)
		if err := onConn(slot, conn); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

func (b *base) startSpan(ctx context.Context, name string, n int) (context.Context, trace.Span) {
	return observability.StartPhase(ctx, b.tracer, "serve",
		attribute.String("pipecheck.backend", name),
		attribute.Int("pipecheck.num_clients", n),
	)
}

func (b *base) endSpan(span trace.Span, stats Stats, err error) {
	span.SetAttributes(
		attribute.Int("pipecheck.served", stats.Served),
		attribute.Int("pipecheck.skipped", stats.Skipped),
	)
	observability.EndSpan(span, err)
}

func (b *base) recordOutcome(logger logging.Logger, t *Task, o Outcome) {
	switch {
	case o.Panicked():
		b.metrics.RecordTaskOutcome(observability.TaskPanicked)
		logger.Error("Server task panicked",
			logging.Int("task", t.Index()),
			logging.Any("panic", o.PanicValue()),
			logging.String("stack", string(o.Stack())),
		)
	case o.Err() != nil:
		b.metrics.RecordTaskOutcome(observability.TaskFailed)
		logger.WithError(o.Err()).Error("Server task returned early with error", logging.Int("task", t.Index()))
	default:
		b.metrics.RecordTaskOutcome(observability.TaskCompleted)
	}
}

// Blocking serves every connection inline on the calling goroutine
type Blocking struct {
	base
}

// NewBlocking creates the blocking backend
func NewBlocking(opts ...Option) *Blocking {
	return &Blocking{base: newBase(BlockingName, opts)}
}

// Name implements Backend
func (s *Blocking) Name() string { return BlockingName }

// Serve implements Backend. The first failing exchange ends the loop and is
// returned unchanged; a panicking handler is reported as a task panic.
func (s *Blocking) Serve(ctx context.Context, ln net.Listener, numClients int, h Handler) (stats Stats, err error) {
	ctx, span := s.startSpan(ctx, BlockingName, numClients)
	defer func() { s.endSpan(span, stats, err) }()
	logger := s.logger.WithContext(ctx)

	return s.acceptLoop(ctx, ln, numClients, func(slot int, conn net.Conn) error {
		o := run(ctx, func(ctx context.Context) error { return h(ctx, conn) })
		if o.Panicked() {
			s.recordOutcome(logger, &Task{index: slot}, o)
			return o.Failure(slot)
		}
		return o.Err()
	})
}

// Cooperative serves every connection on its own task
type Cooperative struct {
	base
}

// NewCooperative creates the cooperative backend
func NewCooperative(opts ...Option) *Cooperative {
	return &Cooperative{base: newBase(CooperativeName, opts)}
}

// Name implements Backend
func (s *Cooperative) Name() string { return CooperativeName }

// Serve implements Backend. Accepts happen strictly in loop order while the
// spawned exchanges finish in any order. Every spawned task is joined before
// Serve returns; the first failure in spawn order is returned.
func (s *Cooperative) Serve(ctx context.Context, ln net.Listener, numClients int, h Handler) (stats Stats, err error) {
	ctx, span := s.startSpan(ctx, CooperativeName, numClients)
	defer func() { s.endSpan(span, stats, err) }()
	logger := s.logger.WithContext(ctx)

	tasks := make([]*Task, 0, numClients)
	stats, _ = s.acceptLoop(ctx, ln, numClients, func(slot int, conn net.Conn) error {
		tasks = append(tasks, Spawn(ctx, slot, func(ctx context.Context) error {
			return h(ctx, conn)
		}))
		return nil
	})

	err = JoinAll(tasks, func(t *Task, o Outcome) {
		s.recordOutcome(logger, t, o)
	})
	return stats, err
}

// NewBackend returns the backend registered under name
func NewBackend(name string, opts ...Option) (Backend, error) {
	switch name {
	case BlockingName:
		return NewBlocking(opts...), nil
	case CooperativeName, "":
		return NewCooperative(opts...), nil
	default:
		return nil, pcerrors.InvalidConfig("backend", "unknown backend "+name)
	}
}
