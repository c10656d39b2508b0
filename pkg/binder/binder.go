// Package binder acquires a uniquely named listening endpoint.
//
// The retry policy is asymmetric: a candidate whose name is already in use
// is discarded and the next candidate is drawn, while any other failure
// aborts immediately. Only the collision is transient; everything else is a
// real environment fault and retrying would mask it.
package binder

import (
	"context"
	"iter"
	"net"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/pipecheck/pkg/endpoint"
	pcerrors "github.com/ajitpratap0/pipecheck/pkg/errors"
	"github.com/ajitpratap0/pipecheck/pkg/logging"
	"github.com/ajitpratap0/pipecheck/pkg/observability"
)

// Bound pairs a confirmed-unique name with its open listener. It is only
// ever produced by a successful Bind.
type Bound struct {
	Name     string
	Listener net.Listener
	// Attempts counts listener creation attempts, including the successful one
	Attempts int
}

// Close releases the listener
func (b *Bound) Close() error {
	return b.Listener.Close()
}

// Binder draws candidate names and creates a listener under the first free one
type Binder struct {
	listen  endpoint.ListenFunc
	logger  logging.Logger
	metrics observability.Recorder
	tracer  trace.Tracer
}

// Option configures a Binder
type Option func(*Binder)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(b *Binder) {
		b.logger = logger
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(r observability.Recorder) Option {
	return func(b *Binder) {
		b.metrics = r
	}
}

// WithTracer sets the tracer
func WithTracer(t trace.Tracer) Option {
	return func(b *Binder) {
		b.tracer = t
	}
}

// New creates a binder around the listener-creation capability
func New(listen endpoint.ListenFunc, opts ...Option) *Binder {
	b := &Binder{
		listen:  listen,
		logger:  logging.NewNop(),
		metrics: observability.NoopRecorder{},
		tracer:  observability.DefaultTracer(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithFields(logging.Component("binder"), logging.String("phase", "bind"))
	return b
}

// Bind tries candidates from names in order. It returns on the first
// successful listener without drawing further names. A name collision moves
// on to the next candidate; any other error is returned as a BindFailed
// error on the attempt that produced it. If names runs out first, Bind
// returns a NamesExhausted error.
func (b *Binder) Bind(ctx context.Context, names iter.Seq[string]) (bound *Bound, err error) {
	ctx, span := observability.StartPhase(ctx, b.tracer, "bind")
	defer func() {
		if bound != nil {
			span.SetAttributes(
				attribute.String("pipecheck.endpoint", bound.Name),
				attribute.Int("pipecheck.bind_attempts", bound.Attempts),
			)
		}
		observability.EndSpan(span, err)
	}()
	logger := b.logger.WithContext(ctx)

	attempts := 0
	for name := range names {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, pcerrors.BindFailed(name, ctxErr)
		}

		attempts++
		ln, lerr := b.listen(name)
		switch {
		case lerr == nil:
			b.metrics.RecordBindAttempt(observability.BindBound)
			logger.Debug("Listener bound", logging.String("endpoint", name), logging.Int("attempts", attempts))
			return &Bound{Name: name, Listener: ln, Attempts: attempts}, nil

		case endpoint.IsAddrInUse(lerr):
			b.metrics.RecordBindAttempt(observability.BindInUse)
			logger.WithError(pcerrors.NameInUse(name, lerr)).Debug("Endpoint name taken, trying next candidate")
			continue

		default:
			b.metrics.RecordBindAttempt(observability.BindFailed)
			return nil, pcerrors.BindFailed(name, lerr)
		}
	}

	return nil, pcerrors.NamesExhausted(attempts)
}
