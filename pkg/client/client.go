// Package client implements the harness client task: connect to the named
// endpoint, perform exactly one directional exchange, and verify it.
package client

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/pipecheck/pkg/endpoint"
	pcerrors "github.com/ajitpratap0/pipecheck/pkg/errors"
	"github.com/ajitpratap0/pipecheck/pkg/exchange"
	"github.com/ajitpratap0/pipecheck/pkg/logging"
	"github.com/ajitpratap0/pipecheck/pkg/observability"
)

// Client connects to a named endpoint and exchanges one payload
type Client struct {
	dial      endpoint.DialFunc
	exchanger *exchange.Exchanger
	logger    logging.Logger
	tracer    trace.Tracer
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithExchanger sets the exchanger used after connecting
func WithExchanger(e *exchange.Exchanger) Option {
	return func(c *Client) {
		c.exchanger = e
	}
}

// WithTracer sets the tracer
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// New creates a client using dial to connect. A nil dial uses the platform
// transport.
func New(dial endpoint.DialFunc, opts ...Option) *Client {
	if dial == nil {
		dial = endpoint.Dial
	}
	c := &Client{
		dial:   dial,
		logger: logging.NewNop(),
		tracer: observability.DefaultTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exchanger == nil {
		c.exchanger = exchange.NewExchanger(exchange.WithTracer(c.tracer))
	}
	c.logger = c.logger.WithFields(logging.Component("client"))
	return c
}

// Run connects to name and performs the client's half of the exchange in
// direction dir. A connect failure is a ConnectFailed error; exchange
// failures are returned as produced by the exchange package.
func (c *Client) Run(ctx context.Context, name string, dir exchange.Direction) (err error) {
	ctx, span := observability.StartPhase(ctx, c.tracer, "client",
		attribute.String("pipecheck.endpoint", name),
		attribute.String("pipecheck.direction", dir.String()),
	)
	defer func() { observability.EndSpan(span, err) }()
	logger := c.logger.WithContext(ctx).WithFields(logging.String("endpoint", name))

	conn, err := c.dial(ctx, name)
	if err != nil {
		return pcerrors.ConnectFailed(name, err)
	}
	logger.Debug("Connected")

	if err := c.exchanger.Do(ctx, conn, exchange.RoleClient, dir); err != nil {
		return err
	}
	logger.Debug("Exchange verified")
	return nil
}

// Run is a convenience wrapper creating a one-off Client
func Run(ctx context.Context, name string, dial endpoint.DialFunc, dir exchange.Direction, opts ...Option) error {
	return New(dial, opts...).Run(ctx, name, dir)
}
