package pipecheck

import (
	"context"

	"github.com/ajitpratap0/pipecheck/pkg/exchange"
	"github.com/ajitpratap0/pipecheck/pkg/harness"
	"github.com/ajitpratap0/pipecheck/pkg/serve"
)

// Version represents the current version of the harness
const Version = "1.0.0"

// These exports provide direct access to the core harness components
var (
	// New creates a harness from a validated config
	New = harness.New

	// DefaultConfig returns the single-client cooperative configuration
	DefaultConfig = harness.DefaultConfig

	// LoadConfig reads a JSON config file over the defaults
	LoadConfig = harness.LoadConfig
)

// Harness options
var (
	WithLogger     = harness.WithLogger
	WithMetrics    = harness.WithMetrics
	WithTracer     = harness.WithTracer
	WithListenFunc = harness.WithListenFunc
	WithDialFunc   = harness.WithDialFunc
)

// Backends
const (
	Blocking    = serve.BlockingName
	Cooperative = serve.CooperativeName
)

// Directions
const (
	ClientToServer = exchange.ClientToServer
	ServerToClient = exchange.ServerToClient
)

// Type aliases for the public surface
type (
	Config    = harness.Config
	Harness   = harness.Harness
	Outcome   = harness.Outcome
	Direction = exchange.Direction
	Option    = harness.Option
)

// Run performs one run of cfg and returns its verdict
func Run(ctx context.Context, cfg Config, opts ...Option) (*Outcome, error) {
	h, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = h.Close(ctx) }()
	return h.Run(ctx)
}
