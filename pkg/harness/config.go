package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	pcerrors "github.com/ajitpratap0/pipecheck/pkg/errors"
	"github.com/ajitpratap0/pipecheck/pkg/exchange"
	"github.com/ajitpratap0/pipecheck/pkg/logging"
	"github.com/ajitpratap0/pipecheck/pkg/namegen"
	"github.com/ajitpratap0/pipecheck/pkg/observability"
	"github.com/ajitpratap0/pipecheck/pkg/serve"
)

// Config describes one harness run
type Config struct {
	// Backend is the server suspension strategy: "blocking" or "cooperative"
	Backend string `json:"backend"`
	// Direction of the payload for every connection
	Direction exchange.Direction `json:"direction"`
	// NumClients is both the number of client tasks and of accept attempts
	NumClients int `json:"num_clients"`
	// Timeout closes the listener when the run takes longer; zero disables it
	Timeout Duration `json:"timeout,omitempty"`

	Names   NamesConfig   `json:"names"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
	Tracing TracingConfig `json:"tracing"`
}

// NamesConfig configures endpoint name generation
type NamesConfig struct {
	Prefix string `json:"prefix"`
	// Dir holds socket files; empty means the system temp dir. Unix only.
	Dir string `json:"dir,omitempty"`
	// Namespaced selects Linux abstract socket names
	Namespaced bool `json:"namespaced,omitempty"`
}

// LoggingConfig configures the run logger
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MetricsConfig configures Prometheus collection
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace,omitempty"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled    bool    `json:"enabled"`
	Exporter   string  `json:"exporter,omitempty"`
	Endpoint   string  `json:"endpoint,omitempty"`
	Insecure   bool    `json:"insecure,omitempty"`
	SampleRate float64 `json:"sample_rate,omitempty"`
}

// Duration is a time.Duration that reads "1.5s" style strings or nanoseconds from JSON
type Duration time.Duration

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// DefaultConfig returns a single-client client-to-server run on the
// cooperative backend
func DefaultConfig() Config {
	return Config{
		Backend:    serve.CooperativeName,
		Direction:  exchange.ClientToServer,
		NumClients: 1,
		Names: NamesConfig{
			Prefix: namegen.DefaultPrefix,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "pipecheck",
		},
		Tracing: TracingConfig{
			Exporter:   string(observability.ExporterTypeNoop),
			SampleRate: 1.0,
		},
	}
}

// LoadConfig reads a JSON config file over the defaults and validates it
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, pcerrors.Wrap(err, pcerrors.CodeInvalidConfig, "Failed to parse config")
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid field
func (c Config) Validate() error {
	switch c.Backend {
	case serve.BlockingName, serve.CooperativeName:
	default:
		return pcerrors.InvalidConfig("backend", fmt.Sprintf("unknown backend %q", c.Backend))
	}
	if c.Direction != exchange.ClientToServer && c.Direction != exchange.ServerToClient {
		return pcerrors.InvalidConfig("direction", "unknown direction")
	}
	if c.NumClients < 1 {
		return pcerrors.InvalidConfig("num_clients", "must be at least 1")
	}
	if c.Timeout < 0 {
		return pcerrors.InvalidConfig("timeout", "must not be negative")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return pcerrors.InvalidConfig("logging.level", err.Error())
	}
	if _, err := logging.NewFormatter(c.Logging.Format); err != nil {
		return pcerrors.InvalidConfig("logging.format", err.Error())
	}
	if c.Tracing.Enabled {
		switch observability.ExporterType(c.Tracing.Exporter) {
		case observability.ExporterTypeOTLPGRPC, observability.ExporterTypeOTLPHTTP, observability.ExporterTypeNoop, "":
		default:
			return pcerrors.InvalidConfig("tracing.exporter", fmt.Sprintf("unknown exporter %q", c.Tracing.Exporter))
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return pcerrors.InvalidConfig("tracing.sample_rate", "must be between 0 and 1")
		}
	}
	return nil
}
