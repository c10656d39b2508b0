package harness

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pcerrors "github.com/ajitpratap0/pipecheck/pkg/errors"
	"github.com/ajitpratap0/pipecheck/pkg/exchange"
	"github.com/ajitpratap0/pipecheck/pkg/serve"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, serve.CooperativeName, cfg.Backend)
	assert.Equal(t, exchange.ClientToServer, cfg.Direction)
	assert.Equal(t, 1, cfg.NumClients)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "threaded" }, "backend"},
		{"unknown direction", func(c *Config) { c.Direction = exchange.Direction(7) }, "direction"},
		{"no clients", func(c *Config) { c.NumClients = 0 }, "num_clients"},
		{"negative timeout", func(c *Config) { c.Timeout = Duration(-time.Second) }, "timeout"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled, c.Tracing.Exporter = true, "zipkin" }, "tracing.exporter"},
		{"bad sample rate", func(c *Config) { c.Tracing.Enabled, c.Tracing.SampleRate = true, 2 }, "tracing.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, pcerrors.IsCode(err, pcerrors.CodeInvalidConfig))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipecheck.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"backend": "blocking",
		"direction": "server_to_client",
		"num_clients": 8,
		"timeout": "2s",
		"names": {"prefix": "ci"},
		"logging": {"level": "debug", "format": "json"}
	}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, serve.BlockingName, cfg.Backend)
	assert.Equal(t, exchange.ServerToClient, cfg.Direction)
	assert.Equal(t, 8, cfg.NumClients)
	assert.Equal(t, Duration(2*time.Second), cfg.Timeout)
	assert.Equal(t, "ci", cfg.Names.Prefix)
	assert.Equal(t, "json", cfg.Logging.Format)
	// Untouched sections keep their defaults.
	assert.Equal(t, "pipecheck", cfg.Metrics.Namespace)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"direction": "sideways"}`), 0o600))
	_, err = LoadConfig(bad)
	assert.True(t, pcerrors.IsCode(err, pcerrors.CodeInvalidConfig))

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"num_clients": -1}`), 0o600))
	_, err = LoadConfig(invalid)
	assert.True(t, pcerrors.IsCode(err, pcerrors.CodeInvalidConfig))
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1500ms"`), &d))
	assert.Equal(t, Duration(1500*time.Millisecond), d)

	require.NoError(t, json.Unmarshal([]byte(`1000000`), &d))
	assert.Equal(t, Duration(time.Millisecond), d)

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	out, err := json.Marshal(Duration(3 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"3s"`, string(out))
}
