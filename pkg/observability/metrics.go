package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/pipecheck/pkg/logging"
)

// Bind attempt outcomes
const (
	BindBound  = "bound"
	BindInUse  = "in_use"
	BindFailed = "failed"
)

// Task outcomes
const (
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskPanicked  = "panicked"
)

// Generic statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Recorder receives harness events. Implementations must be safe for
// concurrent use because cooperative tasks record from their own goroutines.
type Recorder interface {
	RecordBindAttempt(outcome string)
	RecordAccept(status string)
	RecordExchange(role, direction, status string, duration time.Duration)
	RecordTaskOutcome(outcome string)
	RecordRun(backend, verdict string, duration time.Duration)
}

// NoopRecorder discards every event
type NoopRecorder struct{}

func (NoopRecorder) RecordBindAttempt(string)                              {}
func (NoopRecorder) RecordAccept(string)                                   {}
func (NoopRecorder) RecordExchange(string, string, string, time.Duration) {}
func (NoopRecorder) RecordTaskOutcome(string)                              {}
func (NoopRecorder) RecordRun(string, string, time.Duration)               {}

// MetricsConfig configures the Prometheus recorder
type MetricsConfig struct {
	// Namespace prefixes every metric (default: pipecheck)
	Namespace string
	// Registry receives the collectors; a private registry is created when nil
	Registry *prometheus.Registry
	// HistogramBuckets for exchange and run durations in milliseconds
	HistogramBuckets []float64
	// ConstLabels are added to all metrics
	ConstLabels prometheus.Labels
	// Logger receives access logs for the endpoint started by Start
	Logger logging.Logger
}

// PrometheusRecorder implements Recorder with Prometheus collectors
type PrometheusRecorder struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server
	addr     net.Addr

	BindAttempts     *prometheus.CounterVec
	Accepts          *prometheus.CounterVec
	Exchanges        *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
	TaskOutcomes     *prometheus.CounterVec
	Runs             *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
}

// NewPrometheusRecorder creates and registers the harness collectors
func NewPrometheusRecorder(config MetricsConfig) (*PrometheusRecorder, error) {
	if config.Namespace == "" {
		config.Namespace = "pipecheck"
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}
	}

	r := &PrometheusRecorder{
		config:   config,
		registry: config.Registry,
	}
	r.initializeMetrics()

	if err := r.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return r, nil
}

func (r *PrometheusRecorder) initializeMetrics() {
	ns, labels := r.config.Namespace, r.config.ConstLabels

	r.BindAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "bind_attempts_total",
		Help:        "Listener creation attempts by outcome",
		ConstLabels: labels,
	}, []string{"outcome"})

	r.Accepts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "accepts_total",
		Help:        "Accept attempts by status",
		ConstLabels: labels,
	}, []string{"status"})

	r.Exchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "exchanges_total",
		Help:        "Payload exchanges by role, direction and status",
		ConstLabels: labels,
	}, []string{"role", "direction", "status"})

	r.ExchangeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   ns,
		Name:        "exchange_duration_milliseconds",
		Help:        "Duration of a single payload exchange in milliseconds",
		Buckets:     r.config.HistogramBuckets,
		ConstLabels: labels,
	}, []string{"role", "direction"})

	r.TaskOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "task_outcomes_total",
		Help:        "Joined cooperative tasks by outcome",
		ConstLabels: labels,
	}, []string{"outcome"})

	r.Runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "runs_total",
		Help:        "Harness runs by backend and verdict",
		ConstLabels: labels,
	}, []string{"backend", "verdict"})

	r.RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   ns,
		Name:        "run_duration_milliseconds",
		Help:        "Wall-clock duration of a harness run in milliseconds",
		Buckets:     r.config.HistogramBuckets,
		ConstLabels: labels,
	}, []string{"backend"})
}

func (r *PrometheusRecorder) registerMetrics() error {
	collectors := []prometheus.Collector{
		r.BindAttempts,
		r.Accepts,
		r.Exchanges,
		r.ExchangeDuration,
		r.TaskOutcomes,
		r.Runs,
		r.RunDuration,
	}

	for _, c := range collectors {
		if err := r.registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// Registry returns the registry holding the harness collectors
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordBindAttempt(outcome string) {
	r.BindAttempts.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) RecordAccept(status string) {
	r.Accepts.WithLabelValues(status).Inc()
}

func (r *PrometheusRecorder) RecordExchange(role, direction, status string, duration time.Duration) {
	r.Exchanges.WithLabelValues(role, direction, status).Inc()
	r.ExchangeDuration.WithLabelValues(role, direction).Observe(float64(duration) / float64(time.Millisecond))
}

func (r *PrometheusRecorder) RecordTaskOutcome(outcome string) {
	r.TaskOutcomes.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) RecordRun(backend, verdict string, duration time.Duration) {
	r.Runs.WithLabelValues(backend, verdict).Inc()
	r.RunDuration.WithLabelValues(backend).Observe(float64(duration) / float64(time.Millisecond))
}

// Handler returns an HTTP handler exposing the registry
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Start serves the metrics endpoint on addr at path in the background
func (r *PrometheusRecorder) Start(ctx context.Context, addr, path string) error {
	if path == "" {
		path = "/metrics"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	var handler http.Handler = r.Handler()
	if r.config.Logger != nil {
		handler = logging.HTTPMiddleware(r.config.Logger)(handler)
	}
	mux.Handle(path, handler)
	r.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	r.addr = ln.Addr()

	go func() {
		_ = r.server.Serve(ln)
	}()
	return nil
}

// Addr returns the address the metrics endpoint listens on, or nil before Start
func (r *PrometheusRecorder) Addr() net.Addr {
	return r.addr
}

// Shutdown stops the metrics server started by Start
func (r *PrometheusRecorder) Shutdown(ctx context.Context) error {
	if r.server != nil {
		return r.server.Shutdown(ctx)
	}
	return nil
}
