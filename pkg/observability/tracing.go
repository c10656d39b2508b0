// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for harness runs.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used by every harness component
const InstrumentationName = "github.com/ajitpratap0/pipecheck"

// ExporterType selects the span exporter
type ExporterType string

const (
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"
	ExporterTypeNoop     ExporterType = "noop"
)

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string

	ExporterType ExporterType
	Endpoint     string
	Headers      map[string]string
	Insecure     bool

	// SampleRate between 0.0 and 1.0; zero means sample everything
	SampleRate float64

	// Global installs the provider as the otel global tracer provider
	Global bool
}

// TracingProvider owns an SDK tracer provider
type TracingProvider struct {
	config         TracingConfig
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
}

// NewTracingProvider creates a tracing provider from config
func NewTracingProvider(config TracingConfig) (*TracingProvider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "pipecheck"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}
	if config.ExporterType == "" {
		config.ExporterType = ExporterTypeNoop
	}
	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	)

	exporter, err := createExporter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(config.SampleRate)),
	)
	if config.Global {
		otel.SetTracerProvider(tp)
	}

	return &TracingProvider{
		config:         config,
		tracerProvider: tp,
		tracer:         tp.Tracer(InstrumentationName),
	}, nil
}

func createExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.ExporterType {
	case ExporterTypeOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(config.Endpoint),
			otlptracegrpc.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case ExporterTypeOTLPHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
			otlptracehttp.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case ExporterTypeNoop:
		return noopExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", config.ExporterType)
	}
}

func createSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns the provider's tracer
func (tp *TracingProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Shutdown flushes pending spans and stops the provider
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	return tp.tracerProvider.Shutdown(ctx)
}

// DefaultTracer returns the tracer from the otel global provider, which is a
// no-op until a provider is installed.
func DefaultTracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartPhase starts a span named after a harness phase, e.g. "pipecheck.bind"
func StartPhase(ctx context.Context, tracer trace.Tracer, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = DefaultTracer()
	}
	return tracer.Start(ctx, "pipecheck."+phase, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (noopExporter) Shutdown(context.Context) error                             { return nil }
