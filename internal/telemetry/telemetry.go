// Package telemetry wires OpenTelemetry traces and metrics for gv.
//
// Nothing is exported unless GV_OTEL_ENABLED=true. When enabled:
//
//	GV_OTEL_STDOUT=true                  pretty-print spans and metrics (dev mode)
//	OTEL_EXPORTER_OTLP_ENDPOINT          OTLP/HTTP collector, host:port or URL
//	OTEL_EXPORTER_OTLP_METRICS_ENDPOINT  metrics-only override
//	OTEL_SERVICE_NAME                    override the service name
//
// Enabled with no exporter configured falls back to stdout spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/steveyegge/grievance"

// ShutdownFunc flushes and stops whatever Init started.
type ShutdownFunc func(context.Context) error

// Settings selects exporters. SettingsFromEnv fills it from the environment.
type Settings struct {
	Enabled         bool
	Stdout          bool
	Endpoint        string
	MetricsEndpoint string
	ServiceName     string
	ServiceVersion  string
	// MetricInterval is the OTLP export period; stdout uses half of it.
	MetricInterval time.Duration
}

// SettingsFromEnv reads the variables listed in the package doc.
func SettingsFromEnv(serviceName, version string) Settings {
	s := Settings{
		Enabled:         Enabled(),
		Stdout:          os.Getenv("GV_OTEL_STDOUT") == "true",
		Endpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MetricsEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
		ServiceName:     serviceName,
		ServiceVersion:  version,
		MetricInterval:  30 * time.Second,
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		s.ServiceName = name
	}
	if s.MetricsEndpoint == "" {
		s.MetricsEndpoint = s.Endpoint
	}
	return s
}

// Enabled reports whether GV_OTEL_ENABLED=true.
func Enabled() bool {
	return os.Getenv("GV_OTEL_ENABLED") == "true"
}

// Init installs global providers for s and returns their shutdown. Disabled
// settings install noop providers and a shutdown that does nothing.
func Init(ctx context.Context, s Settings) (ShutdownFunc, error) {
	if !s.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(s.ServiceName),
			semconv.ServiceVersionKey.String(s.ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	spans, err := spanExporters(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("telemetry: traces: %w", err)
	}
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	for _, exp := range spans {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)

	readers, err := metricReaders(ctx, s)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: metrics: %w", err)
	}
	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		metricOpts = append(metricOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(metricOpts...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func spanExporters(ctx context.Context, s Settings) ([]sdktrace.SpanExporter, error) {
	var out []sdktrace.SpanExporter
	if s.Endpoint != "" {
		exp, err := buildOTLPTraceExporter(ctx, s.Endpoint)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	if s.Stdout || len(out) == 0 {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

func metricReaders(ctx context.Context, s Settings) ([]sdkmetric.Reader, error) {
	interval := s.MetricInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	var out []sdkmetric.Reader
	if s.MetricsEndpoint != "" {
		exp, err := buildOTLPMetricExporter(ctx, s.MetricsEndpoint)
		if err != nil {
			return nil, err
		}
		out = append(out, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval)))
	}
	if s.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		out = append(out, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval/2)))
	}
	return out, nil
}

// Tracer returns a tracer for name, or for the module scope when name is empty.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter for name, or for the module scope when name is empty.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}
