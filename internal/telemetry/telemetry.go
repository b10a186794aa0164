// Package telemetry wires OpenTelemetry tracing for the service.
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type settings struct {
	version     string
	sampleRatio float64
}

type Option func(*settings)

func WithVersion(version string) Option {
	return func(s *settings) {
		s.version = strings.TrimSpace(version)
	}
}

// WithSampleRatio samples a fraction of root traces. Values outside (0, 1]
// keep every trace.
func WithSampleRatio(ratio float64) Option {
	return func(s *settings) {
		if ratio > 0 && ratio <= 1 {
			s.sampleRatio = ratio
		}
	}
}

func noop(context.Context) error { return nil }

// Init configures the global trace provider. Without
// OTEL_EXPORTER_OTLP_ENDPOINT tracing stays disabled and a noop shutdown is
// returned. OTEL_TRACES_SAMPLER_ARG overrides the sample ratio.
func Init(ctx context.Context, serviceName string, opts ...Option) (shutdown func(context.Context) error, err error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return noop, nil
	}

	cfg := settings{sampleRatio: 1}
	if raw := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); raw != "" {
		if ratio, parseErr := strconv.ParseFloat(raw, 64); parseErr == nil {
			WithSampleRatio(ratio)(&cfg)
		}
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exporter, err := otlptracehttp.New(initCtx, exporterOptions(endpoint)...)
	if err != nil {
		// The service runs without tracing rather than failing to start.
		slog.Default().Warn("otlp exporter unavailable, tracing disabled", slog.String("error", err.Error()))
		return noop, nil
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(serviceName))}
	if cfg.version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.version)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.sampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// exporterOptions strips the scheme from endpoint; only an explicit https
// endpoint keeps TLS on.
func exporterOptions(endpoint string) []otlptracehttp.Option {
	secure := strings.HasPrefix(endpoint, "https://")
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(strings.TrimRight(host, "/")),
		otlptracehttp.WithTimeout(3 * time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	}
	if !secure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}
