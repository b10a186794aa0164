package telemetry

import (
	"context"
	"testing"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), "meowfilm-tv", WithVersion("test"))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected a shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestExporterOptionsTLS(t *testing.T) {
	if got := len(exporterOptions("http://collector:4318")); got != 4 {
		t.Fatalf("plain http endpoint should add the insecure option, got %d options", got)
	}
	if got := len(exporterOptions("https://collector:4318/")); got != 3 {
		t.Fatalf("https endpoint should keep TLS, got %d options", got)
	}
}

func TestWithSampleRatioBounds(t *testing.T) {
	cfg := settings{sampleRatio: 1}
	WithSampleRatio(0)(&cfg)
	WithSampleRatio(1.5)(&cfg)
	if cfg.sampleRatio != 1 {
		t.Fatalf("out of range ratios must be ignored, got %v", cfg.sampleRatio)
	}
	WithSampleRatio(0.25)(&cfg)
	if cfg.sampleRatio != 0.25 {
		t.Fatalf("expected 0.25, got %v", cfg.sampleRatio)
	}
}
