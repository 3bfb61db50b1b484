package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = secret ,broken,=empty, tenant=ops ")
	if len(headers) != 2 {
		t.Fatalf("expected two headers, got %v", headers)
	}
	if headers["api-key"] != "secret" || headers["tenant"] != "ops" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-team=escrow")
	cfg := ConfigFromEnv("escrowd", "test")
	if cfg.Endpoint != "collector:4318" || !cfg.Insecure || !cfg.Enabled() {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Headers["x-team"] != "escrow" {
		t.Fatalf("missing header in %+v", cfg.Headers)
	}
}

func TestInitWithoutExporters(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), ConfigFromEnv("escrowd", "test"))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestSampleRatioFromEnv(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	if got := ConfigFromEnv("escrowd", "test").SampleRatio; got != 0.25 {
		t.Fatalf("unexpected ratio %v", got)
	}
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "")
	if got := ConfigFromEnv("escrowd", "test").SampleRatio; got != 1 {
		t.Fatalf("expected full sampling by default, got %v", got)
	}
	if sampler(0.5).Description() == sampler(1).Description() {
		t.Fatalf("ratio sampler should differ from always-on")
	}
}
