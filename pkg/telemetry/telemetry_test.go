package telemetry

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInitNone(t *testing.T) {
	tel, err := InitWithConfig("test-service", "v0.0.1", Config{})
	if err != nil {
		t.Fatalf("InitWithConfig failed: %v", err)
	}
	if tel.Exporter() != ExporterNone {
		t.Fatalf("expected none exporter, got %q", tel.Exporter())
	}
	if tel.MetricsHandler() != nil {
		t.Fatal("metrics handler must be nil without prometheus")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitStdout(t *testing.T) {
	tel, err := Init("test-service", "v0.0.1")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitErrors(t *testing.T) {
	if _, err := InitWithConfig("svc", "v", Config{Exporter: "otlp"}); err == nil {
		t.Fatal("expected error for otlp without endpoint")
	}
	if _, err := InitWithConfig("svc", "v", Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestInitPrometheusServesMetrics(t *testing.T) {
	tel, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "Prometheus"})
	if err != nil {
		t.Fatalf("InitWithConfig failed: %v", err)
	}
	defer tel.Shutdown(context.Background())

	m := NewTaskMetrics()
	m.RecordExecution(context.Background(), "mock", "completed", 12.5)

	h := tel.MetricsHandler()
	if h == nil {
		t.Fatal("expected metrics handler")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "agora_task_executions") {
		t.Fatalf("expected task execution metric in scrape output")
	}
}
