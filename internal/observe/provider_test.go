package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// initTestProviders runs InitProvider and restores the global providers
// afterwards.
func initTestProviders(t *testing.T, cfg ProviderConfig) *Providers {
	t.Helper()
	origMP := otel.GetMeterProvider()
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	p, err := InitProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func TestInitProvider_ServiceResource(t *testing.T) {
	p := initTestProviders(t, ProviderConfig{ServiceVersion: "1.2.3"})

	set := p.Resource.Set()
	want := map[attribute.Key]string{
		"service.name":           "inferbridge",
		"service.version":        "1.2.3",
		"telemetry.sdk.language": "go",
	}
	for k, v := range want {
		got, ok := set.Value(k)
		if !ok || got.AsString() != v {
			t.Errorf("resource %s = %q (present=%v), want %q", k, got.AsString(), ok, v)
		}
	}
}

func TestInitProvider_ExposesMetrics(t *testing.T) {
	p := initTestProviders(t, ProviderConfig{ServiceVersion: "test"})

	m, err := NewMetrics(p.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordToolCall(context.Background(), "chat", "ok")

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "inferbridge_tool_calls") {
		t.Errorf("exposition missing inferbridge_tool_calls:\n%s", body)
	}
}
