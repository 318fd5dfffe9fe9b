package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/inferbridge/internal/app"
	"github.com/MrWong99/inferbridge/internal/observe"
	"github.com/MrWong99/inferbridge/internal/readiness"
	"github.com/MrWong99/inferbridge/pkg/provider/llm"
	"github.com/MrWong99/inferbridge/pkg/provider/llm/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newServer starts an httptest server around a freshly built App.
func newServer(t *testing.T, tr *readiness.Tracker, p llm.Provider) *httptest.Server {
	t.Helper()
	a := app.New(testConfig(false), tr, p,
		app.WithMetrics(testMetrics(t)),
		app.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		})),
		app.WithVersion("test"),
	)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestApp_DegradedServesHealthEndpoints(t *testing.T) {
	tr := readiness.New()
	tr.Fail(readiness.CheckConfiguration, "Configuration Error: Please set the following environment variables: WATSONX_API_KEY")
	srv := newServer(t, tr, nil)

	for _, path := range []string{"/health", "/healthz", "/livez"} {
		if code, _ := get(t, srv.URL+path); code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, code)
		}
	}

	code, body := get(t, srv.URL+"/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("/readyz status = %d, want 503", code)
	}
	var ready struct {
		Status string          `json:"status"`
		Checks map[string]bool `json:"checks"`
	}
	if err := json.Unmarshal(body, &ready); err != nil {
		t.Fatalf("decode /readyz: %v", err)
	}
	if ready.Status != "not-ready" || ready.Checks["configuration"] {
		t.Errorf("readyz = %+v", ready)
	}

	if code, body := get(t, srv.URL+"/metrics"); code != http.StatusOK || string(body) != "# metrics\n" {
		t.Errorf("/metrics = %d %q", code, body)
	}
}

func TestApp_ReadyEndpoint(t *testing.T) {
	tr := readiness.New()
	tr.Set(readiness.CheckConfiguration, true)
	tr.Set(readiness.CheckModel, true)
	srv := newServer(t, tr, &mock.Provider{})

	if code, _ := get(t, srv.URL+"/readyz"); code != http.StatusOK {
		t.Errorf("/readyz status = %d, want 200", code)
	}
}

func TestApp_ChatOverSSE(t *testing.T) {
	tr := readiness.New()
	tr.Set(readiness.CheckConfiguration, true)
	tr.Set(readiness.CheckModel, true)
	p := &mock.Provider{GenerateResponse: &llm.GenerateResponse{
		Results: []llm.Result{{GeneratedText: " The capital of Italy is Rome. "}},
	}}
	srv := newServer(t, tr, p)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "app-test", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, &mcpsdk.SSEClientTransport{Endpoint: srv.URL + "/sse"}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "chat",
		Arguments: map[string]any{"query": "What is the capital of Italy?"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || len(res.Content) != 1 {
		t.Fatalf("result = %+v", res)
	}
	tc, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok || tc.Text != "The capital of Italy is Rome." {
		t.Errorf("content = %#v", res.Content[0])
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	tr := readiness.New()
	a := app.New(testConfig(false), tr, nil, app.WithMetrics(testMetrics(t)))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/livez"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(app.ShutdownTimeout):
		t.Fatal("Run did not return after cancel")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
