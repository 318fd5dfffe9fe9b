package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/inferbridge/internal/readiness"
)

func serve(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeReady(t *testing.T, rec *httptest.ResponseRecorder) readyResult {
	t.Helper()
	var body readyResult
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestLiveness_AlwaysOK(t *testing.T) {
	// A tracker that never became ready: liveness must not care.
	h := New(readiness.New())

	for _, path := range []string{"/health", "/healthz"} {
		rec := serve(t, h, path)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
			t.Errorf("%s: Content-Type = %q", path, ct)
		}
		var body liveness
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if body.Status != "ok" {
			t.Errorf("%s: status = %q, want ok", path, body.Status)
		}
	}
}

func TestLivez_PlainText(t *testing.T) {
	rec := serve(t, New(readiness.New()), "/livez")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "ok" {
		t.Errorf("body = %q, want ok", got)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz_NotReady(t *testing.T) {
	tr := readiness.New()
	tr.Fail(readiness.CheckConfiguration, "Configuration Error: Please set the following environment variables: WATSONX_API_KEY")

	rec := serve(t, New(tr), "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	body := decodeReady(t, rec)
	if body.Status != StatusNotReady {
		t.Errorf("status = %q", body.Status)
	}
	if ok, present := body.Checks[readiness.CheckConfiguration]; !present || ok {
		t.Errorf("checks = %v, want configuration=false", body.Checks)
	}
}

func TestReadyz_OmitsDiagnostic(t *testing.T) {
	const secret = "An unexpected error occurred: POST https://iam.cloud.ibm.com/identity/token apikey=s3cr3t: 400"
	tr := readiness.New()
	tr.Set(readiness.CheckConfiguration, true)
	tr.Fail(readiness.CheckModel, secret)

	rec := serve(t, New(tr), "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(body) != 2 || body["status"] == nil || body["checks"] == nil {
		t.Errorf("body keys = %v, want only status and checks", body)
	}
	if strings.Contains(rec.Body.String(), "s3cr3t") || strings.Contains(rec.Body.String(), "iam.cloud.ibm.com") {
		t.Errorf("remote error leaked into /readyz: %s", rec.Body.String())
	}
}

func TestReadyz_PartiallyReady(t *testing.T) {
	tr := readiness.New()
	tr.Set(readiness.CheckConfiguration, true)

	rec := serve(t, New(tr), "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	body := decodeReady(t, rec)
	if !body.Checks[readiness.CheckConfiguration] || body.Checks[readiness.CheckModel] {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestReadyz_Ready(t *testing.T) {
	tr := readiness.New()
	tr.Set(readiness.CheckConfiguration, true)
	tr.Set(readiness.CheckModel, true)
	tr.SetDiagnostic("")

	rec := serve(t, New(tr), "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	body := decodeReady(t, rec)
	if body.Status != StatusReady {
		t.Errorf("status = %q", body.Status)
	}
	if len(body.Checks) != 2 || !body.Checks[readiness.CheckModel] {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestRegister_MethodNotAllowed(t *testing.T) {
	mux := http.NewServeMux()
	New(readiness.New()).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
