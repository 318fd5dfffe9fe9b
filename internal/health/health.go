// Package health provides HTTP liveness and readiness handlers.
//
// The package exposes four endpoints:
//
//   - /health and /healthz: liveness probes; always 200 with {"status":"ok"}.
//   - /livez: plain-text liveness probe; always 200 with "ok".
//   - /readyz: readiness probe; 200 with {"status":"ready"} only when every
//     readiness check passes, 503 with {"status":"not-ready"} otherwise.
//
// Liveness never depends on readiness, so a process serving in a degraded
// state still reports itself alive.
package health

import (
	"encoding/json"
	"net/http"

	"github.com/MrWong99/inferbridge/internal/readiness"
)

// Status values reported by /readyz.
const (
	StatusReady    = "ready"
	StatusNotReady = "not-ready"
)

// Reporter supplies the readiness state. [*readiness.Tracker] implements it.
type Reporter interface {
	Snapshot() readiness.Snapshot
}

// liveness is the JSON body for /health and /healthz.
type liveness struct {
	Status string `json:"status"`
}

// readyResult is the JSON body for /readyz. It never carries the diagnostic
// message, which can quote a remote error.
type readyResult struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks"`
}

// Handler serves the health endpoints. It is safe for concurrent use.
type Handler struct {
	state Reporter
}

// New creates a [Handler] reading readiness from state.
func New(state Reporter) *Handler {
	return &Handler{state: state}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, liveness{Status: "ok"})
}

// Livez is the plain-text liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz reports the per-check breakdown and returns 503 unless every check
// passes.
func (h *Handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	snap := h.state.Snapshot()

	res := readyResult{
		Status: StatusReady,
		Checks: make(map[string]bool, len(snap.Checks)),
	}
	for _, c := range snap.Checks {
		res.Checks[c.Name] = c.OK
	}

	status := http.StatusOK
	if !snap.Ready {
		res.Status = StatusNotReady
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Healthz)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /livez", h.Livez)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
