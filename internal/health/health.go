// Package health exposes the orchestrator's diagnostic HTTP surface.
//
// Three endpoints are served:
//
//   - /healthz  — liveness; a process that can answer is alive.
//   - /readyz   — readiness; 200 only while every registered [Probe] passes.
//   - /circuits — the current snapshot of every provider circuit breaker.
//
// Readiness responses carry a top-level "status" ("ok" or "fail") and a
// per-probe "checks" object with the failure detail when a probe fails.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrWong99/voxline/internal/resilience"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Probe is a named dependency check. Check returns nil while the dependency
// can serve calls and an error describing the problem otherwise. It must
// respect context cancellation.
type Probe struct {
	// Name keys the probe's entry in the readiness response, e.g. "records"
	// or "providers".
	Name string

	Check func(ctx context.Context) error
}

// probeStatus is one probe's entry in the readiness response.
type probeStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// statusBody is the response body of /healthz and /readyz.
type statusBody struct {
	Status string                 `json:"status"`
	Checks map[string]probeStatus `json:"checks,omitempty"`
}

// circuitsBody is the response body of /circuits.
type circuitsBody struct {
	Circuits []resilience.Snapshot `json:"circuits"`
}

// Handler serves the diagnostics endpoints. Probes run sequentially in
// registration order on every /readyz request; the circuit registry is read
// on every /circuits request. Safe for concurrent use.
type Handler struct {
	probes   []Probe
	circuits *resilience.Registry
}

// New creates a Handler over the given circuit registry and readiness probes.
// A nil registry disables the /circuits endpoint.
func New(circuits *resilience.Registry, probes ...Probe) *Handler {
	p := make([]Probe, len(probes))
	copy(p, probes)
	return &Handler{probes: p, circuits: circuits}
}

// Healthz always answers 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}

// Readyz runs every probe under a [probeTimeout] deadline and answers 503
// when any probe fails. All probes run even after a failure so the response
// names every unhealthy dependency at once.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	body := statusBody{
		Status: "ok",
		Checks: make(map[string]probeStatus, len(h.probes)),
	}
	code := http.StatusOK

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Check(ctx)
		cancel()

		if err != nil {
			body.Checks[p.Name] = probeStatus{Status: "fail", Error: err.Error()}
			body.Status = "fail"
			code = http.StatusServiceUnavailable
		} else {
			body.Checks[p.Name] = probeStatus{Status: "ok"}
		}
	}

	writeJSON(w, code, body)
}

// Circuits reports the state of every breaker created so far.
func (h *Handler) Circuits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, circuitsBody{Circuits: h.circuits.Snapshots()})
}

// Register mounts the diagnostics routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if h.circuits != nil {
		mux.HandleFunc("GET /circuits", h.Circuits)
	}
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
