package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/voxline/internal/resilience"
)

func TestHealthz_AlwaysOK(t *testing.T) {
	h := New(nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestReadyz_AllProbesPass(t *testing.T) {
	h := New(nil,
		Probe{Name: "records", Check: func(context.Context) error { return nil }},
		Probe{Name: "providers", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyz_FailingProbeReturns503(t *testing.T) {
	h := New(nil,
		Probe{Name: "records", Check: func(context.Context) error { return errors.New("db down") }},
		Probe{Name: "providers", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
	if got := body.Checks["records"]; got.Status != "fail" || got.Error != "db down" {
		t.Errorf("checks[records] = %+v, want failed with db down", got)
	}
	if got := body.Checks["providers"]; got.Status != "ok" {
		t.Errorf("checks[providers] = %+v, want ok alongside the failure", got)
	}
}

func TestCircuits_ReportsBreakerStates(t *testing.T) {
	reg := resilience.NewRegistry()
	reg.Configure(resilience.CircuitBreakerConfig{
		Name:             "generate",
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	_ = reg.Breaker("generate").Execute(func() error { return errors.New("boom") })
	reg.Breaker("transcribe")

	rec := httptest.NewRecorder()
	New(reg).Circuits(rec, httptest.NewRequest(http.MethodGet, "/circuits", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Circuits []resilience.Snapshot `json:"circuits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.Circuits) != 2 {
		t.Fatalf("circuits = %d, want 2", len(body.Circuits))
	}
	if body.Circuits[0].Name != "generate" || body.Circuits[0].State != "open" {
		t.Errorf("circuits[0] = %+v, want open generate breaker", body.Circuits[0])
	}
}

func TestRegister_MountsRoutes(t *testing.T) {
	mux := http.NewServeMux()
	New(resilience.NewRegistry()).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/circuits"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
