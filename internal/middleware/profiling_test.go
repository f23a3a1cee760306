package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func profilingHandler(cfg ProfilingConfig) http.Handler {
	return Profiling(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("app"))
	}))
}

func TestProfiling_DisabledPassesThrough(t *testing.T) {
	h := profilingHandler(ProfilingConfig{Enabled: false, Environment: "development"})

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Body.String() != "app" {
		t.Errorf("body = %q, want pass-through to app handler", rec.Body.String())
	}
}

func TestProfiling_RefusedInProduction(t *testing.T) {
	for _, env := range []string{"production", "prod"} {
		t.Run(env, func(t *testing.T) {
			h := profilingHandler(ProfilingConfig{Enabled: true, Environment: env})

			req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Body.String() != "app" {
				t.Errorf("pprof exposed in %s environment", env)
			}
		})
	}
}

func TestProfiling_IndexServedInDevelopment(t *testing.T) {
	h := profilingHandler(ProfilingConfig{Enabled: true, Environment: "development"})

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "goroutine") {
		t.Error("index page missing profile listing")
	}
}

func TestProfiling_NonDebugPathPassesThrough(t *testing.T) {
	h := profilingHandler(ProfilingConfig{Enabled: true, Environment: "development"})

	req := httptest.NewRequest(http.MethodGet, "/payments/intents", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Body.String() != "app" {
		t.Errorf("body = %q, want pass-through to app handler", rec.Body.String())
	}
}

func TestProfilingStatus(t *testing.T) {
	h := ProfilingStatus(ProfilingConfig{Enabled: true, Environment: "development"})

	req := httptest.NewRequest(http.MethodGet, "/debug/profiling-status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body struct {
		ProfilingEnabled bool   `json:"profiling_enabled"`
		Environment      string `json:"environment"`
		Status           string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding status body: %v", err)
	}
	if !body.ProfilingEnabled || body.Environment != "development" || body.Status != "enabled" {
		t.Errorf("status body = %+v", body)
	}
}
