package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nholik/deckhand/internal/healthcheck"
	"github.com/nholik/deckhand/internal/metrics"
)

func TestListeners_SharedPort(t *testing.T) {
	got := listeners(Options{HealthPort: 9090, MetricsPort: 9090})
	if len(got) != 1 || got[0].label != "health/metrics" {
		t.Fatalf("expected one shared listener, got %+v", got)
	}
}

func TestListeners_SeparatePorts(t *testing.T) {
	got := listeners(Options{HealthPort: 8080, MetricsPort: 9090})
	if len(got) != 2 {
		t.Fatalf("expected two listeners, got %d", len(got))
	}
	if got[0].port != 8080 || got[1].port != 9090 {
		t.Fatalf("unexpected ports: %d %d", got[0].port, got[1].port)
	}
}

func TestListeners_Disabled(t *testing.T) {
	if got := listeners(Options{}); len(got) != 0 {
		t.Fatalf("expected no listeners, got %d", len(got))
	}
}

func TestRoutes_ServesHealthAndMetrics(t *testing.T) {
	tracker := healthcheck.NewTracker()
	tracker.RecordEnvironment("staging", time.Second, 1, 0, nil)
	opts := Options{PollInterval: time.Minute, Tracker: tracker, Metrics: metrics.New()}
	mux := Routes(opts, true, true)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestRoutes_HealthOnly(t *testing.T) {
	mux := Routes(Options{Metrics: metrics.New()}, true, false)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected metrics to be absent, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected readyz to be unavailable before a cycle, got %d", rec.Code)
	}
}
