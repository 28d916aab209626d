package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/nholik/deckhand/internal/engineerr"
	"github.com/nholik/deckhand/internal/transaction"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for deckhand.
type Metrics struct {
	registry                 *prometheus.Registry
	operationDuration        *prometheus.HistogramVec
	operationsTotal          *prometheus.CounterVec
	cleanupFailuresTotal     *prometheus.CounterVec
	releasesTotal            *prometheus.GaugeVec
	composeFetchErrorsTotal  prometheus.Counter
	lastSuccessfulCycleGauge prometheus.Gauge
}

var _ transaction.Observer = (*Metrics)(nil)

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deckhand_operation_duration_seconds",
			Help:    "Duration of lifecycle operations in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"kind", "action"}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deckhand_operations_total",
			Help: "Total lifecycle operations by environment, action and outcome.",
		}, []string{"environment", "action", "outcome"}),
		cleanupFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deckhand_cleanup_failures_total",
			Help: "Total error hooks that failed after an operation failure.",
		}, []string{"environment"}),
		releasesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deckhand_releases_total",
			Help: "Total releases by environment and status.",
		}, []string{"environment", "status"}),
		composeFetchErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deckhand_compose_fetch_errors_total",
			Help: "Total compose fetch errors after retries.",
		}),
		lastSuccessfulCycleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deckhand_last_successful_cycle_timestamp",
			Help: "Unix timestamp of the last successful watch cycle.",
		}),
	}

	registry.MustRegister(
		m.operationDuration,
		m.operationsTotal,
		m.cleanupFailuresTotal,
		m.releasesTotal,
		m.composeFetchErrorsTotal,
		m.lastSuccessfulCycleGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe records a finished lifecycle operation.
func (m *Metrics) Observe(_ context.Context, result transaction.Result) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(string(result.Kind), string(result.Action)).Observe(result.Duration.Seconds())
	m.operationsTotal.WithLabelValues(result.Environment, string(result.Action), Outcome(result.Err)).Inc()
	if result.HookErr != nil {
		m.cleanupFailuresTotal.WithLabelValues(result.Environment).Inc()
	}
}

// Outcome labels an operation error for the operations counter.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	if cause, _ := engineerr.CauseOf(err); cause == engineerr.CauseUser {
		return "user_error"
	}
	return "internal_error"
}

// SetReleasesTotal sets the releases gauge for the given environment/status.
func (m *Metrics) SetReleasesTotal(environment string, status string, value int) {
	if m == nil {
		return
	}
	m.releasesTotal.WithLabelValues(environment, status).Set(float64(value))
}

// IncComposeFetchErrors increments the compose fetch error counter.
func (m *Metrics) IncComposeFetchErrors() {
	if m == nil {
		return
	}
	m.composeFetchErrorsTotal.Inc()
}

// SetLastSuccessfulCycleTimestamp sets the last successful cycle time.
func (m *Metrics) SetLastSuccessfulCycleTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulCycleGauge.Set(float64(t.Unix()))
}
