// Package metrics exposes Prometheus metrics for the orchestration engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all registered collectors. A nil *Metrics is a no-op, so
// components can run without a metrics pipeline in tests.
type Metrics struct {
	registry *prometheus.Registry

	dispatchesTotal  *prometheus.CounterVec
	syncUpdatesTotal prometheus.Counter
	retriesTotal     prometheus.Counter
	searchesTotal    *prometheus.CounterVec
	grabsTotal       prometheus.Counter
	rateLimitSkips   *prometheus.CounterVec
	alertsFired      *prometheus.CounterVec

	queueDepth    *prometheus.GaugeVec
	breakerState  *prometheus.GaugeVec
	downloadSpeed prometheus.Gauge
	uploadSpeed   prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := func(c prometheus.Collector) prometheus.Collector {
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{registry: registry}

	m.dispatchesTotal = factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grabarr_dispatches_total",
		Help: "Download dispatch attempts by outcome",
	}, []string{"outcome"})).(*prometheus.CounterVec)

	m.syncUpdatesTotal = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grabarr_sync_updates_total",
		Help: "Queue items updated from download client status",
	})).(prometheus.Counter)

	m.retriesTotal = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grabarr_retries_total",
		Help: "Failed downloads requeued by the retry loop",
	})).(prometheus.Counter)

	m.searchesTotal = factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grabarr_searches_total",
		Help: "Indexer searches by outcome",
	}, []string{"outcome"})).(*prometheus.CounterVec)

	m.grabsTotal = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grabarr_grabs_total",
		Help: "Releases enqueued for download",
	})).(prometheus.Counter)

	m.rateLimitSkips = factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grabarr_rate_limit_skips_total",
		Help: "Requests skipped because a service looked dead",
	}, []string{"service"})).(*prometheus.CounterVec)

	m.alertsFired = factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grabarr_alerts_fired_total",
		Help: "Alerts fired by level",
	}, []string{"level"})).(*prometheus.CounterVec)

	m.queueDepth = factory(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grabarr_queue_depth",
		Help: "Queue items by status",
	}, []string{"status"})).(*prometheus.GaugeVec)

	m.breakerState = factory(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grabarr_circuit_breaker_state",
		Help: "Circuit breaker state per service (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})).(*prometheus.GaugeVec)

	m.downloadSpeed = factory(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grabarr_download_bytes_per_second",
		Help: "Aggregate download speed across active items",
	})).(prometheus.Gauge)

	m.uploadSpeed = factory(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grabarr_upload_bytes_per_second",
		Help: "Aggregate upload speed across active items",
	})).(prometheus.Gauge)

	return m
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncDispatch counts one dispatch attempt.
func (m *Metrics) IncDispatch(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.dispatchesTotal.WithLabelValues(outcome).Inc()
}

// IncSyncUpdate counts one persisted sync update.
func (m *Metrics) IncSyncUpdate() {
	if m == nil {
		return
	}
	m.syncUpdatesTotal.Inc()
}

// IncRetry counts one requeued item.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

// IncSearch counts one aggregate search.
func (m *Metrics) IncSearch(partial bool) {
	if m == nil {
		return
	}
	outcome := "complete"
	if partial {
		outcome = "partial"
	}
	m.searchesTotal.WithLabelValues(outcome).Inc()
}

// IncGrab counts one enqueued release.
func (m *Metrics) IncGrab() {
	if m == nil {
		return
	}
	m.grabsTotal.Inc()
}

// IncRateLimitSkip counts one fast-failed request.
func (m *Metrics) IncRateLimitSkip(service string) {
	if m == nil {
		return
	}
	m.rateLimitSkips.WithLabelValues(service).Inc()
}

// IncAlertFired counts one fired alert.
func (m *Metrics) IncAlertFired(level string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(level).Inc()
}

// SetQueueDepth publishes the per-status queue depth.
func (m *Metrics) SetQueueDepth(status string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(status).Set(float64(depth))
}

// SetBreakerState publishes a breaker's state for one service.
func (m *Metrics) SetBreakerState(service string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(service).Set(float64(state))
}

// SetSpeeds publishes aggregate transfer speeds.
func (m *Metrics) SetSpeeds(download, upload int64) {
	if m == nil {
		return
	}
	m.downloadSpeed.Set(float64(download))
	m.uploadSpeed.Set(float64(upload))
}
