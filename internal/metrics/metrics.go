// Package metrics tracks daemon metrics and serves them in Prometheus
// text format. It uses a custom prometheus.Registry for isolation and
// testability.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects focusd's operational metrics.
type Metrics struct {
	registry *prometheus.Registry

	ticksTotal      *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	cacheEntries    prometheus.Gauge
	sourceFailures  *prometheus.CounterVec
	snapshotBuilds  prometheus.Counter
	snapshotUsers   prometheus.Gauge
	usersSkipped    prometheus.Counter
	processesKilled prometheus.Counter
	warningsEmitted prometheus.Counter
	firewallRules   prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	longPollWaiters prometheus.Gauge
}

// New creates a Metrics collector with a custom Prometheus registry. All
// metric families are pre-registered with HELP and TYPE metadata.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "focusd_ticks_total",
			Help: "Total number of refresh-and-compile ticks, by result.",
		}, []string{"result"}),

		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "focusd_tick_duration_seconds",
			Help:    "Duration of one refresh-and-compile tick in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "focusd_cache_entries",
			Help: "Number of policy sources currently cached.",
		}),

		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "focusd_source_failures_total",
			Help: "Total number of policy source failures, by kind.",
		}, []string{"kind"}),

		snapshotBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "focusd_snapshot_builds_total",
			Help: "Total number of snapshots compiled and published.",
		}),

		snapshotUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "focusd_snapshot_users",
			Help: "Number of users in the current snapshot.",
		}),

		usersSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "focusd_users_skipped_total",
			Help: "Total number of users skipped because their name did not resolve.",
		}),

		processesKilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "focusd_processes_killed_total",
			Help: "Total number of process trees terminated by enforcement.",
		}),

		warningsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "focusd_warnings_emitted_total",
			Help: "Total number of quit-soon warnings sent to users.",
		}),

		firewallRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "focusd_firewall_chains",
			Help: "Number of firewall chains currently installed.",
		}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "focusd_http_requests_total",
			Help: "Total number of policy endpoint requests, by status.",
		}, []string{"status"}),

		longPollWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "focusd_long_poll_waiters",
			Help: "Number of requests currently blocked waiting for a snapshot change.",
		}),
	}

	reg.MustRegister(
		m.ticksTotal,
		m.tickDuration,
		m.cacheEntries,
		m.sourceFailures,
		m.snapshotBuilds,
		m.snapshotUsers,
		m.usersSkipped,
		m.processesKilled,
		m.warningsEmitted,
		m.firewallRules,
		m.requestsTotal,
		m.longPollWaiters,
	)

	return m
}

// Handler returns the HTTP handler exposing the registry in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Tick records a completed tick with its result label ("changed",
// "unchanged" or "error") and duration in seconds.
func (m *Metrics) Tick(result string, seconds float64) {
	m.ticksTotal.WithLabelValues(result).Inc()
	m.tickDuration.Observe(seconds)
}

// SetCacheEntries records the current number of cached sources.
func (m *Metrics) SetCacheEntries(n int) {
	m.cacheEntries.Set(float64(n))
}

// SourceFailure records a policy source failure by fault kind.
func (m *Metrics) SourceFailure(kind string) {
	m.sourceFailures.WithLabelValues(kind).Inc()
}

// SnapshotBuilt records a successful compile and the user count it produced.
func (m *Metrics) SnapshotBuilt(userCount int) {
	m.snapshotBuilds.Inc()
	m.snapshotUsers.Set(float64(userCount))
}

// UserSkipped records a user dropped for failing uid resolution.
func (m *Metrics) UserSkipped() {
	m.usersSkipped.Inc()
}

// ProcessKilled records one terminated process tree.
func (m *Metrics) ProcessKilled() {
	m.processesKilled.Inc()
}

// WarningEmitted records one quit-soon warning.
func (m *Metrics) WarningEmitted() {
	m.warningsEmitted.Inc()
}

// SetFirewallChains records the number of installed chains.
func (m *Metrics) SetFirewallChains(n int) {
	m.firewallRules.Set(float64(n))
}

// Request records one policy endpoint request by response status.
func (m *Metrics) Request(status int) {
	m.requestsTotal.WithLabelValues(httpStatusLabel(status)).Inc()
}

// LongPollWaiterStarted tracks a request entering the long-poll wait.
func (m *Metrics) LongPollWaiterStarted() {
	m.longPollWaiters.Inc()
}

// LongPollWaiterDone tracks a long-poll request completing.
func (m *Metrics) LongPollWaiterDone() {
	m.longPollWaiters.Dec()
}

// httpStatusLabel buckets a status code into its class label.
func httpStatusLabel(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
