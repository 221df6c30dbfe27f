package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/strategy"
)

const namespace = "tradecore"

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Business metrics
	signalsTotal     *prometheus.CounterVec
	backtestsTotal   *prometheus.CounterVec
	backtestDuration prometheus.Histogram
	backtestTrades   prometheus.Histogram
	jobsActive       *prometheus.GaugeVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	r.signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Live signals seen by the router, by outcome",
		},
		[]string{"strategy_id", "kind", "outcome"},
	)
	r.backtestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backtests_total",
			Help:      "Total number of backtests",
		},
		[]string{"strategy", "state"},
	)
	r.backtestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backtest_duration_seconds",
			Help:      "Backtest duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)
	r.backtestTrades = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backtest_trades",
			Help:      "Closed trades per completed backtest",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	r.jobsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Number of active jobs",
		},
		[]string{"type"},
	)

	reg.MustRegister(r.signalsTotal)
	reg.MustRegister(r.backtestsTotal)
	reg.MustRegister(r.backtestDuration)
	reg.MustRegister(r.backtestTrades)
	reg.MustRegister(r.jobsActive)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// ObserveSignal counts a live signal as routed or filtered.
func (r *Registry) ObserveSignal(strategyID string, kind core.SignalKind, routed bool) {
	outcome := "filtered"
	if routed {
		outcome = "routed"
	}
	r.signalsTotal.WithLabelValues(strategyID, string(kind), outcome).Inc()
}

// ObserveBacktest records a finished backtest run.
func (r *Registry) ObserveBacktest(strategy string, state backtest.State, elapsed time.Duration, trades int) {
	r.backtestsTotal.WithLabelValues(strategy, string(state)).Inc()
	r.backtestDuration.Observe(elapsed.Seconds())
	if state == backtest.StateCompleted {
		r.backtestTrades.Observe(float64(trades))
	}
}

// SetJobsActive sets the number of active jobs of a type.
func (r *Registry) SetJobsActive(jobType string, count int) {
	r.jobsActive.WithLabelValues(jobType).Set(float64(count))
}

// WatchEngine exports the engine's counters, read at scrape time.
func (r *Registry) WatchEngine(source EngineStatsSource) {
	r.MustRegister(newEngineCollector(source))
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// EngineStatsSource is satisfied by *strategy.Engine.
type EngineStatsSource interface {
	GetEngineStats() strategy.EngineStats
}

type engineCollector struct {
	source   EngineStatsSource
	total    *prometheus.Desc
	running  *prometheus.Desc
	signals  *prometheus.Desc
	fills    *prometheus.Desc
	marketEv *prometheus.Desc
}

func newEngineCollector(source EngineStatsSource) *engineCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", name), help, nil, nil)
	}
	return &engineCollector{
		source:   source,
		total:    desc("strategies", "Registered strategy instances"),
		running:  desc("strategies_running", "Running strategy instances"),
		signals:  desc("signals_generated_total", "Signals produced by running strategies"),
		fills:    desc("orders_filled_total", "Order fills delivered to strategies"),
		marketEv: desc("market_data_events_total", "Candles dispatched to the engine"),
	}
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.running
	ch <- c.signals
	ch <- c.fills
	ch <- c.marketEv
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.GetEngineStats()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalStrategies))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, float64(s.RunningStrategies))
	ch <- prometheus.MustNewConstMetric(c.signals, prometheus.CounterValue, float64(s.SignalsGenerated))
	ch <- prometheus.MustNewConstMetric(c.fills, prometheus.CounterValue, float64(s.OrdersFilled))
	ch <- prometheus.MustNewConstMetric(c.marketEv, prometheus.CounterValue, float64(s.MarketDataEvents))
}
