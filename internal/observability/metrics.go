// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "conservative_bot"

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Strategy metrics
	ScansTotal       prometheus.Counter
	SignalsGenerated *prometheus.CounterVec

	// Risk metrics
	TradeValidations *prometheus.CounterVec

	// Paper portfolio metrics
	PositionsOpened  prometheus.Counter
	PositionsClosed  *prometheus.CounterVec
	PortfolioBalance prometheus.Gauge
	OpenPositions    prometheus.Gauge

	// Emergency metrics
	EmergencyActive      prometheus.Gauge
	EmergencyActivations *prometheus.CounterVec
	TriggerChecks        prometheus.Counter

	// Backtest metrics
	BacktestRuns     *prometheus.CounterVec
	BacktestDuration prometheus.Histogram
	TradesSimulated  prometheus.Counter
}

// NewMetrics registers every collector on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ScansTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "scans_total",
			Help:      "Total number of watchlist scans",
		}),
		SignalsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "signals_generated_total",
			Help:      "Total number of signals emitted by direction",
		}, []string{"direction"}),

		TradeValidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "trade_validations_total",
			Help:      "Trade validations by outcome",
		}, []string{"result"}),

		PositionsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "positions_opened_total",
			Help:      "Total number of paper positions opened",
		}),
		PositionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "positions_closed_total",
			Help:      "Total number of paper positions closed by exit reason",
		}, []string{"reason"}),
		PortfolioBalance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "balance",
			Help:      "Current paper portfolio balance including unrealized P&L",
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "open_positions",
			Help:      "Number of open paper positions",
		}),

		EmergencyActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "emergency",
			Name:      "active",
			Help:      "1 while the emergency stop is active",
		}),
		EmergencyActivations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emergency",
			Name:      "activations_total",
			Help:      "Emergency stop activations by trigger",
		}, []string{"trigger"}),
		TriggerChecks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emergency",
			Name:      "trigger_checks_total",
			Help:      "Total number of trigger evaluations",
		}),

		BacktestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtest runs by status",
		}, []string{"status"}),
		BacktestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "duration_seconds",
			Help:      "Backtest run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		TradesSimulated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "trades_simulated_total",
			Help:      "Total number of trades simulated",
		}),
	}
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SignalEmitted(direction string) {
	if m == nil {
		return
	}
	m.SignalsGenerated.WithLabelValues(direction).Inc()
}

func (m *Metrics) Validation(valid bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if valid {
		result = "accepted"
	}
	m.TradeValidations.WithLabelValues(result).Inc()
}

func (m *Metrics) EmergencyActivated(trigger string) {
	if m == nil {
		return
	}
	m.EmergencyActive.Set(1)
	m.EmergencyActivations.WithLabelValues(trigger).Inc()
}

func (m *Metrics) EmergencyReset() {
	if m == nil {
		return
	}
	m.EmergencyActive.Set(0)
}

func (m *Metrics) TriggerChecked() {
	if m == nil {
		return
	}
	m.TriggerChecks.Inc()
}

func (m *Metrics) BacktestFinished(status string, seconds float64, trades int) {
	if m == nil {
		return
	}
	m.BacktestRuns.WithLabelValues(status).Inc()
	m.BacktestDuration.Observe(seconds)
	m.TradesSimulated.Add(float64(trades))
}

func (m *Metrics) PortfolioUpdated(balance float64, open int) {
	if m == nil {
		return
	}
	m.PortfolioBalance.Set(balance)
	m.OpenPositions.Set(float64(open))
}

func (m *Metrics) PositionOpened() {
	if m == nil {
		return
	}
	m.PositionsOpened.Inc()
}

func (m *Metrics) PositionClosed(reason string) {
	if m == nil {
		return
	}
	m.PositionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) Scanned() {
	if m == nil {
		return
	}
	m.ScansTotal.Inc()
}
