// Package metrics records backtest run statistics in a Prometheus registry
// and exports them for the node_exporter textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/newthinker/augur/internal/backtest"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	tradesTotal   *prometheus.CounterVec
	tradeHolding  prometheus.Histogram
	runReturn     *prometheus.GaugeVec
	runDrawdown   *prometheus.GaugeVec
	jobsActive    prometheus.Gauge
	archiveErrors prometheus.Counter
}

// NewRegistry creates a new metrics registry with all metrics registered.
// Go runtime collectors are left out: a CLI process is gone before anyone
// scrapes them.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		Registry: reg,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "augur_backtests_total",
				Help: "Total number of backtest runs by final status and error code",
			},
			[]string{"status", "code"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "augur_backtest_duration_seconds",
				Help:    "Backtest wall-clock duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),
		tradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "augur_trades_total",
				Help: "Total number of simulated trades by exit reason",
			},
			[]string{"exit_reason"},
		),
		tradeHolding: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "augur_trade_holding_days",
				Help:    "Holding period of simulated trades in days",
				Buckets: []float64{1, 2, 3, 5, 7, 10, 20, 40},
			},
		),
		runReturn: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "augur_backtest_total_return_percent",
				Help: "Total return of the latest completed run per model and strategy",
			},
			[]string{"model_id", "strategy_id"},
		),
		runDrawdown: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "augur_backtest_max_drawdown_percent",
				Help: "Max drawdown of the latest completed run per model and strategy",
			},
			[]string{"model_id", "strategy_id"},
		),
		jobsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "augur_jobs_active",
				Help: "Number of backtest jobs currently running",
			},
		),
		archiveErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "augur_archive_errors_total",
				Help: "Total number of results that failed to archive",
			},
		),
	}

	reg.MustRegister(
		r.runsTotal,
		r.runDuration,
		r.tradesTotal,
		r.tradeHolding,
		r.runReturn,
		r.runDrawdown,
		r.jobsActive,
		r.archiveErrors,
	)
	return r
}

// RecordRun records a finished run.
func (r *Registry) RecordRun(res *backtest.Result, duration float64) {
	code := ""
	if res.Error != nil {
		code = res.Error.Code
	}
	r.runsTotal.WithLabelValues(string(res.Status), code).Inc()
	r.runDuration.Observe(duration)

	for _, t := range res.Trades {
		r.tradesTotal.WithLabelValues(t.ExitReason).Inc()
		r.tradeHolding.Observe(float64(t.HoldingDays))
	}
	if res.Metrics != nil {
		labels := []string{res.Config.ModelID, res.Config.StrategyID}
		r.runReturn.WithLabelValues(labels...).Set(res.Metrics.TotalReturn)
		r.runDrawdown.WithLabelValues(labels...).Set(res.Metrics.MaxDrawdown)
	}
}

// SetJobsActive sets the number of running jobs.
func (r *Registry) SetJobsActive(count int) {
	r.jobsActive.Set(float64(count))
}

// RecordArchiveError counts a result that could not be archived.
func (r *Registry) RecordArchiveError() {
	r.archiveErrors.Inc()
}

// WriteTextfile writes the registry in text exposition format to path,
// atomically, for the node_exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.Registry)
}
