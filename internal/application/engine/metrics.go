package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	metricCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "disciplina_cycles_total",
		Help: "Enforcement cycles started",
	})
	metricChecked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "disciplina_positions_checked_total",
		Help: "Live positions evaluated against the active plan",
	})
	metricViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "disciplina_violations_total",
		Help: "Positions found in violation of at least one rule",
	})
	metricClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "disciplina_positions_closed_total",
		Help: "Violating positions the broker confirmed closed",
	})
	metricCloseFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "disciplina_close_failures_total",
		Help: "Close requests the broker rejected or that timed out",
	})
	metricReconciled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "disciplina_trades_reconciled_total",
		Help: "Ledger rows written by reconciliation",
	})
)

func init() {
	prometheus.MustRegister(
		metricCycles, metricChecked, metricViolations,
		metricClosed, metricCloseFailed, metricReconciled,
	)
}
