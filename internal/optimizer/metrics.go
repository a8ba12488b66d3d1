package optimizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

var (
	// runsTotal counts completed runs.
	// Labels: mode (dry_run, live)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphopt",
		Subsystem: "optimizer",
		Name:      "runs_total",
		Help:      "Total optimizer runs",
	}, []string{"mode"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "graphopt",
		Subsystem: "optimizer",
		Name:      "run_duration_seconds",
		Help:      "Optimizer run duration in seconds",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"mode"})

	slowOperationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "graphopt",
		Subsystem: "optimizer",
		Name:      "slow_operations_total",
		Help:      "Slow operations detected across runs",
	})

	// indexOutcomes counts apply attempts by outcome.
	// Labels: outcome (applied, failed, breaker_skipped)
	indexOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphopt",
		Subsystem: "optimizer",
		Name:      "index_outcomes_total",
		Help:      "Index apply outcomes",
	}, []string{"outcome"})

	// breakerState is 0 for closed, 1 for open and 2 for half-open.
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "graphopt",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Current breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})
)

func modeLabel(dryRun bool) string {
	if dryRun {
		return "dry_run"
	}
	return "live"
}

func observeRun(report *models.RunReport, breakerName string) {
	mode := modeLabel(report.DryRun)
	runsTotal.WithLabelValues(mode).Inc()
	runDuration.WithLabelValues(mode).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	slowOperationsTotal.Add(float64(report.DetectedCount))

	if !report.DryRun {
		indexOutcomes.WithLabelValues("applied").Add(float64(len(report.Applied)))
		indexOutcomes.WithLabelValues("failed").Add(float64(report.Failed))
		indexOutcomes.WithLabelValues("breaker_skipped").Add(float64(report.BreakerSkipped))
	}
	breakerState.WithLabelValues(breakerName).Set(float64(report.BreakerState))
}
