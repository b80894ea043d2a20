package rules

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opensource-finance/repricer/internal/domain"
)

var (
	// runsTotal counts simulate and execute calls by mode and rule type.
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_rule_runs_total",
		Help: "Total number of rule runs by mode and rule type",
	}, []string{"mode", "rule_type"})

	// runFailures counts runs aborted by a system error.
	runFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_rule_run_failures_total",
		Help: "Total number of rule runs aborted by a system error",
	}, []string{"mode"})

	// runDuration tracks wall time of a rule run.
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "repricer_rule_run_duration_seconds",
		Help:    "Time taken to evaluate a rule over its selection",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"mode"})

	// listingResults counts evaluated listings by outcome.
	listingResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_listing_results_total",
		Help: "Total number of evaluated listings by status",
	}, []string{"status"})

	// listingErrors counts per-SKU evaluation errors.
	listingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repricer_listing_errors_total",
		Help: "Total number of per-SKU evaluation errors",
	})

	// conflictsOverridden counts changes lost to a higher-priority rule.
	conflictsOverridden = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repricer_conflicts_overridden_total",
		Help: "Total number of price changes overridden by a higher-priority rule",
	})

	// batchRules tracks the number of active rules per batch run.
	batchRules = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repricer_batch_rules_count",
		Help:    "Number of active rules evaluated per batch run",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})
)

// Run modes.
const (
	modeSimulate = "simulate"
	modeExecute  = "execute"
	modeBatch    = "batch"
)

// MetricsRecorder records engine metrics.
type MetricsRecorder struct{}

// NewMetricsRecorder creates a new metrics recorder.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{}
}

// RecordRun records a completed run and its per-listing outcomes.
func (m *MetricsRecorder) RecordRun(mode string, ruleType domain.RuleType, d time.Duration, results []domain.SimulationResult, errs int) {
	runsTotal.WithLabelValues(mode, string(ruleType)).Inc()
	runDuration.WithLabelValues(mode).Observe(d.Seconds())
	for _, r := range results {
		listingResults.WithLabelValues(string(r.Status)).Inc()
	}
	listingErrors.Add(float64(errs))
}

// RecordFailure records a run aborted by a system error.
func (m *MetricsRecorder) RecordFailure(mode string) {
	runFailures.WithLabelValues(mode).Inc()
}

// RecordBatch records a batch run.
func (m *MetricsRecorder) RecordBatch(rules, overridden int, d time.Duration) {
	batchRules.Observe(float64(rules))
	conflictsOverridden.Add(float64(overridden))
	runDuration.WithLabelValues(modeBatch).Observe(d.Seconds())
}
