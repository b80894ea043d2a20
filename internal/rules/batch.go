package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/repricer/internal/domain"
)

// BatchResult is the outcome of running every active rule against one catalog snapshot.
type BatchResult struct {
	RunID      string                 `json:"runId"`
	StartedAt  time.Time              `json:"startedAt"`
	DurationMs int64                  `json:"durationMs"`
	Logs       []*domain.ExecutionLog `json:"logs"`
	Prices     []ResolvedPrice        `json:"prices"`
	Overridden int                    `json:"overridden"`
}

// RunAll executes every active rule of a seller concurrently, waits for all of them,
// resolves overlapping listings by priority and writes one log per rule.
func (e *Engine) RunAll(ctx context.Context, sellerID string) (*BatchResult, error) {
	return e.runSelected(ctx, sellerID, func(*domain.PricingRule) bool { return true })
}

// RunDue is RunAll restricted to active rules whose schedule is due now.
func (e *Engine) RunDue(ctx context.Context, sellerID string) (*BatchResult, error) {
	now := e.now()
	return e.runSelected(ctx, sellerID, func(r *domain.PricingRule) bool {
		return r.Schedule.Due(r.LastExecutedAt, now)
	})
}

func (e *Engine) runSelected(ctx context.Context, sellerID string, keep func(*domain.PricingRule) bool) (*BatchResult, error) {
	if e.deps.Rules == nil {
		return nil, fmt.Errorf("rule store is required for batch runs")
	}

	all, err := e.deps.Rules.ListRules(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	var active []*domain.PricingRule
	for _, r := range all {
		if r.CanExecute() && keep(r) {
			active = append(active, r)
		}
	}
	return e.RunRules(ctx, sellerID, active)
}

// RunRules is RunAll over an explicit rule set. Inactive rules are rejected.
func (e *Engine) RunRules(ctx context.Context, sellerID string, active []*domain.PricingRule) (*BatchResult, error) {
	for _, r := range active {
		if !r.CanExecute() {
			return nil, fmt.Errorf("%w: %s is %s", ErrRuleNotRunnable, r.ID, r.Status)
		}
	}
	active = append([]*domain.PricingRule(nil), active...)
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	ctx, span := tracer.Start(ctx, "rules.RunAll", trace.WithAttributes(
		attribute.Int("rules.count", len(active)),
	))
	defer span.End()

	start := time.Now()
	result := &BatchResult{
		RunID:     uuid.New().String(),
		StartedAt: e.now(),
		Logs:      []*domain.ExecutionLog{},
		Prices:    []ResolvedPrice{},
	}
	if len(active) == 0 {
		return result, nil
	}

	catalog, err := e.deps.Catalog.ListProducts(ctx, sellerID)
	if err != nil {
		e.metrics.RecordFailure(modeBatch)
		return nil, fmt.Errorf("list catalog: %w", err)
	}

	runs := make([]*run, len(active))
	elapsed := make([]time.Duration, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxWorkers)
	for i, rule := range active {
		g.Go(func() error {
			ruleStart := time.Now()
			r, err := e.evaluate(gctx, sellerID, rule, catalog)
			if err != nil {
				return fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			runs[i] = r
			elapsed[i] = time.Since(ruleStart)
			return nil
		})
	}
	// Barrier: conflicts are resolved only once every rule has produced its candidates.
	if err := g.Wait(); err != nil {
		e.metrics.RecordFailure(modeBatch)
		return nil, err
	}

	candidates := make(map[domain.ListingKey][]Candidate)
	for i, rule := range active {
		for _, res := range runs[i].results {
			candidates[res.Key()] = append(candidates[res.Key()], Candidate{
				RuleID:    rule.ID,
				Priority:  rule.Priority,
				UpdatedAt: rule.UpdatedAt,
				Price:     res.SuggestedPrice,
				Result:    res,
			})
		}
	}
	winners := e.resolver.Resolve(candidates)

	for i, rule := range active {
		won := make(map[domain.ListingKey]bool)
		for k, c := range winners {
			if c.RuleID == rule.ID {
				won[k] = true
			}
		}
		log := e.buildLog(sellerID, rule, runs[i], won, elapsed[i])
		result.Logs = append(result.Logs, log)
		result.Overridden += log.Summary.Overridden
	}

	// All logs of the batch are stored together or not at all; rules are only
	// stamped and announced after the write succeeds.
	if err := ctx.Err(); err != nil {
		e.metrics.RecordFailure(modeBatch)
		return nil, fmt.Errorf("evaluation cancelled: %w", err)
	}
	if e.deps.Logs != nil {
		if err := e.deps.Logs.AppendLogs(ctx, sellerID, result.Logs); err != nil {
			e.metrics.RecordFailure(modeBatch)
			return nil, fmt.Errorf("append execution logs: %w", err)
		}
	}
	for i, log := range result.Logs {
		e.settle(ctx, sellerID, active[i], log)
		e.metrics.RecordRun(modeExecute, active[i].RuleType, elapsed[i], runs[i].results, len(runs[i].errors))
	}

	result.Prices = sortedResolved(winners, candidates)
	result.DurationMs = time.Since(start).Milliseconds()
	e.metrics.RecordBatch(len(active), result.Overridden, time.Since(start))

	slog.Info("batch run completed",
		"run_id", result.RunID,
		"seller_id", sellerID,
		"rules", len(active),
		"listings", len(result.Prices),
		"overridden", result.Overridden,
		"duration_ms", result.DurationMs,
	)
	return result, nil
}
