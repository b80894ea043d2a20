// Package rules provides the pricing rule evaluation engine and conflict resolution.
package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/repricer/internal/domain"
	"github.com/opensource-finance/repricer/internal/safeguard"
	"github.com/opensource-finance/repricer/internal/selector"
	"github.com/opensource-finance/repricer/internal/strategy"
)

// ErrRuleNotRunnable is returned when a draft or paused rule is executed.
var ErrRuleNotRunnable = errors.New("rule is not active")

// ErrSkuNotFound is the per-SKU error for manual selections naming unknown SKUs.
const ErrSkuNotFound = "SKU not found in catalog"

var tracer = otel.Tracer("repricer-engine")

// Deps are the collaborators the engine reads from and writes to.
// Bus is optional.
type Deps struct {
	Catalog domain.ProductCatalog
	Feed    domain.CompetitorFeed
	Rules   domain.RuleStore
	Logs    domain.LogStore
	Bus     domain.EventBus
}

// Engine evaluates pricing rules against the catalog.
type Engine struct {
	deps     Deps
	cfg      domain.EngineConfig
	registry *strategy.Registry
	clamp    safeguard.Clamp
	resolver *ConflictResolver
	metrics  *MetricsRecorder
	now      func() time.Time
}

// NewEngine creates an engine with one evaluator per rule type.
func NewEngine(deps Deps, cfg domain.EngineConfig) (*Engine, error) {
	if deps.Catalog == nil || deps.Feed == nil {
		return nil, fmt.Errorf("catalog and competitor feed are required")
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.BuyboxPolicy == "" {
		cfg.BuyboxPolicy = domain.BuyboxLowest
	}

	registry, err := strategy.DefaultRegistry(cfg.BuyboxPolicy)
	if err != nil {
		return nil, err
	}

	return &Engine{
		deps:     deps,
		cfg:      cfg,
		registry: registry,
		clamp:    safeguard.New(cfg.VarianceTolerance),
		resolver: NewConflictResolver(),
		metrics:  NewMetricsRecorder(),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// ValidateRule checks a rule for save, including compilation of composite expressions.
func (e *Engine) ValidateRule(rule *domain.PricingRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidRule)
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.RuleType != domain.RuleComposite {
		return nil
	}
	ev, err := e.registry.Get(domain.RuleComposite)
	if err != nil {
		return err
	}
	if c, ok := ev.(*strategy.Composite); ok {
		if err := c.Compile(rule.RuleParameters.Composite.Expression); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
		}
	}
	return nil
}

// run is the evaluated state of one rule over one catalog snapshot.
type run struct {
	results []domain.SimulationResult
	errors  []domain.ExecutionError
}

// Simulate evaluates a rule without side effects. Draft and paused rules may be simulated.
func (e *Engine) Simulate(ctx context.Context, sellerID string, rule *domain.PricingRule) (*domain.SimulationSummary, error) {
	ctx, span := tracer.Start(ctx, "rules.Simulate", trace.WithAttributes(
		attribute.String("rule.id", rule.ID),
		attribute.String("rule.type", string(rule.RuleType)),
	))
	defer span.End()

	start := time.Now()
	catalog, err := e.deps.Catalog.ListProducts(ctx, sellerID)
	if err != nil {
		e.metrics.RecordFailure(modeSimulate)
		return nil, fmt.Errorf("list catalog: %w", err)
	}

	r, err := e.evaluate(ctx, sellerID, rule, catalog)
	if err != nil {
		e.metrics.RecordFailure(modeSimulate)
		return nil, err
	}
	e.metrics.RecordRun(modeSimulate, rule.RuleType, time.Since(start), r.results, len(r.errors))

	return summarize(rule.ID, r), nil
}

// Execute evaluates an active rule, appends its ExecutionLog and marks the rule executed.
// Nothing is written if the run is cancelled or a system error occurs.
func (e *Engine) Execute(ctx context.Context, sellerID string, rule *domain.PricingRule) (*domain.ExecutionLog, error) {
	if !rule.CanExecute() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRuleNotRunnable, rule.ID, rule.Status)
	}

	ctx, span := tracer.Start(ctx, "rules.Execute", trace.WithAttributes(
		attribute.String("rule.id", rule.ID),
		attribute.String("rule.type", string(rule.RuleType)),
	))
	defer span.End()

	start := time.Now()
	catalog, err := e.deps.Catalog.ListProducts(ctx, sellerID)
	if err != nil {
		e.metrics.RecordFailure(modeExecute)
		return nil, fmt.Errorf("list catalog: %w", err)
	}

	r, err := e.evaluate(ctx, sellerID, rule, catalog)
	if err != nil {
		e.metrics.RecordFailure(modeExecute)
		return nil, err
	}

	log := e.buildLog(sellerID, rule, r, nil, time.Since(start))
	if err := e.commit(ctx, sellerID, rule, log); err != nil {
		e.metrics.RecordFailure(modeExecute)
		return nil, err
	}
	e.metrics.RecordRun(modeExecute, rule.RuleType, time.Since(start), r.results, len(r.errors))

	slog.Info("rule executed",
		"rule_id", rule.ID,
		"seller_id", sellerID,
		"status", log.Status,
		"changed", log.Summary.PricesChanged,
		"errors", log.Summary.Errors,
		"duration_ms", log.DurationMs,
	)
	return log, nil
}

// evaluate runs the rule over its resolved targets in parallel.
// Per-SKU problems become ExecutionErrors; only cancellation aborts.
func (e *Engine) evaluate(ctx context.Context, sellerID string, rule *domain.PricingRule, catalog []*domain.Product) (*run, error) {
	if _, err := e.registry.Get(rule.RuleType); err != nil {
		return nil, err
	}

	targets := selector.Targets(rule.SkuSelection, catalog)
	perTarget := make([]run, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxWorkers)
	for i, t := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perTarget[i] = e.evaluateTarget(gctx, sellerID, rule, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluation cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluation cancelled: %w", err)
	}

	out := &run{}
	for _, pt := range perTarget {
		out.results = append(out.results, pt.results...)
		out.errors = append(out.errors, pt.errors...)
	}
	for _, sku := range selector.MissingSkus(rule.SkuSelection, catalog) {
		out.errors = append(out.errors, domain.ExecutionError{
			SKU:       sku,
			Error:     ErrSkuNotFound,
			Timestamp: e.now(),
		})
	}
	return out, nil
}

func (e *Engine) evaluateTarget(ctx context.Context, sellerID string, rule *domain.PricingRule, t selector.Target) run {
	var out run
	fail := func(m domain.Marketplace, err error) {
		slog.Warn("sku evaluation failed",
			"rule_id", rule.ID,
			"seller_id", sellerID,
			"sku", t.Product.SKU,
			"marketplace", m,
			"error", err,
		)
		out.errors = append(out.errors, domain.ExecutionError{
			SKU:         t.Product.SKU,
			Marketplace: m,
			Error:       err.Error(),
			Timestamp:   e.now(),
		})
	}

	if len(t.Listings) == 0 {
		fail("", fmt.Errorf("%w: product has no listings", strategy.ErrInvalidProduct))
		return out
	}

	var competitors []domain.CompetitorPrice
	if needsCompetitors(rule.RuleType) {
		prices, err := e.deps.Feed.PricesForSku(ctx, sellerID, t.Product.SKU)
		if err != nil {
			fail("", fmt.Errorf("competitor prices: %w", err))
			return out
		}
		competitors = prices
	}

	for _, l := range t.Listings {
		res, err := e.evaluateListing(rule, t.Product, l, competitors)
		if err != nil {
			fail(l.Marketplace, err)
			continue
		}
		out.results = append(out.results, res)
	}
	return out
}

func (e *Engine) evaluateListing(rule *domain.PricingRule, p *domain.Product, l domain.Listing, competitors []domain.CompetitorPrice) (domain.SimulationResult, error) {
	subj := strategy.Subject{Product: p, Listing: l}
	in := strategy.MarketInputs{
		Competitors: competitors,
		Commission:  e.cfg.CommissionFor(l.Marketplace),
		TaxPercent:  e.cfg.TaxPercent,
		Freight:     e.cfg.DefaultFreight,
	}

	res := domain.SimulationResult{
		SKU:          p.SKU,
		ProductName:  p.Name,
		Marketplace:  l.Marketplace,
		CurrentPrice: l.Price,
	}

	outcome, err := e.registry.Evaluate(rule, subj, in)
	if err != nil {
		return res, err
	}
	if !outcome.Actionable {
		res.SuggestedPrice = l.Price
		res.Status = domain.StatusNoChange
		res.Reason = outcome.Reason
		return res, nil
	}

	clamped, err := e.clamp.Apply(outcome.Candidate, p, rule.Safeguards, l.Price, outcome.Reason)
	if err != nil {
		return res, err
	}
	res.SuggestedPrice = clamped.FinalPrice
	res.ChangePercent = clamped.ChangePercent
	res.Status = clamped.Status
	res.Reason = clamped.Reason
	res.BlockReason = clamped.BlockReason
	return res, nil
}

func needsCompetitors(t domain.RuleType) bool {
	switch t {
	case domain.RuleCompetitorBased, domain.RuleBuyboxOptimization, domain.RuleComposite:
		return true
	}
	return false
}

func summarize(ruleID string, r *run) *domain.SimulationSummary {
	s := &domain.SimulationSummary{
		RuleID:        ruleID,
		TotalAnalyzed: len(r.results) + len(r.errors),
		Results:       r.results,
		Errors:        r.errors,
	}
	if s.Results == nil {
		s.Results = []domain.SimulationResult{}
	}
	for _, res := range r.results {
		switch res.Status {
		case domain.StatusWillChange:
			s.WillChange++
		case domain.StatusNoChange:
			s.NoChange++
		case domain.StatusBlocked:
			s.Blocked++
		}
	}
	return s
}

// buildLog records will_change results as changes. When won is non-nil, only the
// listings this rule won are recorded; other will_change results count as overridden.
func (e *Engine) buildLog(sellerID string, rule *domain.PricingRule, r *run, won map[domain.ListingKey]bool, elapsed time.Duration) *domain.ExecutionLog {
	log := &domain.ExecutionLog{
		ID:         uuid.New().String(),
		SellerID:   sellerID,
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		ExecutedAt: e.now(),
		Changes:    []domain.PriceChange{},
		Errors:     r.errors,
		DurationMs: elapsed.Milliseconds(),
	}
	log.Summary.TotalSkusAnalyzed = len(r.results) + len(r.errors)
	log.Summary.Errors = len(r.errors)

	for _, res := range r.results {
		if res.Status != domain.StatusWillChange {
			log.Summary.PricesUnchanged++
			continue
		}
		if won != nil && !won[res.Key()] {
			log.Summary.Overridden++
			continue
		}
		log.Changes = append(log.Changes, domain.PriceChange{
			SKU:           res.SKU,
			ProductName:   res.ProductName,
			Marketplace:   res.Marketplace,
			PreviousPrice: res.CurrentPrice,
			NewPrice:      res.SuggestedPrice,
			ChangePercent: res.ChangePercent,
			Reason:        res.Reason,
			CanRollback:   true,
		})
	}
	log.Summary.PricesChanged = len(log.Changes)
	log.Status = domain.DeriveStatus(log.Summary)
	return log
}

// commit appends the log, stamps the rule and publishes a notification.
func (e *Engine) commit(ctx context.Context, sellerID string, rule *domain.PricingRule, log *domain.ExecutionLog) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("evaluation cancelled: %w", err)
	}
	if e.deps.Logs != nil {
		if err := e.deps.Logs.AppendLog(ctx, sellerID, log); err != nil {
			return fmt.Errorf("append execution log: %w", err)
		}
	}
	e.settle(ctx, sellerID, rule, log)
	return nil
}

// settle runs once a log is stored: it stamps the rule and announces the run.
func (e *Engine) settle(ctx context.Context, sellerID string, rule *domain.PricingRule, log *domain.ExecutionLog) {
	if e.deps.Rules != nil {
		if err := e.deps.Rules.MarkExecuted(ctx, sellerID, rule.ID, log.ExecutedAt); err != nil {
			slog.Error("failed to mark rule executed",
				"rule_id", rule.ID,
				"seller_id", sellerID,
				"error", err,
			)
		} else {
			at := log.ExecutedAt
			rule.LastExecutedAt = &at
		}
	}
	e.publish(ctx, sellerID, log)
}

func (e *Engine) publish(ctx context.Context, sellerID string, log *domain.ExecutionLog) {
	if e.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(log)
	if err != nil {
		slog.Error("failed to marshal execution log", "log_id", log.ID, "error", err)
		return
	}
	if err := e.deps.Bus.Publish(ctx, sellerID, domain.TopicRuleExecuted, payload); err != nil {
		slog.Warn("failed to publish execution log",
			"log_id", log.ID,
			"rule_id", log.RuleID,
			"error", err,
		)
	}
}
