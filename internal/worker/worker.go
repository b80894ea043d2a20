// Package worker runs rules on triggers published by the external scheduler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/repricer/internal/bus"
	"github.com/opensource-finance/repricer/internal/domain"
	"github.com/opensource-finance/repricer/internal/rules"
)

// ErrAlreadyRunning is returned when a trigger arrives for a run still in flight.
var ErrAlreadyRunning = errors.New("run already in progress")

// Runner is the part of the rule engine the worker drives.
type Runner interface {
	Execute(ctx context.Context, sellerID string, rule *domain.PricingRule) (*domain.ExecutionLog, error)
	RunAll(ctx context.Context, sellerID string) (*rules.BatchResult, error)
	RunDue(ctx context.Context, sellerID string) (*rules.BatchResult, error)
}

// Worker consumes execute and batch triggers from the EventBus.
type Worker struct {
	bus    domain.EventBus
	store  domain.RuleStore
	runner Runner

	runTimeout time.Duration

	mu       sync.Mutex
	inFlight map[string]bool

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// SellerIDs is the list of sellers whose triggers are consumed.
	SellerIDs []string

	// RunTimeout caps one triggered run. Zero means no limit.
	RunTimeout time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, store domain.RuleStore, runner Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      eventBus,
		store:    store,
		runner:   runner,
		inFlight: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to triggers for every configured seller.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.SellerIDs) == 0 {
		return fmt.Errorf("at least one seller is required")
	}
	w.runTimeout = cfg.RunTimeout

	for _, sellerID := range cfg.SellerIDs {
		if err := w.startSellerWorker(sellerID); err != nil {
			slog.Error("failed to start worker for seller",
				"seller_id", sellerID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"seller_count", len(cfg.SellerIDs),
	)

	return nil
}

func (w *Worker) startSellerWorker(sellerID string) error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicRuleExecute:  w.handleRuleTrigger,
		domain.TopicBatchExecute: w.handleBatchTrigger,
	}
	for _, topic := range []string{domain.TopicRuleExecute, domain.TopicBatchExecute} {
		sub, err := w.bus.Subscribe(w.ctx, sellerID, topic, w.track(handlers[topic]))
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)

		slog.Info("seller worker started",
			"seller_id", sellerID,
			"topic", topic,
		)
	}
	return nil
}

// track lets Stop wait for handlers in flight.
func (w *Worker) track(h domain.MessageHandler) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		w.wg.Add(1)
		defer w.wg.Done()
		return h(ctx, msg)
	}
}

func (w *Worker) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.runTimeout > 0 {
		return context.WithTimeout(ctx, w.runTimeout)
	}
	return context.WithCancel(ctx)
}

// claim marks a run key busy. Overlapping runs of the same key are refused.
func (w *Worker) claim(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inFlight[key] {
		return false
	}
	w.inFlight[key] = true
	return true
}

func (w *Worker) release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, key)
}

func (w *Worker) handleRuleTrigger(ctx context.Context, msg *domain.Message) error {
	trigger, err := bus.DecodeTrigger(msg)
	if err != nil {
		slog.Error("failed to parse run trigger",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if trigger.RuleID == "" {
		return fmt.Errorf("rule trigger %s has no rule id", msg.ID)
	}

	key := trigger.SellerID + "/" + trigger.RuleID
	if !w.claim(key) {
		slog.Warn("skipping overlapping rule run",
			"rule_id", trigger.RuleID,
			"seller_id", trigger.SellerID,
		)
		return ErrAlreadyRunning
	}
	defer w.release(key)

	ctx, cancel := w.runContext(ctx)
	defer cancel()

	rule, err := w.store.GetRule(ctx, trigger.SellerID, trigger.RuleID)
	if err != nil {
		slog.Error("failed to load rule",
			"rule_id", trigger.RuleID,
			"seller_id", trigger.SellerID,
			"error", err,
		)
		return err
	}

	log, err := w.runner.Execute(ctx, trigger.SellerID, rule)
	if err != nil {
		slog.Error("triggered execution failed",
			"rule_id", trigger.RuleID,
			"seller_id", trigger.SellerID,
			"requested_by", trigger.RequestedBy,
			"error", err,
		)
		return err
	}

	slog.Info("triggered execution completed",
		"rule_id", trigger.RuleID,
		"seller_id", trigger.SellerID,
		"requested_by", trigger.RequestedBy,
		"log_id", log.ID,
		"status", log.Status,
	)
	return nil
}

func (w *Worker) handleBatchTrigger(ctx context.Context, msg *domain.Message) error {
	trigger, err := bus.DecodeTrigger(msg)
	if err != nil {
		slog.Error("failed to parse batch trigger",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	key := trigger.SellerID + "/*"
	if !w.claim(key) {
		slog.Warn("skipping overlapping batch run", "seller_id", trigger.SellerID)
		return ErrAlreadyRunning
	}
	defer w.release(key)

	ctx, cancel := w.runContext(ctx)
	defer cancel()

	run := w.runner.RunAll
	if trigger.DueOnly {
		run = w.runner.RunDue
	}

	result, err := run(ctx, trigger.SellerID)
	if err != nil {
		slog.Error("batch run failed",
			"seller_id", trigger.SellerID,
			"due_only", trigger.DueOnly,
			"error", err,
		)
		return err
	}

	slog.Info("batch run completed",
		"seller_id", trigger.SellerID,
		"run_id", result.RunID,
		"rules", len(result.Logs),
		"overridden", result.Overridden,
		"duration_ms", result.DurationMs,
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.mu.Lock()
	inFlight := len(w.inFlight)
	w.mu.Unlock()
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          inFlight,
	}
}
