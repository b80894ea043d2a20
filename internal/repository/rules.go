package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/repricer/internal/domain"
)

// SaveRule upserts a pricing rule. Validation happens before the rule reaches storage.
func (r *SQLRepository) SaveRule(ctx context.Context, sellerID string, rule *domain.PricingRule) error {
	if err := requireSeller(sellerID); err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidInput)
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now
	}
	rule.SellerID = sellerID

	selection, err := json.Marshal(rule.SkuSelection)
	if err != nil {
		return fmt.Errorf("failed to marshal sku selection: %w", err)
	}
	params, err := json.Marshal(rule.RuleParameters)
	if err != nil {
		return fmt.Errorf("failed to marshal rule parameters: %w", err)
	}
	safeguards, err := json.Marshal(rule.Safeguards)
	if err != nil {
		return fmt.Errorf("failed to marshal safeguards: %w", err)
	}
	schedule, err := json.Marshal(rule.Schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	var lastExecuted sql.NullTime
	if rule.LastExecutedAt != nil {
		lastExecuted = sql.NullTime{Time: *rule.LastExecutedAt, Valid: true}
	}

	query := `
		INSERT INTO pricing_rules (id, seller_id, name, description, status, priority, rule_type,
			sku_selection, rule_parameters, safeguards, schedule, created_by, created_at, updated_at, last_executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seller_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			rule_type = excluded.rule_type,
			sku_selection = excluded.sku_selection,
			rule_parameters = excluded.rule_parameters,
			safeguards = excluded.safeguards,
			schedule = excluded.schedule,
			updated_at = excluded.updated_at,
			last_executed_at = excluded.last_executed_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, sellerID, rule.Name, rule.Description, string(rule.Status), rule.Priority, string(rule.RuleType),
		string(selection), string(params), string(safeguards), string(schedule),
		rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt, lastExecuted,
	)
	return err
}

const ruleColumns = `id, seller_id, name, description, status, priority, rule_type,
	sku_selection, rule_parameters, safeguards, schedule, created_by, created_at, updated_at, last_executed_at`

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, sellerID string, ruleID string) (*domain.PricingRule, error) {
	if err := requireSeller(sellerID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM pricing_rules WHERE seller_id = ? AND id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), sellerID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules returns every rule of a seller, highest priority first.
func (r *SQLRepository) ListRules(ctx context.Context, sellerID string) ([]*domain.PricingRule, error) {
	if err := requireSeller(sellerID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM pricing_rules WHERE seller_id = ? ORDER BY priority DESC, name, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.PricingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeleteRule removes a rule. Execution logs referencing it are kept.
func (r *SQLRepository) DeleteRule(ctx context.Context, sellerID string, ruleID string) error {
	if err := requireSeller(sellerID); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM pricing_rules WHERE seller_id = ? AND id = ?`), sellerID, ruleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkExecuted stamps the last execution time of a rule.
func (r *SQLRepository) MarkExecuted(ctx context.Context, sellerID string, ruleID string, at time.Time) error {
	if err := requireSeller(sellerID); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE pricing_rules SET last_executed_at = ? WHERE seller_id = ? AND id = ?
	`), at, sellerID, ruleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRule(s scanner) (*domain.PricingRule, error) {
	var rule domain.PricingRule
	var description, createdBy sql.NullString
	var status, ruleType string
	var selection, params, safeguards, schedule string
	var lastExecuted sql.NullTime

	err := s.Scan(
		&rule.ID, &rule.SellerID, &rule.Name, &description, &status, &rule.Priority, &ruleType,
		&selection, &params, &safeguards, &schedule, &createdBy, &rule.CreatedAt, &rule.UpdatedAt, &lastExecuted,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.CreatedBy = createdBy.String
	rule.Status = domain.RuleStatus(status)
	rule.RuleType = domain.RuleType(ruleType)
	if lastExecuted.Valid {
		t := lastExecuted.Time
		rule.LastExecutedAt = &t
	}

	for _, col := range []struct {
		name string
		raw  string
		dst  any
	}{
		{"sku_selection", selection, &rule.SkuSelection},
		{"rule_parameters", params, &rule.RuleParameters},
		{"safeguards", safeguards, &rule.Safeguards},
		{"schedule", schedule, &rule.Schedule},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", col.name, err)
		}
	}

	return &rule, nil
}

// AppendLog stores an execution log. Logs are never updated.
func (r *SQLRepository) AppendLog(ctx context.Context, sellerID string, log *domain.ExecutionLog) error {
	if err := requireSeller(sellerID); err != nil {
		return err
	}
	return r.insertLog(ctx, r.db, sellerID, log)
}

// AppendLogs stores every log in one transaction: either all are written or none.
func (r *SQLRepository) AppendLogs(ctx context.Context, sellerID string, logs []*domain.ExecutionLog) error {
	if err := requireSeller(sellerID); err != nil {
		return err
	}
	if len(logs) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, log := range logs {
			if err := r.insertLog(ctx, tx, sellerID, log); err != nil {
				return err
			}
		}
		return nil
	})
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLRepository) insertLog(ctx context.Context, db execer, sellerID string, log *domain.ExecutionLog) error {
	if log == nil || log.RuleID == "" {
		return fmt.Errorf("%w: log needs a rule id", ErrInvalidInput)
	}

	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	log.SellerID = sellerID

	summary, err := json.Marshal(log.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	changes := log.Changes
	if changes == nil {
		changes = []domain.PriceChange{}
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}
	errs := log.Errors
	if errs == nil {
		errs = []domain.ExecutionError{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	query := `
		INSERT INTO execution_logs (id, seller_id, rule_id, rule_name, executed_at, status, summary, changes, errors, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if _, err := db.ExecContext(ctx, r.rebind(query),
		log.ID, sellerID, log.RuleID, log.RuleName, log.ExecutedAt, string(log.Status),
		string(summary), string(changesJSON), string(errorsJSON), log.DurationMs,
	); err != nil {
		return fmt.Errorf("insert execution log for rule %s: %w", log.RuleID, err)
	}
	return nil
}

const logColumns = `id, seller_id, rule_id, rule_name, executed_at, status, summary, changes, errors, duration_ms`

// GetLog retrieves an execution log by ID.
func (r *SQLRepository) GetLog(ctx context.Context, sellerID string, logID string) (*domain.ExecutionLog, error) {
	if err := requireSeller(sellerID); err != nil {
		return nil, err
	}

	query := `SELECT ` + logColumns + ` FROM execution_logs WHERE seller_id = ? AND id = ?`

	log, err := scanLog(r.db.QueryRowContext(ctx, r.rebind(query), sellerID, logID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return log, err
}

// ListLogs returns execution logs matching q, newest first.
func (r *SQLRepository) ListLogs(ctx context.Context, sellerID string, q domain.LogQuery) ([]*domain.ExecutionLog, error) {
	if err := requireSeller(sellerID); err != nil {
		return nil, err
	}

	where := []string{"seller_id = ?"}
	args := []any{sellerID}
	if q.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, q.RuleID)
	}
	if !q.Since.IsZero() {
		where = append(where, "executed_at >= ?")
		args = append(args, q.Since)
	}
	if !q.Until.IsZero() {
		where = append(where, "executed_at <= ?")
		args = append(args, q.Until)
	}

	query := `SELECT ` + logColumns + ` FROM execution_logs WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY executed_at DESC, id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.ExecutionLog
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	return logs, rows.Err()
}

func scanLog(s scanner) (*domain.ExecutionLog, error) {
	var log domain.ExecutionLog
	var status, summary, changes, errs string

	if err := s.Scan(
		&log.ID, &log.SellerID, &log.RuleID, &log.RuleName, &log.ExecutedAt, &status,
		&summary, &changes, &errs, &log.DurationMs,
	); err != nil {
		return nil, err
	}

	log.Status = domain.ExecutionStatus(status)
	if err := json.Unmarshal([]byte(summary), &log.Summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	if err := json.Unmarshal([]byte(changes), &log.Changes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
	}
	if err := json.Unmarshal([]byte(errs), &log.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
	}
	if len(log.Errors) == 0 {
		log.Errors = nil
	}

	return &log, nil
}
