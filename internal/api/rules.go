package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/repricer/internal/domain"
)

const maxRuleBody = 1 << 20

// ListRules returns the seller's rules, highest priority first.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListRules(r.Context(), GetSellerID(r.Context()))
	if err != nil {
		writeError(w, r, "failed to list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": list,
		"count": len(list),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.repo.GetRule(r.Context(), GetSellerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "failed to get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// decodeNewRule reads a rule body over the editor defaults for its type, so
// omitted parameter fields and safeguards keep their default values.
func decodeNewRule(r *http.Request) (*domain.PricingRule, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRuleBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body")
	}

	var probe struct {
		Name     string          `json:"name"`
		RuleType domain.RuleType `json:"ruleType"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON request body")
	}
	if !probe.RuleType.Valid() {
		return nil, fmt.Errorf("%w: unknown rule type %q", domain.ErrInvalidRule, probe.RuleType)
	}

	rule := domain.NewRule(probe.Name, probe.RuleType)
	if err := json.Unmarshal(body, rule); err != nil {
		return nil, fmt.Errorf("invalid JSON request body")
	}
	return rule, nil
}

// CreateRule validates and stores a new rule. New rules default to draft.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID := GetSellerID(ctx)

	rule, err := decodeNewRule(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	rule.ID = ""
	rule.LastExecutedAt = nil
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if rule.Status == domain.RulePaused {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "new rules must be draft or active",
		})
		return
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.repo.SaveRule(ctx, sellerID, rule); err != nil {
		writeError(w, r, "failed to save rule", err)
		return
	}

	slog.Info("rule created",
		"rule_id", rule.ID,
		"seller_id", sellerID,
		"rule_type", rule.RuleType,
		"status", rule.Status,
	)
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule merges the body over the stored rule and bumps updatedAt.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID := GetSellerID(ctx)

	existing, err := h.repo.GetRule(ctx, sellerID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "failed to get rule", err)
		return
	}

	updated := *existing
	if err := decodeJSON(r, &updated); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// Identity and history are not editable.
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.CreatedBy = existing.CreatedBy
	updated.LastExecutedAt = existing.LastExecutedAt
	updated.UpdatedAt = time.Now().UTC()

	if err := h.engine.ValidateRule(&updated); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.repo.SaveRule(ctx, sellerID, &updated); err != nil {
		writeError(w, r, "failed to save rule", err)
		return
	}

	slog.Info("rule updated", "rule_id", updated.ID, "seller_id", sellerID)
	writeJSON(w, http.StatusOK, &updated)
}

// DeleteRule removes a rule. Its execution logs are kept.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID := GetSellerID(ctx)
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteRule(ctx, sellerID, ruleID); err != nil {
		writeError(w, r, "failed to delete rule", err)
		return
	}

	slog.Info("rule deleted", "rule_id", ruleID, "seller_id", sellerID)
	w.WriteHeader(http.StatusNoContent)
}

// StatusRequest is the body of PUT /rules/{id}/status.
type StatusRequest struct {
	Status domain.RuleStatus `json:"status"`
}

// SetRuleStatus moves a rule between draft, active and paused.
func (h *Handler) SetRuleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID := GetSellerID(ctx)

	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !req.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown status %q", req.Status),
		})
		return
	}

	rule, err := h.repo.GetRule(ctx, sellerID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "failed to get rule", err)
		return
	}

	previous := rule.Status
	rule.Status = req.Status
	rule.UpdatedAt = time.Now().UTC()

	if err := h.repo.SaveRule(ctx, sellerID, rule); err != nil {
		writeError(w, r, "failed to save rule", err)
		return
	}

	slog.Info("rule status changed",
		"rule_id", rule.ID,
		"seller_id", sellerID,
		"from", previous,
		"to", rule.Status,
	)
	writeJSON(w, http.StatusOK, rule)
}

// SimulateRule previews a stored rule. Draft and paused rules may be simulated.
func (h *Handler) SimulateRule(w http.ResponseWriter, r *http.Request) {
	sellerID := GetSellerID(r.Context())

	rule, err := h.repo.GetRule(r.Context(), sellerID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "failed to get rule", err)
		return
	}

	ctx, cancel := h.runContext(r.Context())
	defer cancel()

	summary, err := h.engine.Simulate(ctx, sellerID, rule)
	if err != nil {
		writeError(w, r, "simulation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// SimulateDraft previews a rule from the request body without storing it.
func (h *Handler) SimulateDraft(w http.ResponseWriter, r *http.Request) {
	sellerID := GetSellerID(r.Context())

	rule, err := decodeNewRule(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := h.runContext(r.Context())
	defer cancel()

	summary, err := h.engine.Simulate(ctx, sellerID, rule)
	if err != nil {
		writeError(w, r, "simulation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ExecuteRule runs an active rule now and returns its ExecutionLog.
func (h *Handler) ExecuteRule(w http.ResponseWriter, r *http.Request) {
	sellerID := GetSellerID(r.Context())

	rule, err := h.repo.GetRule(r.Context(), sellerID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "failed to get rule", err)
		return
	}

	ctx, cancel := h.runContext(r.Context())
	defer cancel()

	log, err := h.engine.Execute(ctx, sellerID, rule)
	if err != nil {
		writeError(w, r, "execution failed", err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// RunAll executes every active rule with conflict resolution.
// With ?due=true only rules whose schedule is due are run.
func (h *Handler) RunAll(w http.ResponseWriter, r *http.Request) {
	sellerID := GetSellerID(r.Context())

	dueOnly, _ := strconv.ParseBool(r.URL.Query().Get("due"))

	ctx, cancel := h.runContext(r.Context())
	defer cancel()

	run := h.engine.RunAll
	if dueOnly {
		run = h.engine.RunDue
	}
	result, err := run(ctx, sellerID)
	if err != nil {
		writeError(w, r, "batch run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListLogs returns execution history, newest first.
// Query parameters: ruleId, since, until (RFC3339), limit.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := domain.LogQuery{RuleID: q.Get("ruleId")}

	for name, dst := range map[string]*time.Time{"since": &query.Since, "until": &query.Until} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": name + " must be an RFC3339 timestamp",
			})
			return
		}
		*dst = t
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		query.Limit = limit
	}

	logs, err := h.repo.ListLogs(r.Context(), GetSellerID(r.Context()), query)
	if err != nil {
		writeError(w, r, "failed to list logs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// GetLog retrieves one execution log.
func (h *Handler) GetLog(w http.ResponseWriter, r *http.Request) {
	log, err := h.repo.GetLog(r.Context(), GetSellerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "failed to get log", err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}
