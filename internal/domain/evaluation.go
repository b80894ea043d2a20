package domain

import (
	"time"
)

// ResultStatus tags the outcome of evaluating one listing.
type ResultStatus string

const (
	StatusWillChange ResultStatus = "will_change"
	StatusNoChange   ResultStatus = "no_change"
	StatusBlocked    ResultStatus = "blocked"
)

// SimulationResult is the engine output for one listing.
type SimulationResult struct {
	SKU            string       `json:"sku"`
	ProductName    string       `json:"productName"`
	Marketplace    Marketplace  `json:"marketplace"`
	CurrentPrice   float64      `json:"currentPrice"`
	SuggestedPrice float64      `json:"suggestedPrice"`
	ChangePercent  float64      `json:"changePercent"`
	Reason         string       `json:"reason"`
	Status         ResultStatus `json:"status"`
	BlockReason    string       `json:"blockReason,omitempty"`
}

// Key returns the listing the result applies to.
func (r SimulationResult) Key() ListingKey {
	return ListingKey{SKU: r.SKU, Marketplace: r.Marketplace}
}

// SimulationSummary is the dry-run output of a rule. Errors are listed separately and
// count toward TotalAnalyzed.
type SimulationSummary struct {
	RuleID        string             `json:"ruleId"`
	TotalAnalyzed int                `json:"totalAnalyzed"`
	WillChange    int                `json:"willChange"`
	NoChange      int                `json:"noChange"`
	Blocked       int                `json:"blocked"`
	Results       []SimulationResult `json:"results"`
	Errors        []ExecutionError   `json:"errors,omitempty"`
}

// PriceChange is a change recorded by a live execution.
type PriceChange struct {
	SKU           string      `json:"sku"`
	ProductName   string      `json:"productName"`
	Marketplace   Marketplace `json:"marketplace"`
	PreviousPrice float64     `json:"previousPrice"`
	NewPrice      float64     `json:"newPrice"`
	ChangePercent float64     `json:"changePercent"`
	Reason        string      `json:"reason"`
	CanRollback   bool        `json:"canRollback"`
}

// ExecutionError is a per-SKU failure, distinct from blocked or unchanged outcomes.
type ExecutionError struct {
	SKU         string      `json:"sku"`
	Marketplace Marketplace `json:"marketplace,omitempty"`
	Error       string      `json:"error"`
	Timestamp   time.Time   `json:"timestamp"`
}

// ExecutionStatus is the overall status of one rule run.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionPartial ExecutionStatus = "partial"
	ExecutionFailed  ExecutionStatus = "failed"
)

// ExecutionSummary counts the outcomes of a run.
type ExecutionSummary struct {
	TotalSkusAnalyzed int `json:"totalSkusAnalyzed"`
	PricesChanged     int `json:"pricesChanged"`
	PricesUnchanged   int `json:"pricesUnchanged"`
	Errors            int `json:"errors"`

	// Overridden counts changes lost to a higher-priority rule in a batch run.
	Overridden int `json:"overridden,omitempty"`
}

// ExecutionLog is the immutable record of one rule run.
type ExecutionLog struct {
	ID         string           `json:"id"`
	SellerID   string           `json:"sellerId,omitempty"`
	RuleID     string           `json:"ruleId"`
	RuleName   string           `json:"ruleName"`
	ExecutedAt time.Time        `json:"executedAt"`
	Status     ExecutionStatus  `json:"status"`
	Summary    ExecutionSummary `json:"summary"`
	Changes    []PriceChange    `json:"changes"`
	Errors     []ExecutionError `json:"errors,omitempty"`
	DurationMs int64            `json:"durationMs"`
}

// DeriveStatus returns success with no errors, failed when every analyzed SKU errored,
// partial otherwise.
func DeriveStatus(s ExecutionSummary) ExecutionStatus {
	switch {
	case s.Errors == 0:
		return ExecutionSuccess
	case s.Errors >= s.TotalSkusAnalyzed:
		return ExecutionFailed
	default:
		return ExecutionPartial
	}
}

// LogQuery filters execution history. Zero values impose no constraint.
type LogQuery struct {
	RuleID string
	Since  time.Time
	Until  time.Time
	Limit  int
}
