package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RuleStatus is the lifecycle state of a pricing rule.
type RuleStatus string

const (
	// RuleDraft rules are never evaluated live.
	RuleDraft RuleStatus = "draft"
	// RuleActive rules run on schedule.
	RuleActive RuleStatus = "active"
	// RulePaused rules are skipped.
	RulePaused RuleStatus = "paused"
)

// Valid reports whether s is a known status.
func (s RuleStatus) Valid() bool {
	return s == RuleDraft || s == RuleActive || s == RulePaused
}

// RuleType selects which strategy evaluator applies to a rule.
type RuleType string

const (
	RuleCompetitorBased    RuleType = "competitor_based"
	RuleMarginBased        RuleType = "margin_based"
	RuleStockBased         RuleType = "stock_based"
	RuleBuyboxOptimization RuleType = "buybox_optimization"
	RuleComposite          RuleType = "composite"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleCompetitorBased, RuleMarginBased, RuleStockBased, RuleBuyboxOptimization, RuleComposite:
		return true
	}
	return false
}

// PricingRule is a seller-defined pricing rule.
type PricingRule struct {
	ID          string `json:"id"`
	SellerID    string `json:"sellerId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Status RuleStatus `json:"status"`

	// Priority breaks ties between active rules targeting the same SKU (1-100, higher wins).
	Priority int `json:"priority"`

	SkuSelection   SkuSelection   `json:"skuSelection"`
	RuleType       RuleType       `json:"ruleType"`
	RuleParameters RuleParameters `json:"ruleParameters"`
	Safeguards     Safeguards     `json:"safeguards"`
	Schedule       Schedule       `json:"schedule"`

	CreatedBy      string     `json:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	LastExecutedAt *time.Time `json:"lastExecutedAt,omitempty"`
}

// Rule priority bounds.
const (
	MinPriority     = 1
	MaxPriority     = 100
	DefaultPriority = 50
)

// SelectionMode chooses how a rule resolves its target products.
type SelectionMode string

const (
	SelectionManual SelectionMode = "manual"
	SelectionFilter SelectionMode = "filter"
)

// SkuSelection is either an explicit SKU list or a filter predicate.
type SkuSelection struct {
	Type       SelectionMode `json:"type"`
	ManualSkus []string      `json:"manualSkus,omitempty"`
	Filters    *SkuFilter    `json:"filters,omitempty"`
}

// SkuFilter narrows the catalog. Absent dimensions impose no constraint.
type SkuFilter struct {
	Brands       []string      `json:"brands,omitempty"`
	Marketplaces []Marketplace `json:"marketplaces,omitempty"`
	PriceRange   *Range        `json:"priceRange,omitempty"`
	MarginRange  *Range        `json:"marginRange,omitempty"`
	StockRange   *Range        `json:"stockRange,omitempty"`
}

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Valid reports whether the range is well formed.
func (r Range) Valid() bool {
	return r.Min <= r.Max
}

// Contains reports whether v lies within the inclusive bounds.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Safeguards are the layered price-safety constraints of a rule.
type Safeguards struct {
	MinMargin        float64  `json:"minMargin"`
	MaxDiscount      float64  `json:"maxDiscount"`
	MaxChangePercent float64  `json:"maxChangePercent"`
	MinPrice         *float64 `json:"minPrice,omitempty"`
	MaxPrice         *float64 `json:"maxPrice,omitempty"`
}

// DefaultSafeguards mirrors the defaults offered by the rule editor.
func DefaultSafeguards() Safeguards {
	return Safeguards{
		MinMargin:        10,
		MaxDiscount:      15,
		MaxChangePercent: 5,
	}
}

// Validate checks the safeguard bounds.
func (s Safeguards) Validate() error {
	if s.MinMargin < 0 {
		return errors.New("minMargin must not be negative")
	}
	if s.MaxDiscount < 0 || s.MaxDiscount > 100 {
		return errors.New("maxDiscount must be between 0 and 100")
	}
	if s.MaxChangePercent < 0 {
		return errors.New("maxChangePercent must not be negative")
	}
	if s.MinPrice != nil && *s.MinPrice < 0 {
		return errors.New("minPrice must not be negative")
	}
	if s.MinPrice != nil && s.MaxPrice != nil && *s.MinPrice > *s.MaxPrice {
		return errors.New("minPrice must not exceed maxPrice")
	}
	return nil
}

// ErrInvalidRule wraps every rule validation failure.
var ErrInvalidRule = errors.New("invalid rule")

// Validate checks a rule the way the editor does at save time.
func (r *PricingRule) Validate() error {
	if len(strings.TrimSpace(r.Name)) < 3 {
		return fmt.Errorf("%w: name must have at least 3 characters", ErrInvalidRule)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRule, r.Status)
	}
	if r.Priority < MinPriority || r.Priority > MaxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidRule, MinPriority, MaxPriority)
	}
	if err := r.SkuSelection.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if !r.RuleType.Valid() {
		return fmt.Errorf("%w: unknown rule type %q", ErrInvalidRule, r.RuleType)
	}
	params, err := r.RuleParameters.For(r.RuleType)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRule, r.RuleType, err)
	}
	if err := r.Safeguards.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := r.Schedule.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}

// Validate rejects selections an editor would not save.
func (s SkuSelection) Validate() error {
	switch s.Type {
	case SelectionManual:
		return nil
	case SelectionFilter:
		if s.Filters == nil {
			return nil
		}
		for name, rg := range map[string]*Range{
			"priceRange":  s.Filters.PriceRange,
			"marginRange": s.Filters.MarginRange,
			"stockRange":  s.Filters.StockRange,
		} {
			if rg != nil && !rg.Valid() {
				return fmt.Errorf("%s min must not exceed max", name)
			}
		}
		for _, m := range s.Filters.Marketplaces {
			if !m.Valid() {
				return fmt.Errorf("unknown marketplace %q", m)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown selection type %q", s.Type)
	}
}

// CanExecute reports whether the rule may be evaluated live.
func (r *PricingRule) CanExecute() bool {
	return r.Status == RuleActive
}

// NewRule returns a draft rule with the editor defaults for the given type.
func NewRule(name string, ruleType RuleType) *PricingRule {
	now := time.Now().UTC()
	return &PricingRule{
		Name:           name,
		Status:         RuleDraft,
		Priority:       DefaultPriority,
		SkuSelection:   SkuSelection{Type: SelectionFilter, Filters: &SkuFilter{}},
		RuleType:       ruleType,
		RuleParameters: DefaultParameters(ruleType),
		Safeguards:     DefaultSafeguards(),
		Schedule:       Schedule{Frequency: FrequencyDaily},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
