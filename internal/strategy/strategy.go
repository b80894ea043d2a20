// Package strategy turns a product listing and rule parameters into a raw candidate price.
package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/repricer/internal/domain"
)

var (
	// ErrInvalidProduct marks product data no evaluator can price: missing or invalid
	// cost, or a non-positive current price.
	ErrInvalidProduct = errors.New("invalid product data")

	// ErrUnsupportedRuleType is returned for rule types with no registered evaluator.
	ErrUnsupportedRuleType = errors.New("unsupported rule type")
)

// Outcome is a raw evaluator proposal. Actionable false means the evaluator had
// nothing to act on; the caller reports no_change with Reason.
type Outcome struct {
	Candidate  float64
	Reason     string
	Actionable bool
}

func hold(reason string) Outcome {
	return Outcome{Reason: reason}
}

// Reasons shared by several evaluators.
const (
	ReasonNoCompetitorData = "no competitor data"
	ReasonWithinNormalBand = "within normal band"
)

// Subject is the listing being priced.
type Subject struct {
	Product *domain.Product
	Listing domain.Listing
}

// CurrentPrice returns the listing price.
func (s Subject) CurrentPrice() float64 {
	return s.Listing.Price
}

// Check returns the unit cost, or ErrInvalidProduct when the listing cannot be priced.
func (s Subject) Check() (float64, error) {
	if s.Product == nil {
		return 0, fmt.Errorf("%w: no product", ErrInvalidProduct)
	}
	cost, ok := s.Product.ValidCost()
	if !ok {
		return 0, fmt.Errorf("%w: missing or invalid cost", ErrInvalidProduct)
	}
	if !(s.Listing.Price > 0) {
		return 0, fmt.Errorf("%w: current price must be positive", ErrInvalidProduct)
	}
	return cost, nil
}

// MarketInputs are the external numbers an evaluator may consume.
type MarketInputs struct {
	// Competitors holds every observation for the SKU.
	Competitors []domain.CompetitorPrice

	// Commission is the marketplace fee percent for the listing's marketplace.
	Commission float64

	// TaxPercent is the combined tax burden in percent of price.
	TaxPercent float64

	// Freight is the per-unit shipping cost.
	Freight float64
}

// Evaluator computes a candidate price for one rule type.
type Evaluator interface {
	RuleType() domain.RuleType
	Evaluate(subj Subject, params domain.Parameters, in MarketInputs) (Outcome, error)
}

// Registry dispatches rule types to evaluators.
type Registry struct {
	evaluators map[domain.RuleType]Evaluator
}

// NewRegistry returns a registry holding the given evaluators.
func NewRegistry(evaluators ...Evaluator) *Registry {
	r := &Registry{evaluators: make(map[domain.RuleType]Evaluator, len(evaluators))}
	for _, e := range evaluators {
		r.evaluators[e.RuleType()] = e
	}
	return r
}

// DefaultRegistry registers one evaluator per rule type.
func DefaultRegistry(buyboxPolicy string) (*Registry, error) {
	composite, err := NewComposite()
	if err != nil {
		return nil, err
	}
	return NewRegistry(
		CompetitorBased{},
		StockBased{},
		MarginBased{},
		BuyboxOptimization{Policy: buyboxPolicy},
		composite,
	), nil
}

// Get returns the evaluator for a rule type.
func (r *Registry) Get(t domain.RuleType) (Evaluator, error) {
	e, ok := r.evaluators[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRuleType, t)
	}
	return e, nil
}

// Evaluate resolves the rule's parameter block and runs the matching evaluator.
func (r *Registry) Evaluate(rule *domain.PricingRule, subj Subject, in MarketInputs) (Outcome, error) {
	e, err := r.Get(rule.RuleType)
	if err != nil {
		return Outcome{}, err
	}
	params, err := rule.RuleParameters.For(rule.RuleType)
	if err != nil {
		return Outcome{}, err
	}
	return e.Evaluate(subj, params, in)
}

// RoundPrice rounds to cents, half away from zero.
func RoundPrice(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// ChangePercent returns (next - current) / current * 100.
func ChangePercent(current, next float64) float64 {
	if current == 0 {
		return 0
	}
	c := decimal.NewFromFloat(current)
	return decimal.NewFromFloat(next).Sub(c).Div(c).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// positive drops observations without a usable price.
func positive(prices []domain.CompetitorPrice) []domain.CompetitorPrice {
	out := make([]domain.CompetitorPrice, 0, len(prices))
	for _, p := range prices {
		if p.Price > 0 {
			out = append(out, p)
		}
	}
	return out
}

// latestFrom returns the most recent usable observation of the named competitor.
func latestFrom(prices []domain.CompetitorPrice, name string) (domain.CompetitorPrice, bool) {
	var (
		best  domain.CompetitorPrice
		found bool
	)
	for _, p := range positive(prices) {
		if p.CompetitorName != name {
			continue
		}
		if !found || p.CapturedAt.After(best.CapturedAt) {
			best, found = p, true
		}
	}
	return best, found
}

// onMarketplace returns observations for m, or every observation when none match.
func onMarketplace(prices []domain.CompetitorPrice, m domain.Marketplace) []domain.CompetitorPrice {
	var out []domain.CompetitorPrice
	for _, p := range prices {
		if p.Marketplace == m {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return prices
	}
	return out
}

// CompetitorStats summarises the observations relevant to one listing.
type CompetitorStats struct {
	Lowest  float64
	Average float64
	Count   int
}

// Stats computes lowest and average over every observation with a positive
// price. Repeated observations of one competitor each count.
func Stats(prices []domain.CompetitorPrice) CompetitorStats {
	usable := positive(prices)
	if len(usable) == 0 {
		return CompetitorStats{}
	}
	s := CompetitorStats{Lowest: usable[0].Price, Count: len(usable)}
	sum := decimal.Zero
	for _, p := range usable {
		s.Lowest = min(s.Lowest, p.Price)
		sum = sum.Add(decimal.NewFromFloat(p.Price))
	}
	s.Average = sum.Div(decimal.NewFromInt(int64(len(usable)))).InexactFloat64()
	return s
}
