// Package safeguard applies the layered price-safety constraints of a rule to a candidate price.
package safeguard

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/repricer/internal/domain"
	"github.com/opensource-finance/repricer/internal/strategy"
)

// DefaultTolerance is the relative difference under which a price counts as unchanged.
const DefaultTolerance = 1e-6

var hundred = decimal.NewFromInt(100)

// Result is the clamped outcome for one listing.
type Result struct {
	FinalPrice    float64
	ChangePercent float64
	Status        domain.ResultStatus
	Reason        string
	BlockReason   string
}

// Clamp applies safeguards in order: margin floor, variation and discount limits,
// absolute bounds. A blocked result is final.
type Clamp struct {
	Tolerance float64
}

// New returns a clamp with the given no-change tolerance; non-positive means DefaultTolerance.
func New(tolerance float64) Clamp {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return Clamp{Tolerance: tolerance}
}

// MarginFloor returns cost * (1 + minMargin/100) rounded up to cents: the
// lowest listable price that satisfies the margin.
func MarginFloor(cost, minMargin float64) float64 {
	f := decimal.NewFromFloat(cost).Mul(hundred.Add(decimal.NewFromFloat(minMargin))).Div(hundred)
	return f.RoundCeil(2).InexactFloat64()
}

// Apply clamps candidate for a product currently listed at current.
// reason is the evaluator's explanation; clamp notes are appended to it.
func (c Clamp) Apply(candidate float64, product *domain.Product, sg domain.Safeguards, current float64, reason string) (Result, error) {
	cost, ok := product.ValidCost()
	if !ok {
		return Result{}, fmt.Errorf("%w: missing or invalid cost", strategy.ErrInvalidProduct)
	}
	if !(current > 0) {
		return Result{}, fmt.Errorf("%w: current price must be positive", strategy.ErrInvalidProduct)
	}
	if math.IsNaN(candidate) || math.IsInf(candidate, 0) {
		return Result{}, fmt.Errorf("candidate price is not a number")
	}

	notes := []string{reason}
	floor := MarginFloor(cost, sg.MinMargin)

	blocked := func(why string) Result {
		return Result{
			FinalPrice:  current,
			Status:      domain.StatusBlocked,
			Reason:      join(append(notes, why)),
			BlockReason: why,
		}
	}

	// Compare at cent precision: a candidate is blocked only if the price it
	// would be listed at falls below the floor.
	if strategy.RoundPrice(candidate) < floor {
		return blocked(fmt.Sprintf("price %.2f below margin floor %.2f (min margin %g%%)", candidate, floor, sg.MinMargin)), nil
	}

	cur := decimal.NewFromFloat(current)
	final := decimal.NewFromFloat(candidate)

	// Variation clamp keeps the direction of the proposed change.
	delta := cur.Mul(decimal.NewFromFloat(sg.MaxChangePercent)).Div(hundred)
	lower := cur.Sub(delta).RoundCeil(2)
	upper := cur.Add(delta).RoundFloor(2)
	switch {
	case final.LessThan(lower):
		final = lower
		notes = append(notes, fmt.Sprintf("limited to -%g%% max change", sg.MaxChangePercent))
	case final.GreaterThan(upper):
		final = upper
		notes = append(notes, fmt.Sprintf("limited to +%g%% max change", sg.MaxChangePercent))
	}

	discountFloor := cur.Mul(hundred.Sub(decimal.NewFromFloat(sg.MaxDiscount))).Div(hundred).RoundCeil(2)
	if final.LessThan(discountFloor) {
		final = discountFloor
		notes = append(notes, fmt.Sprintf("limited to %g%% max discount", sg.MaxDiscount))
	}

	if sg.MinPrice != nil {
		if lo := decimal.NewFromFloat(*sg.MinPrice).RoundCeil(2); final.LessThan(lo) {
			final = lo
			notes = append(notes, fmt.Sprintf("raised to min price %.2f", *sg.MinPrice))
		}
	}
	if sg.MaxPrice != nil {
		if hi := decimal.NewFromFloat(*sg.MaxPrice).RoundFloor(2); final.GreaterThan(hi) {
			final = hi
			notes = append(notes, fmt.Sprintf("lowered to max price %.2f", *sg.MaxPrice))
		}
	}

	price := final.Round(2).InexactFloat64()
	if price < floor {
		return blocked(fmt.Sprintf("clamped price %.2f below margin floor %.2f (min margin %g%%)", price, floor, sg.MinMargin)), nil
	}

	if math.Abs(price-current) <= c.Tolerance*current {
		return Result{
			FinalPrice: current,
			Status:     domain.StatusNoChange,
			Reason:     join(notes),
		}, nil
	}

	return Result{
		FinalPrice:    price,
		ChangePercent: strategy.ChangePercent(current, price),
		Status:        domain.StatusWillChange,
		Reason:        join(notes),
	}, nil
}

func join(notes []string) string {
	parts := notes[:0:0]
	for _, n := range notes {
		if n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "; ")
}
