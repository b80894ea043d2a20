package strategy

import (
	"fmt"
	"math"

	"github.com/opensource-finance/repricer/internal/domain"
)

// BuyboxOptimization pulls the price toward the target marketplace's winning offer,
// never deeper than maxDiscountForBuybox below current or minMarginForBuybox above cost.
type BuyboxOptimization struct {
	// Policy is domain.BuyboxLowest or domain.BuyboxUndercutCent.
	Policy string
}

func (BuyboxOptimization) RuleType() domain.RuleType { return domain.RuleBuyboxOptimization }

func (b BuyboxOptimization) Evaluate(subj Subject, params domain.Parameters, in MarketInputs) (Outcome, error) {
	p, ok := params.(*domain.BuyboxOptimizationParams)
	if !ok {
		return Outcome{}, fmt.Errorf("buybox_optimization: unexpected parameters %T", params)
	}
	cost, err := subj.Check()
	if err != nil {
		return Outcome{}, err
	}
	if subj.Listing.Marketplace != p.TargetMarketplace {
		return hold(fmt.Sprintf("not the buybox marketplace %s", p.TargetMarketplace)), nil
	}

	var target []domain.CompetitorPrice
	for _, c := range in.Competitors {
		if c.Marketplace == p.TargetMarketplace {
			target = append(target, c)
		}
	}
	stats := Stats(target)
	if stats.Count == 0 {
		return hold(ReasonNoCompetitorData), nil
	}

	winning := b.WinningPrice(stats.Lowest)
	current := subj.CurrentPrice()
	if current <= winning {
		return hold("already winning buybox"), nil
	}

	discountBound := RoundPrice(current * (1 - p.MaxDiscountForBuybox/100))
	marginBound := RoundPrice(cost * (1 + p.MinMarginForBuybox/100))
	candidate := math.Max(winning, math.Max(discountBound, marginBound))
	if candidate >= current {
		return hold(fmt.Sprintf("buybox price %.2f unreachable within limits", winning)), nil
	}

	reason := fmt.Sprintf("buybox on %s at %.2f", p.TargetMarketplace, winning)
	if candidate > winning {
		reason = fmt.Sprintf("toward buybox on %s at %.2f, limited to %.2f", p.TargetMarketplace, winning, candidate)
	}
	return Outcome{Candidate: RoundPrice(candidate), Reason: reason, Actionable: true}, nil
}

// WinningPrice applies the policy to the lowest competitor offer.
func (b BuyboxOptimization) WinningPrice(lowest float64) float64 {
	if b.Policy == domain.BuyboxUndercutCent {
		return RoundPrice(lowest - 0.01)
	}
	return lowest
}
