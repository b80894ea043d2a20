package strategy

import (
	"fmt"
	"math"

	"github.com/opensource-finance/repricer/internal/domain"
)

// CompetitorBased prices relative to a reference competitor offer.
type CompetitorBased struct{}

func (CompetitorBased) RuleType() domain.RuleType { return domain.RuleCompetitorBased }

func (CompetitorBased) Evaluate(subj Subject, params domain.Parameters, in MarketInputs) (Outcome, error) {
	p, ok := params.(*domain.CompetitorBasedParams)
	if !ok {
		return Outcome{}, fmt.Errorf("competitor_based: unexpected parameters %T", params)
	}
	if _, err := subj.Check(); err != nil {
		return Outcome{}, err
	}

	ref, source, found := reference(p, onMarketplace(in.Competitors, subj.Listing.Marketplace))
	if !found {
		return hold(ReasonNoCompetitorData), nil
	}

	current := subj.CurrentPrice()
	diff := math.Abs(ref-current) / current * 100
	if diff < p.MinDifferenceToAct {
		return hold(fmt.Sprintf("competitor %s %.2f within %.2f%% of current price", source, ref, p.MinDifferenceToAct)), nil
	}

	var candidate float64
	var reason string
	switch p.Strategy {
	case domain.StrategyMatch:
		candidate = ref
		reason = fmt.Sprintf("match %s competitor price %.2f", source, ref)
	case domain.StrategyUndercut:
		candidate = adjust(ref, p, -1)
		reason = fmt.Sprintf("undercut %s competitor price %.2f by %s", source, ref, amount(p))
	case domain.StrategyPremium:
		candidate = adjust(ref, p, 1)
		reason = fmt.Sprintf("premium of %s over %s competitor price %.2f", amount(p), source, ref)
	default:
		return Outcome{}, fmt.Errorf("competitor_based: unknown strategy %q", p.Strategy)
	}

	return Outcome{Candidate: RoundPrice(candidate), Reason: reason, Actionable: true}, nil
}

// reference picks the competitor price the strategy is applied to. Lowest and
// average span every observation; a named competitor uses its latest one.
func reference(p *domain.CompetitorBasedParams, prices []domain.CompetitorPrice) (float64, string, bool) {
	if p.CompetitorSource == domain.SourceSpecific {
		c, ok := latestFrom(prices, p.SpecificCompetitor)
		if !ok {
			return 0, "", false
		}
		return c.Price, c.CompetitorName, true
	}

	stats := Stats(prices)
	if stats.Count == 0 {
		return 0, "", false
	}
	if p.CompetitorSource == domain.SourceAverage {
		return stats.Average, "average", true
	}
	return stats.Lowest, "lowest", true
}

func adjust(ref float64, p *domain.CompetitorBasedParams, sign float64) float64 {
	if p.AdjustmentType == domain.AdjustFixed {
		return ref + sign*p.AdjustmentValue
	}
	return ref * (1 + sign*p.AdjustmentValue/100)
}

func amount(p *domain.CompetitorBasedParams) string {
	if p.AdjustmentType == domain.AdjustFixed {
		return fmt.Sprintf("%.2f", p.AdjustmentValue)
	}
	return fmt.Sprintf("%g%%", p.AdjustmentValue)
}
