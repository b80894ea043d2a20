package strategy

import (
	"fmt"
	"math"

	"github.com/opensource-finance/repricer/internal/domain"
)

// MarginBased solves price = (cost [+ freight]) / (1 - (margin + commission [+ taxes]) / 100).
type MarginBased struct{}

func (MarginBased) RuleType() domain.RuleType { return domain.RuleMarginBased }

func (MarginBased) Evaluate(subj Subject, params domain.Parameters, in MarketInputs) (Outcome, error) {
	p, ok := params.(*domain.MarginBasedParams)
	if !ok {
		return Outcome{}, fmt.Errorf("margin_based: unexpected parameters %T", params)
	}
	cost, err := subj.Check()
	if err != nil {
		return Outcome{}, err
	}
	if cost == 0 {
		return hold("no cost basis"), nil
	}

	price, err := SolveMarginPrice(cost, p, in)
	if err != nil {
		return Outcome{}, err
	}

	current := subj.CurrentPrice()
	if p.Tolerance > 0 && math.Abs(price-current)/current*100 <= p.Tolerance {
		return hold(fmt.Sprintf("within %g%% tolerance of target margin", p.Tolerance)), nil
	}

	return Outcome{
		Candidate:  price,
		Reason:     fmt.Sprintf("target margin %g%% (commission %g%%)", p.TargetMargin, in.Commission),
		Actionable: true,
	}, nil
}

// SolveMarginPrice returns the price yielding the target net margin, rounded to cents.
func SolveMarginPrice(cost float64, p *domain.MarginBasedParams, in MarketInputs) (float64, error) {
	base := cost
	if p.IncludeFreight {
		base += in.Freight
	}
	deductions := p.TargetMargin + in.Commission
	if p.IncludeTaxes {
		deductions += in.TaxPercent
	}
	if deductions >= 100 {
		return 0, fmt.Errorf("margin_based: margin, commission and taxes total %.2f%%, no price can satisfy them", deductions)
	}
	return RoundPrice(base / (1 - deductions/100)), nil
}
