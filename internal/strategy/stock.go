package strategy

import (
	"fmt"

	"github.com/opensource-finance/repricer/internal/domain"
)

// StockBased discounts overstock and charges a premium on scarce stock.
// The high-stock check runs first.
type StockBased struct{}

func (StockBased) RuleType() domain.RuleType { return domain.RuleStockBased }

func (StockBased) Evaluate(subj Subject, params domain.Parameters, in MarketInputs) (Outcome, error) {
	p, ok := params.(*domain.StockBasedParams)
	if !ok {
		return Outcome{}, fmt.Errorf("stock_based: unexpected parameters %T", params)
	}
	if _, err := subj.Check(); err != nil {
		return Outcome{}, err
	}

	level := float64(subj.Product.Stock)
	unit := "units"
	if p.UsesDaysOfStock {
		level = level / p.AverageDailySales
		unit = "days of stock"
	}

	current := subj.CurrentPrice()
	switch {
	case level >= p.HighStockThreshold:
		return Outcome{
			Candidate:  RoundPrice(current * (1 - p.HighStockDiscountPercent/100)),
			Reason:     fmt.Sprintf("high stock (%.1f %s >= %g): %g%% discount", level, unit, p.HighStockThreshold, p.HighStockDiscountPercent),
			Actionable: true,
		}, nil
	case level <= p.LowStockThreshold:
		return Outcome{
			Candidate:  RoundPrice(current * (1 + p.LowStockPremiumPercent/100)),
			Reason:     fmt.Sprintf("low stock (%.1f %s <= %g): %g%% premium", level, unit, p.LowStockThreshold, p.LowStockPremiumPercent),
			Actionable: true,
		}, nil
	default:
		return hold(ReasonWithinNormalBand), nil
	}
}
