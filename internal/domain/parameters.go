package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Parameters is one variant of the rule parameter union.
type Parameters interface {
	RuleType() RuleType
	Validate() error
}

// RuleParameters holds exactly one populated block, matching the rule type.
// Blocks for other types are ignored.
type RuleParameters struct {
	CompetitorBased    *CompetitorBasedParams    `json:"competitorBased,omitempty"`
	MarginBased        *MarginBasedParams        `json:"marginBased,omitempty"`
	StockBased         *StockBasedParams         `json:"stockBased,omitempty"`
	BuyboxOptimization *BuyboxOptimizationParams `json:"buyboxOptimization,omitempty"`
	Composite          *CompositeParams          `json:"composite,omitempty"`
}

// For returns the parameter block for a rule type.
func (p RuleParameters) For(t RuleType) (Parameters, error) {
	var params Parameters
	switch t {
	case RuleCompetitorBased:
		if p.CompetitorBased != nil {
			params = p.CompetitorBased
		}
	case RuleMarginBased:
		if p.MarginBased != nil {
			params = p.MarginBased
		}
	case RuleStockBased:
		if p.StockBased != nil {
			params = p.StockBased
		}
	case RuleBuyboxOptimization:
		if p.BuyboxOptimization != nil {
			params = p.BuyboxOptimization
		}
	case RuleComposite:
		if p.Composite != nil {
			params = p.Composite
		}
	default:
		return nil, fmt.Errorf("unknown rule type %q", t)
	}
	if params == nil {
		return nil, fmt.Errorf("missing %s parameters", t)
	}
	return params, nil
}

// Wrap builds a RuleParameters holding only params.
func Wrap(params Parameters) RuleParameters {
	var p RuleParameters
	switch v := params.(type) {
	case *CompetitorBasedParams:
		p.CompetitorBased = v
	case *MarginBasedParams:
		p.MarginBased = v
	case *StockBasedParams:
		p.StockBased = v
	case *BuyboxOptimizationParams:
		p.BuyboxOptimization = v
	case *CompositeParams:
		p.Composite = v
	}
	return p
}

// DefaultParameters returns the editor defaults for a rule type.
func DefaultParameters(t RuleType) RuleParameters {
	switch t {
	case RuleCompetitorBased:
		return Wrap(NewCompetitorBasedParams())
	case RuleMarginBased:
		return Wrap(NewMarginBasedParams())
	case RuleStockBased:
		return Wrap(NewStockBasedParams())
	case RuleBuyboxOptimization:
		return Wrap(NewBuyboxOptimizationParams())
	case RuleComposite:
		return Wrap(NewCompositeParams(""))
	}
	return RuleParameters{}
}

// Competitor strategies.
const (
	StrategyMatch    = "match"
	StrategyUndercut = "undercut"
	StrategyPremium  = "premium"
)

// Adjustment types.
const (
	AdjustPercent = "percent"
	AdjustFixed   = "fixed"
)

// Competitor reference sources.
const (
	SourceLowest   = "lowest"
	SourceAverage  = "average"
	SourceSpecific = "specific"
)

// CompetitorBasedParams configure competitor-relative pricing.
type CompetitorBasedParams struct {
	Strategy           string  `json:"strategy"`
	AdjustmentType     string  `json:"adjustmentType"`
	AdjustmentValue    float64 `json:"adjustmentValue"`
	MinDifferenceToAct float64 `json:"minDifferenceToAct"`
	CompetitorSource   string  `json:"competitorSource"`
	SpecificCompetitor string  `json:"specificCompetitor,omitempty"`
}

// NewCompetitorBasedParams returns "undercut the lowest competitor by 2%".
func NewCompetitorBasedParams() *CompetitorBasedParams {
	return &CompetitorBasedParams{
		Strategy:           StrategyUndercut,
		AdjustmentType:     AdjustPercent,
		AdjustmentValue:    2,
		MinDifferenceToAct: 1,
		CompetitorSource:   SourceLowest,
	}
}

func (p *CompetitorBasedParams) RuleType() RuleType { return RuleCompetitorBased }

func (p *CompetitorBasedParams) Validate() error {
	switch p.Strategy {
	case StrategyMatch, StrategyUndercut, StrategyPremium:
	default:
		return fmt.Errorf("unknown strategy %q", p.Strategy)
	}
	if p.Strategy != StrategyMatch {
		if p.AdjustmentType != AdjustPercent && p.AdjustmentType != AdjustFixed {
			return fmt.Errorf("unknown adjustment type %q", p.AdjustmentType)
		}
		if p.AdjustmentValue < 0 {
			return errors.New("adjustmentValue must not be negative")
		}
	}
	if p.MinDifferenceToAct < 0 {
		return errors.New("minDifferenceToAct must not be negative")
	}
	switch p.CompetitorSource {
	case SourceLowest, SourceAverage:
	case SourceSpecific:
		if strings.TrimSpace(p.SpecificCompetitor) == "" {
			return errors.New("specificCompetitor is required for the specific source")
		}
	default:
		return fmt.Errorf("unknown competitor source %q", p.CompetitorSource)
	}
	return nil
}

// MarginBasedParams solve for a price yielding a target net margin.
type MarginBasedParams struct {
	TargetMargin   float64 `json:"targetMargin"`
	Tolerance      float64 `json:"tolerance"`
	IncludeFreight bool    `json:"includeFreight"`
	IncludeTaxes   bool    `json:"includeTaxes"`
}

// NewMarginBasedParams returns a 15% target margin with 2% tolerance.
func NewMarginBasedParams() *MarginBasedParams {
	return &MarginBasedParams{
		TargetMargin:   15,
		Tolerance:      2,
		IncludeFreight: true,
		IncludeTaxes:   true,
	}
}

func (p *MarginBasedParams) RuleType() RuleType { return RuleMarginBased }

func (p *MarginBasedParams) Validate() error {
	if p.TargetMargin < 0 || p.TargetMargin >= 100 {
		return errors.New("targetMargin must be in [0, 100)")
	}
	if p.Tolerance < 0 {
		return errors.New("tolerance must not be negative")
	}
	return nil
}

// StockBasedParams discount overstock and charge a premium on scarce stock.
type StockBasedParams struct {
	HighStockThreshold       float64 `json:"highStockThreshold"`
	HighStockDiscountPercent float64 `json:"highStockDiscountPercent"`
	LowStockThreshold        float64 `json:"lowStockThreshold"`
	LowStockPremiumPercent   float64 `json:"lowStockPremiumPercent"`

	// UsesDaysOfStock compares thresholds against stock / AverageDailySales.
	UsesDaysOfStock   bool    `json:"usesDaysOfStock"`
	AverageDailySales float64 `json:"averageDailySales,omitempty"`
}

// NewStockBasedParams returns 5% off above 50 units and 3% up at 5 units or less.
func NewStockBasedParams() *StockBasedParams {
	return &StockBasedParams{
		HighStockThreshold:       50,
		HighStockDiscountPercent: 5,
		LowStockThreshold:        5,
		LowStockPremiumPercent:   3,
	}
}

func (p *StockBasedParams) RuleType() RuleType { return RuleStockBased }

func (p *StockBasedParams) Validate() error {
	if p.HighStockThreshold < 0 || p.LowStockThreshold < 0 {
		return errors.New("stock thresholds must not be negative")
	}
	if p.HighStockDiscountPercent < 0 || p.HighStockDiscountPercent > 100 {
		return errors.New("highStockDiscountPercent must be between 0 and 100")
	}
	if p.LowStockPremiumPercent < 0 {
		return errors.New("lowStockPremiumPercent must not be negative")
	}
	if p.UsesDaysOfStock && p.AverageDailySales <= 0 {
		return errors.New("averageDailySales must be positive when usesDaysOfStock is set")
	}
	return nil
}

// BuyboxOptimizationParams pull the price toward the marketplace's winning offer.
type BuyboxOptimizationParams struct {
	TargetMarketplace    Marketplace `json:"targetMarketplace"`
	MaxDiscountForBuybox float64     `json:"maxDiscountForBuybox"`
	MinMarginForBuybox   float64     `json:"minMarginForBuybox"`
}

// NewBuyboxOptimizationParams targets Mercado Livre Classico with 10%/8% bounds.
func NewBuyboxOptimizationParams() *BuyboxOptimizationParams {
	return &BuyboxOptimizationParams{
		TargetMarketplace:    MarketplaceMLClassico,
		MaxDiscountForBuybox: 10,
		MinMarginForBuybox:   8,
	}
}

func (p *BuyboxOptimizationParams) RuleType() RuleType { return RuleBuyboxOptimization }

func (p *BuyboxOptimizationParams) Validate() error {
	if !p.TargetMarketplace.Valid() {
		return fmt.Errorf("unknown target marketplace %q", p.TargetMarketplace)
	}
	if p.MaxDiscountForBuybox < 0 || p.MaxDiscountForBuybox > 100 {
		return errors.New("maxDiscountForBuybox must be between 0 and 100")
	}
	if p.MinMarginForBuybox < 0 {
		return errors.New("minMarginForBuybox must not be negative")
	}
	return nil
}

// CompositeParams hold a CEL expression computing the candidate price.
type CompositeParams struct {
	Expression string `json:"expression"`
}

// NewCompositeParams returns composite parameters for expr.
func NewCompositeParams(expr string) *CompositeParams {
	return &CompositeParams{Expression: expr}
}

func (p *CompositeParams) RuleType() RuleType { return RuleComposite }

// Validate only checks presence; compilation happens in the evaluator.
func (p *CompositeParams) Validate() error {
	if strings.TrimSpace(p.Expression) == "" {
		return errors.New("expression is required")
	}
	return nil
}
