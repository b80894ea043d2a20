package strategy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/repricer/internal/domain"
)

// Composite evaluates a CEL expression that returns the candidate price.
// Compiled programs are cached by expression text.
type Composite struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewComposite creates the CEL environment with the pricing variables.
func NewComposite() (*Composite, error) {
	env, err := cel.NewEnv(
		cel.Variable("cost", cel.DoubleType),
		cel.Variable("current_price", cel.DoubleType),
		cel.Variable("stock", cel.IntType),
		cel.Variable("commission", cel.DoubleType),
		cel.Variable("tax", cel.DoubleType),
		cel.Variable("freight", cel.DoubleType),
		cel.Variable("competitor_lowest", cel.DoubleType),
		cel.Variable("competitor_average", cel.DoubleType),
		cel.Variable("competitor_count", cel.IntType),
		cel.Variable("marketplace", cel.StringType),
		cel.Variable("brand", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Composite{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

func (c *Composite) RuleType() domain.RuleType { return domain.RuleComposite }

// Compile validates an expression without evaluating it.
func (c *Composite) Compile(expr string) error {
	_, err := c.program(expr)
	return err
}

func (c *Composite) Evaluate(subj Subject, params domain.Parameters, in MarketInputs) (Outcome, error) {
	p, ok := params.(*domain.CompositeParams)
	if !ok {
		return Outcome{}, fmt.Errorf("composite: unexpected parameters %T", params)
	}
	cost, err := subj.Check()
	if err != nil {
		return Outcome{}, err
	}

	prg, err := c.program(p.Expression)
	if err != nil {
		return Outcome{}, err
	}

	stats := Stats(onMarketplace(in.Competitors, subj.Listing.Marketplace))
	out, _, err := prg.Eval(map[string]any{
		"cost":               cost,
		"current_price":      subj.CurrentPrice(),
		"stock":              int64(subj.Product.Stock),
		"commission":         in.Commission,
		"tax":                in.TaxPercent,
		"freight":            in.Freight,
		"competitor_lowest":  stats.Lowest,
		"competitor_average": stats.Average,
		"competitor_count":   int64(stats.Count),
		"marketplace":        string(subj.Listing.Marketplace),
		"brand":              subj.Product.Brand,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("composite: evaluation error: %w", err)
	}

	price, ok := toPrice(out)
	if !ok || !(price > 0) {
		return hold("expression produced no price"), nil
	}
	return Outcome{
		Candidate:  RoundPrice(price),
		Reason:     fmt.Sprintf("expression %q", p.Expression),
		Actionable: true,
	}, nil
}

func (c *Composite) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.programs[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if out := ast.OutputType(); out != cel.DoubleType && out != cel.IntType {
		return nil, fmt.Errorf("expression must return double or int, got %s", out)
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	c.mu.Lock()
	c.programs[expr] = prg
	c.mu.Unlock()
	return prg, nil
}

func toPrice(val ref.Val) (float64, bool) {
	switch v := val.(type) {
	case types.Double:
		return float64(v), true
	case types.Int:
		return float64(v), true
	default:
		return 0, false
	}
}
