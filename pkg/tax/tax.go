// Package tax computes sales tax with a CEL expression, so a deployment
// can swap the rate or add regional rules without a rebuild.
package tax

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/cymbal-labs/ucp-engine/pkg/checkout"
)

// DefaultExpr is the demo rule: a flat 8% on the discounted subtotal.
// Shipping is not taxed.
const DefaultExpr = `taxable * 8 / 100`

// Evaluator computes tax from a CEL expression over the taxable amount
// and the destination region. Programs compile once per expression and
// are cached for reuse.
type Evaluator struct {
	env  *cel.Env
	mu   sync.RWMutex
	prgs map[string]cel.Program
	expr string
}

// NewEvaluator creates an evaluator for the given expression. An empty
// expression selects DefaultExpr. The expression sees:
//
//	taxable  int    discounted subtotal in minor units
//	region   string destination region code, "" when unknown
//	country  string destination country code, "" when unknown
//
// and must evaluate to an integer minor-unit amount.
func NewEvaluator(expr string) (*Evaluator, error) {
	if expr == "" {
		expr = DefaultExpr
	}
	env, err := cel.NewEnv(
		cel.Variable("taxable", cel.IntType),
		cel.Variable("region", cel.StringType),
		cel.Variable("country", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create tax environment: %w", err)
	}

	e := &Evaluator{env: env, prgs: make(map[string]cel.Program), expr: expr}
	// Compile eagerly so a bad expression fails at startup, not on the
	// first checkout.
	if _, err := e.program(expr); err != nil {
		return nil, err
	}
	return e, nil
}

// Tax implements checkout.TaxRules.
func (e *Evaluator) Tax(_ context.Context, taxableMinor int64, addr *checkout.PostalAddress) (int64, error) {
	var region, country string
	if addr != nil {
		region = addr.AddressRegion
		country = addr.AddressCountry
	}

	prg, err := e.program(e.expr)
	if err != nil {
		return 0, err
	}
	out, _, err := prg.Eval(map[string]any{
		"taxable": taxableMinor,
		"region":  region,
		"country": country,
	})
	if err != nil {
		return 0, fmt.Errorf("evaluate tax rule: %w", err)
	}

	amount, ok := out.Value().(int64)
	if !ok {
		return 0, fmt.Errorf("tax rule returned %T, want integer minor units", out.Value())
	}
	if amount < 0 {
		return 0, fmt.Errorf("tax rule returned negative amount %d", amount)
	}
	return amount, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgs[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgs[expr]; hit {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile tax rule: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10_000),
	)
	if err != nil {
		return nil, fmt.Errorf("build tax program: %w", err)
	}
	e.prgs[expr] = prg
	return prg, nil
}
