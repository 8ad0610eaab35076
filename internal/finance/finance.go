package finance

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
)

// Evaluate runs a stored wage formula with distance (km) as its only
// variable and returns the resulting amount.
func Evaluate(formula string, distanceKm float64) (float64, error) {
	program, err := expr.Compile(formula, expr.Env(map[string]any{"distance": 0.0}), expr.AsFloat64())
	if err != nil {
		return 0, fmt.Errorf("compile wage formula: %w", err)
	}
	out, err := expr.Run(program, map[string]any{"distance": distanceKm})
	if err != nil {
		return 0, fmt.Errorf("evaluate wage formula: %w", err)
	}
	v, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("wage formula returned %T, want number", out)
	}
	return v, nil
}

// StaticRules is an in-memory rule set for tests and local runs.
type StaticRules struct {
	Bands      map[int]float64 // integer-km ceiling -> wage
	FormulaStr string
}

// DefaultStaticRules mirrors the production seed: five fixed bands, then a
// per-km formula past the table.
func DefaultStaticRules() *StaticRules {
	return &StaticRules{
		Bands:      map[int]float64{1: 15000, 2: 20000, 3: 25000, 4: 30000, 5: 35000},
		FormulaStr: "distance * 8000",
	}
}

func (s *StaticRules) TierWage(_ context.Context, ceilKm int) (float64, bool, error) {
	w, ok := s.Bands[ceilKm]
	return w, ok, nil
}

func (s *StaticRules) WageFormula(_ context.Context) (string, error) {
	if s.FormulaStr == "" {
		return "", fmt.Errorf("no wage formula configured")
	}
	return s.FormulaStr, nil
}
