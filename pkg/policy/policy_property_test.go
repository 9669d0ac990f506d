//go:build property
// +build property

package policy

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDecisionMonotone: a higher risk never yields a less severe decision.
func TestDecisionMonotone(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	e := NewEngine(DefaultThresholds())

	properties.Property("risk_a <= risk_b implies severity(a) <= severity(b)", prop.ForAll(
		func(a, b float64) bool {
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			return e.Decide(lo).Decision.Severity() <= e.Decide(hi).Decision.Severity()
		},
		gen.Float64Range(0, 150),
		gen.Float64Range(0, 150),
	))

	properties.TestingRun(t)
}
