// Package policy maps an effective risk score onto an enforcement decision.
// It is a pure threshold ladder: no I/O, no state.
package policy

import "fmt"

// Decision is the enforcement verdict, ordered by severity.
type Decision string

const (
	DecisionAllow     Decision = "ALLOW"
	DecisionMonitor   Decision = "MONITOR"
	DecisionChallenge Decision = "CHALLENGE"
	DecisionBlock     Decision = "BLOCK"
)

// Severity ranks decisions: ALLOW < MONITOR < CHALLENGE < BLOCK.
func (d Decision) Severity() int {
	switch d {
	case DecisionMonitor:
		return 1
	case DecisionChallenge:
		return 2
	case DecisionBlock:
		return 3
	default:
		return 0
	}
}

// Valid reports whether d is one of the four verdicts.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAllow, DecisionMonitor, DecisionChallenge, DecisionBlock:
		return true
	}
	return false
}

// Thresholds hold the ladder's cut points.
type Thresholds struct {
	Monitor   float64 `json:"monitor" yaml:"monitor"`
	Challenge float64 `json:"challenge" yaml:"challenge"`
	Block     float64 `json:"block" yaml:"block"`
}

// DefaultThresholds are the production cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{Monitor: 10, Challenge: 25, Block: 50}
}

// Validate rejects ladders that are not strictly increasing.
func (t Thresholds) Validate() error {
	if t.Monitor < 0 {
		return fmt.Errorf("monitor threshold %v must be non-negative", t.Monitor)
	}
	if t.Challenge <= t.Monitor {
		return fmt.Errorf("challenge threshold %v must exceed monitor %v", t.Challenge, t.Monitor)
	}
	if t.Block <= t.Challenge {
		return fmt.Errorf("block threshold %v must exceed challenge %v", t.Block, t.Challenge)
	}
	return nil
}

// Verdict pairs a decision with the reason handed back to callers.
type Verdict struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
}

// Engine is the threshold ladder.
type Engine struct {
	thresholds Thresholds
}

// NewEngine builds an engine over the given thresholds.
func NewEngine(t Thresholds) *Engine { return &Engine{thresholds: t} }

// Thresholds returns the engine's cut points.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// Decide maps a risk score onto a verdict.
func (e *Engine) Decide(risk float64) Verdict {
	switch {
	case risk >= e.thresholds.Block:
		return Verdict{DecisionBlock, fmt.Sprintf("Risk score %g exceeds block threshold", risk)}
	case risk >= e.thresholds.Challenge:
		return Verdict{DecisionChallenge, fmt.Sprintf("Risk score %g requires verification", risk)}
	case risk >= e.thresholds.Monitor:
		return Verdict{DecisionMonitor, fmt.Sprintf("Risk score %g indicates suspicious behavior", risk)}
	default:
		return Verdict{DecisionAllow, "Risk score within safe range"}
	}
}
