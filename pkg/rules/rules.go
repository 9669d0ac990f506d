// Package rules is the shared rule table: enable/disable state, thresholds,
// and optional CEL guard expressions per detector. The admin API writes it,
// the processor reads it on every event, so reads take the cheap path.
package rules

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/HrishiK1107/AuthGuard/pkg/detector"
	"github.com/HrishiK1107/AuthGuard/pkg/event"
)

// ErrUnknownRule is returned for rule ids not present in the table.
var ErrUnknownRule = errors.New("unknown rule")

// Activity labels for the rules listing. A rule that fired inside
// activityWindowMs reads ACTIVE and one with only older triggers reads
// NOISY. Rules that never fired read QUIET.
const (
	StatusQuiet  = "QUIET"
	StatusNoisy  = "NOISY"
	StatusActive = "ACTIVE"

	activityWindowMs = 5 * 60 * 1000
)

// defaultRuleVersion marks the shipped detector definitions. Bump a row's
// version when its scoring or key shape changes.
const defaultRuleVersion = "v2.0"

// Rule is a read-only snapshot of one table row.
type Rule struct {
	ID            string  `json:"id"`
	Enabled       bool    `json:"enabled"`
	Threshold     float64 `json:"threshold"`
	Guard         string  `json:"guard,omitempty"`
	LastTriggered int64   `json:"last_triggered_ms,omitempty"`
	TriggerCount  int64   `json:"trigger_count"`
	Status        string  `json:"status"`
	Version       string  `json:"version"`
}

type ruleState struct {
	enabled       bool
	threshold     float64
	guardSrc      string
	guard         cel.Program
	lastTriggered int64
	triggerCount  int64
	version       string
}

// Table holds the rule rows and the CEL environment guards compile against.
type Table struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules map[string]*ruleState
}

// NewTable builds the table with the default detector rows enabled.
func NewTable() (*Table, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("endpoint", types.StringType),
			decls.NewVariable("method", types.StringType),
			decls.NewVariable("outcome", types.StringType),
			decls.NewVariable("country", types.StringType),
			decls.NewVariable("asn", types.IntType),
			decls.NewVariable("username", types.StringType),
			decls.NewVariable("ingest_source", types.StringType),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create guard env: %w", err)
	}

	return &Table{
		env: env,
		rules: map[string]*ruleState{
			detector.RuleFailedLoginVelocity: {enabled: true, threshold: 5, version: defaultRuleVersion},
			detector.RuleIPFanOut:            {enabled: true, threshold: 4, version: defaultRuleVersion},
			detector.RuleUserFanIn:           {enabled: true, threshold: 3, version: defaultRuleVersion},
		},
	}, nil
}

// GetAll returns snapshots sorted by rule id. nowMs anchors the activity
// status derived from each rule's trigger bookkeeping.
func (t *Table) GetAll(nowMs int64) []Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Rule, 0, len(t.rules))
	for id, st := range t.rules {
		out = append(out, Rule{
			ID:            id,
			Enabled:       st.enabled,
			Threshold:     st.threshold,
			Guard:         st.guardSrc,
			LastTriggered: st.lastTriggered,
			TriggerCount:  st.triggerCount,
			Status:        st.status(nowMs),
			Version:       st.version,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *ruleState) status(nowMs int64) string {
	switch {
	case st.triggerCount == 0:
		return StatusQuiet
	case nowMs-st.lastTriggered <= activityWindowMs:
		return StatusActive
	default:
		return StatusNoisy
	}
}

// Exists reports whether the rule id is known.
func (t *Table) Exists(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rules[id]
	return ok
}

// IsEnabled reports the enabled flag; unknown rules read as disabled.
func (t *Table) IsEnabled(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.rules[id]
	return ok && st.enabled
}

// Threshold returns the rule's threshold, 0 for unknown rules.
func (t *Table) Threshold(id string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.rules[id]; ok {
		return st.threshold
	}
	return 0
}

// Enable switches the rule on.
func (t *Table) Enable(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	st.enabled = true
	return nil
}

// Disable switches the rule off.
func (t *Table) Disable(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	st.enabled = false
	return nil
}

// UpdateThreshold replaces the rule's threshold. Thresholds below 1 would
// make detectors fire on every gated event, so they are rejected.
func (t *Table) UpdateThreshold(id string, v float64) error {
	if v < 1 {
		return fmt.Errorf("threshold %v must be >= 1", v)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	st.threshold = v
	return nil
}

// SetGuard compiles and attaches a CEL guard to the rule. An empty source
// clears the guard. Compilation failures reject the write and leave the
// previous guard in place.
func (t *Table) SetGuard(id, source string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	if source == "" {
		st.guardSrc = ""
		st.guard = nil
		return nil
	}

	ast, issues := t.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("guard compilation failed: %w", issues.Err())
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return fmt.Errorf("guard must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := t.env.Program(ast)
	if err != nil {
		return fmt.Errorf("guard program construction failed: %w", err)
	}

	st.guardSrc = source
	st.guard = prg
	return nil
}

// GuardMatches evaluates the rule's guard against the event. Rules without
// a guard always match. An evaluation error is returned so the caller can
// log it; the rule is skipped for that event either way.
func (t *Table) GuardMatches(id string, ev event.AuthEvent) (bool, error) {
	t.mu.RLock()
	st, ok := t.rules[id]
	var prg cel.Program
	if ok {
		prg = st.guard
	}
	t.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	if prg == nil {
		return true, nil
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"endpoint":      string(ev.Endpoint),
		"method":        string(ev.Method),
		"outcome":       string(ev.Outcome),
		"country":       ev.Country,
		"asn":           ev.ASN,
		"username":      ev.Username,
		"ingest_source": ev.IngestSource,
	})
	if err != nil {
		return false, fmt.Errorf("guard evaluation for %s: %w", id, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard for %s returned non-bool %T", id, out.Value())
	}
	return matched, nil
}

// RecordTrigger bumps the rule's trigger bookkeeping for the dashboard.
func (t *Table) RecordTrigger(id string, tsMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.rules[id]; ok {
		st.triggerCount++
		if tsMs > st.lastTriggered {
			st.lastTriggered = tsMs
		}
	}
}
