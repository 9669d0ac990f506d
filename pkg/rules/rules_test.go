package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HrishiK1107/AuthGuard/pkg/detector"
	"github.com/HrishiK1107/AuthGuard/pkg/event"
)

func newTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable()
	require.NoError(t, err)
	return tbl
}

func TestDefaults(t *testing.T) {
	tbl := newTable(t)

	assert.True(t, tbl.IsEnabled(detector.RuleFailedLoginVelocity))
	assert.True(t, tbl.IsEnabled(detector.RuleIPFanOut))
	assert.True(t, tbl.IsEnabled(detector.RuleUserFanIn))

	assert.Equal(t, 5.0, tbl.Threshold(detector.RuleFailedLoginVelocity))
	assert.Equal(t, 4.0, tbl.Threshold(detector.RuleIPFanOut))
	assert.Equal(t, 3.0, tbl.Threshold(detector.RuleUserFanIn))
}

func TestEnableDisable(t *testing.T) {
	tbl := newTable(t)

	require.NoError(t, tbl.Disable(detector.RuleIPFanOut))
	assert.False(t, tbl.IsEnabled(detector.RuleIPFanOut))
	require.NoError(t, tbl.Enable(detector.RuleIPFanOut))
	assert.True(t, tbl.IsEnabled(detector.RuleIPFanOut))

	assert.ErrorIs(t, tbl.Enable("nope"), ErrUnknownRule)
	assert.ErrorIs(t, tbl.Disable("nope"), ErrUnknownRule)
	assert.False(t, tbl.IsEnabled("nope"), "unknown rules read as disabled")
}

func TestUpdateThreshold(t *testing.T) {
	tbl := newTable(t)

	require.NoError(t, tbl.UpdateThreshold(detector.RuleFailedLoginVelocity, 8))
	assert.Equal(t, 8.0, tbl.Threshold(detector.RuleFailedLoginVelocity))

	assert.Error(t, tbl.UpdateThreshold(detector.RuleFailedLoginVelocity, 0))
	assert.Equal(t, 8.0, tbl.Threshold(detector.RuleFailedLoginVelocity), "rejected write leaves value")
	assert.ErrorIs(t, tbl.UpdateThreshold("nope", 5), ErrUnknownRule)
}

func TestGetAllSorted(t *testing.T) {
	tbl := newTable(t)
	all := tbl.GetAll(1_000)
	require.Len(t, all, 3)
	assert.Equal(t, detector.RuleFailedLoginVelocity, all[0].ID)
	assert.Equal(t, detector.RuleIPFanOut, all[1].ID)
	assert.Equal(t, detector.RuleUserFanIn, all[2].ID)

	for _, r := range all {
		assert.Equal(t, StatusQuiet, r.Status, "%s never fired", r.ID)
		assert.Equal(t, "v2.0", r.Version)
	}
}

func TestGuardLifecycle(t *testing.T) {
	tbl := newTable(t)
	ev := event.AuthEvent{
		Endpoint: event.EndpointLogin,
		Method:   event.MethodPost,
		Outcome:  event.OutcomeFailure,
		Country:  "US",
		Username: "alice",
	}

	// No guard: always matches.
	ok, err := tbl.GuardMatches(detector.RuleFailedLoginVelocity, ev)
	require.NoError(t, err)
	assert.True(t, ok)

	// Guard scoping the rule to LOGIN traffic.
	require.NoError(t, tbl.SetGuard(detector.RuleFailedLoginVelocity, `endpoint == "LOGIN"`))
	ok, err = tbl.GuardMatches(detector.RuleFailedLoginVelocity, ev)
	require.NoError(t, err)
	assert.True(t, ok)

	ev2 := ev
	ev2.Endpoint = event.EndpointOTP
	ok, err = tbl.GuardMatches(detector.RuleFailedLoginVelocity, ev2)
	require.NoError(t, err)
	assert.False(t, ok)

	// Clearing restores match-all.
	require.NoError(t, tbl.SetGuard(detector.RuleFailedLoginVelocity, ""))
	ok, err = tbl.GuardMatches(detector.RuleFailedLoginVelocity, ev2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuardCompileErrorRejected(t *testing.T) {
	tbl := newTable(t)

	err := tbl.SetGuard(detector.RuleFailedLoginVelocity, `endpoint ==`)
	require.Error(t, err)

	// The failed write left no guard behind.
	ok, err := tbl.GuardMatches(detector.RuleFailedLoginVelocity, event.AuthEvent{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuardMustBeBool(t *testing.T) {
	tbl := newTable(t)
	err := tbl.SetGuard(detector.RuleFailedLoginVelocity, `endpoint`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bool")
}

func TestGuardUnknownRule(t *testing.T) {
	tbl := newTable(t)
	_, err := tbl.GuardMatches("nope", event.AuthEvent{})
	assert.ErrorIs(t, err, ErrUnknownRule)
	assert.ErrorIs(t, tbl.SetGuard("nope", "true"), ErrUnknownRule)
}

func TestRecordTrigger(t *testing.T) {
	tbl := newTable(t)

	tbl.RecordTrigger(detector.RuleIPFanOut, 5_000)
	tbl.RecordTrigger(detector.RuleIPFanOut, 4_000) // stale ts keeps newest

	row := ruleByID(t, tbl.GetAll(6_000), detector.RuleIPFanOut)
	assert.Equal(t, int64(2), row.TriggerCount)
	assert.Equal(t, int64(5_000), row.LastTriggered)
	assert.Equal(t, StatusActive, row.Status, "fired one second ago")

	// Same bookkeeping read long after the last trigger.
	row = ruleByID(t, tbl.GetAll(5_000+activityWindowMs+1), detector.RuleIPFanOut)
	assert.Equal(t, StatusNoisy, row.Status)
}

func ruleByID(t *testing.T, all []Rule, id string) Rule {
	t.Helper()
	for _, r := range all {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("rule %s not in listing", id)
	return Rule{}
}
