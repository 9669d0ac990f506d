package detector

import (
	"fmt"

	"github.com/HrishiK1107/AuthGuard/pkg/event"
	"github.com/HrishiK1107/AuthGuard/pkg/window"
)

// Velocity flags bursts of failed logins from a single IP. Successful
// attempts neither count nor reset the window.
type Velocity struct{}

func (Velocity) ID() string { return RuleFailedLoginVelocity }

func (Velocity) Evaluate(ev event.AuthEvent, w *window.Store, threshold float64) Signal {
	if ev.Outcome != event.OutcomeFailure {
		return Signal{}
	}

	key := ev.IPAddress
	w.Add(key, ev.TimestampMs)
	count := w.Count(key, ev.TimestampMs)
	if float64(count) < threshold {
		return Signal{}
	}

	return Signal{
		Triggered:    true,
		SignalID:     SignalFailedLoginVelocity,
		Entity:       ev.IPAddress,
		EntityType:   EntityTypeIP,
		Score:        30,
		Confidence:   clamp01(float64(count) / threshold),
		DecayHintSec: 300,
		Tags:         []string{"bruteforce", "velocity"},
		Reason:       fmt.Sprintf("%d failed logins from IP %s in short time", count, key),
	}
}
