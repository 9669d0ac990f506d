package detector

import (
	"fmt"

	"github.com/HrishiK1107/AuthGuard/pkg/event"
	"github.com/HrishiK1107/AuthGuard/pkg/window"
)

// FanIn flags one account being tried from many network origins
// (distributed account takeover).
type FanIn struct{}

func (FanIn) ID() string { return RuleUserFanIn }

func (FanIn) Evaluate(ev event.AuthEvent, w *window.Store, threshold float64) Signal {
	if ev.Username == "" {
		return Signal{}
	}

	w.Add(ev.Username+":"+ev.IPAddress, ev.TimestampMs)
	ips := w.DistinctWithPrefix(ev.Username+":", ev.TimestampMs)
	if float64(ips) < threshold {
		return Signal{}
	}

	return Signal{
		Triggered:    true,
		SignalID:     SignalUserFanIn,
		Entity:       ev.Username,
		EntityType:   EntityTypeUser,
		Score:        35,
		Confidence:   clamp01(float64(ips) / threshold),
		DecayHintSec: 600,
		Tags:         []string{"account_takeover", "fanin"},
		Reason:       fmt.Sprintf("User %s targeted from %d IPs", ev.Username, ips),
	}
}
