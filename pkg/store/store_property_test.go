//go:build property
// +build property

package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Appended timestamps never land in the future or at/below zero.
func TestAppendTimestampNormalization(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("normalized ts is in (0, now]", prop.ForAll(
		func(tsMs int64, nowMs int64) bool {
			got := normalizeTs(tsMs, nowMs)
			if got <= 0 || got > nowMs {
				return false
			}
			// In-range inputs pass through untouched.
			if tsMs > 0 && tsMs <= nowMs && got != tsMs {
				return false
			}
			return true
		},
		gen.Int64(),
		gen.Int64Range(1, 1<<52),
	))

	properties.TestingRun(t)
}

// Unblocking an entity without an active block changes nothing, however many
// times it runs.
func TestDeactivateInactiveIsNoOp(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("deactivate on inactive entity is a no-op", prop.ForAll(
		func(n uint8) bool {
			dir := t.TempDir()
			s, err := NewBlockStore(filepath.Join(dir, "blocks.json"))
			if err != nil {
				return false
			}

			entity := fmt.Sprintf("203.0.113.%d", n)
			if _, _, err := s.Upsert(entity, 60, SourceAuto, 300, baseMs); err != nil {
				return false
			}
			if changed, err := s.Deactivate(entity); err != nil || !changed {
				return false
			}

			before := len(s.History())
			for i := 0; i < 3; i++ {
				changed, err := s.Deactivate(entity)
				if err != nil || changed {
					return false
				}
			}
			return len(s.History()) == before && len(s.Active()) == 0
		},
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
