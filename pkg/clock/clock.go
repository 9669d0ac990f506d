// Package clock abstracts time so pipeline components can be driven by a
// fake clock in tests.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Wall is the production clock.
type Wall struct{}

func (Wall) Now() time.Time { return time.Now() }

// NowMillis returns c.Now() as epoch milliseconds.
func NowMillis(c Clock) int64 { return c.Now().UnixMilli() }
