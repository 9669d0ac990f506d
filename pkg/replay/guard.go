// Package replay fences duplicate event submissions. A key (the event's
// replay id, or its canonical fingerprint when no replay id is supplied) is
// remembered for a TTL; re-submissions inside the TTL are rejected before
// they can touch any pipeline state.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/HrishiK1107/AuthGuard/pkg/clock"
)

// DefaultTTL is how long a key fences duplicates.
const DefaultTTL = 5 * time.Minute

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Guard answers whether a key is being seen for the first time within the
// TTL. FirstSeen is check-and-set: a true answer also records the key.
type Guard interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
	Close() error
}

// New builds the configured guard. redisAddr is only consulted for the
// redis backend.
func New(backend, redisAddr string, ttl time.Duration, clk clock.Clock) (Guard, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch backend {
	case BackendMemory, "":
		return NewMemory(ttl, clk), nil
	case BackendRedis:
		return NewRedis(redisAddr, "", 0, ttl), nil
	default:
		return nil, fmt.Errorf("unknown replay backend %q", backend)
	}
}
