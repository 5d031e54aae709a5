// Package lockout counts failed attempts per key and locks the key out once a threshold is hit.
// Login uses one tracker keyed by normalized email and second-factor checks use another keyed by user id.
package lockout

import (
	"context"
	"time"
)

// Policy sets the threshold. Failures are counted over a window as long as the lockout itself.
type Policy struct {
	MaxFailures int
	Lockout     time.Duration
}

// Tracker records failures for a key
type Tracker interface {
	// Remaining reports how long key stays locked. Zero means unlocked.
	Remaining(ctx context.Context, key string) (time.Duration, error)
	// Fail records one failure and returns the lock duration when it locks key, zero otherwise.
	// A key that is already locked keeps its current expiry.
	Fail(ctx context.Context, key string) (time.Duration, error)
	// Clear forgets the failure count of key. An active lock is left in place.
	Clear(ctx context.Context, key string) error
}
