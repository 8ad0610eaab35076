package lock

import (
	"context"
	"time"
)

// Lock is an atomic set-if-absent-with-expiry primitive over a shared store.
// Every cross-node mutual exclusion in this repo (connection admission,
// per-order notification) goes through it.
type Lock interface {
	// TryAcquire succeeds only if key is absent, writing token with the
	// given ttl. No side effects on failure.
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Release deletes key only if it still holds token. Returns false when
	// the key was absent or owned by someone else (TTL lapsed and the key
	// was re-acquired in between).
	Release(ctx context.Context, key, token string) (bool, error)

	// ForceRelease deletes key regardless of holder. Only the registry's
	// stale-holder takeover uses this; everything else must Release.
	ForceRelease(ctx context.Context, key string) error

	// Get reports the current holder token, if any.
	Get(ctx context.Context, key string) (string, bool, error)
}
