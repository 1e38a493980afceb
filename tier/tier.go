// Package tier defines the storage abstraction used by the tiercache
// coordinator. A Tier is one cache level: in-process memory, a shared network
// store, or local disk.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key. The coordinator frames
// values with their expiry and validates the frame on read, so a tier never needs
// to understand what it stores. Tiers MUST NOT share returned slices with their
// internal storage; each tier owns its own copy of an entry.
package tier

import (
	"context"
	"errors"
	"time"
)

// ErrCorrupt is returned (possibly wrapped) by a tier, or by the coordinator's
// envelope decoder, when stored bytes cannot be interpreted. The coordinator
// deletes such entries and reports a miss.
var ErrCorrupt = errors.New("tiercache: corrupt entry")

// Tier is a minimal byte store with TTLs and prefix deletion.
// Must be safe for concurrent use.
type Tier interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. ttl <= 0 means no expiry. The ttl is a hint for the
	// backend's own reclamation; the coordinator enforces expiry itself.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes a key (missing keys are not an error).
	Del(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix. "" clears the tier.
	// It must be atomic with respect to concurrent Get/Set on this tier.
	DeletePrefix(ctx context.Context, prefix string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Clone returns a copy of b that does not alias it.
func Clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
