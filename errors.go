package tiercache

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/unkn0wn-root/tiercache/tier"
)

var (
	// ErrCacheUnavailable matches every *TierError: a tier could not be reached
	// or failed an operation.
	ErrCacheUnavailable = errors.New("tiercache: cache tier unavailable")

	// ErrCacheCorrupt marks stored bytes that could not be decoded.
	ErrCacheCorrupt = tier.ErrCorrupt
)

// TierError reports a failed tier operation.
type TierError struct {
	Tier string // "memory", "shared" or "disk"
	Op   string // "get", "set", "del", "delete_prefix", "close"
	Err  error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("tiercache: %s tier %s: %v", e.Tier, e.Op, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }

func (e *TierError) Is(target error) bool { return target == ErrCacheUnavailable }
