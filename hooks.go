package tiercache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the coordinator calls them
// on hot paths. Wrap slow sinks with hooks/async.
type Hooks interface {
	// Duration of one tier call. op ∈ {"get", "set", "del", "delete_prefix"}.
	TierLatency(tier, op string, d time.Duration)

	// A tier call failed; the tier is skipped until its cooldown elapses.
	TierUnavailable(tier, op string, err error)

	// An entry was deleted on read.
	// reason ∈ {"corrupt", "expired", "value_decode"}
	SelfHeal(tier, key, reason string)

	// A hit in a slower tier was copied into the faster tiers.
	WriteThrough(key, from string)

	// A write-through was dropped.
	// reason ∈ {"generation_changed", "snapshot_error"}
	WriteThroughSkipped(key, reason string)

	// GenStore errors. op ∈ {"snapshot", "bump"}.
	GenStoreError(op string, err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) TierLatency(string, string, time.Duration) {}
func (NopHooks) TierUnavailable(string, string, error)     {}
func (NopHooks) SelfHeal(string, string, string)           {}
func (NopHooks) WriteThrough(string, string)               {}
func (NopHooks) WriteThroughSkipped(string, string)        {}
func (NopHooks) GenStoreError(string, error)               {}
