// Package locking provides mutual exclusion over cache keys.
package locking

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Group runs functions with mutual exclusion over a key.
type Group interface {
	// DoWithLock runs fn while holding the lock for key.
	DoWithLock(key string, fn func() error) error
}

// Striped maps keys onto a fixed set of mutexes. Distinct keys may share a
// stripe; memory use does not grow with the key space.
type Striped struct {
	mask    uint64
	stripes []sync.Mutex
}

var _ Group = (*Striped)(nil)

// NewStriped returns a Striped lock with n stripes rounded up to a power of two.
// n <= 0 uses 256.
func NewStriped(n int) *Striped {
	if n <= 0 {
		n = 256
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return &Striped{mask: uint64(size - 1), stripes: make([]sync.Mutex, size)}
}

// Lock acquires the stripe for key and returns its release func.
func (s *Striped) Lock(key string) (unlock func()) {
	m := &s.stripes[xxhash.Sum64String(key)&s.mask]
	m.Lock()
	return m.Unlock
}

func (s *Striped) DoWithLock(key string, fn func() error) error {
	defer s.Lock(key)()
	return fn()
}

// NoOp performs no locking. Useful in tests.
type NoOp struct{}

func (NoOp) DoWithLock(_ string, fn func() error) error { return fn() }
