// Package memory is the default in-process tier: a map split into
// xxhash-selected shards, each guarded by its own mutex.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/tiercache/tier"
)

const (
	defaultShards  = 64
	defaultCleanup = time.Minute
)

type item struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type shard struct {
	mu sync.Mutex
	m  map[string]item
}

// Memory is a sharded map tier. The zero value is not usable; use New.
type Memory struct {
	shards []*shard

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

var _ tier.Tier = (*Memory)(nil)

type Config struct {
	Shards          int           // rounded up to a power of two; 0 => 64
	CleanupInterval time.Duration // background sweep of expired items; 0 => 1m, <0 disables
}

func New(cfg Config) *Memory {
	n := nextPow2(cfg.Shards)
	if cfg.Shards <= 0 {
		n = defaultShards
	}
	m := &Memory{
		shards: make([]*shard, n),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	for i := range m.shards {
		m.shards[i] = &shard{m: make(map[string]item)}
	}

	interval := cfg.CleanupInterval
	if interval == 0 {
		interval = defaultCleanup
	}
	if interval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop(interval)
	}
	return m
}

func (m *Memory) shardFor(key string) *shard {
	return m.shards[xxhash.Sum64String(key)&uint64(len(m.shards)-1)]
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	if !it.exp.IsZero() && !m.now().Before(it.exp) {
		delete(s.m, key)
		return nil, false, nil
	}
	return tier.Clone(it.v), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	s := m.shardFor(key)
	s.mu.Lock()
	s.m[key] = item{v: tier.Clone(value), exp: exp}
	s.mu.Unlock()
	return nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

// DeletePrefix locks every shard (in index order) before deleting, so no Get or
// Set can observe a half-invalidated tier.
func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	for _, s := range m.shards {
		s.mu.Lock()
	}
	for _, s := range m.shards {
		if prefix == "" {
			s.m = make(map[string]item)
			continue
		}
		for k := range s.m {
			if strings.HasPrefix(k, prefix) {
				delete(s.m, k)
			}
		}
	}
	for i := len(m.shards) - 1; i >= 0; i-- {
		m.shards[i].mu.Unlock()
	}
	return nil
}

// Len returns the number of stored items, including expired ones not yet swept.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}

func (m *Memory) Close(_ context.Context) error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
	return nil
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Memory) sweep() {
	now := m.now()
	for _, s := range m.shards {
		s.mu.Lock()
		for k, it := range s.m {
			if !it.exp.IsZero() && !now.Before(it.exp) {
				delete(s.m, k)
			}
		}
		s.mu.Unlock()
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
