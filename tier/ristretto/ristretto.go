package ristretto

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tiercache/tier"
)

// ErrRejected is returned when Ristretto's admission policy drops a Set.
var ErrRejected = errors.New("ristretto: set rejected")

// Provider is a memory tier on Ristretto. Ristretto cannot enumerate keys, so the
// provider keeps its own key index for DeletePrefix. Evicted keys linger in the
// index until the next miss on them.
type Provider struct {
	c *rc.Cache

	mu   sync.Mutex
	keys map[string]struct{}
}

var _ tier.Tier = (*Provider)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64 // cost is the value length in bytes
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c, keys: make(map[string]struct{})}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.c.Get(key)
	if !ok {
		delete(p.keys, key)
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		delete(p.keys, key)
		return nil, false, nil
	}
	return tier.Clone(b), true, nil
}

// Set waits for Ristretto's buffers to drain so the write is visible to the
// next Get.
func (p *Provider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ttl < 0 {
		ttl = 0
	}
	if !p.c.SetWithTTL(key, tier.Clone(value), int64(len(value))+1, ttl) {
		return ErrRejected
	}
	p.c.Wait()
	p.keys[key] = struct{}{}
	return nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.c.Del(key)
	delete(p.keys, key)
	return nil
}

func (p *Provider) DeletePrefix(_ context.Context, prefix string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prefix == "" {
		p.c.Clear()
		p.keys = make(map[string]struct{})
		return nil
	}
	for k := range p.keys {
		if strings.HasPrefix(k, prefix) {
			p.c.Del(k)
			delete(p.keys, k)
		}
	}
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes Ristretto's counters (nil unless Config.Metrics).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
