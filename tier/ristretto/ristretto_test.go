package ristretto

import (
	"context"
	"testing"
)

func TestRistrettoTier(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{NumCounters: 1e4, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	for _, k := range []string{"user:1", "user:2", "order:1"} {
		if err := p.Set(ctx, k, []byte(k), 0); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	if v, ok, err := p.Get(ctx, "order:1"); err != nil || !ok || string(v) != "order:1" {
		t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := p.DeletePrefix(ctx, "user:"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "user:1"); ok {
		t.Fatalf("user:1 should be gone")
	}
	if _, ok, _ := p.Get(ctx, "order:1"); !ok {
		t.Fatalf("order:1 should survive")
	}

	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected config validation error")
	}
}
