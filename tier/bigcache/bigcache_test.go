package bigcache

import (
	"context"
	"testing"
	"time"
)

func TestBigcacheTier(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{LifeWindow: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	for _, k := range []string{"user:1", "user:2", "order:1"} {
		if err := p.Set(ctx, k, []byte(k), 0); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	if v, ok, err := p.Get(ctx, "user:1"); err != nil || !ok || string(v) != "user:1" {
		t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := p.DeletePrefix(ctx, "user:"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "user:2"); ok {
		t.Fatalf("user:2 should be gone")
	}
	if _, ok, _ := p.Get(ctx, "order:1"); !ok {
		t.Fatalf("order:1 should survive")
	}

	if err := p.Del(ctx, "missing"); err != nil {
		t.Fatalf("Del on missing key: %v", err)
	}
	if err := p.DeletePrefix(ctx, ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "order:1"); ok {
		t.Fatalf("clear should drop everything")
	}
}
