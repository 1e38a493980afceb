package disk

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/tier"
)

func newTestDisk(t *testing.T) *Disk {
	t.Helper()
	d, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDiskSetGetDel(t *testing.T) {
	ctx := context.Background()
	d := newTestDisk(t)

	if _, ok, err := d.Get(ctx, "a"); ok || err != nil {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if err := d.Set(ctx, "a", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := d.Get(ctx, "a")
	if err != nil || !ok || string(v) != "payload" {
		t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
	}
	if err := d.Set(ctx, "a", []byte("second"), 0); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, _, _ := d.Get(ctx, "a"); string(v) != "second" {
		t.Fatalf("overwrite not visible: %q", v)
	}
	if err := d.Del(ctx, "a"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := d.Get(ctx, "a"); ok {
		t.Fatalf("expected miss after Del")
	}
	if err := d.Del(ctx, "a"); err != nil {
		t.Fatalf("Del on missing key: %v", err)
	}
}

func TestDiskCorruptFile(t *testing.T) {
	ctx := context.Background()
	d := newTestDisk(t)

	if err := os.WriteFile(d.path("bad"), []byte{0xff, 0x00, 0x13}, 0o644); err != nil {
		t.Fatal(err)
	}
	_, ok, err := d.Get(ctx, "bad")
	if ok || !errors.Is(err, tier.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, ok=%v err=%v", ok, err)
	}
}

func TestDiskDeletePrefix(t *testing.T) {
	ctx := context.Background()
	d := newTestDisk(t)

	for _, k := range []string{"user:1", "user:2", "order:1"} {
		if err := d.Set(ctx, k, []byte(k), 0); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	if err := d.DeletePrefix(ctx, "user:"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	for _, k := range []string{"user:1", "user:2"} {
		if _, ok, _ := d.Get(ctx, k); ok {
			t.Fatalf("%s should be gone", k)
		}
	}
	if _, ok, _ := d.Get(ctx, "order:1"); !ok {
		t.Fatalf("order:1 should survive")
	}

	if err := d.DeletePrefix(ctx, ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := d.Get(ctx, "order:1"); ok {
		t.Fatalf("clear should remove everything")
	}
}

func TestDiskPurge(t *testing.T) {
	ctx := context.Background()
	d := newTestDisk(t)

	_ = d.Set(ctx, "old", []byte("x"), 0)
	_ = d.Set(ctx, "new", []byte("y"), 0)
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(d.path("old"), past, past); err != nil {
		t.Fatal(err)
	}

	n, err := d.Purge(ctx, time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("Purge: n=%d err=%v", n, err)
	}
	if _, ok, _ := d.Get(ctx, "old"); ok {
		t.Fatalf("old should be purged")
	}
	if _, ok, _ := d.Get(ctx, "new"); !ok {
		t.Fatalf("new should survive")
	}
}

func TestDiskRequiresDir(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestDiskSharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := b.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("second instance should see the write, ok=%v v=%q", ok, v)
	}
	if err := b.DeletePrefix(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := a.Get(ctx, "k"); ok {
		t.Fatalf("clear through second instance not visible")
	}
}
