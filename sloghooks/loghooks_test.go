package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newBufLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestRedactsKeys(t *testing.T) {
	l, buf := newBufLogger()
	h := New(l, Options{})
	h.SelfHeal("disk", "user:secret", "corrupt")

	out := buf.String()
	if strings.Contains(out, "user:secret") {
		t.Fatalf("raw key leaked: %s", out)
	}
	if !strings.Contains(out, "tiercache.self_heal") || !strings.Contains(out, "reason=corrupt") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestSampling(t *testing.T) {
	l, buf := newBufLogger()
	h := New(l, Options{SelfHealEvery: 3})
	for i := 0; i < 9; i++ {
		h.SelfHeal("memory", "k", "expired")
	}
	if n := strings.Count(buf.String(), "tiercache.self_heal"); n != 3 {
		t.Fatalf("logged %d events, want 3", n)
	}
}

func TestSlowTierThreshold(t *testing.T) {
	l, buf := newBufLogger()
	h := New(l, Options{SlowTier: 100 * time.Millisecond})
	h.TierLatency("shared", "get", 10*time.Millisecond)
	if buf.Len() != 0 {
		t.Fatalf("fast call should not log: %s", buf.String())
	}
	h.TierLatency("shared", "get", 200*time.Millisecond)
	if !strings.Contains(buf.String(), "tiercache.slow_tier") {
		t.Fatalf("slow call not logged: %s", buf.String())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	h := New(nil, Options{})
	h.TierUnavailable("shared", "get", errors.New("down"))
	h.GenStoreError("bump", errors.New("down"))
	h.WriteThrough("k", "disk")
}
