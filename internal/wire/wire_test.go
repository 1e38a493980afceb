package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func mustDecode(t *testing.T, b []byte) Entry {
	t.Helper()
	e, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return e
}

func TestEntryRoundTrip(t *testing.T) {
	cases := []struct {
		exp   int64
		value []byte
	}{
		{0, nil},
		{42, []byte("hello")},
		{time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano(), []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		e := mustDecode(t, Encode(tc.exp, tc.value))
		if e.ExpiresAt != tc.exp {
			t.Fatalf("expiresAt mismatch: got %d want %d", e.ExpiresAt, tc.exp)
		}
		if !bytes.Equal(e.Value, tc.value) {
			t.Fatalf("value mismatch: got %x want %x", e.Value, tc.value)
		}
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	enc := Encode(7, []byte("x"))
	enc = append(enc, 0xDE, 0xAD)
	if _, err := Decode(enc); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt on trailing bytes, got %v", err)
	}
}

func TestDecodeCorruptHeadersAndLengths(t *testing.T) {
	enc := Encode(1, []byte("abc"))

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := Decode(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := Decode(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindEntry + 1
	if _, err := Decode(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	short := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(short[14:18], 10)
	if _, err := Decode(short); err == nil {
		t.Fatalf("expected error on overlong vlen")
	}

	negative := append([]byte(nil), enc...)
	negative[6] = 0x80
	if _, err := Decode(negative); err == nil {
		t.Fatalf("expected error on negative expiresAt")
	}

	if _, err := Decode([]byte("not-wire-format")); err == nil {
		t.Fatalf("expected error on garbage")
	}
}

func TestExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	if ExpiresAt(now, 0) != 0 || ExpiresAt(now, -time.Second) != 0 {
		t.Fatalf("non-positive ttl must mean never")
	}
	e := Entry{ExpiresAt: ExpiresAt(now, time.Second)}
	if e.Expired(now) {
		t.Fatalf("fresh entry reported expired")
	}
	if got := e.TTL(now); got != time.Second {
		t.Fatalf("TTL = %v, want 1s", got)
	}
	if !e.Expired(now.Add(time.Second)) {
		t.Fatalf("entry at deadline must be expired")
	}
	if (Entry{}).Expired(now.Add(100 * 365 * 24 * time.Hour)) {
		t.Fatalf("zero expiresAt must never expire")
	}
}
