// Package wire frames a cache entry {value, expiresAt} so every tier can store
// it as opaque bytes and the coordinator can validate it on the way out.
package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/unkn0wn-root/tiercache/tier"
)

const (
	version   byte = 1
	kindEntry byte = 1

	hdrLen = 4 + 1 + 1 + 8 + 4
)

// ErrCorrupt is returned for anything that is not a well-formed envelope.
var ErrCorrupt = tier.ErrCorrupt

var magic4 = [...]byte{'T', 'I', 'E', 'R'}

// Entry is the decoded envelope. ExpiresAt is unix nanoseconds; 0 never expires.
type Entry struct {
	ExpiresAt int64
	Value     []byte
}

// Expired reports whether e is past its deadline at now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.UnixNano() >= e.ExpiresAt
}

// TTL returns the remaining lifetime at now. Zero means "never expires";
// an expired entry returns a negative duration.
func (e Entry) TTL(now time.Time) time.Duration {
	if e.ExpiresAt == 0 {
		return 0
	}
	d := time.Duration(e.ExpiresAt - now.UnixNano())
	if d == 0 {
		return -1
	}
	return d
}

// ExpiresAt converts a ttl into an absolute deadline. ttl <= 0 means never.
func ExpiresAt(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixNano()
}

// Encode: magic(4) | ver(1) | kind(1) | expiresAt(i64 be) | vlen(u32 be) | value(vlen)
func Encode(expiresAt int64, value []byte) []byte {
	if uint64(len(value)) > math.MaxUint32 {
		panic("tiercache: value too large for wire envelope")
	}
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(value))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(expiresAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(value)))
	buf.Write(u4[:])

	buf.Write(value)
	return buf.Bytes()
}

// Decode parses an envelope. The returned Value aliases b.
func Decode(b []byte) (Entry, error) {
	if len(b) < hdrLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}
	off := 6

	exp := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	if exp < 0 {
		return Entry{}, ErrCorrupt
	}

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off { // strict: no short reads, no trailing bytes
		return Entry{}, ErrCorrupt
	}

	return Entry{ExpiresAt: exp, Value: b[off:]}, nil
}
