// Package key builds deterministic cache keys from a namespace and call
// arguments.
//
// A key has the shape "<namespace>:<digest>" where digest is the first 128
// bits of a SHA-256 over the namespace, the positional arguments and the
// keyword arguments sorted by name. Keeping the namespace in clear text lets
// callers drop every key of one namespace with a prefix invalidation.
package key

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// digestBytes is the truncated digest size (128 bits).
const digestBytes = 16

// Encode returns the cache key for (namespace, args, kwargs).
//
// Every argument contributes its fmt.Sprint form. Each part is length-prefixed
// so that ("ab", "c") and ("a", "bc") never collide.
func Encode(namespace string, args []any, kwargs map[string]any) string {
	var b strings.Builder
	writePart(&b, namespace)
	for _, a := range args {
		writePart(&b, fmt.Sprint(a))
	}
	if len(kwargs) > 0 {
		names := make([]string, 0, len(kwargs))
		for k := range kwargs {
			names = append(names, k)
		}
		sort.Strings(names)
		b.WriteByte('|')
		for _, k := range names {
			writePart(&b, k+"="+fmt.Sprint(kwargs[k]))
		}
	}
	if namespace == "" {
		return Hash(b.String())
	}
	return namespace + ":" + Hash(b.String())
}

// Hash returns the hex encoded 128-bit digest of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:digestBytes])
}

func writePart(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}
