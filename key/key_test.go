package key

import (
	"strings"
	"testing"
)

func TestEncodeDeterministic(t *testing.T) {
	a := Encode("report", []any{1, "x"}, map[string]any{"limit": 10, "sort": "asc"})
	b := Encode("report", []any{1, "x"}, map[string]any{"sort": "asc", "limit": 10})
	if a != b {
		t.Fatalf("kwargs order changed key: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "report:") {
		t.Fatalf("namespace prefix missing: %q", a)
	}
	if got := len(strings.TrimPrefix(a, "report:")); got != 32 {
		t.Fatalf("digest length = %d, want 32 hex chars", got)
	}
}

func TestEncodeDistinguishesInputs(t *testing.T) {
	cases := []struct {
		name string
		a, b string
	}{
		{"positional split", Encode("ns", []any{"ab", "c"}, nil), Encode("ns", []any{"a", "bc"}, nil)},
		{"namespace", Encode("ns1", []any{1}, nil), Encode("ns2", []any{1}, nil)},
		{"positional vs keyword", Encode("ns", []any{"x=1"}, nil), Encode("ns", nil, map[string]any{"x": 1})},
		{"arg order", Encode("ns", []any{1, 2}, nil), Encode("ns", []any{2, 1}, nil)},
		{"kw value", Encode("ns", nil, map[string]any{"x": 1}), Encode("ns", nil, map[string]any{"x": 2})},
	}
	for _, tc := range cases {
		if tc.a == tc.b {
			t.Fatalf("%s: keys collide: %q", tc.name, tc.a)
		}
	}
}

func TestEncodeEmptyNamespace(t *testing.T) {
	k := Encode("", []any{42}, nil)
	if strings.Contains(k, ":") || len(k) != 32 {
		t.Fatalf("bare digest expected, got %q", k)
	}
}
