package intel

import (
	"net/netip"
	"testing"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return p
}

func TestTrieOverlaps(t *testing.T) {
	trie := NewPrefixTrie()
	trie.Insert(mustPrefix(t, "192.0.2.0/24"))
	trie.Insert(mustPrefix(t, "10.0.0.0/8"))

	cases := []struct {
		prefix string
		want   bool
	}{
		{"192.0.2.0/24", true},    // identical
		{"192.0.2.0/25", true},    // contained by listed network
		{"192.0.0.0/16", true},    // contains listed network
		{"192.0.3.0/24", false},   // adjacent
		{"10.20.30.0/24", true},   // deep inside /8
		{"11.0.0.0/8", false},     // sibling
		{"198.51.100.0/24", false},
		{"2001:db8::/32", false},  // wrong family
	}
	for _, tc := range cases {
		if got := trie.Overlaps(mustPrefix(t, tc.prefix)); got != tc.want {
			t.Errorf("Overlaps(%s) = %v, want %v", tc.prefix, got, tc.want)
		}
	}
}

func TestTrieIPv6(t *testing.T) {
	trie := NewPrefixTrie()
	trie.Insert(mustPrefix(t, "2001:db8::/32"))

	if !trie.Overlaps(mustPrefix(t, "2001:db8:1::/48")) {
		t.Error("expected overlap inside listed v6 network")
	}
	if trie.Overlaps(mustPrefix(t, "2001:db9::/32")) {
		t.Error("unexpected overlap for sibling v6 network")
	}
}

func TestTrieLenDeduplicates(t *testing.T) {
	trie := NewPrefixTrie()
	trie.Insert(mustPrefix(t, "192.0.2.0/24"))
	trie.Insert(mustPrefix(t, "192.0.2.0/24"))
	if trie.Len() != 1 {
		t.Errorf("Len = %d, want 1", trie.Len())
	}
}

func TestTrieEmpty(t *testing.T) {
	trie := NewPrefixTrie()
	if trie.Overlaps(mustPrefix(t, "0.0.0.0/0")) {
		t.Error("empty trie must not overlap anything")
	}
}
