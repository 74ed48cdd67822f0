package intel

import "net/netip"

// PrefixTrie indexes IP networks by their address bits so that overlap
// queries walk at most prefix-length nodes instead of scanning every entry.
// IPv4 and IPv6 live in separate trees; mixed-family queries never overlap.
type PrefixTrie struct {
	v4 *trieNode
	v6 *trieNode
	n  int
}

type trieNode struct {
	children [2]*trieNode
	terminal bool
}

func NewPrefixTrie() *PrefixTrie {
	return &PrefixTrie{v4: &trieNode{}, v6: &trieNode{}}
}

// Len reports how many networks have been inserted.
func (t *PrefixTrie) Len() int {
	return t.n
}

// Insert adds a network. Invalid prefixes are the caller's problem; the
// feed parsers only hand over values that survived netip parsing.
func (t *PrefixTrie) Insert(p netip.Prefix) {
	p = p.Masked()
	node := t.root(p)
	addr := p.Addr().AsSlice()
	for i := 0; i < p.Bits(); i++ {
		b := bitAt(addr, i)
		if node.children[b] == nil {
			node.children[b] = &trieNode{}
		}
		node = node.children[b]
	}
	if !node.terminal {
		node.terminal = true
		t.n++
	}
}

// Overlaps reports whether any inserted network shares at least one address
// with p: either an inserted network contains p (a terminal sits on the walk
// down), or p contains an inserted network (the subtree below p's last bit
// holds any terminal).
func (t *PrefixTrie) Overlaps(p netip.Prefix) bool {
	p = p.Masked()
	node := t.root(p)
	addr := p.Addr().AsSlice()
	for i := 0; i < p.Bits(); i++ {
		if node.terminal {
			return true
		}
		b := bitAt(addr, i)
		if node.children[b] == nil {
			return false
		}
		node = node.children[b]
	}
	return node.hasTerminal()
}

func (t *PrefixTrie) root(p netip.Prefix) *trieNode {
	if p.Addr().Is4() {
		return t.v4
	}
	return t.v6
}

func (n *trieNode) hasTerminal() bool {
	if n.terminal {
		return true
	}
	for _, c := range n.children {
		if c != nil && c.hasTerminal() {
			return true
		}
	}
	return false
}

func bitAt(addr []byte, i int) int {
	return int(addr[i/8]>>(7-i%8)) & 1
}
