package treeseq

import (
	"fmt"
	"slices"

	"github.com/nvandessel/lineage/internal/ledger"
)

// Tree is the local genealogy over [Left, Right).
type Tree struct {
	ts     *TreeSequence
	Index  int
	Left   float64
	Right  float64
	parent []ledger.NodeID
}

// Clone returns an independent copy of t.
func (t *Tree) Clone() *Tree {
	c := *t
	c.parent = slices.Clone(t.parent)
	return &c
}

// Span returns the length of the interval the tree covers.
func (t *Tree) Span() float64 { return t.Right - t.Left }

// Parent returns the parent of u, or ledger.NullNode for a root or a node
// outside the tree.
func (t *Tree) Parent(u ledger.NodeID) ledger.NodeID {
	if u < 0 || int(u) >= len(t.parent) {
		return ledger.NullNode
	}
	return t.parent[u]
}

// Root returns the top of u's lineage.
func (t *Tree) Root(u ledger.NodeID) ledger.NodeID {
	for p := t.Parent(u); p != ledger.NullNode; p = t.Parent(u) {
		u = p
	}
	return u
}

// Roots returns the distinct roots above the samples, in ascending order.
func (t *Tree) Roots() []ledger.NodeID {
	seen := make(map[ledger.NodeID]bool)
	var roots []ledger.NodeID
	for _, s := range t.ts.samples {
		r := t.Root(s)
		if !seen[r] {
			seen[r] = true
			roots = append(roots, r)
		}
	}
	slices.Sort(roots)
	return roots
}

// MRCA returns the most recent common ancestor of a and b, or
// ledger.NullNode when their lineages do not meet.
func (t *Tree) MRCA(a, b ledger.NodeID) (ledger.NodeID, error) {
	n := ledger.NodeID(len(t.parent))
	if a < 0 || a >= n || b < 0 || b >= n {
		return ledger.NullNode, fmt.Errorf("%w: node %d or %d", ledger.ErrUnknownIdentifier, a, b)
	}
	above := make(map[ledger.NodeID]bool)
	for u := a; u != ledger.NullNode; u = t.parent[u] {
		above[u] = true
	}
	for u := b; u != ledger.NullNode; u = t.parent[u] {
		if above[u] {
			return u, nil
		}
	}
	return ledger.NullNode, nil
}

// TMRCA returns the time of the MRCA of a and b.
func (t *Tree) TMRCA(a, b ledger.NodeID) (float64, bool, error) {
	u, err := t.MRCA(a, b)
	if err != nil || u == ledger.NullNode {
		return 0, false, err
	}
	return t.ts.nodes[u].Time, true, nil
}

// Children returns the children of u in ascending id order.
func (t *Tree) Children(u ledger.NodeID) []ledger.NodeID {
	var out []ledger.NodeID
	for c, p := range t.parent {
		if p == u {
			out = append(out, ledger.NodeID(c))
		}
	}
	return out
}
