package ledger

import (
	"cmp"
	"slices"
)

// EdgeOrder compares two edges of a ledger whose node table is nodes.
// It returns a negative number when a sorts before b, zero when they are
// equivalent and a positive number otherwise.
//
// Every order used with this package must place an edge after all edges
// whose parent is younger; the time check on AddEdge guarantees that such an
// order exists for any ledger.
type EdgeOrder func(nodes []Node, a, b Edge) int

// ExportOrder sorts by parent time ascending and then by left coordinate.
// This is the order required when handing a ledger to tree-sequence tooling.
func ExportOrder(nodes []Node, a, b Edge) int {
	if c := cmp.Compare(nodes[a.Parent].Time, nodes[b.Parent].Time); c != 0 {
		return c
	}
	return cmp.Compare(a.Left, b.Left)
}

// CanonicalOrder is a total order: parent time, parent, child, then left.
// It refines ExportOrder's time grouping and keeps each parent's edges
// contiguous, which simplification relies on.
func CanonicalOrder(nodes []Node, a, b Edge) int {
	if c := cmp.Compare(nodes[a.Parent].Time, nodes[b.Parent].Time); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Parent, b.Parent); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Child, b.Child); c != 0 {
		return c
	}
	return cmp.Compare(a.Left, b.Left)
}

// SortEdges stably sorts the edge table with order. A nil order means
// CanonicalOrder.
func (l *Ledger) SortEdges(order EdgeOrder) {
	if order == nil {
		order = CanonicalOrder
	}
	nodes := l.nodes
	slices.SortStableFunc(l.edges, func(a, b Edge) int {
		return order(nodes, a, b)
	})
}

// EdgesSorted reports whether the edge table is already in the given order.
func (l *Ledger) EdgesSorted(order EdgeOrder) bool {
	if order == nil {
		order = CanonicalOrder
	}
	for i := 1; i < len(l.edges); i++ {
		if order(l.nodes, l.edges[i-1], l.edges[i]) > 0 {
			return false
		}
	}
	return true
}
