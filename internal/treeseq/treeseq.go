// Package treeseq turns a finished ledger into an immutable tree sequence:
// the ordered list of local genealogies along the genome, one per interval
// between consecutive edge breakpoints.
package treeseq

import (
	"cmp"
	"fmt"
	"iter"
	"slices"

	"github.com/nvandessel/lineage/internal/ledger"
)

// TreeSequence is a read-only view of a ledger with edges in export order.
type TreeSequence struct {
	l           *ledger.Ledger
	nodes       []ledger.Node
	edges       []ledger.Edge
	samples     []ledger.NodeID
	insertion   []int
	removal     []int
	breakpoints []float64
}

// New copies l, sorts the copy by parent time then left, and checks the
// export invariants: sort order, parents strictly older than children and
// no overlapping edges per child.
func New(l *ledger.Ledger) (*TreeSequence, error) {
	c := l.Clone()
	c.SortEdges(ledger.ExportOrder)
	if !c.EdgesSorted(ledger.ExportOrder) {
		return nil, fmt.Errorf("%w: edges are not in export order", ledger.ErrMalformedGeometry)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("tree sequence: %w", err)
	}

	ts := &TreeSequence{
		l:       c,
		nodes:   c.Nodes(),
		edges:   c.Edges(),
		samples: c.Samples(),
	}
	ts.index()
	return ts, nil
}

// index builds the edge insertion and removal orders and the breakpoints.
func (ts *TreeSequence) index() {
	n := len(ts.edges)
	ts.insertion = make([]int, n)
	ts.removal = make([]int, n)
	for i := range n {
		ts.insertion[i] = i
		ts.removal[i] = i
	}
	edges, nodes := ts.edges, ts.nodes
	slices.SortStableFunc(ts.insertion, func(a, b int) int {
		if c := cmp.Compare(edges[a].Left, edges[b].Left); c != 0 {
			return c
		}
		return cmp.Compare(nodes[edges[a].Parent].Time, nodes[edges[b].Parent].Time)
	})
	slices.SortStableFunc(ts.removal, func(a, b int) int {
		if c := cmp.Compare(edges[a].Right, edges[b].Right); c != 0 {
			return c
		}
		return cmp.Compare(nodes[edges[b].Parent].Time, nodes[edges[a].Parent].Time)
	})

	bp := []float64{0, ts.l.SequenceLength()}
	for _, e := range edges {
		bp = append(bp, e.Left, e.Right)
	}
	slices.Sort(bp)
	ts.breakpoints = slices.Compact(bp)
}

// SequenceLength returns the genome length.
func (ts *TreeSequence) SequenceLength() float64 { return ts.l.SequenceLength() }

// NumTrees returns the number of distinct local trees.
func (ts *TreeSequence) NumTrees() int { return len(ts.breakpoints) - 1 }

// Breakpoints returns the tree boundaries, 0 and the sequence length included.
func (ts *TreeSequence) Breakpoints() []float64 { return slices.Clone(ts.breakpoints) }

// Nodes returns a copy of the node table.
func (ts *TreeSequence) Nodes() []ledger.Node { return slices.Clone(ts.nodes) }

// Edges returns a copy of the edge table in export order.
func (ts *TreeSequence) Edges() []ledger.Edge { return slices.Clone(ts.edges) }

// Samples returns the sample node ids in ascending order.
func (ts *TreeSequence) Samples() []ledger.NodeID { return slices.Clone(ts.samples) }

// SamplesAt returns the sample nodes born at time t.
func (ts *TreeSequence) SamplesAt(t float64) []ledger.NodeID { return ts.l.SamplesAt(t) }

// NodeIndividual returns the individual owning node id.
func (ts *TreeSequence) NodeIndividual(id ledger.NodeID) (ledger.IndividualID, error) {
	return ts.l.NodeIndividual(id)
}

// Stats returns row counts and the in-memory table size.
func (ts *TreeSequence) Stats() ledger.Stats { return ts.l.Stats() }

// Ledger returns a copy of the underlying ledger in export order.
func (ts *TreeSequence) Ledger() *ledger.Ledger { return ts.l.Clone() }

// Trees yields every local tree from left to right. The yielded *Tree is
// reused between iterations; call Clone to keep one.
func (ts *TreeSequence) Trees() iter.Seq[*Tree] {
	return func(yield func(*Tree) bool) {
		seqLen := ts.l.SequenceLength()
		t := &Tree{
			ts:     ts,
			Index:  -1,
			parent: make([]ledger.NodeID, len(ts.nodes)),
		}
		for i := range t.parent {
			t.parent[i] = ledger.NullNode
		}

		m := len(ts.edges)
		j, k := 0, 0
		x := 0.0
		for x < seqLen {
			for k < m && ts.edges[ts.removal[k]].Right == x {
				t.parent[ts.edges[ts.removal[k]].Child] = ledger.NullNode
				k++
			}
			for j < m && ts.edges[ts.insertion[j]].Left == x {
				e := ts.edges[ts.insertion[j]]
				t.parent[e.Child] = e.Parent
				j++
			}
			right := seqLen
			if j < m {
				right = min(right, ts.edges[ts.insertion[j]].Left)
			}
			if k < m {
				right = min(right, ts.edges[ts.removal[k]].Right)
			}

			t.Index++
			t.Left, t.Right = x, right
			if !yield(t) {
				return
			}
			x = right
		}
	}
}

// TreeAt returns a copy of the tree covering position pos.
func (ts *TreeSequence) TreeAt(pos float64) (*Tree, error) {
	if pos < 0 || pos >= ts.l.SequenceLength() {
		return nil, fmt.Errorf("%w: position %v outside [0, %v)", ledger.ErrMalformedGeometry, pos, ts.l.SequenceLength())
	}
	for t := range ts.Trees() {
		if pos < t.Right {
			return t.Clone(), nil
		}
	}
	return nil, fmt.Errorf("no tree covers position %v", pos)
}

// Roots returns the roots of the tree at pos that have sample descendants.
func (ts *TreeSequence) Roots(pos float64) ([]ledger.NodeID, error) {
	t, err := ts.TreeAt(pos)
	if err != nil {
		return nil, err
	}
	return t.Roots(), nil
}

// TMRCA returns the time of the most recent common ancestor of a and b at
// pos. ok is false when they do not coalesce in that tree.
func (ts *TreeSequence) TMRCA(pos float64, a, b ledger.NodeID) (time float64, ok bool, err error) {
	t, err := ts.TreeAt(pos)
	if err != nil {
		return 0, false, err
	}
	time, ok, err = t.TMRCA(a, b)
	return time, ok, err
}
