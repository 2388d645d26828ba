package treeseq

import (
	"math/rand/v2"
	"testing"

	"github.com/nvandessel/lineage/internal/ledger"
	"github.com/nvandessel/lineage/internal/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recombinant builds two trees over [0,5) and [5,10):
//
//	     5            4
//	    / \         / | \
//	   3   4       3  1  2
//	  / \   \      |
//	 0   1   2     0
func recombinant(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(10)
	require.NoError(t, err)
	for _, tm := range []float64{0, 0, 0} {
		_, err := l.AddNode(tm, ledger.NoIndividual, true)
		require.NoError(t, err)
	}
	for _, tm := range []float64{1, 2, 3} {
		_, err := l.AddNode(tm, ledger.NoIndividual, false)
		require.NoError(t, err)
	}
	edges := []ledger.Edge{
		{Left: 0, Right: 5, Parent: 5, Child: 3},
		{Left: 0, Right: 5, Parent: 5, Child: 4},
		{Left: 0, Right: 10, Parent: 3, Child: 0},
		{Left: 0, Right: 5, Parent: 3, Child: 1},
		{Left: 5, Right: 10, Parent: 4, Child: 1},
		{Left: 0, Right: 10, Parent: 4, Child: 2},
		{Left: 5, Right: 10, Parent: 4, Child: 3},
	}
	for _, e := range edges {
		require.NoError(t, l.AddEdge(e.Left, e.Right, e.Parent, e.Child))
	}
	return l
}

func TestNew_SortsForExport(t *testing.T) {
	l := recombinant(t)
	ts, err := New(l)
	require.NoError(t, err)

	nodes := ts.Nodes()
	edges := ts.Edges()
	for i := 1; i < len(edges); i++ {
		pa, pb := nodes[edges[i-1].Parent].Time, nodes[edges[i].Parent].Time
		require.LessOrEqual(t, pa, pb)
		if pa == pb {
			require.LessOrEqual(t, edges[i-1].Left, edges[i].Left)
		}
	}
	// The source ledger keeps its own order.
	first, err := l.Edge(0)
	require.NoError(t, err)
	assert.Equal(t, ledger.NodeID(5), first.Parent)
}

func TestNew_RejectsInvalidLedger(t *testing.T) {
	l, err := ledger.New(10)
	require.NoError(t, err)
	p1, _ := l.AddNode(1, ledger.NoIndividual, false)
	p2, _ := l.AddNode(1, ledger.NoIndividual, false)
	c, _ := l.AddNode(0, ledger.NoIndividual, true)
	require.NoError(t, l.AddEdge(0, 6, p1, c))
	require.NoError(t, l.AddEdge(5, 10, p2, c))

	_, err = New(l)
	assert.ErrorIs(t, err, ledger.ErrMalformedGeometry)
}

func TestTrees(t *testing.T) {
	ts, err := New(recombinant(t))
	require.NoError(t, err)

	assert.Equal(t, 2, ts.NumTrees())
	assert.Equal(t, []float64{0, 5, 10}, ts.Breakpoints())

	var got []*Tree
	for tree := range ts.Trees() {
		got = append(got, tree.Clone())
	}
	require.Len(t, got, 2)

	left, right := got[0], got[1]
	assert.Equal(t, 0, left.Index)
	assert.Equal(t, 5.0, left.Span())
	assert.Equal(t, ledger.NodeID(3), left.Parent(0))
	assert.Equal(t, ledger.NodeID(3), left.Parent(1))
	assert.Equal(t, ledger.NodeID(4), left.Parent(2))
	assert.Equal(t, ledger.NodeID(5), left.Parent(3))
	assert.Equal(t, ledger.NodeID(5), left.Parent(4))
	assert.Equal(t, []ledger.NodeID{5}, left.Roots())
	assert.Equal(t, []ledger.NodeID{3, 4}, left.Children(5))

	assert.Equal(t, 1, right.Index)
	assert.Equal(t, 5.0, right.Left)
	assert.Equal(t, 10.0, right.Right)
	assert.Equal(t, ledger.NodeID(4), right.Parent(1))
	assert.Equal(t, ledger.NodeID(4), right.Parent(3))
	assert.Equal(t, ledger.NullNode, right.Parent(4))
	assert.Equal(t, ledger.NullNode, right.Parent(5))
	assert.Equal(t, []ledger.NodeID{4}, right.Roots())
}

func TestTrees_StopEarly(t *testing.T) {
	ts, err := New(recombinant(t))
	require.NoError(t, err)

	n := 0
	for range ts.Trees() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestTMRCA(t *testing.T) {
	ts, err := New(recombinant(t))
	require.NoError(t, err)

	tests := []struct {
		pos  float64
		a, b ledger.NodeID
		want float64
	}{
		{0, 0, 1, 1},
		{4.9, 0, 2, 3},
		{5, 0, 1, 2},
		{9, 1, 2, 2},
		{2, 2, 2, 0},
	}
	for _, tt := range tests {
		got, ok, err := ts.TMRCA(tt.pos, tt.a, tt.b)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got, "pos %v (%d,%d)", tt.pos, tt.a, tt.b)
	}

	_, _, err = ts.TMRCA(10, 0, 1)
	assert.ErrorIs(t, err, ledger.ErrMalformedGeometry)
	_, _, err = ts.TMRCA(1, 0, 42)
	assert.ErrorIs(t, err, ledger.ErrUnknownIdentifier)
}

func TestRoots_Disconnected(t *testing.T) {
	l, err := ledger.New(1)
	require.NoError(t, err)
	a, _ := l.AddNode(0, ledger.NoIndividual, true)
	b, _ := l.AddNode(0, ledger.NoIndividual, true)

	ts, err := New(l)
	require.NoError(t, err)
	assert.Equal(t, 1, ts.NumTrees())

	roots, err := ts.Roots(0.5)
	require.NoError(t, err)
	assert.Equal(t, []ledger.NodeID{a, b}, roots)

	_, ok, err := ts.TMRCA(0.5, a, b)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueries(t *testing.T) {
	ts, err := New(recombinant(t))
	require.NoError(t, err)

	assert.Equal(t, []ledger.NodeID{0, 1, 2}, ts.Samples())
	assert.Equal(t, []ledger.NodeID{0, 1, 2}, ts.SamplesAt(0))
	assert.Empty(t, ts.SamplesAt(1))

	ind, err := ts.NodeIndividual(4)
	require.NoError(t, err)
	assert.Equal(t, ledger.NoIndividual, ind)

	st := ts.Stats()
	assert.Equal(t, 6, st.Nodes)
	assert.Equal(t, 7, st.Edges)
	assert.Equal(t, 3, st.Samples)
	assert.Equal(t, 10.0, ts.SequenceLength())
}

// Trees built incrementally must match a direct lookup of the edge covering
// each position.
func TestTrees_MatchDirectLookup(t *testing.T) {
	d, err := simulation.New(simulation.Config{
		CohortSize:        12,
		Ploidy:            2,
		Generations:       40,
		SequenceLength:    1000,
		RecombinationRate: 5e-3,
		Seed:              7,
		Cadence:           simulation.Cadence{Every: 10},
	})
	require.NoError(t, err)
	require.NoError(t, d.Run(t.Context()))

	ts, err := New(d.Ledger())
	require.NoError(t, err)
	require.Greater(t, ts.NumTrees(), 1)

	edges := ts.Edges()
	span := 0.0
	count := 0
	for tree := range ts.Trees() {
		span += tree.Span()
		count++
		mid := (tree.Left + tree.Right) / 2
		for u := range ts.Nodes() {
			want := ledger.NullNode
			for _, e := range edges {
				if e.Child == ledger.NodeID(u) && e.Left <= mid && mid < e.Right {
					want = e.Parent
				}
			}
			require.Equal(t, want, tree.Parent(ledger.NodeID(u)), "tree %d node %d", tree.Index, u)
		}
		for _, r := range tree.Roots() {
			assert.Equal(t, ledger.NullNode, tree.Parent(r))
		}
	}
	assert.Equal(t, ts.NumTrees(), count)
	assert.InDelta(t, 1000.0, span, 1e-9)

	rng := rand.New(rand.NewPCG(1, 2))
	for range 20 {
		pos := rng.Float64() * 1000
		tree, err := ts.TreeAt(pos)
		require.NoError(t, err)
		assert.True(t, tree.Left <= pos && pos < tree.Right)
	}
}
