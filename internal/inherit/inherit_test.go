package inherit

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/nvandessel/lineage/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrio(t *testing.T, seqLen float64) (*ledger.Ledger, [2]ledger.NodeID, ledger.NodeID) {
	t.Helper()
	l, err := ledger.New(seqLen)
	require.NoError(t, err)
	a, err := l.AddNode(1, ledger.NoIndividual, false)
	require.NoError(t, err)
	b, err := l.AddNode(1, ledger.NoIndividual, false)
	require.NoError(t, err)
	c, err := l.AddNode(0, ledger.NoIndividual, true)
	require.NoError(t, err)
	return l, [2]ledger.NodeID{a, b}, c
}

// requirePartition asserts the child's edges tile [0, seqLen) without overlap
// and alternate between the two parents.
func requirePartition(t *testing.T, l *ledger.Ledger, parents [2]ledger.NodeID, child ledger.NodeID) {
	t.Helper()
	var edges []ledger.Edge
	for _, e := range l.Edges() {
		if e.Child == child {
			edges = append(edges, e)
		}
	}
	require.NotEmpty(t, edges)
	slices.SortFunc(edges, func(a, b ledger.Edge) int {
		switch {
		case a.Left < b.Left:
			return -1
		case a.Left > b.Left:
			return 1
		}
		return 0
	})

	assert.Equal(t, 0.0, edges[0].Left)
	assert.Equal(t, l.SequenceLength(), edges[len(edges)-1].Right)
	for i := 1; i < len(edges); i++ {
		assert.Equal(t, edges[i-1].Right, edges[i].Left, "gap or overlap at edge %d", i)
		assert.NotEqual(t, edges[i-1].Parent, edges[i].Parent, "adjacent intervals must switch parent")
	}
	for _, e := range edges {
		assert.Contains(t, parents[:], e.Parent)
	}
}

func TestNew(t *testing.T) {
	g, err := New(0, false)
	require.NoError(t, err)
	assert.IsType(t, NoRecombination{}, g)

	g, err = New(1e-8, true)
	require.NoError(t, err)
	assert.Equal(t, Crossover{Rate: 1e-8, IntegerSites: true}, g)

	_, err = New(-1, false)
	assert.Error(t, err)
}

func TestNoRecombination_SingleEdge(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	seen := map[ledger.NodeID]bool{}

	for range 50 {
		l, parents, child := newTrio(t, 50000)
		require.NoError(t, NoRecombination{}.Inherit(rng, l, parents, child))
		require.Equal(t, 1, l.EdgeCount())

		e, err := l.Edge(0)
		require.NoError(t, err)
		assert.Equal(t, ledger.Edge{Left: 0, Right: 50000, Parent: e.Parent, Child: child}, e)
		seen[e.Parent] = true
	}
	assert.Len(t, seen, 2, "both parental genomes should be chosen over 50 draws")
}

func TestNoRecombination_FocalInterval(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	l, parents, child := newTrio(t, 100)

	require.NoError(t, NoRecombination{Left: 10, Right: 20}.Inherit(rng, l, parents, child))
	e, err := l.Edge(0)
	require.NoError(t, err)
	assert.Equal(t, 10.0, e.Left)
	assert.Equal(t, 20.0, e.Right)

	err = NoRecombination{Left: 10, Right: 200}.Inherit(rng, l, parents, child)
	assert.ErrorIs(t, err, ledger.ErrMalformedGeometry)
}

func TestCrossover_PartitionsSequence(t *testing.T) {
	tests := []struct {
		name    string
		gen     Crossover
		seqLen  float64
		minEdge int
	}{
		{"continuous", Crossover{Rate: 1e-3}, 10000, 2},
		{"integer sites", Crossover{Rate: 1e-3, IntegerSites: true}, 10000, 2},
		{"tiny rate", Crossover{Rate: 1e-12}, 10000, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(7, 11))
			maxEdges := 0
			for range 100 {
				l, parents, child := newTrio(t, tt.seqLen)
				require.NoError(t, tt.gen.Inherit(rng, l, parents, child))
				requirePartition(t, l, parents, child)
				require.NoError(t, l.Validate())
				maxEdges = max(maxEdges, l.EdgeCount())
			}
			assert.GreaterOrEqual(t, maxEdges, tt.minEdge)
		})
	}
}

func TestCrossover_IntegerBreakpoints(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	g := Crossover{Rate: 0.01, IntegerSites: true}

	for range 200 {
		points := g.Breakpoints(rng, 100)
		assert.True(t, slices.IsSorted(points))
		for i, p := range points {
			assert.Equal(t, float64(int(p)), p, "breakpoint %v is not a site", p)
			assert.Greater(t, p, 0.0)
			assert.Less(t, p, 100.0)
			if i > 0 {
				assert.NotEqual(t, points[i-1], p, "duplicates must cancel or collapse")
			}
		}
	}
}

func TestCancelPairs(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"empty", nil, []float64{}},
		{"distinct", []float64{3, 1, 2}, []float64{1, 2, 3}},
		{"pair cancels", []float64{5, 2, 5}, []float64{2}},
		{"triple leaves one", []float64{4, 4, 4, 1}, []float64{1, 4}},
		{"all cancel", []float64{7, 7, 9, 9}, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cancelPairs(append([]float64(nil), tt.in...))
			assert.Equal(t, tt.want, append([]float64{}, got...))
		})
	}
}

func TestPoissonCount_Mean(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 42))
	const draws = 20000
	total := 0
	for range draws {
		total += poissonCount(rng, 3)
	}
	mean := float64(total) / draws
	assert.InDelta(t, 3.0, mean, 0.1)

	assert.Equal(t, 0, poissonCount(rng, 0))
	assert.Equal(t, 0, poissonCount(rng, -2))
}
