package population

import (
	"math/rand/v2"
	"testing"

	"github.com/nvandessel/lineage/internal/inherit"
	"github.com/nvandessel/lineage/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdvancer(t *testing.T, cohort int, gen inherit.Generator) *Advancer {
	t.Helper()
	l, err := ledger.New(50000)
	require.NoError(t, err)
	return &Advancer{
		Ledger:     l,
		Generator:  gen,
		Select:     UniformWithReplacement,
		CohortSize: cohort,
		Ploidy:     2,
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		ploidy  int
		members []Member
		wantErr bool
	}{
		{"empty", 2, nil, false},
		{"valid", 2, []Member{{Individual: 0, Genomes: []ledger.NodeID{0, 1}}}, false},
		{"wrong arity", 2, []Member{{Individual: 0, Genomes: []ledger.NodeID{0}}}, true},
		{"duplicate individual", 1, []Member{
			{Individual: 3, Genomes: []ledger.NodeID{0}},
			{Individual: 3, Genomes: []ledger.NodeID{1}},
		}, true},
		{"zero ploidy", 0, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ploidy, tt.members)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPopulation_IsImmutable(t *testing.T) {
	genomes := []ledger.NodeID{4, 5}
	p, err := New(2, []Member{{Individual: 9, Genomes: genomes}})
	require.NoError(t, err)

	genomes[0] = 100
	got, ok := p.Genomes(9)
	require.True(t, ok)
	assert.Equal(t, []ledger.NodeID{4, 5}, got)

	got[1] = 100
	again, _ := p.Genomes(9)
	assert.Equal(t, []ledger.NodeID{4, 5}, again)

	_, ok = p.Genomes(1)
	assert.False(t, ok)
}

func TestAdvance_Founders(t *testing.T) {
	a := newAdvancer(t, 6, inherit.NoRecombination{})
	rng := rand.New(rand.NewPCG(1, 1))

	pop, err := a.Advance(rng, nil, 1)
	require.NoError(t, err)

	assert.Equal(t, 6, pop.Len())
	assert.Equal(t, 12, a.Ledger.NodeCount())
	assert.Equal(t, 0, a.Ledger.EdgeCount())
	assert.Len(t, a.Ledger.NodesAt(1), 12)
	assert.Equal(t, []ledger.IndividualID{0, 1, 2, 3, 4, 5}, pop.Individuals())
}

// One generation from six founders: twelve children, each with exactly one
// edge to a time-1 parent, and no edges among the founders.
func TestAdvance_OneGenerationNoRecombination(t *testing.T) {
	a := newAdvancer(t, 6, inherit.NoRecombination{})
	rng := rand.New(rand.NewPCG(2, 3))

	founders, err := a.Advance(rng, nil, 1)
	require.NoError(t, err)
	children, err := a.Advance(rng, founders, 0)
	require.NoError(t, err)

	childNodes := children.Nodes()
	require.Len(t, childNodes, 12)
	assert.Len(t, a.Ledger.NodesAt(0), 12)

	nodes := a.Ledger.Nodes()
	perChild := map[ledger.NodeID]int{}
	for _, e := range a.Ledger.Edges() {
		perChild[e.Child]++
		assert.Equal(t, 1.0, nodes[e.Parent].Time, "parent must be a founder")
		assert.Equal(t, 0.0, nodes[e.Child].Time, "founders never receive edges")
		assert.Equal(t, 0.0, e.Left)
		assert.Equal(t, 50000.0, e.Right)
	}
	for _, c := range childNodes {
		assert.Equal(t, 1, perChild[c], "child %d", c)
	}
	assert.Equal(t, 12, a.Ledger.EdgeCount())
}

func TestAdvance_RecordsParentsAndTimeOrder(t *testing.T) {
	a := newAdvancer(t, 10, inherit.Crossover{Rate: 1e-4})
	rng := rand.New(rand.NewPCG(8, 9))

	pop, err := a.Advance(rng, nil, 5)
	require.NoError(t, err)
	for gen := 4; gen >= 0; gen-- {
		prev := pop
		pop, err = a.Advance(rng, prev, float64(gen))
		require.NoError(t, err)

		for _, m := range pop.Members() {
			ind, err := a.Ledger.Individual(m.Individual)
			require.NoError(t, err)
			require.Len(t, ind.Parents, 2)
			for _, p := range ind.Parents {
				_, ok := prev.Genomes(p)
				assert.True(t, ok, "parent %d must come from the previous cohort", p)
			}
		}
	}

	require.NoError(t, a.Ledger.Validate())
	nodes := a.Ledger.Nodes()
	for _, e := range a.Ledger.Edges() {
		assert.Greater(t, nodes[e.Parent].Time, nodes[e.Child].Time)
	}
}

func TestAdvance_EmptyPrevious(t *testing.T) {
	a := newAdvancer(t, 2, inherit.NoRecombination{})
	empty, err := New(2, nil)
	require.NoError(t, err)

	_, err = a.Advance(rand.New(rand.NewPCG(0, 0)), empty, 0)
	assert.Error(t, err)
}

func TestAdvance_UnknownSelectedParent(t *testing.T) {
	a := newAdvancer(t, 2, inherit.NoRecombination{})
	rng := rand.New(rand.NewPCG(0, 0))
	founders, err := a.Advance(rng, nil, 1)
	require.NoError(t, err)

	a.Select = func(*Population, *rand.Rand) (ledger.IndividualID, ledger.IndividualID) {
		return 0, 77
	}
	_, err = a.Advance(rng, founders, 0)
	assert.ErrorIs(t, err, ledger.ErrUnknownIdentifier)
}

func TestUniformOutcrossing_DistinctParents(t *testing.T) {
	members := make([]Member, 5)
	for i := range members {
		members[i] = Member{Individual: ledger.IndividualID(i), Genomes: []ledger.NodeID{ledger.NodeID(i)}}
	}
	pop, err := New(1, members)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(4, 4))
	for range 500 {
		a, b := UniformOutcrossing(pop, rng)
		assert.NotEqual(t, a, b)
	}
}

func TestSelectorByName(t *testing.T) {
	for _, name := range []string{"", "random", "outcrossing"} {
		s, err := SelectorByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}
	_, err := SelectorByName("assortative")
	assert.Error(t, err)
}

func TestTransmittingPair(t *testing.T) {
	rng := rand.New(rand.NewPCG(6, 6))

	assert.Equal(t, [2]ledger.NodeID{3, 3}, transmittingPair(rng, []ledger.NodeID{3}))
	assert.Equal(t, [2]ledger.NodeID{3, 4}, transmittingPair(rng, []ledger.NodeID{3, 4}))

	for range 100 {
		pair := transmittingPair(rng, []ledger.NodeID{1, 2, 3, 4})
		assert.NotEqual(t, pair[0], pair[1])
	}
}
