package simulation

import (
	"math/rand/v2"
	"testing"

	"github.com/nvandessel/lineage/internal/inherit"
	"github.com/nvandessel/lineage/internal/ledger"
	"github.com/nvandessel/lineage/internal/population"
	"github.com/nvandessel/lineage/internal/simplify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoCohorts builds founders plus one generation and returns the ledger and
// the child population.
func twoCohorts(t *testing.T) (*ledger.Ledger, *population.Population) {
	t.Helper()
	l, err := ledger.New(100)
	require.NoError(t, err)
	a := &population.Advancer{
		Ledger:     l,
		Generator:  inherit.Crossover{Rate: 0.02},
		Select:     population.UniformOutcrossing,
		CohortSize: 5,
		Ploidy:     2,
	}
	rng := rand.New(rand.NewPCG(3, 3))
	founders, err := a.Advance(rng, nil, 1)
	require.NoError(t, err)
	children, err := a.Advance(rng, founders, 0)
	require.NoError(t, err)
	return l, children
}

func TestRemapPopulation(t *testing.T) {
	l, pop := twoCohorts(t)
	res, err := simplify.Simplify(l, pop.Nodes(), simplify.Options{})
	require.NoError(t, err)

	next, indMap, err := RemapPopulation(pop, l, res)
	require.NoError(t, err)
	require.Equal(t, pop.Len(), next.Len())
	assert.Len(t, indMap, pop.Len())

	for i := range pop.Len() {
		before, after := pop.At(i), next.At(i)
		assert.Equal(t, indMap[before.Individual], after.Individual)
		for k, g := range before.Genomes {
			assert.Equal(t, res.Map(g), after.Genomes[k])
			n, err := res.Ledger.Node(after.Genomes[k])
			require.NoError(t, err)
			assert.Equal(t, after.Individual, n.Individual)
		}
	}
	// Samples come first, so the cohort now owns ids 0..9 in order.
	assert.Equal(t, []ledger.NodeID{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, next.Nodes())
}

func TestRemapPopulation_Inconsistent(t *testing.T) {
	l, pop := twoCohorts(t)
	res, err := simplify.Simplify(l, pop.Nodes(), simplify.Options{})
	require.NoError(t, err)

	t.Run("removed genome", func(t *testing.T) {
		broken := &simplify.Result{Ledger: res.Ledger, NodeMap: append([]ledger.NodeID(nil), res.NodeMap...)}
		broken.NodeMap[pop.At(2).Genomes[1]] = ledger.NullNode
		_, _, err := RemapPopulation(pop, l, broken)
		assert.ErrorIs(t, err, ErrInconsistentRemap)
	})

	t.Run("split individual", func(t *testing.T) {
		broken := &simplify.Result{Ledger: res.Ledger, NodeMap: append([]ledger.NodeID(nil), res.NodeMap...)}
		g0, g1 := pop.At(0).Genomes[0], pop.At(1).Genomes[0]
		broken.NodeMap[g0], broken.NodeMap[g1] = broken.NodeMap[g1], broken.NodeMap[g0]
		_, _, err := RemapPopulation(pop, l, broken)
		assert.ErrorIs(t, err, ErrInconsistentRemap)
	})

	t.Run("genome of another individual", func(t *testing.T) {
		m := pop.At(0)
		other := pop.At(1)
		wrong, err := population.New(2, []population.Member{
			{Individual: m.Individual, Genomes: []ledger.NodeID{m.Genomes[0], other.Genomes[1]}},
		})
		require.NoError(t, err)
		_, _, err = RemapPopulation(wrong, l, res)
		assert.ErrorIs(t, err, ErrInconsistentRemap)
	})

	t.Run("node outside the ledger", func(t *testing.T) {
		ghost, err := population.New(1, []population.Member{{Individual: 0, Genomes: []ledger.NodeID{500}}})
		require.NoError(t, err)
		_, _, err = RemapPopulation(ghost, l, res)
		assert.ErrorIs(t, err, ErrInconsistentRemap)
	})
}
