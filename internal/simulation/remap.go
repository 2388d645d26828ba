package simulation

import (
	"errors"
	"fmt"

	"github.com/nvandessel/lineage/internal/ledger"
	"github.com/nvandessel/lineage/internal/population"
	"github.com/nvandessel/lineage/internal/simplify"
)

// ErrInconsistentRemap reports a population that cannot be carried across a
// compaction: a genome linked to the wrong individual, a genome that did not
// survive, or genomes of one individual landing in different individuals.
var ErrInconsistentRemap = errors.New("inconsistent individual remap")

// RemapPopulation rebuilds pop in terms of the compacted ledger in res.
// before is the ledger res was computed from. Member order is preserved.
// It also returns the old-to-new individual mapping for every member.
func RemapPopulation(pop *population.Population, before *ledger.Ledger, res *simplify.Result) (*population.Population, map[ledger.IndividualID]ledger.IndividualID, error) {
	members := pop.Members()
	out := make([]population.Member, 0, len(members))
	indMap := make(map[ledger.IndividualID]ledger.IndividualID, len(members))

	for _, m := range members {
		newInd := ledger.NoIndividual
		genomes := make([]ledger.NodeID, len(m.Genomes))
		for k, g := range m.Genomes {
			old, err := before.Node(g)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: individual %d genome %d: %v", ErrInconsistentRemap, m.Individual, g, err)
			}
			if old.Individual != m.Individual {
				return nil, nil, fmt.Errorf("%w: genome %d belongs to individual %d, not %d",
					ErrInconsistentRemap, g, old.Individual, m.Individual)
			}

			id := res.Map(g)
			if id == ledger.NullNode {
				return nil, nil, fmt.Errorf("%w: genome %d of individual %d was removed", ErrInconsistentRemap, g, m.Individual)
			}
			node, err := res.Ledger.Node(id)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrInconsistentRemap, err)
			}
			if node.Individual == ledger.NoIndividual {
				return nil, nil, fmt.Errorf("%w: genome %d lost its individual", ErrInconsistentRemap, g)
			}
			if k > 0 && node.Individual != newInd {
				return nil, nil, fmt.Errorf("%w: individual %d split into %d and %d",
					ErrInconsistentRemap, m.Individual, newInd, node.Individual)
			}
			newInd = node.Individual
			genomes[k] = id
		}
		indMap[m.Individual] = newInd
		out = append(out, population.Member{Individual: newInd, Genomes: genomes})
	}

	next, err := population.New(pop.Ploidy(), out)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInconsistentRemap, err)
	}
	return next, indMap, nil
}
