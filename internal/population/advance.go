package population

import (
	"fmt"
	"math/rand/v2"

	"github.com/nvandessel/lineage/internal/inherit"
	"github.com/nvandessel/lineage/internal/ledger"
)

// ParentSelector picks the two parents of one new individual from the
// previous population. It is called once per new individual.
type ParentSelector func(prev *Population, rng *rand.Rand) (ledger.IndividualID, ledger.IndividualID)

// UniformWithReplacement draws both parents uniformly and independently, so
// an individual may be chosen twice (self-fertilization).
func UniformWithReplacement(prev *Population, rng *rand.Rand) (ledger.IndividualID, ledger.IndividualID) {
	n := prev.Len()
	a := prev.members[rng.IntN(n)].Individual
	b := prev.members[rng.IntN(n)].Individual
	return a, b
}

// UniformOutcrossing draws two distinct parents uniformly. A population of
// one falls back to selfing.
func UniformOutcrossing(prev *Population, rng *rand.Rand) (ledger.IndividualID, ledger.IndividualID) {
	n := prev.Len()
	if n < 2 {
		return UniformWithReplacement(prev, rng)
	}
	i := rng.IntN(n)
	j := rng.IntN(n - 1)
	if j >= i {
		j++
	}
	return prev.members[i].Individual, prev.members[j].Individual
}

// SelectorByName resolves a mating scheme name from configuration.
func SelectorByName(name string) (ParentSelector, error) {
	switch name {
	case "", "random":
		return UniformWithReplacement, nil
	case "outcrossing":
		return UniformOutcrossing, nil
	default:
		return nil, fmt.Errorf("unknown mating scheme %q (valid: random, outcrossing)", name)
	}
}

// Advancer appends one cohort of individuals per call to a ledger.
type Advancer struct {
	Ledger     *ledger.Ledger
	Generator  inherit.Generator
	Select     ParentSelector
	CohortSize int
	Ploidy     int
}

// Advance creates CohortSize individuals born at time and returns them as
// the new population. With a nil prev it creates founders without edges;
// otherwise every genome of a new individual inherits from one of the two
// selected parents.
func (a *Advancer) Advance(rng *rand.Rand, prev *Population, time float64) (*Population, error) {
	if a.CohortSize < 1 {
		return nil, fmt.Errorf("cohort size must be positive, got %d", a.CohortSize)
	}
	if a.Ploidy < 1 {
		return nil, fmt.Errorf("ploidy must be at least 1, got %d", a.Ploidy)
	}
	if prev != nil && prev.Len() == 0 {
		return nil, fmt.Errorf("previous population is empty")
	}

	members := make([]Member, 0, a.CohortSize)
	for range a.CohortSize {
		m, err := a.newMember(rng, prev, time)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return New(a.Ploidy, members)
}

func (a *Advancer) newMember(rng *rand.Rand, prev *Population, time float64) (Member, error) {
	if prev == nil {
		ind, err := a.Ledger.AddIndividual()
		if err != nil {
			return Member{}, err
		}
		genomes, err := a.addGenomes(ind, time)
		if err != nil {
			return Member{}, err
		}
		return Member{Individual: ind, Genomes: genomes}, nil
	}

	pa, pb := a.Select(prev, rng)
	parents := [2]ledger.IndividualID{pa, pb}
	parentGenomes := [2][]ledger.NodeID{}
	for k, p := range parents {
		g, ok := prev.Genomes(p)
		if !ok {
			return Member{}, fmt.Errorf("%w: selected parent %d is not in the population", ledger.ErrUnknownIdentifier, p)
		}
		parentGenomes[k] = g
	}

	ind, err := a.Ledger.AddIndividual(pa, pb)
	if err != nil {
		return Member{}, err
	}
	genomes, err := a.addGenomes(ind, time)
	if err != nil {
		return Member{}, err
	}

	for k, child := range genomes {
		pair := transmittingPair(rng, parentGenomes[k%2])
		if err := a.Generator.Inherit(rng, a.Ledger, pair, child); err != nil {
			return Member{}, fmt.Errorf("individual %d genome %d: %w", ind, k, err)
		}
	}
	return Member{Individual: ind, Genomes: genomes}, nil
}

func (a *Advancer) addGenomes(ind ledger.IndividualID, time float64) ([]ledger.NodeID, error) {
	genomes := make([]ledger.NodeID, a.Ploidy)
	for k := range genomes {
		id, err := a.Ledger.AddNode(time, ind, false)
		if err != nil {
			return nil, err
		}
		genomes[k] = id
	}
	return genomes, nil
}

// transmittingPair returns the two parental genomes a gamete is built from.
// Haploid parents pass their single genome; polyploid parents pass two
// distinct genomes drawn uniformly.
func transmittingPair(rng *rand.Rand, genomes []ledger.NodeID) [2]ledger.NodeID {
	switch len(genomes) {
	case 1:
		return [2]ledger.NodeID{genomes[0], genomes[0]}
	case 2:
		return [2]ledger.NodeID{genomes[0], genomes[1]}
	}
	i := rng.IntN(len(genomes))
	j := rng.IntN(len(genomes) - 1)
	if j >= i {
		j++
	}
	return [2]ledger.NodeID{genomes[i], genomes[j]}
}
