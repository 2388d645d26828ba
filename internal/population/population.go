// Package population holds the transient "who is alive now" mapping of a
// simulation and the generation advancer that builds each new cohort.
package population

import (
	"fmt"

	"github.com/nvandessel/lineage/internal/ledger"
)

// Member is one living individual and its genomes, in ploidy order.
type Member struct {
	Individual ledger.IndividualID `json:"individual"`
	Genomes    []ledger.NodeID     `json:"genomes"`
}

// Population is an ordered, immutable mapping from individual id to genome
// tuple. Order is creation order and is preserved across remapping, so a
// parent chosen by position refers to the same organism whatever the ids.
type Population struct {
	ploidy  int
	members []Member
	index   map[ledger.IndividualID]int
}

// New builds a population from members. Every member must carry exactly
// ploidy genomes and individual ids must be unique.
func New(ploidy int, members []Member) (*Population, error) {
	if ploidy < 1 {
		return nil, fmt.Errorf("ploidy must be at least 1, got %d", ploidy)
	}
	p := &Population{
		ploidy:  ploidy,
		members: make([]Member, len(members)),
		index:   make(map[ledger.IndividualID]int, len(members)),
	}
	for i, m := range members {
		if len(m.Genomes) != ploidy {
			return nil, fmt.Errorf("individual %d has %d genomes, want %d", m.Individual, len(m.Genomes), ploidy)
		}
		if _, dup := p.index[m.Individual]; dup {
			return nil, fmt.Errorf("individual %d listed twice", m.Individual)
		}
		p.members[i] = Member{
			Individual: m.Individual,
			Genomes:    append([]ledger.NodeID(nil), m.Genomes...),
		}
		p.index[m.Individual] = i
	}
	return p, nil
}

// Len returns the number of living individuals.
func (p *Population) Len() int {
	if p == nil {
		return 0
	}
	return len(p.members)
}

// Ploidy returns the number of genomes per individual.
func (p *Population) Ploidy() int { return p.ploidy }

// At returns the i-th member in population order.
func (p *Population) At(i int) Member {
	m := p.members[i]
	m.Genomes = append([]ledger.NodeID(nil), m.Genomes...)
	return m
}

// Genomes returns the genome tuple of individual id.
func (p *Population) Genomes(id ledger.IndividualID) ([]ledger.NodeID, bool) {
	i, ok := p.index[id]
	if !ok {
		return nil, false
	}
	return append([]ledger.NodeID(nil), p.members[i].Genomes...), true
}

// Individuals returns the individual ids in population order.
func (p *Population) Individuals() []ledger.IndividualID {
	ids := make([]ledger.IndividualID, len(p.members))
	for i, m := range p.members {
		ids[i] = m.Individual
	}
	return ids
}

// Nodes returns every genome of every member, in population then ploidy
// order. This is the sample set handed to simplification.
func (p *Population) Nodes() []ledger.NodeID {
	ids := make([]ledger.NodeID, 0, len(p.members)*p.ploidy)
	for _, m := range p.members {
		ids = append(ids, m.Genomes...)
	}
	return ids
}

// Members returns a copy of all members in population order.
func (p *Population) Members() []Member {
	out := make([]Member, len(p.members))
	for i := range p.members {
		out[i] = p.At(i)
	}
	return out
}
