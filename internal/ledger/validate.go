package ledger

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// FromTables builds a ledger from raw tables, as read back from storage.
// The tables are copied and fully validated.
func FromTables(sequenceLength float64, nodes []Node, edges []Edge, individuals []Individual) (*Ledger, error) {
	l, err := New(sequenceLength)
	if err != nil {
		return nil, err
	}
	l.nodes = append([]Node(nil), nodes...)
	l.edges = append([]Edge(nil), edges...)
	l.individuals = make([]Individual, len(individuals))
	for i, ind := range individuals {
		l.individuals[i].Parents = append([]IndividualID(nil), ind.Parents...)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Validate checks every table invariant: node times and individual
// references, individual parent references, edge geometry and time order,
// and that no two edges of the same child overlap.
func (l *Ledger) Validate() error {
	for i, n := range l.nodes {
		if math.IsNaN(n.Time) || math.IsInf(n.Time, 0) || n.Time < 0 {
			return fmt.Errorf("%w: node %d has time %v", ErrMalformedGeometry, i, n.Time)
		}
		if n.Individual != NoIndividual && !l.hasIndividual(n.Individual) {
			return fmt.Errorf("%w: node %d references individual %d", ErrUnknownIdentifier, i, n.Individual)
		}
	}

	for i, ind := range l.individuals {
		for _, p := range ind.Parents {
			if p == NoIndividual {
				continue
			}
			if !l.hasIndividual(p) {
				return fmt.Errorf("%w: individual %d references parent %d", ErrUnknownIdentifier, i, p)
			}
			if p == IndividualID(i) {
				return fmt.Errorf("%w: individual %d references itself as a parent", ErrUnknownIdentifier, i)
			}
		}
	}

	for i, e := range l.edges {
		if err := l.checkEdge(e); err != nil {
			return fmt.Errorf("edge %d: %w", i, err)
		}
	}

	return l.checkChildOverlap()
}

// checkChildOverlap reports the first pair of edges that give the same child
// overlapping intervals.
func (l *Ledger) checkChildOverlap() error {
	idx := make([]int, len(l.edges))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int {
		ea, eb := l.edges[a], l.edges[b]
		if c := cmp.Compare(ea.Child, eb.Child); c != 0 {
			return c
		}
		return cmp.Compare(ea.Left, eb.Left)
	})
	for k := 1; k < len(idx); k++ {
		prev, cur := l.edges[idx[k-1]], l.edges[idx[k]]
		if prev.Child == cur.Child && cur.Left < prev.Right {
			return fmt.Errorf("%w: child %d inherits [%v, %v) and [%v, %v)",
				ErrMalformedGeometry, cur.Child, prev.Left, prev.Right, cur.Left, cur.Right)
		}
	}
	return nil
}
