// Package inherit generates the inheritance paths that connect a child
// genome to the two genomes of one parent: which intervals of the sequence
// were copied from which parental genome.
package inherit

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/nvandessel/lineage/internal/ledger"
)

// Generator appends the edges that give child its ancestry from one of the
// two parental genomes. Edges appended by one call never overlap.
type Generator interface {
	Inherit(rng *rand.Rand, l *ledger.Ledger, parents [2]ledger.NodeID, child ledger.NodeID) error
}

// New returns the generator matching a recombination rate: NoRecombination
// for a zero rate, Crossover otherwise.
func New(rate float64, integerSites bool) (Generator, error) {
	if rate < 0 {
		return nil, fmt.Errorf("recombination rate must be non-negative, got %v", rate)
	}
	if rate == 0 {
		return NoRecombination{}, nil
	}
	return Crossover{Rate: rate, IntegerSites: integerSites}, nil
}

// NoRecombination copies a single focal interval from one parental genome
// chosen uniformly at random. The zero value covers the whole sequence.
type NoRecombination struct {
	Left  float64
	Right float64
}

// Inherit implements Generator.
func (g NoRecombination) Inherit(rng *rand.Rand, l *ledger.Ledger, parents [2]ledger.NodeID, child ledger.NodeID) error {
	left, right := g.Left, g.Right
	if left == 0 && right == 0 {
		right = l.SequenceLength()
	}
	parent := parents[rng.IntN(2)]
	if err := l.AddEdge(left, right, parent, child); err != nil {
		return fmt.Errorf("inheriting [%v, %v) from %d: %w", left, right, parent, err)
	}
	return nil
}

// Crossover copies alternating intervals from the two parental genomes.
// Breakpoints form a Poisson process with intensity Rate per unit of
// sequence; when IntegerSites is set they fall on the sites 1..L-1.
type Crossover struct {
	Rate         float64
	IntegerSites bool
}

// Inherit implements Generator.
func (g Crossover) Inherit(rng *rand.Rand, l *ledger.Ledger, parents [2]ledger.NodeID, child ledger.NodeID) error {
	seqLen := l.SequenceLength()
	points := g.Breakpoints(rng, seqLen)

	current := rng.IntN(2)
	left := 0.0
	for _, right := range append(points, seqLen) {
		if err := l.AddEdge(left, right, parents[current], child); err != nil {
			return fmt.Errorf("inheriting [%v, %v) from %d: %w", left, right, parents[current], err)
		}
		left = right
		current = 1 - current
	}
	return nil
}

// Breakpoints draws the sorted crossover positions for one transmission.
// Positions hit an even number of times cancel out; an odd count leaves a
// single crossover. The result never contains 0 or seqLen.
func (g Crossover) Breakpoints(rng *rand.Rand, seqLen float64) []float64 {
	n := poissonCount(rng, g.Rate*seqLen)
	if n == 0 {
		return nil
	}

	raw := make([]float64, 0, n)
	sites := int64(seqLen)
	for range n {
		if g.IntegerSites {
			if sites < 2 {
				break
			}
			raw = append(raw, float64(1+rng.Int64N(sites-1)))
			continue
		}
		x := rng.Float64() * seqLen
		if x <= 0 || x >= seqLen {
			continue
		}
		raw = append(raw, x)
	}
	return cancelPairs(raw)
}

// cancelPairs sorts points and keeps one copy of every position that occurs
// an odd number of times.
func cancelPairs(points []float64) []float64 {
	slices.Sort(points)
	out := points[:0]
	for i := 0; i < len(points); {
		j := i
		for j < len(points) && points[j] == points[i] {
			j++
		}
		if (j-i)%2 == 1 {
			out = append(out, points[i])
		}
		i = j
	}
	return out
}

// poissonCount returns the number of arrivals of a unit-rate Poisson process
// in [0, mean), which is Poisson(mean) distributed.
func poissonCount(rng *rand.Rand, mean float64) int {
	if !(mean > 0) {
		return 0
	}
	n := 0
	for t := rng.ExpFloat64(); t < mean; t += rng.ExpFloat64() {
		n++
	}
	return n
}
