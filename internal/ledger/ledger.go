// Package ledger holds the append-only ancestry tables of a forward-time
// simulation: nodes (genomes), edges (inherited intervals) and individuals.
//
// The three tables are independent arenas. Rows are addressed by typed
// indices (NodeID, IndividualID) and never reference each other by pointer,
// so a whole ledger can be replaced wholesale after simplification.
package ledger

import (
	"fmt"
	"math"
)

// NodeID indexes the node table.
type NodeID int32

// IndividualID indexes the individual table.
type IndividualID int32

// NullNode marks "no node". Simplification also uses it for removed nodes.
const NullNode NodeID = -1

// NoIndividual marks a node that belongs to no individual, or a parent
// reference that did not survive simplification.
const NoIndividual IndividualID = -1

// NodeFlags is a bit set of node properties.
type NodeFlags uint32

// FlagSample marks a node whose ancestry is retained by simplification.
const FlagSample NodeFlags = 1 << 0

// Node is a genome born at Time generations ago.
type Node struct {
	Time       float64      `json:"time"`
	Individual IndividualID `json:"individual"`
	Flags      NodeFlags    `json:"flags"`
}

// IsSample reports whether the sample flag is set.
func (n Node) IsSample() bool {
	return n.Flags&FlagSample != 0
}

// Edge records that Parent transmitted the interval [Left, Right) to Child.
type Edge struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Parent NodeID  `json:"parent"`
	Child  NodeID  `json:"child"`
}

// Span returns Right - Left.
func (e Edge) Span() float64 {
	return e.Right - e.Left
}

// Individual groups the genomes of one organism. Its nodes are found by
// reverse lookup on the node table.
type Individual struct {
	Parents []IndividualID `json:"parents,omitempty"`
}

// Ledger owns the node, edge and individual tables of one simulation.
// It is not safe for concurrent use.
type Ledger struct {
	seqLen      float64
	nodes       []Node
	edges       []Edge
	individuals []Individual
}

// New creates an empty ledger for a genome of the given sequence length.
func New(sequenceLength float64) (*Ledger, error) {
	if !(sequenceLength > 0) || math.IsInf(sequenceLength, 0) {
		return nil, fmt.Errorf("%w: sequence length must be positive and finite, got %v", ErrMalformedGeometry, sequenceLength)
	}
	return &Ledger{seqLen: sequenceLength}, nil
}

// SequenceLength returns the length of the simulated genome.
func (l *Ledger) SequenceLength() float64 {
	return l.seqLen
}

// AddNode appends a node and returns its id. individual may be NoIndividual.
func (l *Ledger) AddNode(time float64, individual IndividualID, isSample bool) (NodeID, error) {
	if math.IsNaN(time) || math.IsInf(time, 0) || time < 0 {
		return NullNode, fmt.Errorf("%w: node time must be finite and non-negative, got %v", ErrMalformedGeometry, time)
	}
	if individual != NoIndividual && !l.hasIndividual(individual) {
		return NullNode, fmt.Errorf("%w: node references individual %d", ErrUnknownIdentifier, individual)
	}
	if len(l.nodes) >= math.MaxInt32 {
		return NullNode, fmt.Errorf("node table full")
	}

	var flags NodeFlags
	if isSample {
		flags |= FlagSample
	}
	l.nodes = append(l.nodes, Node{Time: time, Individual: individual, Flags: flags})
	return NodeID(len(l.nodes) - 1), nil
}

// AddEdge appends an edge after checking its geometry and endpoints.
func (l *Ledger) AddEdge(left, right float64, parent, child NodeID) error {
	e := Edge{Left: left, Right: right, Parent: parent, Child: child}
	if err := l.checkEdge(e); err != nil {
		return err
	}
	l.edges = append(l.edges, e)
	return nil
}

// AddIndividual appends an individual with the given parents and returns its id.
func (l *Ledger) AddIndividual(parents ...IndividualID) (IndividualID, error) {
	for _, p := range parents {
		if !l.hasIndividual(p) {
			return NoIndividual, fmt.Errorf("%w: individual parent %d", ErrUnknownIdentifier, p)
		}
	}
	if len(l.individuals) >= math.MaxInt32 {
		return NoIndividual, fmt.Errorf("individual table full")
	}

	var ps []IndividualID
	if len(parents) > 0 {
		ps = append(make([]IndividualID, 0, len(parents)), parents...)
	}
	l.individuals = append(l.individuals, Individual{Parents: ps})
	return IndividualID(len(l.individuals) - 1), nil
}

// NodeCount returns the number of nodes.
func (l *Ledger) NodeCount() int { return len(l.nodes) }

// EdgeCount returns the number of edges.
func (l *Ledger) EdgeCount() int { return len(l.edges) }

// IndividualCount returns the number of individuals.
func (l *Ledger) IndividualCount() int { return len(l.individuals) }

// Node returns the node with the given id.
func (l *Ledger) Node(id NodeID) (Node, error) {
	if !l.hasNode(id) {
		return Node{}, fmt.Errorf("%w: node %d", ErrUnknownIdentifier, id)
	}
	return l.nodes[id], nil
}

// Edge returns the i-th edge in current table order.
func (l *Ledger) Edge(i int) (Edge, error) {
	if i < 0 || i >= len(l.edges) {
		return Edge{}, fmt.Errorf("%w: edge %d", ErrUnknownIdentifier, i)
	}
	return l.edges[i], nil
}

// Individual returns the individual with the given id.
func (l *Ledger) Individual(id IndividualID) (Individual, error) {
	if !l.hasIndividual(id) {
		return Individual{}, fmt.Errorf("%w: individual %d", ErrUnknownIdentifier, id)
	}
	ind := l.individuals[id]
	ind.Parents = append([]IndividualID(nil), ind.Parents...)
	return ind, nil
}

// Nodes returns a copy of the node table.
func (l *Ledger) Nodes() []Node {
	return append([]Node(nil), l.nodes...)
}

// Edges returns a copy of the edge table in current order.
func (l *Ledger) Edges() []Edge {
	return append([]Edge(nil), l.edges...)
}

// Individuals returns a deep copy of the individual table.
func (l *Ledger) Individuals() []Individual {
	out := make([]Individual, len(l.individuals))
	for i, ind := range l.individuals {
		out[i].Parents = append([]IndividualID(nil), ind.Parents...)
	}
	return out
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	return &Ledger{
		seqLen:      l.seqLen,
		nodes:       l.Nodes(),
		edges:       l.Edges(),
		individuals: l.Individuals(),
	}
}

func (l *Ledger) hasNode(id NodeID) bool {
	return id >= 0 && int(id) < len(l.nodes)
}

func (l *Ledger) hasIndividual(id IndividualID) bool {
	return id >= 0 && int(id) < len(l.individuals)
}

// checkEdge validates geometry, endpoints and time order of a single edge.
func (l *Ledger) checkEdge(e Edge) error {
	if math.IsNaN(e.Left) || math.IsNaN(e.Right) || e.Left < 0 || e.Right > l.seqLen || e.Right <= e.Left {
		return fmt.Errorf("%w: edge [%v, %v) outside [0, %v) or empty", ErrMalformedGeometry, e.Left, e.Right, l.seqLen)
	}
	if !l.hasNode(e.Parent) {
		return fmt.Errorf("%w: edge parent %d", ErrUnknownIdentifier, e.Parent)
	}
	if !l.hasNode(e.Child) {
		return fmt.Errorf("%w: edge child %d", ErrUnknownIdentifier, e.Child)
	}
	if l.nodes[e.Parent].Time <= l.nodes[e.Child].Time {
		return fmt.Errorf("%w: parent %d (time %v) is not older than child %d (time %v)",
			ErrMalformedGeometry, e.Parent, l.nodes[e.Parent].Time, e.Child, l.nodes[e.Child].Time)
	}
	return nil
}
