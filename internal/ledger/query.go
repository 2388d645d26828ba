package ledger

import "fmt"

// Row sizes used for byte-size introspection. They match the in-memory
// layout of Node and Edge; individuals add one IndividualID per parent.
const (
	nodeRowBytes       = 16
	edgeRowBytes       = 24
	individualRowBytes = 24
	parentRefBytes     = 4
)

// Stats summarizes table sizes for diagnostics.
type Stats struct {
	Nodes       int   `json:"nodes"`
	Edges       int   `json:"edges"`
	Individuals int   `json:"individuals"`
	Samples     int   `json:"samples"`
	Bytes       int64 `json:"bytes"`
}

// Stats returns row counts and the approximate table footprint.
func (l *Ledger) Stats() Stats {
	samples := 0
	for _, n := range l.nodes {
		if n.IsSample() {
			samples++
		}
	}
	return Stats{
		Nodes:       len(l.nodes),
		Edges:       len(l.edges),
		Individuals: len(l.individuals),
		Samples:     samples,
		Bytes:       l.ByteSize(),
	}
}

// ByteSize returns the approximate number of bytes held by the three tables.
func (l *Ledger) ByteSize() int64 {
	size := int64(len(l.nodes))*nodeRowBytes + int64(len(l.edges))*edgeRowBytes
	for _, ind := range l.individuals {
		size += individualRowBytes + int64(len(ind.Parents))*parentRefBytes
	}
	return size
}

// NodesAt returns the ids of all nodes born exactly at time t, in id order.
func (l *Ledger) NodesAt(t float64) []NodeID {
	var ids []NodeID
	for i, n := range l.nodes {
		if n.Time == t {
			ids = append(ids, NodeID(i))
		}
	}
	return ids
}

// SamplesAt returns the ids of sample nodes born exactly at time t.
func (l *Ledger) SamplesAt(t float64) []NodeID {
	var ids []NodeID
	for i, n := range l.nodes {
		if n.Time == t && n.IsSample() {
			ids = append(ids, NodeID(i))
		}
	}
	return ids
}

// Samples returns the ids of all sample nodes in id order.
func (l *Ledger) Samples() []NodeID {
	var ids []NodeID
	for i, n := range l.nodes {
		if n.IsSample() {
			ids = append(ids, NodeID(i))
		}
	}
	return ids
}

// NodeIndividual returns the individual owning node id, or NoIndividual.
func (l *Ledger) NodeIndividual(id NodeID) (IndividualID, error) {
	if !l.hasNode(id) {
		return NoIndividual, fmt.Errorf("%w: node %d", ErrUnknownIdentifier, id)
	}
	return l.nodes[id].Individual, nil
}

// IndividualNodes returns the nodes owned by individual id, in id order.
func (l *Ledger) IndividualNodes(id IndividualID) ([]NodeID, error) {
	if !l.hasIndividual(id) {
		return nil, fmt.Errorf("%w: individual %d", ErrUnknownIdentifier, id)
	}
	var ids []NodeID
	for i, n := range l.nodes {
		if n.Individual == id {
			ids = append(ids, NodeID(i))
		}
	}
	return ids, nil
}

// MaxTime returns the age of the oldest node, or 0 for an empty ledger.
func (l *Ledger) MaxTime() float64 {
	var t float64
	for _, n := range l.nodes {
		if n.Time > t {
			t = n.Time
		}
	}
	return t
}
