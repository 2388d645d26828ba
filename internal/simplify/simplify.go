// Package simplify compacts a ledger to the ancestry of a set of sample
// nodes.
//
// Edges are visited grouped by parent, youngest parent first. Every input
// node carries a sorted list of segments saying, for each interval where it
// is ancestral to at least one sample, which output node that ancestry
// currently maps to. Processing a parent pulls the matching segments out of
// its children, sweeps them for overlaps and either passes single-lineage
// intervals straight through or, where two or more lineages meet, records
// the parent as a coalescence node with one edge per lineage.
package simplify

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/nvandessel/lineage/internal/ledger"
)

// ErrInconsistentSample reports a sample id that does not exist in the
// ledger or appears more than once.
var ErrInconsistentSample = errors.New("inconsistent sample")

// Options tune which nodes survive. The zero value removes unary nodes,
// drops input roots and filters the node table.
type Options struct {
	// KeepUnary retains nodes that pass ancestry to a single lineage.
	KeepUnary bool
	// KeepInputRoots retains the oldest ancestor of every sampled lineage
	// with unary edges down to the retained topology.
	KeepInputRoots bool
	// RetainAllNodes keeps every input node and only prunes edges.
	RetainAllNodes bool
}

// Result is a compacted ledger and the old-to-new node mapping. NodeMap has
// one entry per input node; removed nodes map to ledger.NullNode.
type Result struct {
	Ledger  *ledger.Ledger
	NodeMap []ledger.NodeID
}

// Map returns the new id of old node id, or ledger.NullNode.
func (r *Result) Map(id ledger.NodeID) ledger.NodeID {
	if id < 0 || int(id) >= len(r.NodeMap) {
		return ledger.NullNode
	}
	return r.NodeMap[id]
}

// Simplify returns a new ledger holding only the nodes and edges on lineages
// between samples and their ancestors. The input is not modified.
//
// Samples get ids 0..len(samples)-1 in the order given; the remaining
// survivors follow from youngest to oldest, ties broken by input id. Sample
// flags are set on the samples and cleared on every other node. Individuals
// referenced by a surviving node are kept in input order with their parent
// references remapped.
func Simplify(l *ledger.Ledger, samples []ledger.NodeID, opts Options) (*Result, error) {
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("simplify: %w", err)
	}
	s, err := newSimplifier(l, samples, opts)
	if err != nil {
		return nil, err
	}

	edges := l.Edges()
	nodes := s.nodes
	slices.SortStableFunc(edges, func(a, b ledger.Edge) int {
		return ledger.CanonicalOrder(nodes, a, b)
	})

	for start := 0; start < len(edges); {
		end := start + 1
		for end < len(edges) && edges[end].Parent == edges[start].Parent {
			end++
		}
		s.processParent(edges[start].Parent, edges[start:end])
		start = end
	}

	if opts.KeepInputRoots {
		s.insertInputRoots()
	}
	return s.finalise(samples)
}

type segment struct {
	left, right float64
	// node is the input id of the output node the interval maps to.
	node ledger.NodeID
}

type simplifier struct {
	in       *ledger.Ledger
	nodes    []ledger.Node
	opts     Options
	seqLen   float64
	isSample []bool
	kept     []bool
	ancestry [][]segment

	pending  map[ledger.NodeID][]segment
	children []ledger.NodeID
	out      []ledger.Edge
}

func newSimplifier(l *ledger.Ledger, samples []ledger.NodeID, opts Options) (*simplifier, error) {
	n := l.NodeCount()
	s := &simplifier{
		in:       l,
		nodes:    l.Nodes(),
		opts:     opts,
		seqLen:   l.SequenceLength(),
		isSample: make([]bool, n),
		kept:     make([]bool, n),
		ancestry: make([][]segment, n),
		pending:  make(map[ledger.NodeID][]segment),
	}
	for _, u := range samples {
		if u < 0 || int(u) >= n {
			return nil, fmt.Errorf("%w: node %d does not exist (ledger has %d nodes)", ErrInconsistentSample, u, n)
		}
		if s.isSample[u] {
			return nil, fmt.Errorf("%w: node %d listed twice", ErrInconsistentSample, u)
		}
		s.isSample[u] = true
		s.kept[u] = true
		s.ancestry[u] = []segment{{left: 0, right: s.seqLen, node: u}}
	}
	return s, nil
}

// processParent merges the ancestry that parent u receives through edges.
func (s *simplifier) processParent(u ledger.NodeID, edges []ledger.Edge) {
	var segs []segment
	for _, e := range edges {
		segs = s.extract(e.Child, e.Left, e.Right, segs)
	}
	if len(segs) == 0 {
		return
	}

	isSample := s.isSample[u]
	if isSample {
		// A sample maps the whole sequence to itself; rebuild that mapping
		// around the intervals its children contribute.
		s.ancestry[u] = nil
	}

	prevRight := 0.0
	overlaps(segs, func(left, right float64, x []segment) {
		anc := u
		switch {
		case len(x) > 1:
			for _, seg := range x {
				s.recordEdge(left, right, seg.node)
			}
		case isSample:
			s.recordEdge(left, right, x[0].node)
		case s.opts.KeepUnary:
			s.recordEdge(left, right, x[0].node)
		default:
			anc = x[0].node
		}
		if isSample && left != prevRight {
			s.addAncestry(u, prevRight, left, u)
		}
		s.addAncestry(u, left, right, anc)
		prevRight = right
	})
	if isSample && prevRight != s.seqLen {
		s.addAncestry(u, prevRight, s.seqLen, u)
	}

	if s.flushEdges(u) > 0 {
		s.kept[u] = true
	}
}

// extract removes the part of child's ancestry inside [left, right) and
// appends it to dst.
func (s *simplifier) extract(child ledger.NodeID, left, right float64, dst []segment) []segment {
	a := s.ancestry[child]
	if len(a) == 0 {
		return dst
	}
	rest := make([]segment, 0, len(a)+1)
	for _, x := range a {
		if x.right <= left || x.left >= right {
			rest = append(rest, x)
			continue
		}
		if x.left < left {
			rest = append(rest, segment{left: x.left, right: left, node: x.node})
		}
		dst = append(dst, segment{left: max(x.left, left), right: min(x.right, right), node: x.node})
		if x.right > right {
			rest = append(rest, segment{left: right, right: x.right, node: x.node})
		}
	}
	s.ancestry[child] = rest
	return dst
}

// addAncestry appends [left, right) -> node to u, extending the last
// segment when it abuts with the same node.
func (s *simplifier) addAncestry(u ledger.NodeID, left, right float64, node ledger.NodeID) {
	a := s.ancestry[u]
	if n := len(a); n > 0 && a[n-1].right == left && a[n-1].node == node {
		a[n-1].right = right
		return
	}
	s.ancestry[u] = append(a, segment{left: left, right: right, node: node})
}

// recordEdge buffers an output edge to child for the parent being processed,
// squashing it into the previous one when they abut.
func (s *simplifier) recordEdge(left, right float64, child ledger.NodeID) {
	buf, seen := s.pending[child]
	if n := len(buf); n > 0 && buf[n-1].right == left {
		buf[n-1].right = right
		return
	}
	if !seen {
		s.children = append(s.children, child)
	}
	s.pending[child] = append(buf, segment{left: left, right: right, node: child})
}

// flushEdges emits the buffered edges of parent in child order and returns
// how many were written.
func (s *simplifier) flushEdges(parent ledger.NodeID) int {
	if len(s.children) == 0 {
		return 0
	}
	slices.Sort(s.children)
	n := 0
	for _, c := range s.children {
		for _, seg := range s.pending[c] {
			s.out = append(s.out, ledger.Edge{Left: seg.left, Right: seg.right, Parent: parent, Child: c})
			n++
		}
		delete(s.pending, c)
	}
	s.children = s.children[:0]
	return n
}

// insertInputRoots keeps every node still holding ancestry that no parent
// edge claimed, linking it to the output nodes that ancestry maps to.
func (s *simplifier) insertInputRoots() {
	for i, a := range s.ancestry {
		u := ledger.NodeID(i)
		for k, x := range a {
			if x.node == u {
				continue
			}
			s.recordEdge(x.left, x.right, x.node)
			a[k].node = u
		}
		if s.flushEdges(u) > 0 {
			s.kept[u] = true
		}
	}
}

// finalise relabels survivors and assembles the output ledger.
func (s *simplifier) finalise(samples []ledger.NodeID) (*Result, error) {
	n := len(s.nodes)
	if s.opts.RetainAllNodes {
		for i := range s.kept {
			s.kept[i] = true
		}
	}

	nodeMap := make([]ledger.NodeID, n)
	for i := range nodeMap {
		nodeMap[i] = ledger.NullNode
	}
	order := make([]ledger.NodeID, 0, n)
	order = append(order, samples...)
	rest := make([]ledger.NodeID, 0, n-len(samples))
	for i := range n {
		if s.kept[i] && !s.isSample[i] {
			rest = append(rest, ledger.NodeID(i))
		}
	}
	slices.SortStableFunc(rest, func(a, b ledger.NodeID) int {
		return cmp.Compare(s.nodes[a].Time, s.nodes[b].Time)
	})
	order = append(order, rest...)
	for newID, old := range order {
		nodeMap[old] = ledger.NodeID(newID)
	}

	indMap, individuals, err := s.keepIndividuals(order)
	if err != nil {
		return nil, err
	}

	nodes := make([]ledger.Node, len(order))
	for newID, old := range order {
		in := s.nodes[old]
		node := ledger.Node{Time: in.Time, Individual: ledger.NoIndividual, Flags: in.Flags &^ ledger.FlagSample}
		if in.Individual != ledger.NoIndividual {
			node.Individual = indMap[in.Individual]
		}
		if s.isSample[old] {
			node.Flags |= ledger.FlagSample
		}
		nodes[newID] = node
	}

	edges := make([]ledger.Edge, len(s.out))
	for i, e := range s.out {
		edges[i] = ledger.Edge{Left: e.Left, Right: e.Right, Parent: nodeMap[e.Parent], Child: nodeMap[e.Child]}
	}

	out, err := ledger.FromTables(s.seqLen, nodes, edges, individuals)
	if err != nil {
		return nil, fmt.Errorf("simplify: assembling output: %w", err)
	}
	out.SortEdges(ledger.CanonicalOrder)
	return &Result{Ledger: out, NodeMap: nodeMap}, nil
}

// keepIndividuals returns the individuals referenced by surviving nodes, in
// input order, and the old-to-new individual mapping.
func (s *simplifier) keepIndividuals(order []ledger.NodeID) (map[ledger.IndividualID]ledger.IndividualID, []ledger.Individual, error) {
	var olds []ledger.IndividualID
	seen := make(map[ledger.IndividualID]bool)
	for _, old := range order {
		ind := s.nodes[old].Individual
		if ind != ledger.NoIndividual && !seen[ind] {
			seen[ind] = true
			olds = append(olds, ind)
		}
	}
	slices.Sort(olds)

	indMap := make(map[ledger.IndividualID]ledger.IndividualID, len(olds))
	for i, old := range olds {
		indMap[old] = ledger.IndividualID(i)
	}

	individuals := make([]ledger.Individual, len(olds))
	for i, old := range olds {
		in, err := s.in.Individual(old)
		if err != nil {
			return nil, nil, err
		}
		var parents []ledger.IndividualID
		for _, p := range in.Parents {
			np, ok := indMap[p]
			if !ok {
				np = ledger.NoIndividual
			}
			parents = append(parents, np)
		}
		individuals[i].Parents = parents
	}
	return indMap, individuals, nil
}
