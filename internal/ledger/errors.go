package ledger

import "errors"

var (
	// ErrMalformedGeometry reports an interval outside the sequence, an empty
	// interval, a bad node time, or an edge whose parent is not older than its child.
	ErrMalformedGeometry = errors.New("malformed geometry")

	// ErrUnknownIdentifier reports a reference to a node, edge or individual
	// that does not exist in the ledger.
	ErrUnknownIdentifier = errors.New("unknown identifier")
)
