// Package backup writes compressed, checksummed ledger snapshots and prunes
// them under a retention policy.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nvandessel/lineage/internal/ledger"
	"github.com/nvandessel/lineage/internal/population"
	"github.com/nvandessel/lineage/internal/simulation"
)

// SnapshotExt is the file extension of snapshot files.
const SnapshotExt = ".snap"

// Snapshot is the payload of a snapshot file: the ledger tables and the
// living population right after a compaction.
type Snapshot struct {
	RunID          string              `json:"run_id,omitempty"`
	Generation     int                 `json:"generation"`
	Final          bool                `json:"final"`
	CreatedAt      time.Time           `json:"created_at"`
	SequenceLength float64             `json:"sequence_length"`
	Nodes          []ledger.Node       `json:"nodes"`
	Edges          []ledger.Edge       `json:"edges"`
	Individuals    []ledger.Individual `json:"individuals"`
	Ploidy         int                 `json:"ploidy,omitempty"`
	Members        []population.Member `json:"members,omitempty"`
	Metadata       map[string]string   `json:"metadata,omitempty"`
}

// NewSnapshot copies the tables of l and the members of pop. pop may be nil.
func NewSnapshot(runID string, generation int, final bool, l *ledger.Ledger, pop *population.Population) *Snapshot {
	snap := &Snapshot{
		RunID:          runID,
		Generation:     generation,
		Final:          final,
		CreatedAt:      time.Now().UTC(),
		SequenceLength: l.SequenceLength(),
		Nodes:          l.Nodes(),
		Edges:          l.Edges(),
		Individuals:    l.Individuals(),
	}
	if pop != nil {
		snap.Ploidy = pop.Ploidy()
		snap.Members = pop.Members()
	}
	return snap
}

// Ledger rebuilds and validates the snapshot's ledger.
func (s *Snapshot) Ledger() (*ledger.Ledger, error) {
	return ledger.FromTables(s.SequenceLength, s.Nodes, s.Edges, s.Individuals)
}

// Population rebuilds the living population, or returns nil when the
// snapshot has none.
func (s *Snapshot) Population() (*population.Population, error) {
	if len(s.Members) == 0 {
		return nil, nil
	}
	return population.New(s.Ploidy, s.Members)
}

// SnapshotPath returns the file for generation within dir. The generation is
// zero-padded so names sort in generation order.
func SnapshotPath(dir string, generation int) string {
	return filepath.Join(dir, fmt.Sprintf("gen-%09d%s", generation, SnapshotExt))
}

// Checkpointer writes a snapshot after every compaction of one run and
// rotates old ones away. Its Hook method plugs into the driver.
type Checkpointer struct {
	Dir   string
	RunID string
	// Keep is the number of snapshots retained; zero keeps all of them.
	Keep     int
	Metadata map[string]string
	Logger   *slog.Logger
}

// Hook is a simulation.CompactionHook.
func (c *Checkpointer) Hook(ctx context.Context, ev simulation.CompactionEvent) error {
	snap := NewSnapshot(c.RunID, ev.Generation, ev.Final, ev.Ledger, ev.Population)
	snap.Metadata = c.Metadata

	path := SnapshotPath(c.Dir, ev.Generation)
	header, err := WriteSnapshot(path, snap)
	if err != nil {
		return fmt.Errorf("checkpoint at generation %d: %w", ev.Generation, err)
	}
	if c.Logger != nil {
		c.Logger.Debug("checkpoint written",
			"path", path,
			"generation", header.Generation,
			"nodes", header.NodeCount,
			"edges", header.EdgeCount)
	}

	if c.Keep > 0 {
		deleted, err := ApplyRetention(c.Dir, &CountPolicy{MaxCount: c.Keep})
		if err != nil {
			return fmt.Errorf("rotating checkpoints: %w", err)
		}
		if c.Logger != nil && len(deleted) > 0 {
			c.Logger.Debug("checkpoints rotated", "deleted", len(deleted))
		}
	}
	return nil
}

var _ simulation.CompactionHook = (&Checkpointer{}).Hook
