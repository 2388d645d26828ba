// Package store persists finished ledgers.
//
// SQLiteRunStore keeps many runs in one database file; the JSONL functions
// write and read a single run as plain text tables for other tools.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nvandessel/lineage/internal/ledger"
)

// ErrRunNotFound is returned when a run id is not in the store.
var ErrRunNotFound = errors.New("run not found")

// RunInfo describes a stored run. Config holds the effective configuration
// as JSON so a run can be reproduced.
type RunInfo struct {
	ID             string    `json:"id"`
	Seed           uint64    `json:"seed"`
	Generations    int       `json:"generations"`
	SequenceLength float64   `json:"sequence_length"`
	Parent         string    `json:"parent,omitempty"`
	Config         string    `json:"config,omitempty"`
	CreatedAt      time.Time `json:"created_at"`

	Nodes       int `json:"nodes"`
	Edges       int `json:"edges"`
	Individuals int `json:"individuals"`
}

// RunStore saves and loads ledgers by run id.
type RunStore interface {
	// SaveRun stores l under info.ID, assigning a new id when it is empty.
	// The returned RunInfo carries the id and row counts.
	SaveRun(ctx context.Context, info RunInfo, l *ledger.Ledger) (RunInfo, error)
	LoadRun(ctx context.Context, id string) (RunInfo, *ledger.Ledger, error)
	GetRun(ctx context.Context, id string) (RunInfo, error)
	ListRuns(ctx context.Context) ([]RunInfo, error)
	DeleteRun(ctx context.Context, id string) error
	Close() error
}
