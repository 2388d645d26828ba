package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/lineage/internal/ledger"
)

// SQLiteRunStore implements RunStore on a single SQLite database.
type SQLiteRunStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

var _ RunStore = (*SQLiteRunStore)(nil)

// OpenSQLite opens or creates the database at dbPath and brings its schema
// up to date.
func OpenSQLite(dbPath string) (*SQLiteRunStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRunStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteRunStore) Path() string {
	return s.dbPath
}

// SaveRun stores l in one transaction. An existing run with the same id is
// replaced.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, info RunInfo, l *ledger.Ledger) (RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	info.SequenceLength = l.SequenceLength()
	info.Nodes = l.NodeCount()
	info.Edges = l.EdgeCount()
	info.Individuals = l.IndividualCount()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RunInfo{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Cascades clear the old tables of a replaced run.
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, info.ID); err != nil {
		return RunInfo{}, fmt.Errorf("failed to replace run %s: %w", info.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, seed, generations, sequence_length, parent_run, config, created_at,
			node_count, edge_count, individual_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, strconv.FormatUint(info.Seed, 10), info.Generations, info.SequenceLength,
		nullString(info.Parent), nullString(info.Config), info.CreatedAt.Format(time.RFC3339Nano),
		info.Nodes, info.Edges, info.Individuals)
	if err != nil {
		return RunInfo{}, fmt.Errorf("failed to insert run: %w", err)
	}

	if err := insertNodes(ctx, tx, info.ID, l.Nodes()); err != nil {
		return RunInfo{}, err
	}
	if err := insertEdges(ctx, tx, info.ID, l.Edges()); err != nil {
		return RunInfo{}, err
	}
	if err := insertIndividuals(ctx, tx, info.ID, l.Individuals()); err != nil {
		return RunInfo{}, err
	}

	if err := tx.Commit(); err != nil {
		return RunInfo{}, fmt.Errorf("failed to commit run %s: %w", info.ID, err)
	}
	return info, nil
}

func insertNodes(ctx context.Context, tx *sql.Tx, runID string, nodes []ledger.Node) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes (run_id, id, time, individual, flags) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare node insert: %w", err)
	}
	defer stmt.Close()
	for i, n := range nodes {
		if _, err := stmt.ExecContext(ctx, runID, i, n.Time, int64(n.Individual), int64(n.Flags)); err != nil {
			return fmt.Errorf("failed to insert node %d: %w", i, err)
		}
	}
	return nil
}

func insertEdges(ctx context.Context, tx *sql.Tx, runID string, edges []ledger.Edge) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO edges (run_id, seq, left_pos, right_pos, parent, child) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer stmt.Close()
	for i, e := range edges {
		if _, err := stmt.ExecContext(ctx, runID, i, e.Left, e.Right, int64(e.Parent), int64(e.Child)); err != nil {
			return fmt.Errorf("failed to insert edge %d: %w", i, err)
		}
	}
	return nil
}

func insertIndividuals(ctx context.Context, tx *sql.Tx, runID string, individuals []ledger.Individual) error {
	indStmt, err := tx.PrepareContext(ctx, `INSERT INTO individuals (run_id, id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare individual insert: %w", err)
	}
	defer indStmt.Close()
	parentStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO individual_parents (run_id, individual, position, parent) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare parent insert: %w", err)
	}
	defer parentStmt.Close()

	for i, ind := range individuals {
		if _, err := indStmt.ExecContext(ctx, runID, i); err != nil {
			return fmt.Errorf("failed to insert individual %d: %w", i, err)
		}
		for pos, p := range ind.Parents {
			if _, err := parentStmt.ExecContext(ctx, runID, i, pos, int64(p)); err != nil {
				return fmt.Errorf("failed to insert parent of individual %d: %w", i, err)
			}
		}
	}
	return nil
}

// LoadRun reads a run back and rebuilds its ledger. The rebuilt ledger is
// validated, so a tampered database surfaces as ErrMalformedGeometry or
// ErrUnknownIdentifier.
func (s *SQLiteRunStore) LoadRun(ctx context.Context, id string) (RunInfo, *ledger.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := s.getRunUnlocked(ctx, id)
	if err != nil {
		return RunInfo{}, nil, err
	}

	nodes, err := s.loadNodes(ctx, id)
	if err != nil {
		return RunInfo{}, nil, err
	}
	edges, err := s.loadEdges(ctx, id)
	if err != nil {
		return RunInfo{}, nil, err
	}
	individuals, err := s.loadIndividuals(ctx, id)
	if err != nil {
		return RunInfo{}, nil, err
	}

	l, err := ledger.FromTables(info.SequenceLength, nodes, edges, individuals)
	if err != nil {
		return RunInfo{}, nil, fmt.Errorf("run %s: %w", id, err)
	}
	return info, l, nil
}

func (s *SQLiteRunStore) loadNodes(ctx context.Context, runID string) ([]ledger.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, time, individual, flags FROM nodes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []ledger.Node
	for rows.Next() {
		var id, individual, flags int64
		var t float64
		if err := rows.Scan(&id, &t, &individual, &flags); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		if id != int64(len(nodes)) {
			return nil, fmt.Errorf("%w: node table has a gap at id %d", ledger.ErrUnknownIdentifier, len(nodes))
		}
		nodes = append(nodes, ledger.Node{
			Time:       t,
			Individual: ledger.IndividualID(individual),
			Flags:      ledger.NodeFlags(flags),
		})
	}
	return nodes, rows.Err()
}

func (s *SQLiteRunStore) loadEdges(ctx context.Context, runID string) ([]ledger.Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT left_pos, right_pos, parent, child FROM edges WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []ledger.Edge
	for rows.Next() {
		var e ledger.Edge
		var parent, child int64
		if err := rows.Scan(&e.Left, &e.Right, &parent, &child); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Parent = ledger.NodeID(parent)
		e.Child = ledger.NodeID(child)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *SQLiteRunStore) loadIndividuals(ctx context.Context, runID string) ([]ledger.Individual, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM individuals WHERE run_id = ?`, runID).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count individuals: %w", err)
	}
	individuals := make([]ledger.Individual, count)

	rows, err := s.db.QueryContext(ctx,
		`SELECT individual, parent FROM individual_parents WHERE run_id = ? ORDER BY individual, position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query individual parents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ind, parent int64
		if err := rows.Scan(&ind, &parent); err != nil {
			return nil, fmt.Errorf("failed to scan individual parent: %w", err)
		}
		if ind < 0 || ind >= int64(count) {
			return nil, fmt.Errorf("%w: parent row for individual %d", ledger.ErrUnknownIdentifier, ind)
		}
		individuals[ind].Parents = append(individuals[ind].Parents, ledger.IndividualID(parent))
	}
	return individuals, rows.Err()
}

// GetRun returns the metadata of one run.
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRunUnlocked(ctx, id)
}

const runColumns = `id, seed, generations, sequence_length, parent_run, config, created_at,
	node_count, edge_count, individual_count`

func (s *SQLiteRunStore) getRunUnlocked(ctx context.Context, id string) (RunInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	info, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return info, nil
}

// ListRuns returns every run, oldest first.
func (s *SQLiteRunStore) ListRuns(ctx context.Context) ([]RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunInfo, error) {
	var info RunInfo
	var seed, createdAt string
	var parent, config sql.NullString
	err := row.Scan(&info.ID, &seed, &info.Generations, &info.SequenceLength, &parent, &config,
		&createdAt, &info.Nodes, &info.Edges, &info.Individuals)
	if err != nil {
		return RunInfo{}, err
	}
	if info.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return RunInfo{}, fmt.Errorf("bad seed %q: %w", seed, err)
	}
	if info.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return RunInfo{}, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	info.Parent = parent.String
	info.Config = config.String
	return info, nil
}

// DeleteRun removes a run and all its rows.
func (s *SQLiteRunStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteRunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
