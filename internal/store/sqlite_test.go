package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/lineage/internal/ledger"
	"github.com/nvandessel/lineage/internal/simulation"
)

func newTestStore(t *testing.T) *SQLiteRunStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "out", DBFile))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// simulated returns a compacted ledger with individuals and recombinant edges.
func simulated(t *testing.T, seed uint64) *ledger.Ledger {
	t.Helper()
	d, err := simulation.New(simulation.Config{
		CohortSize:        8,
		Ploidy:            2,
		Generations:       20,
		SequenceLength:    100,
		RecombinationRate: 0.02,
		Seed:              seed,
		Cadence:           simulation.Cadence{Every: 5},
	})
	if err != nil {
		t.Fatalf("simulation.New() error = %v", err)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return d.Ledger()
}

// pair is a parent at time 1 over one sample child.
func pair(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(10)
	if err != nil {
		t.Fatalf("ledger.New() error = %v", err)
	}
	child, _ := l.AddNode(0, ledger.NoIndividual, true)
	parent, _ := l.AddNode(1, ledger.NoIndividual, false)
	if err := l.AddEdge(0, 10, parent, child); err != nil {
		t.Fatalf("AddEdge() error = %v", err)
	}
	return l
}

func assertSameTables(t *testing.T, want, got *ledger.Ledger) {
	t.Helper()
	if want.SequenceLength() != got.SequenceLength() {
		t.Errorf("sequence length = %v, want %v", got.SequenceLength(), want.SequenceLength())
	}
	if !reflect.DeepEqual(want.Nodes(), got.Nodes()) {
		t.Errorf("node tables differ")
	}
	if !reflect.DeepEqual(want.Edges(), got.Edges()) {
		t.Errorf("edge tables differ")
	}
	if !reflect.DeepEqual(want.Individuals(), got.Individuals()) {
		t.Errorf("individual tables differ")
	}
}

func TestOpenSQLite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	path := DBPath(dir)

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file was not created: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Reopening runs the integrity checks on the existing schema.
	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	version, err := getSchemaVersion(context.Background(), s.db)
	if err != nil {
		t.Fatalf("getSchemaVersion() error = %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", version, SchemaVersion)
	}
}

func TestSQLiteRunStore_SaveLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := simulated(t, 3)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	saved, err := s.SaveRun(ctx, RunInfo{
		Seed:        1<<63 + 5,
		Generations: 20,
		Config:      `{"simulation":{"seed":3}}`,
		CreatedAt:   created,
	}, l)
	if err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if _, err := uuid.Parse(saved.ID); err != nil {
		t.Errorf("SaveRun() assigned id %q, want a UUID: %v", saved.ID, err)
	}
	if saved.Nodes != l.NodeCount() || saved.Edges != l.EdgeCount() || saved.Individuals != l.IndividualCount() {
		t.Errorf("SaveRun() counts = %d/%d/%d, want %d/%d/%d", saved.Nodes, saved.Edges, saved.Individuals,
			l.NodeCount(), l.EdgeCount(), l.IndividualCount())
	}

	info, got, err := s.LoadRun(ctx, saved.ID)
	if err != nil {
		t.Fatalf("LoadRun() error = %v", err)
	}
	if !reflect.DeepEqual(info, saved) {
		t.Errorf("LoadRun() info = %+v, want %+v", info, saved)
	}
	if info.Seed != 1<<63+5 {
		t.Errorf("seed above MaxInt64 not preserved: %d", info.Seed)
	}
	assertSameTables(t, l, got)
}

func TestSQLiteRunStore_SaveReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.SaveRun(ctx, RunInfo{ID: "run-a"}, simulated(t, 1))
	if err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if first.ID != "run-a" {
		t.Errorf("SaveRun() id = %q, want run-a", first.ID)
	}

	replacement := pair(t)
	if _, err := s.SaveRun(ctx, RunInfo{ID: "run-a"}, replacement); err != nil {
		t.Fatalf("second SaveRun() error = %v", err)
	}

	_, got, err := s.LoadRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("LoadRun() error = %v", err)
	}
	assertSameTables(t, replacement, got)

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("ListRuns() returned %d runs, want 1", len(runs))
	}
}

func TestSQLiteRunStore_ListGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"b", "a", "c"} {
		info := RunInfo{ID: id, Seed: uint64(i), CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if id == "c" {
			info.Parent = "b"
		}
		if _, err := s.SaveRun(ctx, info, pair(t)); err != nil {
			t.Fatalf("SaveRun(%s) error = %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if !reflect.DeepEqual(ids, []string{"b", "a", "c"}) {
		t.Errorf("ListRuns() order = %v, want creation order [b a c]", ids)
	}

	got, err := s.GetRun(ctx, "c")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Parent != "b" || got.Seed != 2 || got.Nodes != 2 || got.Edges != 1 {
		t.Errorf("GetRun() = %+v", got)
	}

	if err := s.DeleteRun(ctx, "a"); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if _, err := s.GetRun(ctx, "a"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun() after delete error = %v, want ErrRunNotFound", err)
	}
	if err := s.DeleteRun(ctx, "a"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("second DeleteRun() error = %v, want ErrRunNotFound", err)
	}
	if _, _, err := s.LoadRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LoadRun(missing) error = %v, want ErrRunNotFound", err)
	}

	// Cascade removed the deleted run's rows.
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE run_id = 'a'`).Scan(&n); err != nil {
		t.Fatalf("count error = %v", err)
	}
	if n != 0 {
		t.Errorf("deleted run left %d node rows", n)
	}
}

func TestSQLiteRunStore_Tampered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SaveRun(ctx, RunInfo{ID: "r"}, pair(t)); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	problems, err := s.ValidateRun(ctx, "r")
	if err != nil {
		t.Fatalf("ValidateRun() error = %v", err)
	}
	if len(problems) != 0 {
		t.Errorf("ValidateRun() on a clean run = %v", problems)
	}

	// Make the parent as young as its child.
	if _, err := s.db.ExecContext(ctx, `UPDATE nodes SET time = 0 WHERE run_id = 'r' AND id = 1`); err != nil {
		t.Fatalf("update error = %v", err)
	}
	if _, _, err := s.LoadRun(ctx, "r"); !errors.Is(err, ledger.ErrMalformedGeometry) {
		t.Errorf("LoadRun() error = %v, want ErrMalformedGeometry", err)
	}

	problems, err = s.ValidateRun(ctx, "r")
	if err != nil {
		t.Fatalf("ValidateRun() error = %v", err)
	}
	want := []ValidationError{{Table: "edges", Row: 0, Issue: "time-order", Ref: 1}}
	if !reflect.DeepEqual(problems, want) {
		t.Errorf("ValidateRun() = %v, want %v", problems, want)
	}

	// Point the edge at a node that does not exist.
	if _, err := s.db.ExecContext(ctx, `UPDATE edges SET child = 9 WHERE run_id = 'r'`); err != nil {
		t.Fatalf("update error = %v", err)
	}
	problems, err = s.ValidateRun(ctx, "r")
	if err != nil {
		t.Fatalf("ValidateRun() error = %v", err)
	}
	if len(problems) != 1 || problems[0].Issue != "dangling-child" || problems[0].Ref != 9 {
		t.Errorf("ValidateRun() = %v, want one dangling-child", problems)
	}
	if _, _, err := s.LoadRun(ctx, "r"); !errors.Is(err, ledger.ErrUnknownIdentifier) {
		t.Errorf("LoadRun() error = %v, want ErrUnknownIdentifier", err)
	}

	if _, err := s.ValidateRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("ValidateRun(missing) error = %v, want ErrRunNotFound", err)
	}
}

func TestValidateIntegrityAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SaveRun(ctx, RunInfo{ID: "r"}, simulated(t, 2)); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := ValidateIntegrity(ctx, s.db); err != nil {
		t.Errorf("ValidateIntegrity() error = %v", err)
	}
	if err := ResetSchema(ctx, s.db); err != nil {
		t.Fatalf("ResetSchema() error = %v", err)
	}
	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("ListRuns() after reset = %d runs, want 0", len(runs))
	}
}
