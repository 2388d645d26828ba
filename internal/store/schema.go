package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaV1 stores every run's tables keyed by run id. Edge rows keep their
// ledger order in seq.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    seed TEXT NOT NULL,          -- uint64 as decimal text
    generations INTEGER NOT NULL,
    sequence_length REAL NOT NULL,
    parent_run TEXT,             -- run this one was derived from, if any
    config TEXT,                 -- JSON
    created_at TEXT NOT NULL,
    node_count INTEGER NOT NULL DEFAULT 0,
    edge_count INTEGER NOT NULL DEFAULT 0,
    individual_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS nodes (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    id INTEGER NOT NULL,
    time REAL NOT NULL,
    individual INTEGER NOT NULL,  -- -1 for none
    flags INTEGER NOT NULL,
    PRIMARY KEY (run_id, id)
);
CREATE INDEX IF NOT EXISTS idx_nodes_time ON nodes(run_id, time);

CREATE TABLE IF NOT EXISTS edges (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    left_pos REAL NOT NULL,
    right_pos REAL NOT NULL,
    parent INTEGER NOT NULL,
    child INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_edges_child ON edges(run_id, child);

CREATE TABLE IF NOT EXISTS individuals (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    id INTEGER NOT NULL,
    PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS individual_parents (
    run_id TEXT NOT NULL,
    individual INTEGER NOT NULL,
    position INTEGER NOT NULL,
    parent INTEGER NOT NULL,     -- -1 when the parent was not retained
    PRIMARY KEY (run_id, individual, position),
    FOREIGN KEY (run_id, individual) REFERENCES individuals(run_id, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// InitSchema creates the schema on a fresh database. On an existing one it
// runs the integrity checks and applies migrations.
func InitSchema(ctx context.Context, db *sql.DB) error {
	currentVersion, err := getSchemaVersion(ctx, db)
	if err != nil {
		if err := createSchema(ctx, db); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if err := ValidateIntegrity(ctx, db); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}

	if currentVersion > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, SchemaVersion)
	}
	if currentVersion < SchemaVersion {
		if err := migrateSchema(ctx, db, currentVersion); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// getSchemaVersion returns an error if the schema_version table is missing.
func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// migrateSchema brings an older database up to SchemaVersion.
func migrateSchema(ctx context.Context, db *sql.DB, currentVersion int) error {
	if currentVersion == 0 {
		// A version table without rows: the tables were created by an
		// interrupted createSchema.
		if _, err := db.ExecContext(ctx, schemaV1); err != nil {
			return err
		}
		_, err := db.ExecContext(ctx,
			`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, SchemaVersion)
		return err
	}
	return nil
}

// ValidateIntegrity runs PRAGMA integrity_check and PRAGMA
// foreign_key_check and reports any problem found.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return fmt.Errorf("failed to scan integrity_check result: %w", err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity_check failed: %s", result)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	fkRows, err := db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("failed to run foreign_key_check: %w", err)
	}
	defer fkRows.Close()

	var fkErrors []string
	for fkRows.Next() {
		var table, parent string
		var rowid, fkid sql.NullInt64
		if err := fkRows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("failed to scan foreign_key_check result: %w", err)
		}
		fkErrors = append(fkErrors, fmt.Sprintf("table=%s rowid=%d parent=%s fkid=%d", table, rowid.Int64, parent, fkid.Int64))
	}
	if len(fkErrors) > 0 {
		return fmt.Errorf("foreign_key_check failed: %v", fkErrors)
	}
	return fkRows.Err()
}

// ResetSchema drops all tables and recreates the schema. Only use for
// testing.
func ResetSchema(ctx context.Context, db *sql.DB) error {
	tables := []string{
		"individual_parents",
		"individuals",
		"edges",
		"nodes",
		"runs",
		"schema_version",
	}
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return InitSchema(ctx, db)
}
