package store

import (
	"context"
	"fmt"
)

// ValidationError describes one bad row of a stored run.
type ValidationError struct {
	Table string `json:"table"`
	Row   int64  `json:"row"`   // node id, edge seq or individual id
	Issue string `json:"issue"` // "dangling-parent", "dangling-child", "time-order", ...
	Ref   int64  `json:"ref"`   // the offending reference
}

// String returns a human-readable description of the validation error.
func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s row %d references %d", e.Issue, e.Table, e.Row, e.Ref)
}

// validationQueries find rows that break referential or time-order rules.
// Each returns (row, ref).
var validationQueries = []struct {
	table, issue, query string
}{
	{"edges", "dangling-parent", `
		SELECT e.seq, e.parent FROM edges e
		LEFT JOIN nodes n ON n.run_id = e.run_id AND n.id = e.parent
		WHERE e.run_id = ? AND n.id IS NULL`},
	{"edges", "dangling-child", `
		SELECT e.seq, e.child FROM edges e
		LEFT JOIN nodes n ON n.run_id = e.run_id AND n.id = e.child
		WHERE e.run_id = ? AND n.id IS NULL`},
	{"edges", "time-order", `
		SELECT e.seq, e.parent FROM edges e
		JOIN nodes p ON p.run_id = e.run_id AND p.id = e.parent
		JOIN nodes c ON c.run_id = e.run_id AND c.id = e.child
		WHERE e.run_id = ? AND p.time <= c.time`},
	{"edges", "bad-interval", `
		SELECT e.seq, e.child FROM edges e
		JOIN runs r ON r.id = e.run_id
		WHERE e.run_id = ? AND (e.left_pos < 0 OR e.right_pos > r.sequence_length OR e.left_pos >= e.right_pos)`},
	{"nodes", "dangling-individual", `
		SELECT n.id, n.individual FROM nodes n
		LEFT JOIN individuals i ON i.run_id = n.run_id AND i.id = n.individual
		WHERE n.run_id = ? AND n.individual >= 0 AND i.id IS NULL`},
	{"individual_parents", "dangling-parent", `
		SELECT p.individual, p.parent FROM individual_parents p
		LEFT JOIN individuals i ON i.run_id = p.run_id AND i.id = p.parent
		WHERE p.run_id = ? AND p.parent >= 0 AND i.id IS NULL`},
}

// ValidateRun checks a stored run with SQL alone, without loading its
// ledger. Child overlap is not checked here; LoadRun catches it.
func (s *SQLiteRunStore) ValidateRun(ctx context.Context, id string) ([]ValidationError, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getRunUnlocked(ctx, id); err != nil {
		return nil, err
	}

	var errors []ValidationError
	for _, v := range validationQueries {
		rows, err := s.db.QueryContext(ctx, v.query, id)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s %s: %w", v.table, v.issue, err)
		}
		for rows.Next() {
			ve := ValidationError{Table: v.table, Issue: v.issue}
			if err := rows.Scan(&ve.Row, &ve.Ref); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s %s: %w", v.table, v.issue, err)
			}
			errors = append(errors, ve)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return errors, nil
}
