package store

import (
	"context"
	"fmt"
)

// ExportJSONL writes the run id into dir in the JSONL layout.
func (s *SQLiteRunStore) ExportJSONL(ctx context.Context, id, dir string) error {
	info, l, err := s.LoadRun(ctx, id)
	if err != nil {
		return err
	}
	if err := WriteJSONL(dir, info, l); err != nil {
		return fmt.Errorf("failed to export run %s: %w", id, err)
	}
	return nil
}

// ImportJSONL reads a JSONL run directory and saves it. The run keeps the
// id recorded in run.json, or gets a new one when that is empty.
func (s *SQLiteRunStore) ImportJSONL(ctx context.Context, dir string) (RunInfo, error) {
	info, l, err := ReadJSONL(dir)
	if err != nil {
		return RunInfo{}, fmt.Errorf("failed to import %s: %w", dir, err)
	}
	return s.SaveRun(ctx, info, l)
}
