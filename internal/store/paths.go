package store

import "path/filepath"

// DBFile is the database file name inside an output directory.
const DBFile = "lineage.db"

// DBPath returns the database path for the output directory outDir.
func DBPath(outDir string) string {
	return filepath.Join(outDir, DBFile)
}

// RunDir returns the JSONL directory of run id under outDir.
func RunDir(outDir, id string) string {
	return filepath.Join(outDir, "runs", id)
}
