package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/lineage/internal/ledger"
)

// File names of a JSONL run directory.
const (
	RunFile         = "run.json"
	NodesFile       = "nodes.jsonl"
	EdgesFile       = "edges.jsonl"
	IndividualsFile = "individuals.jsonl"
)

// LoadError represents a malformed line encountered while reading a table.
type LoadError struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
	Error   string `json:"error"`
}

// CorruptError is returned by ReadJSONL when any table line fails to parse.
// A ledger with a skipped row would renumber everything after it, so
// reading stops at the table level instead of skipping lines.
type CorruptError struct {
	LoadErrors []LoadError
}

func (e *CorruptError) Error() string {
	first := e.LoadErrors[0]
	return fmt.Sprintf("%d malformed line(s), first at %s:%d: %s",
		len(e.LoadErrors), filepath.Base(first.File), first.Line, first.Error)
}

type nodeRow struct {
	ID int64 `json:"id"`
	ledger.Node
}

type edgeRow struct {
	ledger.Edge
}

type individualRow struct {
	ID int64 `json:"id"`
	ledger.Individual
}

// WriteJSONL writes info and the tables of l into dir, one row per line.
// Row ids are written explicitly so other tools need not count lines.
func WriteJSONL(dir string, info RunInfo, l *ledger.Ledger) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	info.SequenceLength = l.SequenceLength()
	info.Nodes = l.NodeCount()
	info.Edges = l.EdgeCount()
	info.Individuals = l.IndividualCount()
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, RunFile), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", RunFile, err)
	}

	if err := writeLines(filepath.Join(dir, NodesFile), l.Nodes(), func(i int, n ledger.Node) any {
		return nodeRow{ID: int64(i), Node: n}
	}); err != nil {
		return err
	}
	if err := writeLines(filepath.Join(dir, EdgesFile), l.Edges(), func(_ int, e ledger.Edge) any {
		return edgeRow{Edge: e}
	}); err != nil {
		return err
	}
	return writeLines(filepath.Join(dir, IndividualsFile), l.Individuals(), func(i int, ind ledger.Individual) any {
		return individualRow{ID: int64(i), Individual: ind}
	})
}

func writeLines[T any](path string, rows []T, row func(int, T) any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	encoder := json.NewEncoder(w)
	for i, r := range rows {
		if err := encoder.Encode(row(i, r)); err != nil {
			return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// ReadJSONL reads a run directory written by WriteJSONL and validates the
// rebuilt ledger. Malformed lines are collected into a *CorruptError.
func ReadJSONL(dir string) (RunInfo, *ledger.Ledger, error) {
	data, err := os.ReadFile(filepath.Join(dir, RunFile))
	if err != nil {
		return RunInfo{}, nil, fmt.Errorf("failed to read %s: %w", RunFile, err)
	}
	var info RunInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return RunInfo{}, nil, fmt.Errorf("failed to parse %s: %w", RunFile, err)
	}

	var loadErrors []LoadError

	var nodes []ledger.Node
	nodeErrs, err := readLines(filepath.Join(dir, NodesFile), func(r nodeRow) error {
		if r.ID != int64(len(nodes)) {
			return fmt.Errorf("expected node id %d, got %d", len(nodes), r.ID)
		}
		nodes = append(nodes, r.Node)
		return nil
	})
	if err != nil {
		return RunInfo{}, nil, err
	}
	loadErrors = append(loadErrors, nodeErrs...)

	var edges []ledger.Edge
	edgeErrs, err := readLines(filepath.Join(dir, EdgesFile), func(r edgeRow) error {
		edges = append(edges, r.Edge)
		return nil
	})
	if err != nil {
		return RunInfo{}, nil, err
	}
	loadErrors = append(loadErrors, edgeErrs...)

	var individuals []ledger.Individual
	indErrs, err := readLines(filepath.Join(dir, IndividualsFile), func(r individualRow) error {
		if r.ID != int64(len(individuals)) {
			return fmt.Errorf("expected individual id %d, got %d", len(individuals), r.ID)
		}
		individuals = append(individuals, r.Individual)
		return nil
	})
	if err != nil {
		return RunInfo{}, nil, err
	}
	loadErrors = append(loadErrors, indErrs...)

	if len(loadErrors) > 0 {
		return RunInfo{}, nil, &CorruptError{LoadErrors: loadErrors}
	}

	l, err := ledger.FromTables(info.SequenceLength, nodes, edges, individuals)
	if err != nil {
		return RunInfo{}, nil, err
	}
	return info, l, nil
}

// readLines decodes each non-empty line of path into T and hands it to
// add. A missing file reads as an empty table.
func readLines[T any](path string, add func(T) error) ([]LoadError, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var loadErrors []LoadError
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}
		var row T
		err := json.Unmarshal([]byte(line), &row)
		if err == nil {
			err = add(row)
		}
		if err != nil {
			loadErrors = append(loadErrors, LoadError{
				File:    path,
				Line:    lineNum,
				Content: truncateForError(line),
				Error:   err.Error(),
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return loadErrors, nil
}

// truncateForError truncates a string for error reporting to avoid huge messages.
func truncateForError(s string) string {
	const maxLen = 100
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
