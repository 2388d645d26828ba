// Package logging provides the leveled operational logger and the JSONL
// compaction trace for lineage runs.
//
// The slog.Logger goes to stderr. The DecisionLogger records one line per
// compaction (ledger sizes before and after, node remapping counts) in
// <dir>/compactions.jsonl and is only active at debug or trace level.
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace sits below Debug and enables per-generation output.
const LevelTrace = slog.LevelDebug - 4

// DecisionFile is the file name the DecisionLogger appends to.
const DecisionFile = "compactions.jsonl"

// ParseLevel maps "info", "debug", "trace", "warn" or "error"
// (case-insensitive) to a slog.Level. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a text slog.Logger writing to w at the given level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// CompactionRecord describes one compaction for the decision trace.
type CompactionRecord struct {
	Generation      int     `json:"generation"`
	Final           bool    `json:"final"`
	Samples         int     `json:"samples"`
	NodesBefore     int     `json:"nodes_before"`
	NodesAfter      int     `json:"nodes_after"`
	EdgesBefore     int     `json:"edges_before"`
	EdgesAfter      int     `json:"edges_after"`
	IndividualsKept int     `json:"individuals_kept"`
	Seconds         float64 `json:"seconds"`
}

// DecisionLogger writes structured events to a JSONL file. It is safe for
// concurrent use and every method is a no-op on a nil receiver.
type DecisionLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewDecisionLogger opens dir/compactions.jsonl for append. It returns nil
// at info level or above, and when the file cannot be opened.
func NewDecisionLogger(dir string, level string) *DecisionLogger {
	if ParseLevel(level) >= slog.LevelInfo {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, DecisionFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &DecisionLogger{file: f}
}

// Log writes event as one JSONL line with a "time" field added. The
// caller's map is not modified.
func (dl *DecisionLogger) Log(event map[string]any) {
	if dl == nil {
		return
	}
	entry := make(map[string]any, len(event)+1)
	maps.Copy(entry, event)
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	dl.write(entry)
}

// LogCompaction writes a compaction record tagged with event "compaction".
func (dl *DecisionLogger) LogCompaction(rec CompactionRecord) {
	if dl == nil {
		return
	}
	dl.write(struct {
		Event string `json:"event"`
		Time  string `json:"time"`
		CompactionRecord
	}{"compaction", time.Now().UTC().Format(time.RFC3339Nano), rec})
}

func (dl *DecisionLogger) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	data = append(data, '\n')

	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.file == nil {
		return
	}
	_, _ = dl.file.Write(data)
}

// Close closes the underlying file.
func (dl *DecisionLogger) Close() {
	if dl == nil {
		return
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.file != nil {
		dl.file.Close()
		dl.file = nil
	}
}
