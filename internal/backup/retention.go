package backup

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// SnapshotInfo is what retention decisions see of one snapshot file.
type SnapshotInfo struct {
	Path       string
	Size       int64
	CreatedAt  time.Time
	Generation int
	Final      bool
}

// RetentionPolicy selects the snapshots to keep from a newest-first list.
type RetentionPolicy interface {
	Apply(snapshots []SnapshotInfo) (keep []SnapshotInfo)
}

// CountPolicy keeps the MaxCount newest snapshots.
type CountPolicy struct {
	MaxCount int
}

func (p *CountPolicy) Apply(snapshots []SnapshotInfo) []SnapshotInfo {
	return snapshots[:max(0, min(p.MaxCount, len(snapshots)))]
}

// AgePolicy keeps snapshots created less than MaxAge ago.
type AgePolicy struct {
	MaxAge time.Duration
}

func (p *AgePolicy) Apply(snapshots []SnapshotInfo) []SnapshotInfo {
	cutoff := time.Now().Add(-p.MaxAge)
	return slices.DeleteFunc(slices.Clone(snapshots), func(s SnapshotInfo) bool {
		return !s.CreatedAt.After(cutoff)
	})
}

// GenerationPolicy keeps snapshots taken within Window generations of the
// newest one.
type GenerationPolicy struct {
	Window int
}

func (p *GenerationPolicy) Apply(snapshots []SnapshotInfo) []SnapshotInfo {
	if len(snapshots) == 0 {
		return nil
	}
	oldest := snapshots[0].Generation - p.Window
	return slices.DeleteFunc(slices.Clone(snapshots), func(s SnapshotInfo) bool {
		return s.Generation < oldest
	})
}

// SizePolicy keeps the newest snapshots whose sizes sum to at most
// MaxTotalBytes. The newest snapshot is always kept.
type SizePolicy struct {
	MaxTotalBytes int64
}

func (p *SizePolicy) Apply(snapshots []SnapshotInfo) []SnapshotInfo {
	var total int64
	for i, s := range snapshots {
		total += s.Size
		if total > p.MaxTotalBytes && i > 0 {
			return snapshots[:i]
		}
	}
	return snapshots
}

// CompositePolicy keeps a snapshot when any of its policies does.
type CompositePolicy struct {
	Policies []RetentionPolicy
}

func (p *CompositePolicy) Apply(snapshots []SnapshotInfo) []SnapshotInfo {
	kept := make(map[string]bool)
	for _, policy := range p.Policies {
		for _, s := range policy.Apply(snapshots) {
			kept[s.Path] = true
		}
	}
	return slices.DeleteFunc(slices.Clone(snapshots), func(s SnapshotInfo) bool {
		return !kept[s.Path]
	})
}

// ListSnapshots returns the snapshot files in dir, newest generation first.
// Files whose header cannot be read get generation -1 and the file's
// modification time, and sort last.
func ListSnapshots(dir string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	var snapshots []SnapshotInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != SnapshotExt {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}

		s := SnapshotInfo{
			Path:       filepath.Join(dir, e.Name()),
			Size:       fi.Size(),
			CreatedAt:  fi.ModTime(),
			Generation: -1,
		}
		if header, err := ReadHeader(s.Path); err == nil {
			s.CreatedAt = header.CreatedAt
			s.Generation = header.Generation
			s.Final = header.Final
		}
		snapshots = append(snapshots, s)
	}

	slices.SortFunc(snapshots, func(a, b SnapshotInfo) int {
		if c := cmp.Compare(b.Generation, a.Generation); c != 0 {
			return c
		}
		return strings.Compare(filepath.Base(b.Path), filepath.Base(a.Path))
	})
	return snapshots, nil
}

// ApplyRetention deletes the snapshots in dir that policy does not keep.
// A run's final snapshot is never deleted.
func ApplyRetention(dir string, policy RetentionPolicy) (deleted []string, err error) {
	snapshots, err := ListSnapshots(dir)
	if err != nil {
		return nil, err
	}

	keep := policy.Apply(snapshots)
	for _, s := range snapshots {
		if s.Final || slices.ContainsFunc(keep, func(k SnapshotInfo) bool { return k.Path == s.Path }) {
			continue
		}
		if err := os.Remove(s.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(s.Path), err)
		}
		deleted = append(deleted, s.Path)
	}
	return deleted, nil
}

// Rotate keeps the keep newest snapshots in dir and deletes the rest.
func Rotate(dir string, keep int) ([]string, error) {
	return ApplyRetention(dir, &CountPolicy{MaxCount: keep})
}

// ParseDuration accepts time.ParseDuration syntax plus whole days ("7d")
// and weeks ("2w").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	units := map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour}
	for suffix, unit := range units {
		n, ok := strings.CutSuffix(s, suffix)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(n)
		if err != nil || v < 0 {
			break
		}
		return time.Duration(v) * unit, nil
	}
	return 0, fmt.Errorf("invalid duration %q (e.g. 72h, 7d, 2w)", s)
}

// ParseSize parses a byte size such as "500MB" or "2GiB".
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}
