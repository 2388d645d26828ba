package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nvandessel/lineage/internal/backup"
	"github.com/nvandessel/lineage/internal/store"
)

func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and manage compaction snapshots",
		Long: `Snapshots are written by 'lineage run' after every compaction when
output.checkpoint_dir is set, one directory per run.

Examples:
  lineage checkpoint list ./checkpoints/3f2a...
  lineage checkpoint verify ./checkpoints/3f2a.../gen-000000100.snap
  lineage checkpoint prune ./checkpoints/3f2a... --keep 2
  lineage checkpoint restore ./checkpoints/3f2a.../gen-000000100.snap`,
	}

	cmd.AddCommand(
		newCheckpointListCmd(),
		newCheckpointVerifyCmd(),
		newCheckpointPruneCmd(),
		newCheckpointRestoreCmd(),
	)
	return cmd
}

func newCheckpointListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <dir>",
		Short: "List snapshots with their headers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			jsonOut, _ := cmd.Flags().GetBool("json")

			snapshots, err := backup.ListSnapshots(dir)
			if err != nil {
				return fmt.Errorf("failed to list snapshots: %w", err)
			}

			if jsonOut {
				type jsonEntry struct {
					Path       string `json:"path"`
					Size       int64  `json:"size_bytes"`
					CreatedAt  string `json:"created_at"`
					Generation int    `json:"generation"`
					Final      bool   `json:"final"`
					NodeCount  int    `json:"node_count,omitempty"`
					EdgeCount  int    `json:"edge_count,omitempty"`
					Checksum   string `json:"checksum,omitempty"`
				}
				entries := make([]jsonEntry, 0, len(snapshots))
				for _, s := range snapshots {
					entry := jsonEntry{
						Path:       s.Path,
						Size:       s.Size,
						CreatedAt:  s.CreatedAt.Format(time.RFC3339),
						Generation: s.Generation,
						Final:      s.Final,
					}
					if header, err := backup.ReadHeader(s.Path); err == nil {
						entry.NodeCount = header.NodeCount
						entry.EdgeCount = header.EdgeCount
						entry.Checksum = header.Checksum
					}
					entries = append(entries, entry)
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"snapshots":   entries,
					"total_count": len(entries),
					"directory":   dir,
				})
			}

			out := cmd.OutOrStdout()
			if len(snapshots) == 0 {
				fmt.Fprintf(out, "No snapshots found in %s\n", dir)
				return nil
			}

			fmt.Fprintf(out, "Snapshots in %s:\n", dir)
			var totalSize int64
			for _, s := range snapshots {
				totalSize += s.Size
				nodeCount, edgeCount := 0, 0
				if header, err := backup.ReadHeader(s.Path); err == nil {
					nodeCount = header.NodeCount
					edgeCount = header.EdgeCount
				}
				final := ""
				if s.Final {
					final = "  final"
				}
				fmt.Fprintf(out, "  %s  gen %d  %s  %d nodes  %d edges  %s%s\n",
					s.CreatedAt.Format("2006-01-02 15:04"),
					s.Generation,
					humanize.Bytes(uint64(s.Size)),
					nodeCount,
					edgeCount,
					filepath.Base(s.Path),
					final,
				)
			}
			fmt.Fprintf(out, "Total: %d snapshots, %s\n", len(snapshots), humanize.Bytes(uint64(totalSize)))
			return nil
		},
	}
}

func newCheckpointVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>...",
		Short: "Verify snapshot checksums",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			type result struct {
				File  string `json:"file"`
				Valid bool   `json:"valid"`
				Error string `json:"error,omitempty"`
			}
			results := make([]result, 0, len(args))
			failed := 0
			for _, path := range args {
				r := result{File: path, Valid: true}
				if err := backup.VerifyChecksum(path); err != nil {
					r.Valid = false
					r.Error = err.Error()
					failed++
				}
				results = append(results, r)
			}

			if jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), map[string]any{"results": results}); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Valid {
						fmt.Fprintf(cmd.OutOrStdout(), "OK    %s\n", r.File)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %s\n", r.File, r.Error)
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d snapshot(s) failed verification", failed, len(args))
			}
			return nil
		},
	}
}

func newCheckpointPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune <dir>",
		Short: "Delete snapshots outside the retention policy",
		Long: `Delete snapshots that no policy keeps. A snapshot survives if any given
policy keeps it: --keep newest, --within generations of the newest,
younger than --max-age, or inside --max-size counted from the newest.
The final snapshot of a run is never deleted.

Examples:
  lineage checkpoint prune ./checkpoints/3f2a... --keep 3
  lineage checkpoint prune ./checkpoints/3f2a... --within 200
  lineage checkpoint prune ./checkpoints/3f2a... --keep 1 --max-age 7d --max-size 500MB`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var policies []backup.RetentionPolicy
			if cmd.Flags().Changed("keep") {
				keep, _ := cmd.Flags().GetInt("keep")
				policies = append(policies, &backup.CountPolicy{MaxCount: keep})
			}
			if cmd.Flags().Changed("within") {
				window, _ := cmd.Flags().GetInt("within")
				policies = append(policies, &backup.GenerationPolicy{Window: window})
			}
			if s, _ := cmd.Flags().GetString("max-age"); s != "" {
				d, err := backup.ParseDuration(s)
				if err != nil {
					return fmt.Errorf("--max-age: %w", err)
				}
				policies = append(policies, &backup.AgePolicy{MaxAge: d})
			}
			if s, _ := cmd.Flags().GetString("max-size"); s != "" {
				n, err := backup.ParseSize(s)
				if err != nil {
					return fmt.Errorf("--max-size: %w", err)
				}
				policies = append(policies, &backup.SizePolicy{MaxTotalBytes: n})
			}
			if len(policies) == 0 {
				return errors.New("at least one retention flag is required")
			}

			deleted, err := backup.ApplyRetention(args[0], &backup.CompositePolicy{Policies: policies})
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"deleted": deleted})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d snapshot(s)\n", len(deleted))
			return nil
		},
	}

	cmd.Flags().Int("keep", 0, "Keep this many newest snapshots")
	cmd.Flags().Int("within", 0, "Keep snapshots within this many generations of the newest")
	cmd.Flags().String("max-age", "", "Keep snapshots younger than this (e.g. 72h, 7d, 2w)")
	cmd.Flags().String("max-size", "", "Keep newest snapshots up to this total size (e.g. 500MB)")
	return cmd
}

func newCheckpointRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Store a snapshot's ledger as a run",
		Long: `Verify a snapshot, rebuild its ledger, and save it to the database as a
new run whose parent is the snapshot's run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			snap, err := backup.ReadSnapshot(args[0])
			if err != nil {
				return err
			}
			l, err := snap.Ledger()
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", filepath.Base(args[0]), err)
			}

			db, err := store.OpenSQLite(dbPath(cmd, cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			info := store.RunInfo{
				Generations: snap.Generation,
				Parent:      snap.RunID,
			}
			if s, ok := snap.Metadata["seed"]; ok {
				if info.Seed, err = strconv.ParseUint(s, 10, 64); err != nil {
					return fmt.Errorf("snapshot seed %q: %w", s, err)
				}
			}
			info, err = db.SaveRun(cmd.Context(), info, l)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored generation %d as run %s (%d nodes, %d edges)\n",
				snap.Generation, info.ID, info.Nodes, info.Edges)
			return nil
		},
	}

	addDBFlag(cmd)
	return cmd
}
