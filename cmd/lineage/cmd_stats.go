package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nvandessel/lineage/internal/store"
	"github.com/nvandessel/lineage/internal/treeseq"
)

// runStats is the detailed summary of one stored run.
type runStats struct {
	Run         store.RunInfo `json:"run"`
	Samples     int           `json:"samples"`
	Bytes       int64         `json:"bytes"`
	Trees       int           `json:"trees"`
	MaxRoots    int           `json:"max_roots"`
	MeanSpan    float64       `json:"mean_tree_span"`
	OldestNode  float64       `json:"oldest_node_time"`
	Breakpoints []float64     `json:"breakpoints,omitempty"`
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stored runs or the statistics of one run",
		Long: `Without --run, list every run in the database with its row counts.
With --run, load the run as a tree sequence and report tree and root counts.

Examples:
  lineage stats
  lineage stats --run 3f2a... --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := store.OpenSQLite(dbPath(cmd, cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			jsonOut, _ := cmd.Flags().GetBool("json")
			runID, _ := cmd.Flags().GetString("run")
			ctx := cmd.Context()

			if runID == "" {
				runs, err := db.ListRuns(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"runs":        runs,
						"total_count": len(runs),
						"db_path":     db.Path(),
					})
				}
				printRunList(cmd.OutOrStdout(), db.Path(), runs)
				return nil
			}

			info, l, err := db.LoadRun(ctx, runID)
			if err != nil {
				return err
			}
			ts, err := treeseq.New(l)
			if err != nil {
				return err
			}

			st := runStats{
				Run:        info,
				Samples:    len(ts.Samples()),
				Bytes:      l.ByteSize(),
				Trees:      ts.NumTrees(),
				MeanSpan:   ts.SequenceLength() / float64(ts.NumTrees()),
				OldestNode: l.MaxTime(),
			}
			for tree := range ts.Trees() {
				st.MaxRoots = max(st.MaxRoots, len(tree.Roots()))
			}
			if full, _ := cmd.Flags().GetBool("breakpoints"); full {
				st.Breakpoints = ts.Breakpoints()
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			printRunStats(cmd.OutOrStdout(), st)
			return nil
		},
	}

	addDBFlag(cmd)
	cmd.Flags().String("run", "", "Run id to describe")
	cmd.Flags().Bool("breakpoints", false, "Include tree breakpoints")

	return cmd
}

func printRunList(w io.Writer, path string, runs []store.RunInfo) {
	if len(runs) == 0 {
		fmt.Fprintf(w, "No runs found in %s\n", path)
		return
	}
	fmt.Fprintf(w, "Runs in %s:\n", path)
	for _, r := range runs {
		parent := ""
		if r.Parent != "" {
			parent = "  from " + r.Parent
		}
		fmt.Fprintf(w, "  %s  %s  seed %d  %d gens  %s nodes  %s edges%s\n",
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.ID,
			r.Seed,
			r.Generations,
			humanize.Comma(int64(r.Nodes)),
			humanize.Comma(int64(r.Edges)),
			parent,
		)
	}
	fmt.Fprintf(w, "Total: %d runs\n", len(runs))
}

func printRunStats(w io.Writer, st runStats) {
	fmt.Fprintf(w, "Run %s\n", st.Run.ID)
	fmt.Fprintf(w, "  sequence length:  %g\n", st.Run.SequenceLength)
	fmt.Fprintf(w, "  nodes:            %s (%d samples)\n", humanize.Comma(int64(st.Run.Nodes)), st.Samples)
	fmt.Fprintf(w, "  edges:            %s\n", humanize.Comma(int64(st.Run.Edges)))
	fmt.Fprintf(w, "  individuals:      %s\n", humanize.Comma(int64(st.Run.Individuals)))
	fmt.Fprintf(w, "  size:             %s\n", humanize.Bytes(uint64(st.Bytes)))
	fmt.Fprintf(w, "  trees:            %d (mean span %g)\n", st.Trees, st.MeanSpan)
	fmt.Fprintf(w, "  max roots:        %d\n", st.MaxRoots)
	fmt.Fprintf(w, "  oldest node:      %g\n", st.OldestNode)
}
