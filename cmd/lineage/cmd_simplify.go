package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/lineage/internal/config"
	"github.com/nvandessel/lineage/internal/ledger"
	"github.com/nvandessel/lineage/internal/simplify"
	"github.com/nvandessel/lineage/internal/store"
)

func newSimplifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simplify",
		Short: "Simplify a stored run and save the result as a new run",
		Long: `Load a run from the database, simplify it against a sample set, and
save the result as a new run whose parent is the input run.

The sample set is the run's sample nodes, or with --time T every node
born at time T (generations before the end of the run).

Examples:
  lineage simplify --run 3f2a...
  lineage simplify --run 3f2a... --time 10 --keep-unary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runID, _ := cmd.Flags().GetString("run")
			keepUnary, _ := cmd.Flags().GetBool("keep-unary")
			keepRoots, _ := cmd.Flags().GetBool("keep-input-roots")
			retainAll, _ := cmd.Flags().GetBool("retain-all-nodes")

			db, err := store.OpenSQLite(dbPath(cmd, cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			info, l, err := db.LoadRun(ctx, runID)
			if err != nil {
				return err
			}

			samples := l.Samples()
			if cmd.Flags().Changed("time") {
				t, _ := cmd.Flags().GetFloat64("time")
				samples = l.NodesAt(t)
				if len(samples) == 0 {
					return fmt.Errorf("%w: no nodes at time %v", ledger.ErrUnknownIdentifier, t)
				}
			}

			res, err := simplify.Simplify(l, samples, simplify.Options{
				KeepUnary:      keepUnary,
				KeepInputRoots: keepRoots,
				RetainAllNodes: retainAll,
			})
			if err != nil {
				return err
			}

			saved, err := db.SaveRun(ctx, store.RunInfo{
				Seed:        info.Seed,
				Generations: info.Generations,
				Parent:      info.ID,
				Config:      info.Config,
				CreatedAt:   time.Now().UTC(),
			}, res.Ledger)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"run":          saved,
					"parent":       info.ID,
					"samples":      len(samples),
					"nodes_before": l.NodeCount(),
					"edges_before": l.EdgeCount(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Simplified %s against %d samples -> %s\n", info.ID, len(samples), saved.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "  nodes: %d -> %d\n", l.NodeCount(), saved.Nodes)
			fmt.Fprintf(cmd.OutOrStdout(), "  edges: %d -> %d\n", l.EdgeCount(), saved.Edges)
			return nil
		},
	}

	addDBFlag(cmd)
	cmd.Flags().String("run", "", "Run id to simplify (required)")
	cmd.Flags().Float64("time", 0, "Use every node born at this time as a sample")
	cmd.Flags().Bool("keep-unary", false, "Keep nodes that are unary in every tree")
	cmd.Flags().Bool("keep-input-roots", false, "Keep the ancestral roots above the sample MRCAs")
	cmd.Flags().Bool("retain-all-nodes", false, "Keep every node row, pruning edges only")
	cmd.MarkFlagRequired("run")

	return cmd
}

// addDBFlag adds --db, defaulting to the database in the configured output dir.
func addDBFlag(cmd *cobra.Command) {
	cmd.Flags().String("db", "", "SQLite database (default <output.dir>/"+store.DBFile+")")
}

func dbPath(cmd *cobra.Command, cfg *config.LineageConfig) string {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p
	}
	return store.DBPath(cfg.Output.Dir)
}
