package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/lineage/internal/backup"
	"github.com/nvandessel/lineage/internal/config"
	"github.com/nvandessel/lineage/internal/ledger"
	"github.com/nvandessel/lineage/internal/logging"
	"github.com/nvandessel/lineage/internal/metrics"
	"github.com/nvandessel/lineage/internal/population"
	"github.com/nvandessel/lineage/internal/simulation"
	"github.com/nvandessel/lineage/internal/store"
	"github.com/nvandessel/lineage/internal/treeseq"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and store the simplified ledger",
		Long: `Run a forward-time simulation with the effective configuration and write
the final ledger to every configured output format.

Flags override the config file and LINEAGE_* environment variables.
With --replicates N, N independent runs with seeds seed, seed+1, ...
execute concurrently.

Examples:
  lineage run
  lineage run --generations 500 --cadence 50 --seed 7
  lineage run --replicates 8 --format sqlite,jsonl --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			replicates, _ := cmd.Flags().GetInt("replicates")
			if replicates < 1 {
				return fmt.Errorf("--replicates must be at least 1, got %d", replicates)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			results, err := runReplicates(ctx, cfg, replicates, newLogger(cmd, cfg))
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"runs":       results,
					"output_dir": cfg.Output.Dir,
				})
			}
			printRunSummary(cmd.OutOrStdout(), cfg, results)
			return nil
		},
	}

	cmd.Flags().Uint64("seed", 0, "Random seed (first replicate)")
	cmd.Flags().Int("generations", 0, "Generations to simulate")
	cmd.Flags().Int("cohort-size", 0, "Individuals per generation")
	cmd.Flags().Int("ploidy", 0, "Genomes per individual")
	cmd.Flags().Float64("recombination-rate", 0, "Crossovers per unit of sequence per meiosis")
	cmd.Flags().String("cadence", "", "Compaction interval in generations, or final-only")
	cmd.Flags().String("out", "", "Output directory")
	cmd.Flags().StringSlice("format", nil, "Output formats: sqlite, jsonl")
	cmd.Flags().String("checkpoint-dir", "", "Write a snapshot after every compaction")
	cmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this textfile")
	cmd.Flags().Int("replicates", 1, "Independent runs with consecutive seeds")

	return cmd
}

// applyRunFlags copies explicitly set flags over cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.LineageConfig) error {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Simulation.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("generations") {
		cfg.Simulation.Generations, _ = flags.GetInt("generations")
	}
	if flags.Changed("cohort-size") {
		cfg.Simulation.CohortSize, _ = flags.GetInt("cohort-size")
	}
	if flags.Changed("ploidy") {
		cfg.Simulation.Ploidy, _ = flags.GetInt("ploidy")
	}
	if flags.Changed("recombination-rate") {
		cfg.Simulation.RecombinationRate, _ = flags.GetFloat64("recombination-rate")
	}
	if flags.Changed("cadence") {
		s, _ := flags.GetString("cadence")
		c, err := config.ParseCadence(s)
		if err != nil {
			return fmt.Errorf("--cadence: %w", err)
		}
		cfg.Simplify.Cadence = c
	}
	if flags.Changed("out") {
		cfg.Output.Dir, _ = flags.GetString("out")
	}
	if flags.Changed("format") {
		cfg.Output.Formats, _ = flags.GetStringSlice("format")
	}
	if flags.Changed("checkpoint-dir") {
		cfg.Output.CheckpointDir, _ = flags.GetString("checkpoint-dir")
	}
	if flags.Changed("metrics-file") {
		cfg.Output.MetricsFile, _ = flags.GetString("metrics-file")
	}
	return nil
}

// runResult summarizes one finished replicate.
type runResult struct {
	Info        store.RunInfo `json:"run"`
	Trees       int           `json:"trees"`
	Bytes       int64         `json:"bytes"`
	Compactions int           `json:"compactions"`
	Seconds     float64       `json:"seconds"`
	JSONLDir    string        `json:"jsonl_dir,omitempty"`
	DBPath      string        `json:"db_path,omitempty"`
}

// runReplicates runs n replicates concurrently. Each replicate owns its
// ledger; only the SQLite store and the metrics recorder are shared.
func runReplicates(ctx context.Context, cfg *config.LineageConfig, n int, logger *slog.Logger) ([]runResult, error) {
	var db *store.SQLiteRunStore
	if cfg.HasFormat("sqlite") {
		var err error
		db, err = store.OpenSQLite(store.DBPath(cfg.Output.Dir))
		if err != nil {
			return nil, err
		}
		defer db.Close()
	}

	var rec *metrics.Recorder
	if cfg.Output.MetricsFile != "" {
		rec = metrics.NewRecorder(nil)
	}

	results := make([]runResult, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range n {
		seed := cfg.Simulation.Seed + uint64(i)
		g.Go(func() error {
			r, err := runOne(gctx, cfg, seed, logger, rec, db)
			if err != nil {
				return fmt.Errorf("replicate %d (seed %d): %w", i, seed, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if rec != nil {
		if err := rec.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func runOne(ctx context.Context, cfg *config.LineageConfig, seed uint64, logger *slog.Logger,
	rec *metrics.Recorder, db *store.SQLiteRunStore) (runResult, error) {
	id := uuid.NewString()
	logger = logger.With("run", id, "seed", seed)

	selector, err := population.SelectorByName(cfg.Simulation.Mating)
	if err != nil {
		return runResult{}, err
	}
	decisions := logging.NewDecisionLogger(filepath.Join(cfg.Output.Dir, "logs", id), cfg.Logging.Level)
	defer decisions.Close()

	opts := []simulation.Option{
		simulation.WithLogger(logger),
		simulation.WithDecisionLogger(decisions),
		simulation.WithMetrics(rec),
		simulation.WithSelector(selector),
	}
	if cfg.Output.CheckpointDir != "" {
		cp := &backup.Checkpointer{
			Dir:      filepath.Join(cfg.Output.CheckpointDir, id),
			RunID:    id,
			Keep:     cfg.Output.CheckpointKeep,
			Metadata: map[string]string{"seed": fmt.Sprint(seed)},
			Logger:   logger,
		}
		opts = append(opts, simulation.WithCompactionHook(cp.Hook))
	}

	simCfg := cfg.Driver()
	simCfg.Seed = seed
	d, err := simulation.New(simCfg, opts...)
	if err != nil {
		return runResult{}, err
	}

	start := time.Now()
	if err := d.Run(ctx); err != nil {
		return runResult{}, err
	}
	elapsed := time.Since(start)

	l := d.Ledger()
	ts, err := treeseq.New(l)
	if err != nil {
		return runResult{}, fmt.Errorf("final ledger failed export checks: %w", err)
	}

	effective := *cfg
	effective.Simulation.Seed = seed
	cfgJSON, err := json.Marshal(effective)
	if err != nil {
		return runResult{}, fmt.Errorf("failed to encode config: %w", err)
	}

	r := runResult{
		Info: store.RunInfo{
			ID:          id,
			Seed:        seed,
			Generations: d.Generation(),
			Config:      string(cfgJSON),
			CreatedAt:   time.Now().UTC(),
		},
		Trees:       ts.NumTrees(),
		Bytes:       l.ByteSize(),
		Compactions: d.Compactions(),
		Seconds:     elapsed.Seconds(),
	}
	if err := saveOutputs(ctx, cfg, db, &r, l); err != nil {
		return runResult{}, err
	}
	logger.Info("run stored", "nodes", r.Info.Nodes, "edges", r.Info.Edges, "trees", r.Trees)
	return r, nil
}

func saveOutputs(ctx context.Context, cfg *config.LineageConfig, db *store.SQLiteRunStore, r *runResult, l *ledger.Ledger) error {
	r.Info.SequenceLength = l.SequenceLength()
	r.Info.Nodes = l.NodeCount()
	r.Info.Edges = l.EdgeCount()
	r.Info.Individuals = l.IndividualCount()

	if db != nil {
		info, err := db.SaveRun(ctx, r.Info, l)
		if err != nil {
			return err
		}
		r.Info = info
		r.DBPath = db.Path()
	}
	if cfg.HasFormat("jsonl") {
		dir := store.RunDir(cfg.Output.Dir, r.Info.ID)
		if err := store.WriteJSONL(dir, r.Info, l); err != nil {
			return err
		}
		r.JSONLDir = dir
	}
	return nil
}

func printRunSummary(w io.Writer, cfg *config.LineageConfig, results []runResult) {
	for _, r := range results {
		fmt.Fprintf(w, "Run %s\n", r.Info.ID)
		fmt.Fprintf(w, "  seed:         %d\n", r.Info.Seed)
		fmt.Fprintf(w, "  generations:  %s (%d compactions, cadence %s)\n",
			humanize.Comma(int64(r.Info.Generations)), r.Compactions, cfg.Simplify.Cadence)
		fmt.Fprintf(w, "  nodes:        %s\n", humanize.Comma(int64(r.Info.Nodes)))
		fmt.Fprintf(w, "  edges:        %s\n", humanize.Comma(int64(r.Info.Edges)))
		fmt.Fprintf(w, "  individuals:  %s\n", humanize.Comma(int64(r.Info.Individuals)))
		fmt.Fprintf(w, "  trees:        %s\n", humanize.Comma(int64(r.Trees)))
		fmt.Fprintf(w, "  size:         %s\n", humanize.Bytes(uint64(r.Bytes)))
		fmt.Fprintf(w, "  elapsed:      %.2fs\n", r.Seconds)
		if r.DBPath != "" {
			fmt.Fprintf(w, "  sqlite:       %s\n", r.DBPath)
		}
		if r.JSONLDir != "" {
			fmt.Fprintf(w, "  jsonl:        %s\n", r.JSONLDir)
		}
	}
}
