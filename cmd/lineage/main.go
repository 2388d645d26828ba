package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/lineage/internal/config"
	"github.com/nvandessel/lineage/internal/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lineage",
		Short: "Forward-time ancestry recording with periodic simplification",
		Long: `lineage simulates a Wright-Fisher population forward in time, records
every genome and inheritance interval in a ledger, and periodically
simplifies the ledger so it only holds ancestry of the living population.

Finished ledgers are stored in SQLite and/or JSONL and can be queried as
tree sequences.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (default ./lineage.yaml if present)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug, trace (overrides config)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newSimplifyCmd(),
		newStatsCmd(),
		newValidateCmd(),
		newExportCmd(),
		newImportCmd(),
		newCheckpointCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

// loadConfig reads the config named by --config and applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.LineageConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// newLogger writes text logs to the command's stderr.
func newLogger(cmd *cobra.Command, cfg *config.LineageConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
