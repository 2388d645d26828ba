package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/lineage/internal/store"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a stored run as JSONL tables",
		Long: `Write a run's node, edge and individual tables as JSONL files plus
run.json. The directory can be read back with 'lineage import'.

Examples:
  lineage export --run 3f2a...
  lineage export --run 3f2a... --out ./tables`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runID, _ := cmd.Flags().GetString("run")
			outDir, _ := cmd.Flags().GetString("out")
			if outDir == "" {
				outDir = store.RunDir(cfg.Output.Dir, runID)
			}

			db, err := store.OpenSQLite(dbPath(cmd, cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.ExportJSONL(cmd.Context(), runID, outDir); err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"run": runID, "dir": outDir})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", runID, outDir)
			return nil
		},
	}

	addDBFlag(cmd)
	cmd.Flags().String("run", "", "Run id to export (required)")
	cmd.Flags().String("out", "", "Output directory (default <output.dir>/runs/<run>)")
	cmd.MarkFlagRequired("run")

	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Import a JSONL run directory into the database",
		Long: `Read a directory written by 'lineage export' (or 'lineage run' with the
jsonl format), validate it, and store it in the database.

Malformed lines are listed with their file and line number.

Examples:
  lineage import ./out/runs/3f2a...`,
		Args: cobra.ExactArgs(1),
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

			info, err := db.ImportJSONL(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%d nodes, %d edges)\n", info.ID, info.Nodes, info.Edges)
			return nil
		},
	}

	addDBFlag(cmd)
	return cmd
}
