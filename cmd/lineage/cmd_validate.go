package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/lineage/internal/store"
	"github.com/nvandessel/lineage/internal/treeseq"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a stored run against every ledger invariant",
		Long: `Validate a stored run in two passes: SQL checks for dangling references
and time order, then a full load that checks edge geometry, per-child
overlap and the export sort order.

Exits non-zero when the run is invalid.

Examples:
  lineage validate --run 3f2a...
  lineage validate --run 3f2a... --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runID, _ := cmd.Flags().GetString("run")
			jsonOut, _ := cmd.Flags().GetBool("json")

			db, err := store.OpenSQLite(dbPath(cmd, cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			problems, err := db.ValidateRun(ctx, runID)
			if err != nil {
				return err
			}

			var loadErr error
			if len(problems) == 0 {
				_, l, err := db.LoadRun(ctx, runID)
				if err == nil {
					_, err = treeseq.New(l)
				}
				loadErr = err
			}

			valid := len(problems) == 0 && loadErr == nil
			if jsonOut {
				result := map[string]any{
					"run":    runID,
					"valid":  valid,
					"issues": problems,
				}
				if loadErr != nil {
					result["error"] = loadErr.Error()
				}
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				for _, p := range problems {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", p)
				}
				if loadErr != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "  %v\n", loadErr)
				}
				if valid {
					fmt.Fprintf(cmd.OutOrStdout(), "Run %s is valid\n", runID)
				}
			}

			if !valid {
				if loadErr != nil {
					return fmt.Errorf("run %s is invalid: %w", runID, loadErr)
				}
				return fmt.Errorf("run %s is invalid: %d issue(s)", runID, len(problems))
			}
			return nil
		},
	}

	addDBFlag(cmd)
	cmd.Flags().String("run", "", "Run id to validate (required)")
	cmd.MarkFlagRequired("run")

	return cmd
}
