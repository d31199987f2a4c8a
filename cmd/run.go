package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/movedash/reconcile-cli/internal/reconcile"
)

var (
	runDryRun  bool
	runExecute bool
	runForce   bool
	runStages  []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation pass (lookup, link, integrity)",
	Long:  "Sequences the lookup resolver, relationship linker, and integrity monitor. Dry run is the default: changes are computed inside a rolled-back transaction and reported without persisting. --execute applies them, gated by the execution ledger unless --force.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		execute, err := resolveMode(runDryRun, runExecute)
		if err != nil {
			return err
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		rules, err := reconcile.LoadRules(cfg.Engine.RulesPath)
		if err != nil {
			return err
		}

		monitor := reconcile.NewMonitor(st, cfg.Monitor)
		engine := reconcile.NewEngine(st, rules, monitor, cfg.Engine)

		result, err := engine.Run(ctx, reconcile.RunOptions{
			Execute: execute,
			Force:   runForce,
			Stages:  runStages,
		})
		if err != nil {
			return err
		}

		zap.L().Info("reconciliation pass finished",
			zap.Bool("dry_run", result.DryRun),
			zap.Int64("changes", result.Changes()),
			zap.Bool("stage_failures", result.Failed()),
		)

		return printJSON(result)
	},
}

// resolveMode turns the --dry-run/--execute pair into a single execute flag.
// Dry run is the default.
func resolveMode(dryRun, execute bool) (bool, error) {
	if dryRun && execute {
		return false, eris.New("--dry-run and --execute are mutually exclusive")
	}
	return execute, nil
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "report intended changes without writing (default)")
	runCmd.Flags().BoolVar(&runExecute, "execute", false, "apply changes, gated by the execution ledger")
	runCmd.Flags().BoolVar(&runForce, "force", false, "rerun scripts the ledger has already seen")
	runCmd.Flags().StringSliceVar(&runStages, "stages", nil, "stages to run (lookup, link, integrity); default all")
	rootCmd.AddCommand(runCmd)
}
