package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/movedash/reconcile-cli/internal/crm"
	"github.com/movedash/reconcile-cli/internal/reconcile"
)

var (
	integrityDryRun    bool
	integrityExecute   bool
	integrityReportDir string
	integrityWatch     bool
	integrityInterval  time.Duration
)

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Check relationship integrity",
	Long:  "Computes linkage rates and orphan counts across the maintained relationships. --execute persists an append-only snapshot, sends webhook alerts, and exports a JSON report; --dry-run prints only. --watch repeats the check on an interval until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		execute, err := resolveMode(integrityDryRun, integrityExecute)
		if err != nil {
			return err
		}
		if err := cfg.Validate("integrity"); err != nil {
			return err
		}

		monCfg := cfg.Monitor
		if integrityReportDir != "" {
			monCfg.ReportDir = integrityReportDir
		}
		interval := monCfg.Interval
		if integrityInterval > 0 {
			interval = integrityInterval
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		monitor := reconcile.NewMonitor(st, monCfg)

		cycle := func(ctx context.Context) error {
			return integrityCycle(ctx, st, monitor, monCfg.ReportDir, execute)
		}

		if integrityWatch {
			reconcile.NewWatcher(interval, cycle).Run(ctx)
			return nil
		}

		rep, err := monitor.Check(ctx)
		if err != nil {
			return err
		}
		if err := finishIntegrityRun(ctx, st, monitor, rep, monCfg.ReportDir, execute); err != nil {
			return err
		}

		return printJSON(rep)
	},
}

// integrityCycle is one watch iteration: check, then persist and alert when
// executing.
func integrityCycle(ctx context.Context, st crm.Store, monitor *reconcile.Monitor, reportDir string, execute bool) error {
	rep, err := monitor.Check(ctx)
	if err != nil {
		return err
	}
	return finishIntegrityRun(ctx, st, monitor, rep, reportDir, execute)
}

func finishIntegrityRun(ctx context.Context, st crm.Store, monitor *reconcile.Monitor, rep *reconcile.Report, reportDir string, execute bool) error {
	if !execute {
		return nil
	}

	if err := monitor.Persist(ctx, rep); err != nil {
		return err
	}
	monitor.Deliver(ctx, rep)

	if reportDir != "" {
		path, err := monitor.WriteReport(rep, reportDir)
		if err != nil {
			zap.L().Warn("report export failed", zap.Error(err))
		} else {
			zap.L().Info("report exported", zap.String("path", path))
		}
	}

	return st.RecordRun(ctx, reconcile.ScriptIntegrityCheck, rep.Notes())
}

func init() {
	integrityCmd.Flags().BoolVar(&integrityDryRun, "dry-run", false, "print the report without persisting (default)")
	integrityCmd.Flags().BoolVar(&integrityExecute, "execute", false, "persist the snapshot, send alerts, export the report")
	integrityCmd.Flags().StringVar(&integrityReportDir, "report-dir", "", "directory for JSON report export (default from config)")
	integrityCmd.Flags().BoolVar(&integrityWatch, "watch", false, "repeat the check on an interval until interrupted")
	integrityCmd.Flags().DurationVar(&integrityInterval, "interval", 0, "watch interval (default from config, 6h)")
	rootCmd.AddCommand(integrityCmd)
}
