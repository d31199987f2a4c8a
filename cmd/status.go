package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/movedash/reconcile-cli/internal/crm"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the execution ledger",
	Long:  "Lists every batch script the ledger knows about, with execution counts, last run time, and notes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		entries, err := st.LedgerEntries(ctx)
		if err != nil {
			return eris.Wrap(err, "ledger entries")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No scripts have run.")
			return nil
		}

		formatLedger(os.Stdout, entries)
		return nil
	},
}

// formatLedger writes a tabular ledger listing to w.
func formatLedger(out io.Writer, entries []crm.LedgerEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SCRIPT\tRUNS\tLAST RUN\tNOTES")
	_, _ = fmt.Fprintln(w, "------\t----\t--------\t-----")

	for _, e := range entries {
		notes := e.Notes
		if len(notes) > 60 {
			notes = notes[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			e.ScriptName,
			e.ExecutionCount,
			e.LastExecutionAt.Format("2006-01-02 15:04"),
			notes,
		)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
