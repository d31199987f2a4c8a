package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/movedash/reconcile-cli/internal/load"
)

var (
	importFile      string
	importEntity    string
	importFormat    string
	importEncoding  string
	importDelimiter string
	importSheet     string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a CRM export file",
	Long:  "Imports fact rows from a local file or an http(s)/ftp URL. lead_status, lost_leads, and bad_leads rows pass through the reactive linking hook at insert time; customers, booked_opportunities, and jobs are bulk-inserted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
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

		encoding := importEncoding
		if encoding == "" {
			encoding = cfg.Import.Encoding
		}

		importer := load.NewImporter(st)
		res, err := importer.Run(ctx, load.Options{
			Source:    importFile,
			Entity:    importEntity,
			Format:    importFormat,
			Encoding:  encoding,
			Delimiter: delimiterRune(importDelimiter, cfg.Import.Delimiter),
			Sheet:     importSheet,
		})
		if err != nil {
			return err
		}

		return printJSON(res)
	},
}

// delimiterRune picks the CSV delimiter: the flag wins over config, and the
// parser default applies when both are blank.
func delimiterRune(flagValue, cfgValue string) rune {
	v := flagValue
	if v == "" {
		v = cfgValue
	}
	if v == "" {
		return 0
	}
	return []rune(v)[0]
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "export file path or http(s)/ftp URL (required)")
	importCmd.Flags().StringVar(&importEntity, "entity", "", "entity to import: customers, lead_status, booked_opportunities, lost_leads, bad_leads, jobs (required)")
	importCmd.Flags().StringVar(&importFormat, "format", "", "file format: csv or xlsx (default inferred from the file extension)")
	importCmd.Flags().StringVar(&importEncoding, "encoding", "", "charset of CSV sources, e.g. windows-1252 (default from config, UTF-8)")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", "", "CSV delimiter (default from config, ',')")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("entity")
	rootCmd.AddCommand(importCmd)
}
