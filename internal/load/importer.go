package load

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/movedash/reconcile-cli/internal/crm"
)

// Import file formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const bulkBatchSize = 500

var importEntities = []string{
	crm.EntityCustomers,
	crm.EntityLeadStatus,
	crm.EntityBookedOpportunities,
	crm.EntityLostLeads,
	crm.EntityBadLeads,
	crm.EntityJobs,
}

// Options configure one import run.
type Options struct {
	Source    string // local path or http(s)/ftp URL
	Entity    string
	Format    string // "csv" or "xlsx"; inferred from the source when empty
	Encoding  string // charset of CSV sources; default UTF-8
	Delimiter rune   // CSV delimiter; default ','
	Sheet     string // XLSX sheet name; default first sheet
}

// Result summarizes an import run.
type Result struct {
	Entity   string `json:"entity"`
	Imported int64  `json:"imported"`
	Skipped  int64  `json:"skipped"`
}

// Notes summarizes the run for logs and CLI output.
func (r *Result) Notes() string {
	return fmt.Sprintf("imported %d %s rows (%d skipped)", r.Imported, r.Entity, r.Skipped)
}

// Importer feeds CRM export files into the store, one entity per run.
type Importer struct {
	store crm.Store
	http  *HTTPFetcher
	ftp   *FTPFetcher
	log   *zap.Logger
}

// NewImporter creates an Importer over the given store. The store's link
// hook, if set, runs for every single-row insert.
func NewImporter(store crm.Store) *Importer {
	return &Importer{
		store: store,
		http:  NewHTTPFetcher(HTTPOptions{}),
		ftp:   NewFTPFetcher(FTPOptions{}),
		log:   zap.L().With(zap.String("component", "load.importer")),
	}
}

// Run imports one export file into the store. lead_status, lost_leads, and
// bad_leads rows go through the single-row insert path so the reactive link
// hook fires per row; customers, booked_opportunities, and jobs are
// bulk-inserted.
func (i *Importer) Run(ctx context.Context, opts Options) (*Result, error) {
	entity := strings.ToLower(strings.TrimSpace(opts.Entity))
	snk, err := i.sinkFor(entity)
	if err != nil {
		return nil, err
	}
	format, err := resolveFormat(opts)
	if err != nil {
		return nil, err
	}

	res := &Result{Entity: entity}
	i.log.Info("import starting",
		zap.String("entity", entity),
		zap.String("source", opts.Source),
		zap.String("format", format),
	)

	switch format {
	case FormatXLSX:
		local, cleanup, err := i.localPath(ctx, opts.Source)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		rows, err := ReadXLSX(local, XLSXOptions{SheetName: opts.Sheet})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if err := i.consume(ctx, snk, row, res); err != nil {
				return nil, err
			}
		}
	default:
		rc, err := i.open(ctx, opts.Source)
		if err != nil {
			return nil, err
		}
		defer rc.Close() //nolint:errcheck

		// Cancelling unblocks the parser goroutine if an insert fails
		// mid-stream.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		rows, errs := StreamCSV(ctx, rc, CSVOptions{Delimiter: opts.Delimiter, Encoding: opts.Encoding})
		for row := range rows {
			if err := i.consume(ctx, snk, row, res); err != nil {
				return nil, err
			}
		}
		if err := <-errs; err != nil {
			return nil, err
		}
	}

	if err := snk.flush(ctx); err != nil {
		return nil, eris.Wrapf(err, "load: insert %s rows", entity)
	}

	i.log.Info("import complete",
		zap.String("entity", entity),
		zap.Int64("imported", res.Imported),
		zap.Int64("skipped", res.Skipped),
	)
	return res, nil
}

func (i *Importer) consume(ctx context.Context, snk *sink, row Row, res *Result) error {
	ok, err := snk.add(ctx, row)
	if err != nil {
		return eris.Wrapf(err, "load: insert %s row", res.Entity)
	}
	if !ok {
		res.Skipped++
		return nil
	}
	res.Imported++
	return nil
}

// sink routes decoded rows to either the single-row hooked insert path or
// the batched bulk path.
type sink struct {
	add   func(ctx context.Context, row Row) (bool, error)
	flush func(ctx context.Context) error
}

// rowSink inserts one row at a time so the store's reactive link hook runs
// per insert.
func rowSink[T any](decode func(Row) (T, bool), insert func(context.Context, *T) (string, error)) *sink {
	return &sink{
		add: func(ctx context.Context, row Row) (bool, error) {
			rec, ok := decode(row)
			if !ok {
				return false, nil
			}
			if _, err := insert(ctx, &rec); err != nil {
				return false, err
			}
			return true, nil
		},
		flush: func(context.Context) error { return nil },
	}
}

// bulkSink batches decoded rows and flushes every bulkBatchSize.
func bulkSink[T any](decode func(Row) (T, bool), insert func(context.Context, []T) (int64, error)) *sink {
	var batch []T
	return &sink{
		add: func(ctx context.Context, row Row) (bool, error) {
			rec, ok := decode(row)
			if !ok {
				return false, nil
			}
			batch = append(batch, rec)
			if len(batch) < bulkBatchSize {
				return true, nil
			}
			_, err := insert(ctx, batch)
			batch = nil
			return true, err
		},
		flush: func(ctx context.Context) error {
			if len(batch) == 0 {
				return nil
			}
			_, err := insert(ctx, batch)
			batch = nil
			return err
		},
	}
}

func (i *Importer) sinkFor(entity string) (*sink, error) {
	switch entity {
	case crm.EntityCustomers:
		return bulkSink(decodeCustomer, i.store.BulkInsertCustomers), nil
	case crm.EntityBookedOpportunities:
		return bulkSink(decodeBookedOpportunity, i.store.BulkInsertBookedOpportunities), nil
	case crm.EntityJobs:
		return bulkSink(decodeJob, i.store.BulkInsertJobs), nil
	case crm.EntityLeadStatus:
		return rowSink(decodeLeadStatus, i.store.InsertLeadStatus), nil
	case crm.EntityLostLeads:
		return rowSink(decodeLostLead, i.store.InsertLostLead), nil
	case crm.EntityBadLeads:
		return rowSink(decodeBadLead, i.store.InsertBadLead), nil
	default:
		return nil, eris.Errorf("load: unknown entity %q (valid: %s)", entity, strings.Join(importEntities, ", "))
	}
}

// Decoders map export columns to fact fields. Link FKs and dimension FKs are
// engine-owned and never imported. Rows without an id are skipped.

func decodeCustomer(row Row) (crm.Customer, bool) {
	if row["id"] == "" {
		return crm.Customer{}, false
	}
	return crm.Customer{
		ID:        row["id"],
		Email:     field(row, "email"),
		Phone:     field(row, "phone"),
		CreatedAt: timestamp(row, "created_at"),
	}, true
}

func decodeLeadStatus(row Row) (crm.LeadStatus, bool) {
	if row["id"] == "" {
		return crm.LeadStatus{}, false
	}
	return crm.LeadStatus{
		ID:             row["id"],
		QuoteNumber:    field(row, "quote_number"),
		CustomerID:     field(row, "customer_id"),
		BranchName:     field(row, "branch_name"),
		ReferralSource: field(row, "referral_source"),
		CreatedAt:      timestamp(row, "created_at"),
	}, true
}

func decodeBookedOpportunity(row Row) (crm.BookedOpportunity, bool) {
	if row["id"] == "" || row["quote_number"] == "" || row["customer_id"] == "" {
		return crm.BookedOpportunity{}, false
	}
	return crm.BookedOpportunity{
		ID:              row["id"],
		QuoteNumber:     row["quote_number"],
		CustomerID:      row["customer_id"],
		SalesPersonName: field(row, "sales_person_name"),
		BranchName:      field(row, "branch_name"),
		ReferralSource:  field(row, "referral_source"),
		CreatedAt:       timestamp(row, "created_at"),
	}, true
}

func decodeLostLead(row Row) (crm.LostLead, bool) {
	if row["id"] == "" {
		return crm.LostLead{}, false
	}
	return crm.LostLead{
		ID:          row["id"],
		QuoteNumber: field(row, "quote_number"),
		CreatedAt:   timestamp(row, "created_at"),
	}, true
}

func decodeBadLead(row Row) (crm.BadLead, bool) {
	if row["id"] == "" {
		return crm.BadLead{}, false
	}
	return crm.BadLead{
		ID:            row["id"],
		CustomerID:    field(row, "customer_id"),
		CustomerEmail: field(row, "customer_email"),
		CustomerPhone: field(row, "customer_phone"),
		CreatedAt:     timestamp(row, "created_at"),
	}, true
}

func decodeJob(row Row) (crm.Job, bool) {
	if row["id"] == "" {
		return crm.Job{}, false
	}
	return crm.Job{
		ID:              row["id"],
		CustomerID:      field(row, "customer_id"),
		BranchName:      field(row, "branch_name"),
		SalesPersonName: field(row, "sales_person_name"),
		ReferralSource:  field(row, "referral_source"),
		CreatedAt:       timestamp(row, "created_at"),
	}, true
}

// field returns a pointer to the row value, or nil for blank and absent
// cells.
func field(row Row, key string) *string {
	v := row[key]
	if v == "" {
		return nil
	}
	return &v
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// timestamp parses an export timestamp. Blank or unparseable values return
// the zero time, which the store fills with now.
func timestamp(row Row, key string) time.Time {
	v := row[key]
	if v == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// open returns a reader over the source, local or remote.
func (i *Importer) open(ctx context.Context, source string) (io.ReadCloser, error) {
	switch scheme := sourceScheme(source); scheme {
	case "":
		f, err := os.Open(source)
		if err != nil {
			return nil, eris.Wrapf(err, "load: open %s", source)
		}
		return f, nil
	case "http", "https":
		return i.http.Download(ctx, source)
	case "ftp":
		return i.ftp.Download(ctx, source)
	default:
		return nil, eris.Errorf("load: unsupported source scheme %q", scheme)
	}
}

// localPath returns a filesystem path for the source, downloading remote
// sources to a temp file first. The workbook parser needs a real path.
func (i *Importer) localPath(ctx context.Context, source string) (string, func(), error) {
	scheme := sourceScheme(source)
	if scheme == "" {
		return source, func() {}, nil
	}

	tmp, err := os.CreateTemp("", "reconcile-import-*.xlsx")
	if err != nil {
		return "", nil, eris.Wrap(err, "load: create temp file")
	}
	name := tmp.Name()
	_ = tmp.Close()
	cleanup := func() { _ = os.Remove(name) }

	switch scheme {
	case "http", "https":
		_, err = i.http.DownloadToFile(ctx, source, name)
	case "ftp":
		_, err = i.ftp.DownloadToFile(ctx, source, name)
	default:
		err = eris.Errorf("load: unsupported source scheme %q", scheme)
	}
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return name, cleanup, nil
}

// sourceScheme reports the URL scheme of a source, or "" for local paths.
func sourceScheme(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func resolveFormat(opts Options) (string, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		if sourceExt(opts.Source) == ".xlsx" {
			format = FormatXLSX
		} else {
			format = FormatCSV
		}
	}
	switch format {
	case FormatCSV, FormatXLSX:
		return format, nil
	default:
		return "", eris.Errorf("load: unsupported format %q (valid: csv, xlsx)", format)
	}
}

func sourceExt(source string) string {
	if sourceScheme(source) == "" {
		return strings.ToLower(filepath.Ext(source))
	}
	u, err := url.Parse(source)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}
