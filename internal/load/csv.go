// Package load ingests CRM export files into the store. It parses CSV and
// XLSX exports from local paths or http(s)/ftp URLs and routes rows to the
// per-entity insert paths.
package load

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// Row is one export record keyed by lower-cased header name. Values are
// whitespace-trimmed; blank cells are present as empty strings.
type Row map[string]string

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter rune   // default ','
	Encoding  string // IANA/HTML charset name of the source; default UTF-8
}

// StreamCSV reads a CSV export and sends header-keyed rows to a channel.
// The first record is the header. Caller must consume the returned row
// channel. Errors are sent on the error channel. Both channels are closed
// when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	decoded, err := decodeReader(r, opts.Encoding)
	if err != nil {
		errCh <- err
		close(rowCh)
		close(errCh)
		return rowCh, errCh
	}

	cr := csv.NewReader(decoded)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1 // legacy exports pad rows unevenly

	go func() {
		defer close(rowCh)
		defer close(errCh)

		var header []string
		for {
			if err := ctx.Err(); err != nil {
				errCh <- eris.Wrap(err, "csv: context cancelled mid stream")
				return
			}

			record, err := cr.Read()
			switch {
			case err == io.EOF:
				if header == nil {
					errCh <- eris.New("csv: no header row")
				}
				return
			case err != nil:
				errCh <- eris.Wrap(err, "csv: read record")
				return
			case header == nil:
				header = normalizeHeader(record)
				continue
			}

			select {
			case rowCh <- zipRow(header, record):
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled mid stream")
				return
			}
		}
	}()

	return rowCh, errCh
}

// decodeReader wraps r with a charset decoder when the export is not UTF-8.
// Legacy CRM dumps are commonly windows-1252.
func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	if encoding == "" {
		return r, nil
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: unsupported encoding %q", encoding)
	}
	return enc.NewDecoder().Reader(r), nil
}

func normalizeHeader(record []string) []string {
	header := make([]string, len(record))
	for i, cell := range record {
		if i == 0 {
			// Excel-produced exports lead with a BOM.
			cell = strings.TrimPrefix(cell, "\ufeff")
		}
		header[i] = strings.ToLower(strings.TrimSpace(cell))
	}
	return header
}

// zipRow pairs record fields with header names. Fields beyond the header are
// dropped, headers beyond the record stay absent.
func zipRow(header []string, record []string) Row {
	row := make(Row, len(header))
	for i, field := range record {
		if i >= len(header) {
			break
		}
		if header[i] == "" {
			continue
		}
		row[header[i]] = strings.TrimSpace(field)
	}
	return row
}
