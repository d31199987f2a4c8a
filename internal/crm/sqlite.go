package crm

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// sqlQuerier is the subset of *sql.DB and *sql.Tx the store runs SQL
// through.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and the behavioral test suite; semantics match the
// PostgreSQL driver statement for statement.
type SQLiteStore struct {
	db   *sql.DB // nil on transaction-scoped views
	q    sqlQuerier
	hook LinkHook
	inTx bool
}

// sqlitePragmas are applied on open. WAL plus a busy timeout keeps the
// reactive hook's read-inside-insert pattern from tripping SQLITE_BUSY.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// NewSQLite opens a SQLite database at the given path.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, p := range sqlitePragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: apply %s", p)
		}
	}
	return &SQLiteStore{db: db, q: db}, nil
}

const (
	sqliteInsertCustomer          = `INSERT INTO customers (id, email, phone, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	sqliteInsertLeadStatus        = `INSERT INTO lead_status (` + leadStatusCols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqliteInsertBookedOpportunity = `INSERT INTO booked_opportunities (` + bookedCols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqliteInsertLostLead          = `INSERT INTO lost_leads (` + lostLeadCols + `) VALUES (?, ?, ?, ?, ?)`
	sqliteInsertBadLead           = `INSERT INTO bad_leads (` + badLeadCols + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqliteInsertJob               = `INSERT INTO jobs (id, customer_id, branch_id, branch_name, sales_person_id, sales_person_name, lead_source_id, referral_source, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqliteRecordRun               = `INSERT INTO script_execution_log (script_name, execution_count, last_execution_at, notes, created_at) VALUES (?, 1, ?, ?, ?) ON CONFLICT (script_name) DO UPDATE SET execution_count = script_execution_log.execution_count + 1, last_execution_at = excluded.last_execution_at, notes = CASE WHEN excluded.notes <> '' THEN excluded.notes ELSE script_execution_log.notes END`
)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS customers (
	id         TEXT PRIMARY KEY,
	email      TEXT,
	phone      TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_customers_email ON customers(email);
CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(phone);

CREATE TABLE IF NOT EXISTS branches (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE,
	city            TEXT,
	province        TEXT,
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sales_persons (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE,
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS lead_sources (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE,
	category        TEXT NOT NULL DEFAULT 'other',
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS booked_opportunities (
	id                TEXT PRIMARY KEY,
	quote_number      TEXT NOT NULL,
	customer_id       TEXT NOT NULL,
	sales_person_id   TEXT REFERENCES sales_persons(id),
	sales_person_name TEXT,
	branch_id         TEXT REFERENCES branches(id),
	branch_name       TEXT,
	lead_source_id    TEXT REFERENCES lead_sources(id),
	referral_source   TEXT,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_booked_opportunities_quote ON booked_opportunities(quote_number);
CREATE INDEX IF NOT EXISTS idx_booked_opportunities_customer ON booked_opportunities(customer_id);

CREATE TABLE IF NOT EXISTS lead_status (
	id                    TEXT PRIMARY KEY,
	quote_number          TEXT,
	customer_id           TEXT,
	booked_opportunity_id TEXT REFERENCES booked_opportunities(id),
	lead_source_id        TEXT REFERENCES lead_sources(id),
	branch_id             TEXT REFERENCES branches(id),
	branch_name           TEXT,
	referral_source       TEXT,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lead_status_quote ON lead_status(quote_number);
CREATE INDEX IF NOT EXISTS idx_lead_status_booked ON lead_status(booked_opportunity_id);

CREATE TABLE IF NOT EXISTS lost_leads (
	id                    TEXT PRIMARY KEY,
	quote_number          TEXT,
	booked_opportunity_id TEXT REFERENCES booked_opportunities(id),
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lost_leads_quote ON lost_leads(quote_number);

CREATE TABLE IF NOT EXISTS bad_leads (
	id             TEXT PRIMARY KEY,
	customer_id    TEXT,
	customer_email TEXT,
	customer_phone TEXT,
	lead_status_id TEXT REFERENCES lead_status(id),
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bad_leads_customer ON bad_leads(customer_id);
CREATE INDEX IF NOT EXISTS idx_bad_leads_email ON bad_leads(customer_email);
CREATE INDEX IF NOT EXISTS idx_bad_leads_phone ON bad_leads(customer_phone);
CREATE INDEX IF NOT EXISTS idx_bad_leads_lead_status ON bad_leads(lead_status_id);

CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	customer_id       TEXT,
	branch_id         TEXT REFERENCES branches(id),
	branch_name       TEXT,
	sales_person_id   TEXT REFERENCES sales_persons(id),
	sales_person_name TEXT,
	lead_source_id    TEXT REFERENCES lead_sources(id),
	referral_source   TEXT,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_customer ON jobs(customer_id);
CREATE INDEX IF NOT EXISTS idx_jobs_branch ON jobs(branch_id);
CREATE INDEX IF NOT EXISTS idx_jobs_sales_person ON jobs(sales_person_id);

CREATE TABLE IF NOT EXISTS script_execution_log (
	script_name       TEXT PRIMARY KEY,
	execution_count   INTEGER NOT NULL DEFAULT 1,
	last_execution_at DATETIME NOT NULL,
	notes             TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS integrity_snapshots (
	id                    TEXT PRIMARY KEY,
	checked_at            DATETIME NOT NULL,
	job_customer_rate     REAL NOT NULL,
	lead_status_rate      REAL NOT NULL,
	bad_lead_rate         REAL NOT NULL,
	lost_lead_rate        REAL NOT NULL,
	orphaned_lead_status  INTEGER NOT NULL DEFAULT 0,
	orphaned_lost_leads   INTEGER NOT NULL DEFAULT 0,
	orphaned_bad_leads    INTEGER NOT NULL DEFAULT 0,
	jobs_without_customer INTEGER NOT NULL DEFAULT 0,
	alerts                TEXT,
	created_at            DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_integrity_snapshots_checked ON integrity_snapshots(checked_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetLinkHook installs the reactive linking hook. Inserts of LeadStatus,
// LostLead, and BadLead rows run it inside the insert transaction.
func (s *SQLiteStore) SetLinkHook(h LinkHook) {
	s.hook = h
}

// withTx runs fn inside a transaction. Dry-run views are already
// transaction-scoped, so fn reuses the open transaction there.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(q sqlQuerier) error) error {
	if s.inTx {
		return fn(s.q)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// InDryRun runs fn against a store view bound to one transaction that is
// always rolled back.
func (s *SQLiteStore) InDryRun(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return eris.New("sqlite: dry run views cannot nest")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin dry run")
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&SQLiteStore{q: tx, hook: s.hook, inTx: true})
}

// Execution ledger

func (s *SQLiteStore) HasRun(ctx context.Context, scriptName string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM script_execution_log WHERE script_name = ?`,
		scriptName,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: has run %s", scriptName)
	}
	return n > 0, nil
}

func (s *SQLiteStore) RecordRun(ctx context.Context, scriptName, notes string) error {
	now := nowUTC()
	_, err := s.q.ExecContext(ctx, sqliteRecordRun, scriptName, now, notes, now)
	return eris.Wrapf(err, "sqlite: record run %s", scriptName)
}

func (s *SQLiteStore) LedgerEntries(ctx context.Context) ([]LedgerEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+ledgerCols+` FROM script_execution_log ORDER BY script_name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: ledger entries")
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ledger entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: ledger entries iterate")
}

// Dimension resolution

func (s *SQLiteStore) DistinctRawValues(ctx context.Context, src RawSource) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, distinctRawSQL(src))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: distinct %s.%s", src.Table, src.RawColumn)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw value")
		}
		values = append(values, v)
	}
	return values, eris.Wrap(rows.Err(), "sqlite: distinct values iterate")
}

func (s *SQLiteStore) FindDimensionID(ctx context.Context, dim Dimension, normalizedName string) (string, error) {
	table, err := dimensionTable(dim)
	if err != nil {
		return "", err
	}
	var id string
	err = s.q.QueryRowContext(ctx,
		`SELECT id FROM `+table+` WHERE normalized_name = ?`,
		normalizedName,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: find %s %s", dim, normalizedName)
	}
	return id, nil
}

func (s *SQLiteStore) EnsureBranch(ctx context.Context, b *Branch) (string, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := nowUTC()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO branches (id, name, normalized_name, city, province, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, TRUE, ?, ?)
		 ON CONFLICT (normalized_name) DO NOTHING`,
		b.ID, b.Name, b.NormalizedName, b.City, b.Province, now, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: ensure branch %s", b.NormalizedName)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return b.ID, nil
	}
	return s.FindDimensionID(ctx, DimensionBranch, b.NormalizedName)
}

func (s *SQLiteStore) EnsureSalesPerson(ctx context.Context, sp *SalesPerson) (string, error) {
	if sp.ID == "" {
		sp.ID = uuid.New().String()
	}
	now := nowUTC()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO sales_persons (id, name, normalized_name, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, TRUE, ?, ?)
		 ON CONFLICT (normalized_name) DO NOTHING`,
		sp.ID, sp.Name, sp.NormalizedName, now, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: ensure sales person %s", sp.NormalizedName)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return sp.ID, nil
	}
	return s.FindDimensionID(ctx, DimensionSalesPerson, sp.NormalizedName)
}

func (s *SQLiteStore) EnsureLeadSource(ctx context.Context, ls *LeadSource) (string, error) {
	if ls.ID == "" {
		ls.ID = uuid.New().String()
	}
	now := nowUTC()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO lead_sources (id, name, normalized_name, category, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, TRUE, ?, ?)
		 ON CONFLICT (normalized_name) DO NOTHING`,
		ls.ID, ls.Name, ls.NormalizedName, ls.Category, now, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: ensure lead source %s", ls.NormalizedName)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return ls.ID, nil
	}
	return s.FindDimensionID(ctx, DimensionLeadSource, ls.NormalizedName)
}

func (s *SQLiteStore) BackfillDimensionFK(ctx context.Context, src RawSource, rawValue, dimensionID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, backfillSQL(src, "?", "?", "?"), dimensionID, nowUTC(), rawValue)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: backfill %s.%s", src.Table, src.FKColumn)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) BackfillBlankDimensionFK(ctx context.Context, src RawSource, dimensionID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, blankBackfillSQL(src, "?", "?"), dimensionID, nowUTC())
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: backfill blank %s.%s", src.Table, src.FKColumn)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) GetBranch(ctx context.Context, id string) (*Branch, error) {
	b, err := scanBranch(s.q.QueryRowContext(ctx,
		`SELECT `+branchCols+` FROM branches WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get branch %s", id)
	}
	return b, nil
}

func (s *SQLiteStore) GetSalesPerson(ctx context.Context, id string) (*SalesPerson, error) {
	sp, err := scanSalesPerson(s.q.QueryRowContext(ctx,
		`SELECT `+salesPersonCols+` FROM sales_persons WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get sales person %s", id)
	}
	return sp, nil
}

func (s *SQLiteStore) GetLeadSource(ctx context.Context, id string) (*LeadSource, error) {
	ls, err := scanLeadSource(s.q.QueryRowContext(ctx,
		`SELECT `+leadSourceCols+` FROM lead_sources WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead source %s", id)
	}
	return ls, nil
}

func (s *SQLiteStore) SalesPersonByName(ctx context.Context, normalizedName string) (*SalesPerson, error) {
	sp, err := scanSalesPerson(s.q.QueryRowContext(ctx,
		`SELECT `+salesPersonCols+` FROM sales_persons WHERE normalized_name = ?`,
		normalizedName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: sales person by name %s", normalizedName)
	}
	return sp, nil
}

func (s *SQLiteStore) SalesPersonRefCount(ctx context.Context, id string) (int64, error) {
	var count int64
	err := s.q.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM jobs WHERE sales_person_id = ?)
		      + (SELECT COUNT(*) FROM booked_opportunities WHERE sales_person_id = ?)`,
		id, id,
	).Scan(&count)
	return count, eris.Wrapf(err, "sqlite: sales person ref count %s", id)
}

func (s *SQLiteStore) RepointSalesPerson(ctx context.Context, fromID, toID string) (int64, error) {
	var moved int64
	err := s.withTx(ctx, func(q sqlQuerier) error {
		now := nowUTC()
		res, err := q.ExecContext(ctx,
			`UPDATE jobs SET sales_person_id = ?, updated_at = ? WHERE sales_person_id = ?`,
			toID, now, fromID,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: repoint jobs")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}
		moved += n

		res, err = q.ExecContext(ctx,
			`UPDATE booked_opportunities SET sales_person_id = ?, updated_at = ? WHERE sales_person_id = ?`,
			toID, now, fromID,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: repoint booked opportunities")
		}
		n, err = res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}
		moved += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

func (s *SQLiteStore) RenameSalesPerson(ctx context.Context, id, name, normalizedName string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE sales_persons SET name = ?, normalized_name = ?, updated_at = ? WHERE id = ?`,
		name, normalizedName, nowUTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: rename sales person %s", id)
	}
	return checkRowsAffected(res, "sales person", id)
}

func (s *SQLiteStore) DeactivateSalesPerson(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE sales_persons SET is_active = FALSE, updated_at = ? WHERE id = ?`,
		nowUTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate sales person %s", id)
	}
	return checkRowsAffected(res, "sales person", id)
}

// Batch linking passes

func (s *SQLiteStore) AmbiguousQuotes(ctx context.Context) ([]QuoteDup, error) {
	rows, err := s.q.QueryContext(ctx, ambiguousQuotesSQL)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: ambiguous quotes")
	}
	defer rows.Close()

	var dups []QuoteDup
	for rows.Next() {
		var d QuoteDup
		if err := rows.Scan(&d.QuoteNumber, &d.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ambiguous quote")
		}
		dups = append(dups, d)
	}
	return dups, eris.Wrap(rows.Err(), "sqlite: ambiguous quotes iterate")
}

func (s *SQLiteStore) LinkLeadStatusByQuote(ctx context.Context) (int64, error) {
	res, err := s.q.ExecContext(ctx, quoteLinkSQL("lead_status", "?"), nowUTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: link lead_status by quote")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) LinkLostLeadsByQuote(ctx context.Context) (int64, error) {
	res, err := s.q.ExecContext(ctx, quoteLinkSQL("lost_leads", "?"), nowUTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: link lost_leads by quote")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) LinkBadLeadsByIdentity(ctx context.Context, field IdentityField) (int64, error) {
	query, err := badLeadLinkSQL(field, "?")
	if err != nil {
		return 0, err
	}
	res, err := s.q.ExecContext(ctx, query, nowUTC())
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: link bad_leads by %s", field)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// Integrity counts

func (s *SQLiteStore) CountRelationship(ctx context.Context, relationship string) (RelationshipCounts, error) {
	var query string
	switch relationship {
	case RelJobCustomer:
		query = `SELECT COALESCE(SUM(CASE WHEN customer_id IS NOT NULL THEN 1 ELSE 0 END), 0), COUNT(*) FROM jobs`
	case RelLeadStatusBO:
		query = `SELECT COALESCE(SUM(CASE WHEN booked_opportunity_id IS NOT NULL THEN 1 ELSE 0 END), 0), COUNT(*) FROM lead_status WHERE quote_number IS NOT NULL AND TRIM(quote_number) <> ''`
	case RelLostLeadBO:
		query = `SELECT COALESCE(SUM(CASE WHEN booked_opportunity_id IS NOT NULL THEN 1 ELSE 0 END), 0), COUNT(*) FROM lost_leads WHERE quote_number IS NOT NULL AND TRIM(quote_number) <> ''`
	case RelBadLeadLS:
		query = `SELECT COALESCE(SUM(CASE WHEN lead_status_id IS NOT NULL THEN 1 ELSE 0 END), 0), COUNT(*) FROM bad_leads WHERE (customer_id IS NOT NULL AND TRIM(customer_id) <> '') OR (customer_email IS NOT NULL AND TRIM(customer_email) <> '') OR (customer_phone IS NOT NULL AND TRIM(customer_phone) <> '')`
	default:
		return RelationshipCounts{}, eris.Errorf("unknown relationship: %s", relationship)
	}

	var c RelationshipCounts
	if err := s.q.QueryRowContext(ctx, query).Scan(&c.Linked, &c.Eligible); err != nil {
		return RelationshipCounts{}, eris.Wrapf(err, "sqlite: count %s", relationship)
	}
	return c, nil
}

func (s *SQLiteStore) InsertIntegritySnapshot(ctx context.Context, snap *IntegritySnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	now := nowUTC()
	if snap.CheckedAt.IsZero() {
		snap.CheckedAt = now
	}
	snap.CreatedAt = now

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO integrity_snapshots (`+snapshotCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.CheckedAt, snap.JobCustomerRate, snap.LeadStatusRate,
		snap.BadLeadRate, snap.LostLeadRate, snap.OrphanedLeadStatus,
		snap.OrphanedLostLeads, snap.OrphanedBadLeads, snap.JobsWithoutCustomer,
		snap.Alerts, snap.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert integrity snapshot")
}

func (s *SQLiteStore) LatestIntegritySnapshot(ctx context.Context) (*IntegritySnapshot, error) {
	snap, err := scanSnapshot(s.q.QueryRowContext(ctx,
		`SELECT `+snapshotCols+` FROM integrity_snapshots ORDER BY checked_at DESC LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest integrity snapshot")
	}
	return snap, nil
}

func (s *SQLiteStore) ListIntegritySnapshots(ctx context.Context, filter SnapshotFilter) ([]IntegritySnapshot, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+snapshotCols+` FROM integrity_snapshots ORDER BY checked_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list integrity snapshots")
	}
	defer rows.Close()

	var snaps []IntegritySnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan integrity snapshot")
		}
		snaps = append(snaps, *snap)
	}
	return snaps, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

// Fact writes

func (s *SQLiteStore) InsertCustomer(ctx context.Context, c *Customer) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := nowUTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, sqliteInsertCustomer, c.ID, c.Email, c.Phone, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert customer")
	}
	return c.ID, nil
}

func (s *SQLiteStore) InsertLeadStatus(ctx context.Context, ls *LeadStatus) (string, error) {
	if ls.ID == "" {
		ls.ID = uuid.New().String()
	}
	now := nowUTC()
	if ls.CreatedAt.IsZero() {
		ls.CreatedAt = now
	}
	ls.UpdatedAt = now

	err := s.withTx(ctx, func(q sqlQuerier) error {
		if s.hook != nil {
			hookWarn(s.hook.BeforeLeadStatusWrite(ctx, &sqliteHookReader{q: q}, ls), "lead_status", ls.ID)
		}
		_, err := q.ExecContext(ctx, sqliteInsertLeadStatus,
			ls.ID, ls.QuoteNumber, ls.CustomerID, ls.BookedOpportunityID,
			ls.LeadSourceID, ls.BranchID, ls.BranchName, ls.ReferralSource,
			ls.CreatedAt, ls.UpdatedAt,
		)
		return eris.Wrap(err, "sqlite: insert lead_status")
	})
	if err != nil {
		return "", err
	}
	return ls.ID, nil
}

func (s *SQLiteStore) InsertBookedOpportunity(ctx context.Context, bo *BookedOpportunity) (string, error) {
	if bo.ID == "" {
		bo.ID = uuid.New().String()
	}
	now := nowUTC()
	if bo.CreatedAt.IsZero() {
		bo.CreatedAt = now
	}
	bo.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, sqliteInsertBookedOpportunity,
		bo.ID, bo.QuoteNumber, bo.CustomerID, bo.SalesPersonID, bo.SalesPersonName,
		bo.BranchID, bo.BranchName, bo.LeadSourceID, bo.ReferralSource,
		bo.CreatedAt, bo.UpdatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert booked opportunity")
	}
	return bo.ID, nil
}

func (s *SQLiteStore) InsertLostLead(ctx context.Context, ll *LostLead) (string, error) {
	if ll.ID == "" {
		ll.ID = uuid.New().String()
	}
	now := nowUTC()
	if ll.CreatedAt.IsZero() {
		ll.CreatedAt = now
	}
	ll.UpdatedAt = now

	err := s.withTx(ctx, func(q sqlQuerier) error {
		if s.hook != nil {
			hookWarn(s.hook.BeforeLostLeadWrite(ctx, &sqliteHookReader{q: q}, ll), "lost_leads", ll.ID)
		}
		_, err := q.ExecContext(ctx, sqliteInsertLostLead,
			ll.ID, ll.QuoteNumber, ll.BookedOpportunityID, ll.CreatedAt, ll.UpdatedAt,
		)
		return eris.Wrap(err, "sqlite: insert lost_lead")
	})
	if err != nil {
		return "", err
	}
	return ll.ID, nil
}

func (s *SQLiteStore) InsertBadLead(ctx context.Context, bl *BadLead) (string, error) {
	if bl.ID == "" {
		bl.ID = uuid.New().String()
	}
	now := nowUTC()
	if bl.CreatedAt.IsZero() {
		bl.CreatedAt = now
	}
	bl.UpdatedAt = now

	err := s.withTx(ctx, func(q sqlQuerier) error {
		if s.hook != nil {
			hookWarn(s.hook.BeforeBadLeadWrite(ctx, &sqliteHookReader{q: q}, bl), "bad_leads", bl.ID)
		}
		_, err := q.ExecContext(ctx, sqliteInsertBadLead,
			bl.ID, bl.CustomerID, bl.CustomerEmail, bl.CustomerPhone,
			bl.LeadStatusID, bl.CreatedAt, bl.UpdatedAt,
		)
		return eris.Wrap(err, "sqlite: insert bad_lead")
	})
	if err != nil {
		return "", err
	}
	return bl.ID, nil
}

func (s *SQLiteStore) InsertJob(ctx context.Context, j *Job) (string, error) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	now := nowUTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, sqliteInsertJob,
		j.ID, j.CustomerID, j.BranchID, j.BranchName,
		j.SalesPersonID, j.SalesPersonName, j.LeadSourceID, j.ReferralSource,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert job")
	}
	return j.ID, nil
}

func (s *SQLiteStore) BulkInsertCustomers(ctx context.Context, cs []Customer) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(q sqlQuerier) error {
		now := nowUTC()
		for i := range cs {
			c := &cs[i]
			if c.ID == "" {
				c.ID = uuid.New().String()
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			c.UpdatedAt = now
			if _, err := q.ExecContext(ctx, sqliteInsertCustomer,
				c.ID, c.Email, c.Phone, c.CreatedAt, c.UpdatedAt); err != nil {
				return eris.Wrap(err, "sqlite: bulk insert customer")
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) BulkInsertBookedOpportunities(ctx context.Context, bos []BookedOpportunity) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(q sqlQuerier) error {
		now := nowUTC()
		for i := range bos {
			bo := &bos[i]
			if bo.ID == "" {
				bo.ID = uuid.New().String()
			}
			if bo.CreatedAt.IsZero() {
				bo.CreatedAt = now
			}
			bo.UpdatedAt = now
			if _, err := q.ExecContext(ctx, sqliteInsertBookedOpportunity,
				bo.ID, bo.QuoteNumber, bo.CustomerID, bo.SalesPersonID, bo.SalesPersonName,
				bo.BranchID, bo.BranchName, bo.LeadSourceID, bo.ReferralSource,
				bo.CreatedAt, bo.UpdatedAt); err != nil {
				return eris.Wrap(err, "sqlite: bulk insert booked opportunity")
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) BulkInsertJobs(ctx context.Context, js []Job) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(q sqlQuerier) error {
		now := nowUTC()
		for i := range js {
			j := &js[i]
			if j.ID == "" {
				j.ID = uuid.New().String()
			}
			if j.CreatedAt.IsZero() {
				j.CreatedAt = now
			}
			j.UpdatedAt = now
			if _, err := q.ExecContext(ctx, sqliteInsertJob,
				j.ID, j.CustomerID, j.BranchID, j.BranchName,
				j.SalesPersonID, j.SalesPersonName, j.LeadSourceID, j.ReferralSource,
				j.CreatedAt, j.UpdatedAt); err != nil {
				return eris.Wrap(err, "sqlite: bulk insert job")
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Fact reads

func (s *SQLiteStore) GetLeadStatus(ctx context.Context, id string) (*LeadStatus, error) {
	ls, err := scanLeadStatus(s.q.QueryRowContext(ctx,
		`SELECT `+leadStatusCols+` FROM lead_status WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead_status %s", id)
	}
	return ls, nil
}

func (s *SQLiteStore) GetLostLead(ctx context.Context, id string) (*LostLead, error) {
	ll, err := scanLostLead(s.q.QueryRowContext(ctx,
		`SELECT `+lostLeadCols+` FROM lost_leads WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lost_lead %s", id)
	}
	return ll, nil
}

func (s *SQLiteStore) GetBadLead(ctx context.Context, id string) (*BadLead, error) {
	bl, err := scanBadLead(s.q.QueryRowContext(ctx,
		`SELECT `+badLeadCols+` FROM bad_leads WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get bad_lead %s", id)
	}
	return bl, nil
}

// sqliteHookReader serves candidate lookups for the reactive hook inside
// the same transaction as the triggering write.
type sqliteHookReader struct {
	q sqlQuerier
}

func (r *sqliteHookReader) BookedByQuote(ctx context.Context, quoteNumber string) ([]BookedOpportunity, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+bookedCols+` FROM booked_opportunities WHERE quote_number = ?`,
		quoteNumber,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: booked by quote")
	}
	defer rows.Close()

	var out []BookedOpportunity
	for rows.Next() {
		bo, err := scanBookedOpportunity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan booked opportunity")
		}
		out = append(out, *bo)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: booked by quote iterate")
}

func (r *sqliteHookReader) LeadStatusCandidates(ctx context.Context, field IdentityField, value string) ([]LeadStatus, error) {
	query, err := candidatesSQL(field, "?")
	if err != nil {
		return nil, err
	}
	rows, err := r.q.QueryContext(ctx, query, value)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: lead_status candidates by %s", field)
	}
	defer rows.Close()

	var out []LeadStatus
	for rows.Next() {
		ls, err := scanLeadStatus(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead_status candidate")
		}
		out = append(out, *ls)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: candidates iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
