package crm

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/movedash/reconcile-cli/internal/db"
)

// querier is the subset of *pgxpool.Pool and pgx.Tx the store runs SQL
// through. Statements execute against the pool directly, or against the
// enclosing transaction on dry-run views.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	q       querier
	hook    LinkHook
	closeFn func()
	inTx    bool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

const (
	sqlInsertCustomer          = `INSERT INTO customers (id, email, phone, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`
	sqlInsertLeadStatus        = `INSERT INTO lead_status (` + leadStatusCols + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	sqlInsertBookedOpportunity = `INSERT INTO booked_opportunities (` + bookedCols + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	sqlInsertLostLead          = `INSERT INTO lost_leads (` + lostLeadCols + `) VALUES ($1, $2, $3, $4, $5)`
	sqlInsertBadLead           = `INSERT INTO bad_leads (` + badLeadCols + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	sqlInsertJob               = `INSERT INTO jobs (id, customer_id, branch_id, branch_name, sales_person_id, sales_person_name, lead_source_id, referral_source, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	sqlBookedByQuote           = `SELECT ` + bookedCols + ` FROM booked_opportunities WHERE quote_number = $1`
	sqlRecordRun               = `INSERT INTO script_execution_log (script_name, execution_count, last_execution_at, notes, created_at) VALUES ($1, 1, $2, $3, $2) ON CONFLICT (script_name) DO UPDATE SET execution_count = script_execution_log.execution_count + 1, last_execution_at = EXCLUDED.last_execution_at, notes = CASE WHEN EXCLUDED.notes <> '' THEN EXCLUDED.notes ELSE script_execution_log.notes END`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot import and hook paths.
var preparedStatements = map[string]string{
	"insert_customer":    sqlInsertCustomer,
	"insert_lead_status": sqlInsertLeadStatus,
	"insert_booked_opp":  sqlInsertBookedOpportunity,
	"insert_lost_lead":   sqlInsertLostLead,
	"insert_bad_lead":    sqlInsertBadLead,
	"insert_job":         sqlInsertJob,
	"booked_by_quote":    sqlBookedByQuote,
	"record_run":         sqlRecordRun,
}

// NewPostgres opens a pgx pool against the CRM database and verifies
// connectivity before handing the store back.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pc, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pc.MaxConns, pc.MinConns = 10, 2
	if poolCfg != nil && poolCfg.MaxConns > 0 {
		pc.MaxConns = poolCfg.MaxConns
	}
	if poolCfg != nil && poolCfg.MinConns > 0 {
		pc.MinConns = poolCfg.MinConns
	}
	pc.MaxConnLifetime = 30 * time.Minute
	pc.MaxConnIdleTime = 5 * time.Minute

	// Hot import and hook statements get prepared once per connection.
	pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewPostgresFromPool(pool), nil
}

// NewPostgresFromPool wraps an already-open pool. pgxmock's pool mock
// satisfies db.Pool, so tests build stores through here without a server.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{q: pool, closeFn: pool.Close}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.q.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.q)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SetLinkHook installs the reactive linking hook. Inserts of LeadStatus,
// LostLead, and BadLead rows run it inside the insert transaction.
func (s *PostgresStore) SetLinkHook(h LinkHook) {
	s.hook = h
}

// withTx runs fn inside a transaction. Dry-run views are already
// transaction-scoped, so fn reuses the open transaction there.
func (s *PostgresStore) withTx(ctx context.Context, fn func(q querier) error) error {
	if s.inTx {
		return fn(s.q)
	}
	tx, err := s.q.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

// InDryRun runs fn against a store view bound to one transaction that is
// always rolled back. fn observes exact change counts; the database is
// left untouched.
func (s *PostgresStore) InDryRun(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return eris.New("postgres: dry run views cannot nest")
	}
	tx, err := s.q.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin dry run")
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return fn(&PostgresStore{q: tx, hook: s.hook, inTx: true})
}

// Execution ledger

func (s *PostgresStore) HasRun(ctx context.Context, scriptName string) (bool, error) {
	var ran bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM script_execution_log WHERE script_name = $1)`,
		scriptName,
	).Scan(&ran)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: has run %s", scriptName)
	}
	return ran, nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, scriptName, notes string) error {
	_, err := s.q.Exec(ctx, sqlRecordRun, scriptName, nowUTC(), notes)
	return eris.Wrapf(err, "postgres: record run %s", scriptName)
}

func (s *PostgresStore) LedgerEntries(ctx context.Context) ([]LedgerEntry, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+ledgerCols+` FROM script_execution_log ORDER BY script_name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: ledger entries")
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ledger entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: ledger entries iterate")
}

// Dimension resolution

func (s *PostgresStore) DistinctRawValues(ctx context.Context, src RawSource) ([]string, error) {
	rows, err := s.q.Query(ctx, distinctRawSQL(src))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: distinct %s.%s", src.Table, src.RawColumn)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw value")
		}
		values = append(values, v)
	}
	return values, eris.Wrap(rows.Err(), "postgres: distinct values iterate")
}

func (s *PostgresStore) FindDimensionID(ctx context.Context, dim Dimension, normalizedName string) (string, error) {
	table, err := dimensionTable(dim)
	if err != nil {
		return "", err
	}
	var id string
	err = s.q.QueryRow(ctx,
		`SELECT id FROM `+table+` WHERE normalized_name = $1`,
		normalizedName,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrapf(err, "postgres: find %s %s", dim, normalizedName)
	}
	return id, nil
}

func (s *PostgresStore) EnsureBranch(ctx context.Context, b *Branch) (string, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := nowUTC()
	tag, err := s.q.Exec(ctx,
		`INSERT INTO branches (id, name, normalized_name, city, province, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
		 ON CONFLICT (normalized_name) DO NOTHING`,
		b.ID, b.Name, b.NormalizedName, b.City, b.Province, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: ensure branch %s", b.NormalizedName)
	}
	if tag.RowsAffected() > 0 {
		return b.ID, nil
	}
	// Lost the insert race or the key already existed; fetch the survivor.
	return s.FindDimensionID(ctx, DimensionBranch, b.NormalizedName)
}

func (s *PostgresStore) EnsureSalesPerson(ctx context.Context, sp *SalesPerson) (string, error) {
	if sp.ID == "" {
		sp.ID = uuid.New().String()
	}
	now := nowUTC()
	tag, err := s.q.Exec(ctx,
		`INSERT INTO sales_persons (id, name, normalized_name, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, TRUE, $4, $4)
		 ON CONFLICT (normalized_name) DO NOTHING`,
		sp.ID, sp.Name, sp.NormalizedName, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: ensure sales person %s", sp.NormalizedName)
	}
	if tag.RowsAffected() > 0 {
		return sp.ID, nil
	}
	return s.FindDimensionID(ctx, DimensionSalesPerson, sp.NormalizedName)
}

func (s *PostgresStore) EnsureLeadSource(ctx context.Context, ls *LeadSource) (string, error) {
	if ls.ID == "" {
		ls.ID = uuid.New().String()
	}
	now := nowUTC()
	tag, err := s.q.Exec(ctx,
		`INSERT INTO lead_sources (id, name, normalized_name, category, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		 ON CONFLICT (normalized_name) DO NOTHING`,
		ls.ID, ls.Name, ls.NormalizedName, ls.Category, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: ensure lead source %s", ls.NormalizedName)
	}
	if tag.RowsAffected() > 0 {
		return ls.ID, nil
	}
	return s.FindDimensionID(ctx, DimensionLeadSource, ls.NormalizedName)
}

func (s *PostgresStore) BackfillDimensionFK(ctx context.Context, src RawSource, rawValue, dimensionID string) (int64, error) {
	tag, err := s.q.Exec(ctx, backfillSQL(src, "$1", "$2", "$3"), dimensionID, nowUTC(), rawValue)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: backfill %s.%s", src.Table, src.FKColumn)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) BackfillBlankDimensionFK(ctx context.Context, src RawSource, dimensionID string) (int64, error) {
	tag, err := s.q.Exec(ctx, blankBackfillSQL(src, "$1", "$2"), dimensionID, nowUTC())
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: backfill blank %s.%s", src.Table, src.FKColumn)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetBranch(ctx context.Context, id string) (*Branch, error) {
	b, err := scanBranch(s.q.QueryRow(ctx,
		`SELECT `+branchCols+` FROM branches WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get branch %s", id)
	}
	return b, nil
}

func (s *PostgresStore) GetSalesPerson(ctx context.Context, id string) (*SalesPerson, error) {
	sp, err := scanSalesPerson(s.q.QueryRow(ctx,
		`SELECT `+salesPersonCols+` FROM sales_persons WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get sales person %s", id)
	}
	return sp, nil
}

func (s *PostgresStore) GetLeadSource(ctx context.Context, id string) (*LeadSource, error) {
	ls, err := scanLeadSource(s.q.QueryRow(ctx,
		`SELECT `+leadSourceCols+` FROM lead_sources WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get lead source %s", id)
	}
	return ls, nil
}

func (s *PostgresStore) SalesPersonByName(ctx context.Context, normalizedName string) (*SalesPerson, error) {
	sp, err := scanSalesPerson(s.q.QueryRow(ctx,
		`SELECT `+salesPersonCols+` FROM sales_persons WHERE normalized_name = $1`,
		normalizedName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: sales person by name %s", normalizedName)
	}
	return sp, nil
}

func (s *PostgresStore) SalesPersonRefCount(ctx context.Context, id string) (int64, error) {
	var count int64
	err := s.q.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM jobs WHERE sales_person_id = $1)
		      + (SELECT COUNT(*) FROM booked_opportunities WHERE sales_person_id = $1)`,
		id,
	).Scan(&count)
	return count, eris.Wrapf(err, "postgres: sales person ref count %s", id)
}

func (s *PostgresStore) RepointSalesPerson(ctx context.Context, fromID, toID string) (int64, error) {
	var moved int64
	err := s.withTx(ctx, func(q querier) error {
		now := nowUTC()
		tag, err := q.Exec(ctx,
			`UPDATE jobs SET sales_person_id = $1, updated_at = $2 WHERE sales_person_id = $3`,
			toID, now, fromID,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: repoint jobs")
		}
		moved += tag.RowsAffected()

		tag, err = q.Exec(ctx,
			`UPDATE booked_opportunities SET sales_person_id = $1, updated_at = $2 WHERE sales_person_id = $3`,
			toID, now, fromID,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: repoint booked opportunities")
		}
		moved += tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

func (s *PostgresStore) RenameSalesPerson(ctx context.Context, id, name, normalizedName string) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE sales_persons SET name = $1, normalized_name = $2, updated_at = $3 WHERE id = $4`,
		name, normalizedName, nowUTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: rename sales person %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sales person not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) DeactivateSalesPerson(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE sales_persons SET is_active = FALSE, updated_at = $1 WHERE id = $2`,
		nowUTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate sales person %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sales person not found: %s", id)
	}
	return nil
}

// Batch linking passes

func (s *PostgresStore) AmbiguousQuotes(ctx context.Context) ([]QuoteDup, error) {
	rows, err := s.q.Query(ctx, ambiguousQuotesSQL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: ambiguous quotes")
	}
	defer rows.Close()

	var dups []QuoteDup
	for rows.Next() {
		var d QuoteDup
		if err := rows.Scan(&d.QuoteNumber, &d.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ambiguous quote")
		}
		dups = append(dups, d)
	}
	return dups, eris.Wrap(rows.Err(), "postgres: ambiguous quotes iterate")
}

func (s *PostgresStore) LinkLeadStatusByQuote(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx, quoteLinkSQL("lead_status", "$1"), nowUTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: link lead_status by quote")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) LinkLostLeadsByQuote(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx, quoteLinkSQL("lost_leads", "$1"), nowUTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: link lost_leads by quote")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) LinkBadLeadsByIdentity(ctx context.Context, field IdentityField) (int64, error) {
	query, err := badLeadLinkSQL(field, "$1")
	if err != nil {
		return 0, err
	}
	tag, err := s.q.Exec(ctx, query, nowUTC())
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: link bad_leads by %s", field)
	}
	return tag.RowsAffected(), nil
}

// Integrity counts

func (s *PostgresStore) CountRelationship(ctx context.Context, relationship string) (RelationshipCounts, error) {
	var query string
	switch relationship {
	case RelJobCustomer:
		query = `SELECT COUNT(*) FILTER (WHERE customer_id IS NOT NULL), COUNT(*) FROM jobs`
	case RelLeadStatusBO:
		query = `SELECT COUNT(*) FILTER (WHERE booked_opportunity_id IS NOT NULL), COUNT(*) FROM lead_status WHERE quote_number IS NOT NULL AND TRIM(quote_number) <> ''`
	case RelLostLeadBO:
		query = `SELECT COUNT(*) FILTER (WHERE booked_opportunity_id IS NOT NULL), COUNT(*) FROM lost_leads WHERE quote_number IS NOT NULL AND TRIM(quote_number) <> ''`
	case RelBadLeadLS:
		query = `SELECT COUNT(*) FILTER (WHERE lead_status_id IS NOT NULL), COUNT(*) FROM bad_leads WHERE (customer_id IS NOT NULL AND TRIM(customer_id) <> '') OR (customer_email IS NOT NULL AND TRIM(customer_email) <> '') OR (customer_phone IS NOT NULL AND TRIM(customer_phone) <> '')`
	default:
		return RelationshipCounts{}, eris.Errorf("unknown relationship: %s", relationship)
	}

	var c RelationshipCounts
	if err := s.q.QueryRow(ctx, query).Scan(&c.Linked, &c.Eligible); err != nil {
		return RelationshipCounts{}, eris.Wrapf(err, "postgres: count %s", relationship)
	}
	return c, nil
}

func (s *PostgresStore) InsertIntegritySnapshot(ctx context.Context, snap *IntegritySnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	now := nowUTC()
	if snap.CheckedAt.IsZero() {
		snap.CheckedAt = now
	}
	snap.CreatedAt = now

	_, err := s.q.Exec(ctx,
		`INSERT INTO integrity_snapshots (`+snapshotCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		snap.ID, snap.CheckedAt, snap.JobCustomerRate, snap.LeadStatusRate,
		snap.BadLeadRate, snap.LostLeadRate, snap.OrphanedLeadStatus,
		snap.OrphanedLostLeads, snap.OrphanedBadLeads, snap.JobsWithoutCustomer,
		snap.Alerts, snap.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert integrity snapshot")
}

func (s *PostgresStore) LatestIntegritySnapshot(ctx context.Context) (*IntegritySnapshot, error) {
	snap, err := scanSnapshot(s.q.QueryRow(ctx,
		`SELECT `+snapshotCols+` FROM integrity_snapshots ORDER BY checked_at DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest integrity snapshot")
	}
	return snap, nil
}

func (s *PostgresStore) ListIntegritySnapshots(ctx context.Context, filter SnapshotFilter) ([]IntegritySnapshot, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(ctx,
		`SELECT `+snapshotCols+` FROM integrity_snapshots ORDER BY checked_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list integrity snapshots")
	}
	defer rows.Close()

	var snaps []IntegritySnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan integrity snapshot")
		}
		snaps = append(snaps, *snap)
	}
	return snaps, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

// Fact writes

func (s *PostgresStore) InsertCustomer(ctx context.Context, c *Customer) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := nowUTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.q.Exec(ctx, sqlInsertCustomer, c.ID, c.Email, c.Phone, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert customer")
	}
	return c.ID, nil
}

func (s *PostgresStore) InsertLeadStatus(ctx context.Context, ls *LeadStatus) (string, error) {
	if ls.ID == "" {
		ls.ID = uuid.New().String()
	}
	now := nowUTC()
	if ls.CreatedAt.IsZero() {
		ls.CreatedAt = now
	}
	ls.UpdatedAt = now

	err := s.withTx(ctx, func(q querier) error {
		if s.hook != nil {
			hookWarn(s.hook.BeforeLeadStatusWrite(ctx, &pgHookReader{q: q}, ls), "lead_status", ls.ID)
		}
		_, err := q.Exec(ctx, sqlInsertLeadStatus,
			ls.ID, ls.QuoteNumber, ls.CustomerID, ls.BookedOpportunityID,
			ls.LeadSourceID, ls.BranchID, ls.BranchName, ls.ReferralSource,
			ls.CreatedAt, ls.UpdatedAt,
		)
		return eris.Wrap(err, "postgres: insert lead_status")
	})
	if err != nil {
		return "", err
	}
	return ls.ID, nil
}

func (s *PostgresStore) InsertBookedOpportunity(ctx context.Context, bo *BookedOpportunity) (string, error) {
	if bo.ID == "" {
		bo.ID = uuid.New().String()
	}
	now := nowUTC()
	if bo.CreatedAt.IsZero() {
		bo.CreatedAt = now
	}
	bo.UpdatedAt = now

	_, err := s.q.Exec(ctx, sqlInsertBookedOpportunity,
		bo.ID, bo.QuoteNumber, bo.CustomerID, bo.SalesPersonID, bo.SalesPersonName,
		bo.BranchID, bo.BranchName, bo.LeadSourceID, bo.ReferralSource,
		bo.CreatedAt, bo.UpdatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert booked opportunity")
	}
	return bo.ID, nil
}

func (s *PostgresStore) InsertLostLead(ctx context.Context, ll *LostLead) (string, error) {
	if ll.ID == "" {
		ll.ID = uuid.New().String()
	}
	now := nowUTC()
	if ll.CreatedAt.IsZero() {
		ll.CreatedAt = now
	}
	ll.UpdatedAt = now

	err := s.withTx(ctx, func(q querier) error {
		if s.hook != nil {
			hookWarn(s.hook.BeforeLostLeadWrite(ctx, &pgHookReader{q: q}, ll), "lost_leads", ll.ID)
		}
		_, err := q.Exec(ctx, sqlInsertLostLead,
			ll.ID, ll.QuoteNumber, ll.BookedOpportunityID, ll.CreatedAt, ll.UpdatedAt,
		)
		return eris.Wrap(err, "postgres: insert lost_lead")
	})
	if err != nil {
		return "", err
	}
	return ll.ID, nil
}

func (s *PostgresStore) InsertBadLead(ctx context.Context, bl *BadLead) (string, error) {
	if bl.ID == "" {
		bl.ID = uuid.New().String()
	}
	now := nowUTC()
	if bl.CreatedAt.IsZero() {
		bl.CreatedAt = now
	}
	bl.UpdatedAt = now

	err := s.withTx(ctx, func(q querier) error {
		if s.hook != nil {
			hookWarn(s.hook.BeforeBadLeadWrite(ctx, &pgHookReader{q: q}, bl), "bad_leads", bl.ID)
		}
		_, err := q.Exec(ctx, sqlInsertBadLead,
			bl.ID, bl.CustomerID, bl.CustomerEmail, bl.CustomerPhone,
			bl.LeadStatusID, bl.CreatedAt, bl.UpdatedAt,
		)
		return eris.Wrap(err, "postgres: insert bad_lead")
	})
	if err != nil {
		return "", err
	}
	return bl.ID, nil
}

func (s *PostgresStore) InsertJob(ctx context.Context, j *Job) (string, error) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	now := nowUTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	_, err := s.q.Exec(ctx, sqlInsertJob,
		j.ID, j.CustomerID, j.BranchID, j.BranchName,
		j.SalesPersonID, j.SalesPersonName, j.LeadSourceID, j.ReferralSource,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert job")
	}
	return j.ID, nil
}

func (s *PostgresStore) BulkInsertCustomers(ctx context.Context, cs []Customer) (int64, error) {
	now := nowUTC()
	rows := make([][]any, 0, len(cs))
	for i := range cs {
		c := &cs[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		rows = append(rows, []any{c.ID, c.Email, c.Phone, c.CreatedAt, c.UpdatedAt})
	}
	return db.CopyFrom(ctx, s.q, "customers",
		[]string{"id", "email", "phone", "created_at", "updated_at"}, rows)
}

func (s *PostgresStore) BulkInsertBookedOpportunities(ctx context.Context, bos []BookedOpportunity) (int64, error) {
	now := nowUTC()
	rows := make([][]any, 0, len(bos))
	for i := range bos {
		bo := &bos[i]
		if bo.ID == "" {
			bo.ID = uuid.New().String()
		}
		if bo.CreatedAt.IsZero() {
			bo.CreatedAt = now
		}
		bo.UpdatedAt = now
		rows = append(rows, []any{
			bo.ID, bo.QuoteNumber, bo.CustomerID, bo.SalesPersonID, bo.SalesPersonName,
			bo.BranchID, bo.BranchName, bo.LeadSourceID, bo.ReferralSource,
			bo.CreatedAt, bo.UpdatedAt,
		})
	}
	return db.CopyFrom(ctx, s.q, "booked_opportunities",
		[]string{"id", "quote_number", "customer_id", "sales_person_id", "sales_person_name",
			"branch_id", "branch_name", "lead_source_id", "referral_source",
			"created_at", "updated_at"}, rows)
}

func (s *PostgresStore) BulkInsertJobs(ctx context.Context, js []Job) (int64, error) {
	now := nowUTC()
	rows := make([][]any, 0, len(js))
	for i := range js {
		j := &js[i]
		if j.ID == "" {
			j.ID = uuid.New().String()
		}
		if j.CreatedAt.IsZero() {
			j.CreatedAt = now
		}
		j.UpdatedAt = now
		rows = append(rows, []any{
			j.ID, j.CustomerID, j.BranchID, j.BranchName,
			j.SalesPersonID, j.SalesPersonName, j.LeadSourceID, j.ReferralSource,
			j.CreatedAt, j.UpdatedAt,
		})
	}
	return db.CopyFrom(ctx, s.q, "jobs",
		[]string{"id", "customer_id", "branch_id", "branch_name",
			"sales_person_id", "sales_person_name", "lead_source_id", "referral_source",
			"created_at", "updated_at"}, rows)
}

// Fact reads

func (s *PostgresStore) GetLeadStatus(ctx context.Context, id string) (*LeadStatus, error) {
	ls, err := scanLeadStatus(s.q.QueryRow(ctx,
		`SELECT `+leadStatusCols+` FROM lead_status WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get lead_status %s", id)
	}
	return ls, nil
}

func (s *PostgresStore) GetLostLead(ctx context.Context, id string) (*LostLead, error) {
	ll, err := scanLostLead(s.q.QueryRow(ctx,
		`SELECT `+lostLeadCols+` FROM lost_leads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get lost_lead %s", id)
	}
	return ll, nil
}

func (s *PostgresStore) GetBadLead(ctx context.Context, id string) (*BadLead, error) {
	bl, err := scanBadLead(s.q.QueryRow(ctx,
		`SELECT `+badLeadCols+` FROM bad_leads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get bad_lead %s", id)
	}
	return bl, nil
}

// pgHookReader serves candidate lookups for the reactive hook inside the
// same transaction as the triggering write.
type pgHookReader struct {
	q querier
}

func (r *pgHookReader) BookedByQuote(ctx context.Context, quoteNumber string) ([]BookedOpportunity, error) {
	rows, err := r.q.Query(ctx, sqlBookedByQuote, quoteNumber)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: booked by quote")
	}
	defer rows.Close()

	var out []BookedOpportunity
	for rows.Next() {
		bo, err := scanBookedOpportunity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan booked opportunity")
		}
		out = append(out, *bo)
	}
	return out, eris.Wrap(rows.Err(), "postgres: booked by quote iterate")
}

func (r *pgHookReader) LeadStatusCandidates(ctx context.Context, field IdentityField, value string) ([]LeadStatus, error) {
	query, err := candidatesSQL(field, "$1")
	if err != nil {
		return nil, err
	}
	rows, err := r.q.Query(ctx, query, value)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lead_status candidates by %s", field)
	}
	defer rows.Close()

	var out []LeadStatus
	for rows.Next() {
		ls, err := scanLeadStatus(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead_status candidate")
		}
		out = append(out, *ls)
	}
	return out, eris.Wrap(rows.Err(), "postgres: candidates iterate")
}
