package crm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestHasRun(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("populate_branches").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ran, err := store.HasRun(ctx, "populate_branches")
	require.NoError(t, err)
	assert.True(t, ran)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("integrity_check").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	ran, err = store.HasRun(ctx, "integrity_check")
	require.NoError(t, err)
	assert.False(t, ran)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunUpserts(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO script_execution_log`).
		WithArgs("populate_branches", pgxmock.AnyArg(), "created 12 branches").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.RecordRun(context.Background(), "populate_branches", "created 12 branches")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureBranchInsertsNewRow(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO branches`).
		WithArgs(pgxmock.AnyArg(), "Toronto East", "toronto east",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	b := &Branch{Name: "Toronto East", NormalizedName: "toronto east"}
	id, err := store.EnsureBranch(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)
	assert.NotEmpty(t, id)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureBranchFetchesExistingOnConflict(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO branches`).
		WithArgs(pgxmock.AnyArg(), "TORONTO EAST", "toronto east",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT id FROM branches WHERE normalized_name`).
		WithArgs("toronto east").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("branch-1"))

	id, err := store.EnsureBranch(context.Background(), &Branch{Name: "TORONTO EAST", NormalizedName: "toronto east"})
	require.NoError(t, err)
	assert.Equal(t, "branch-1", id)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDimensionIDNotFound(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM sales_persons WHERE normalized_name`).
		WithArgs("nobody").
		WillReturnError(pgx.ErrNoRows)

	id, err := store.FindDimensionID(context.Background(), DimensionSalesPerson, "nobody")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = store.FindDimensionID(context.Background(), Dimension("payments"), "x")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackfillDimensionFK(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET branch_id`).
		WithArgs("branch-1", pgxmock.AnyArg(), "Toronto East").
		WillReturnResult(pgxmock.NewResult("UPDATE", 7))

	src := RawSource{Table: "jobs", RawColumn: "branch_name", FKColumn: "branch_id"}
	n, err := store.BackfillDimensionFK(context.Background(), src, "Toronto East", "branch-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkLeadStatusByQuote(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE lead_status SET booked_opportunity_id`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 42))

	n, err := store.LinkLeadStatusByQuote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkBadLeadsByIdentity(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE bad_leads SET lead_status_id`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 5))

	n, err := store.LinkBadLeadsByIdentity(context.Background(), IdentityEmail)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = store.LinkBadLeadsByIdentity(context.Background(), IdentityField("ssn"))
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRelationship(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`COUNT\(\*\) FILTER \(WHERE customer_id IS NOT NULL\), COUNT\(\*\) FROM jobs`).
		WillReturnRows(pgxmock.NewRows([]string{"linked", "eligible"}).AddRow(int64(80), int64(100)))

	counts, err := store.CountRelationship(context.Background(), RelJobCustomer)
	require.NoError(t, err)
	assert.Equal(t, int64(80), counts.Linked)
	assert.Equal(t, int64(100), counts.Eligible)
	assert.Equal(t, int64(20), counts.Orphaned())

	_, err = store.CountRelationship(context.Background(), "quote_to_invoice")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBranchNotFound(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM branches WHERE id`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	b, err := store.GetBranch(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, b)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSalesPersonByName(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM sales_persons WHERE normalized_name`).
		WithArgs("bobby s").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "normalized_name", "is_active", "created_at", "updated_at",
		}).AddRow("sp-1", "Bobby S", "bobby s", true, now, now))

	sp, err := store.SalesPersonByName(context.Background(), "bobby s")
	require.NoError(t, err)
	require.NotNil(t, sp)
	assert.Equal(t, "sp-1", sp.ID)
	assert.Equal(t, "Bobby S", sp.Name)
	assert.True(t, sp.IsActive)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepointSalesPersonSumsBothTables(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET sales_person_id`).
		WithArgs("sp-keep", pgxmock.AnyArg(), "sp-dup").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec(`UPDATE booked_opportunities SET sales_person_id`).
		WithArgs("sp-keep", pgxmock.AnyArg(), "sp-dup").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	moved, err := store.RepointSalesPerson(context.Background(), "sp-dup", "sp-keep")
	require.NoError(t, err)
	assert.Equal(t, int64(5), moved)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateSalesPersonNotFound(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sales_persons SET is_active = FALSE`).
		WithArgs(pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.DeactivateSalesPerson(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestIntegritySnapshotEmpty(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM integrity_snapshots ORDER BY checked_at DESC LIMIT 1`).
		WillReturnError(pgx.ErrNoRows)

	snap, err := store.LatestIntegritySnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, mock.ExpectationsWereMet())
}

// countingHook records invocations and fills the quote link, standing in
// for the real reactive hook.
type countingHook struct {
	leadStatusCalls int
	fail            bool
}

func (h *countingHook) BeforeLeadStatusWrite(ctx context.Context, r HookReader, ls *LeadStatus) error {
	h.leadStatusCalls++
	if h.fail {
		return errors.New("no booked opportunity")
	}
	bo := "bo-1"
	ls.BookedOpportunityID = &bo
	return nil
}

func (h *countingHook) BeforeLostLeadWrite(ctx context.Context, r HookReader, ll *LostLead) error {
	return nil
}

func (h *countingHook) BeforeBadLeadWrite(ctx context.Context, r HookReader, bl *BadLead) error {
	return nil
}

func TestInsertLeadStatusRunsHookInsideTransaction(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	hook := &countingHook{}
	store.SetLinkHook(hook)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO lead_status`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	quote := "Q-1001"
	ls := &LeadStatus{QuoteNumber: &quote}
	id, err := store.InsertLeadStatus(context.Background(), ls)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, hook.leadStatusCalls)
	require.NotNil(t, ls.BookedOpportunityID)
	assert.Equal(t, "bo-1", *ls.BookedOpportunityID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLeadStatusHookFailureStillPersists(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	store.SetLinkHook(&countingHook{fail: true})

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO lead_status`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	quote := "Q-1002"
	ls := &LeadStatus{QuoteNumber: &quote}
	id, err := store.InsertLeadStatus(context.Background(), ls)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Nil(t, ls.BookedOpportunityID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInDryRunAlwaysRollsBack(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO customers`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectRollback()

	err := store.InDryRun(context.Background(), func(tx Store) error {
		_, err := tx.InsertCustomer(context.Background(), &Customer{})
		return err
	})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInDryRunRefusesNesting(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.InDryRun(context.Background(), func(tx Store) error {
		return tx.InDryRun(context.Background(), func(Store) error { return nil })
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot nest")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAmbiguousQuotes(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`GROUP BY quote_number HAVING`).
		WillReturnRows(pgxmock.NewRows([]string{"quote_number", "count"}).
			AddRow("Q-7", int64(3)).
			AddRow("Q-2", int64(2)))

	dups, err := store.AmbiguousQuotes(context.Background())
	require.NoError(t, err)
	require.Len(t, dups, 2)
	assert.Equal(t, QuoteDup{QuoteNumber: "Q-7", Count: 3}, dups[0])

	require.NoError(t, mock.ExpectationsWereMet())
}
