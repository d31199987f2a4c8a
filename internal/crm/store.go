package crm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Dimension identifies a lookup table maintained by the resolver.
type Dimension string

const (
	DimensionBranch      Dimension = "branches"
	DimensionSalesPerson Dimension = "sales_persons"
	DimensionLeadSource  Dimension = "lead_sources"
)

// RawSource names a fact table column pair feeding a dimension: the
// free-text column the raw values come from and the FK column that gets
// backfilled.
type RawSource struct {
	Table     string
	RawColumn string
	FKColumn  string
}

// QuoteDup reports a quote number shared by several booked opportunities
// among rows the linker is about to touch. Surfaced for manual review.
type QuoteDup struct {
	QuoteNumber string `json:"quote_number"`
	Count       int64  `json:"count"`
}

// IdentityField selects which BadLead identity column a cascade pass
// matches on.
type IdentityField string

const (
	IdentityCustomerID IdentityField = "customer_id"
	IdentityEmail      IdentityField = "customer_email"
	IdentityPhone      IdentityField = "customer_phone"
)

// Relationship names the integrity monitor reports on.
const (
	RelJobCustomer  = "job_customer"
	RelLeadStatusBO = "lead_status_booked_opportunity"
	RelBadLeadLS    = "bad_lead_lead_status"
	RelLostLeadBO   = "lost_lead_booked_opportunity"
)

// RelationshipCounts holds linked/eligible tallies for one maintained
// relationship. Orphans are eligible minus linked.
type RelationshipCounts struct {
	Linked   int64 `json:"linked"`
	Eligible int64 `json:"eligible"`
}

// Orphaned returns the eligible-but-unlinked count.
func (c RelationshipCounts) Orphaned() int64 {
	return c.Eligible - c.Linked
}

// HookReader fetches link candidates for the reactive hook. Implementations
// are scoped to the transaction the triggering write runs in, so reactive
// decisions see a consistent snapshot.
type HookReader interface {
	// BookedByQuote returns all booked opportunities with exactly this
	// quote number.
	BookedByQuote(ctx context.Context, quoteNumber string) ([]BookedOpportunity, error)
	// LeadStatusCandidates returns lead statuses reachable through the
	// LeadStatus → BookedOpportunity (→ Customer) join for one identity
	// field value.
	LeadStatusCandidates(ctx context.Context, field IdentityField, value string) ([]LeadStatus, error)
}

// LinkHook is the pre-persist reactive linking hook. Stores invoke it
// inside the insert transaction, before the row is written; the hook fills
// link fields in place or leaves them unchanged.
type LinkHook interface {
	BeforeLeadStatusWrite(ctx context.Context, r HookReader, ls *LeadStatus) error
	BeforeLostLeadWrite(ctx context.Context, r HookReader, ll *LostLead) error
	BeforeBadLeadWrite(ctx context.Context, r HookReader, bl *BadLead) error
}

// SnapshotFilter limits integrity history listings.
type SnapshotFilter struct {
	Limit int
}

// Store is the persistence interface the engine, hook, CLI, and HTTP API
// speak to. PostgreSQL and SQLite drivers implement it.
type Store interface {
	// Execution ledger. RecordRun upserts on script_name: first call
	// inserts with execution_count 1, later calls increment the count,
	// refresh last_execution_at, and replace notes when non-empty.
	HasRun(ctx context.Context, scriptName string) (bool, error)
	RecordRun(ctx context.Context, scriptName, notes string) error
	LedgerEntries(ctx context.Context) ([]LedgerEntry, error)

	// Dimension resolution. Ensure* inserts the row unless another row
	// already owns its normalized_name, and returns the surviving row's
	// id either way (insert-or-fetch under the uniqueness constraint).
	DistinctRawValues(ctx context.Context, src RawSource) ([]string, error)
	FindDimensionID(ctx context.Context, dim Dimension, normalizedName string) (string, error)
	EnsureBranch(ctx context.Context, b *Branch) (string, error)
	EnsureSalesPerson(ctx context.Context, sp *SalesPerson) (string, error)
	EnsureLeadSource(ctx context.Context, ls *LeadSource) (string, error)
	BackfillDimensionFK(ctx context.Context, src RawSource, rawValue, dimensionID string) (int64, error)
	BackfillBlankDimensionFK(ctx context.Context, src RawSource, dimensionID string) (int64, error)
	GetBranch(ctx context.Context, id string) (*Branch, error)
	GetSalesPerson(ctx context.Context, id string) (*SalesPerson, error)
	GetLeadSource(ctx context.Context, id string) (*LeadSource, error)
	SalesPersonByName(ctx context.Context, normalizedName string) (*SalesPerson, error)
	SalesPersonRefCount(ctx context.Context, id string) (int64, error)
	RepointSalesPerson(ctx context.Context, fromID, toID string) (int64, error)
	RenameSalesPerson(ctx context.Context, id, name, normalizedName string) error
	DeactivateSalesPerson(ctx context.Context, id string) error

	// Batch linking passes. Each re-checks "FK is null" in its WHERE
	// clause and encodes the documented tie-breaks in its ORDER BY.
	AmbiguousQuotes(ctx context.Context) ([]QuoteDup, error)
	LinkLeadStatusByQuote(ctx context.Context) (int64, error)
	LinkLostLeadsByQuote(ctx context.Context) (int64, error)
	LinkBadLeadsByIdentity(ctx context.Context, field IdentityField) (int64, error)

	// Integrity counts (read-only with respect to fact data)
	CountRelationship(ctx context.Context, relationship string) (RelationshipCounts, error)
	InsertIntegritySnapshot(ctx context.Context, snap *IntegritySnapshot) error
	LatestIntegritySnapshot(ctx context.Context) (*IntegritySnapshot, error)
	ListIntegritySnapshots(ctx context.Context, filter SnapshotFilter) ([]IntegritySnapshot, error)

	// Fact writes (import + tests). LeadStatus, LostLead, and BadLead
	// inserts run the configured LinkHook inside the insert transaction.
	InsertCustomer(ctx context.Context, c *Customer) (string, error)
	InsertLeadStatus(ctx context.Context, ls *LeadStatus) (string, error)
	InsertBookedOpportunity(ctx context.Context, bo *BookedOpportunity) (string, error)
	InsertLostLead(ctx context.Context, ll *LostLead) (string, error)
	InsertBadLead(ctx context.Context, bl *BadLead) (string, error)
	InsertJob(ctx context.Context, j *Job) (string, error)
	BulkInsertCustomers(ctx context.Context, cs []Customer) (int64, error)
	BulkInsertBookedOpportunities(ctx context.Context, bos []BookedOpportunity) (int64, error)
	BulkInsertJobs(ctx context.Context, js []Job) (int64, error)

	// Fact reads (spot checks, tests)
	GetLeadStatus(ctx context.Context, id string) (*LeadStatus, error)
	GetLostLead(ctx context.Context, id string) (*LostLead, error)
	GetBadLead(ctx context.Context, id string) (*BadLead, error)

	// InDryRun runs fn against a view of the store bound to a single
	// transaction that is always rolled back, so dry runs report exact
	// change counts without persisting anything.
	InDryRun(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	SetLinkHook(h LinkHook)
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// BranchSources lists the fact columns branches are resolved from.
func BranchSources() []RawSource {
	return []RawSource{
		{Table: "jobs", RawColumn: "branch_name", FKColumn: "branch_id"},
		{Table: "booked_opportunities", RawColumn: "branch_name", FKColumn: "branch_id"},
		{Table: "lead_status", RawColumn: "branch_name", FKColumn: "branch_id"},
	}
}

// SalesPersonSources lists the fact columns sales persons are resolved from.
func SalesPersonSources() []RawSource {
	return []RawSource{
		{Table: "jobs", RawColumn: "sales_person_name", FKColumn: "sales_person_id"},
		{Table: "booked_opportunities", RawColumn: "sales_person_name", FKColumn: "sales_person_id"},
	}
}

// LeadSourceSources lists the fact columns lead sources are resolved from.
func LeadSourceSources() []RawSource {
	return []RawSource{
		{Table: "lead_status", RawColumn: "referral_source", FKColumn: "lead_source_id"},
		{Table: "booked_opportunities", RawColumn: "referral_source", FKColumn: "lead_source_id"},
		{Table: "jobs", RawColumn: "referral_source", FKColumn: "lead_source_id"},
	}
}

// nowUTC is the single clock both drivers stamp rows with.
func nowUTC() time.Time {
	return time.Now().UTC()
}

// hookWarn downgrades a reactive-hook failure to a warning. Linking is
// best effort; a row that cannot be resolved persists unlinked and the
// batch passes pick it up later.
func hookWarn(err error, table, id string) {
	if err != nil {
		zap.L().Warn("reactive link hook failed, row persists unlinked",
			zap.String("table", table),
			zap.String("id", id),
			zap.Error(err))
	}
}
