package crm

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Column lists shared by both drivers. Scan helpers below depend on this
// exact ordering.
const (
	leadStatusCols  = "id, quote_number, customer_id, booked_opportunity_id, lead_source_id, branch_id, branch_name, referral_source, created_at, updated_at"
	bookedCols      = "id, quote_number, customer_id, sales_person_id, sales_person_name, branch_id, branch_name, lead_source_id, referral_source, created_at, updated_at"
	lostLeadCols    = "id, quote_number, booked_opportunity_id, created_at, updated_at"
	badLeadCols     = "id, customer_id, customer_email, customer_phone, lead_status_id, created_at, updated_at"
	branchCols      = "id, name, normalized_name, city, province, is_active, created_at, updated_at"
	salesPersonCols = "id, name, normalized_name, is_active, created_at, updated_at"
	leadSourceCols  = "id, name, normalized_name, category, is_active, created_at, updated_at"
	snapshotCols    = "id, checked_at, job_customer_rate, lead_status_rate, bad_lead_rate, lost_lead_rate, orphaned_lead_status, orphaned_lost_leads, orphaned_bad_leads, jobs_without_customer, alerts, created_at"
	ledgerCols      = "script_name, execution_count, last_execution_at, notes, created_at"
)

// ambiguousQuotesSQL surfaces quote numbers shared by several booked
// opportunities. Those rows still link (lowest id wins) but get flagged
// for manual review.
const ambiguousQuotesSQL = `SELECT quote_number, COUNT(*) FROM booked_opportunities WHERE TRIM(quote_number) <> '' GROUP BY quote_number HAVING COUNT(*) > 1 ORDER BY COUNT(*) DESC, quote_number ASC`

// dimensionTable maps a Dimension to its table name, rejecting anything
// outside the three known lookup tables.
func dimensionTable(dim Dimension) (string, error) {
	switch dim {
	case DimensionBranch, DimensionSalesPerson, DimensionLeadSource:
		return string(dim), nil
	}
	return "", eris.Errorf("unknown dimension: %s", dim)
}

// distinctRawSQL selects the distinct non-blank raw values feeding a
// dimension, ordered for deterministic processing.
func distinctRawSQL(src RawSource) string {
	return fmt.Sprintf(
		`SELECT DISTINCT %[2]s FROM %[1]s WHERE %[2]s IS NOT NULL AND TRIM(%[2]s) <> '' ORDER BY %[2]s`,
		src.Table, src.RawColumn,
	)
}

// backfillSQL points one fact table's dimension FK at the resolved row for
// every row still carrying the raw value. Placeholders are passed in so
// both drivers share the statement shape: p1 = dimension id, p2 = now,
// p3 = raw value.
func backfillSQL(src RawSource, p1, p2, p3 string) string {
	return fmt.Sprintf(
		`UPDATE %[1]s SET %[2]s = %[3]s, updated_at = %[4]s WHERE %[5]s = %[6]s AND %[2]s IS NULL`,
		src.Table, src.FKColumn, p1, p2, src.RawColumn, p3,
	)
}

// blankBackfillSQL points fact rows carrying no raw value at a fallback
// dimension row. Only lead sources use this (the "Unknown" fallback);
// blank branches and sales persons stay unlinked. p1 = dimension id,
// p2 = now.
func blankBackfillSQL(src RawSource, p1, p2 string) string {
	return fmt.Sprintf(
		`UPDATE %[1]s SET %[2]s = %[3]s, updated_at = %[4]s WHERE %[2]s IS NULL AND (%[5]s IS NULL OR TRIM(%[5]s) = '')`,
		src.Table, src.FKColumn, p1, p2, src.RawColumn,
	)
}

// quoteLinkSQL is the batch quote-linking pass for lead_status or
// lost_leads. The correlated subquery's ORDER BY bo.id ASC encodes the
// same duplicate tie-break PickBookedForQuote applies reactively, and the
// WHERE clause re-checks the FK is still null so the pass is safe against
// concurrent reactive writes. ph is the placeholder for the updated_at
// timestamp.
func quoteLinkSQL(table, ph string) string {
	return fmt.Sprintf(
		`UPDATE %[1]s SET booked_opportunity_id = (SELECT bo.id FROM booked_opportunities bo WHERE bo.quote_number = %[1]s.quote_number ORDER BY bo.id ASC LIMIT 1), updated_at = %[2]s WHERE booked_opportunity_id IS NULL AND quote_number IS NOT NULL AND TRIM(quote_number) <> '' AND EXISTS (SELECT 1 FROM booked_opportunities bo WHERE bo.quote_number = %[1]s.quote_number)`,
		table, ph,
	)
}

// identityJoin returns the join chain, match column, and bad_leads guard
// column for one identity-cascade step. Both the batch pass and the
// reactive candidate lookup are built from this, so the two paths cannot
// drift apart.
func identityJoin(field IdentityField) (join, matchCol, guardCol string, err error) {
	switch field {
	case IdentityCustomerID:
		return `JOIN booked_opportunities bo ON ls.booked_opportunity_id = bo.id`,
			"bo.customer_id", "customer_id", nil
	case IdentityEmail:
		return `JOIN booked_opportunities bo ON ls.booked_opportunity_id = bo.id JOIN customers c ON bo.customer_id = c.id`,
			"c.email", "customer_email", nil
	case IdentityPhone:
		return `JOIN booked_opportunities bo ON ls.booked_opportunity_id = bo.id JOIN customers c ON bo.customer_id = c.id`,
			"c.phone", "customer_phone", nil
	}
	return "", "", "", eris.Errorf("unknown identity field: %s", field)
}

// badLeadLinkSQL is one batch pass of the identity cascade. ORDER BY
// created_at, id encodes the earliest-created tie-break; identity values
// are compared raw. ph is the placeholder for the updated_at timestamp.
func badLeadLinkSQL(field IdentityField, ph string) (string, error) {
	join, matchCol, guardCol, err := identityJoin(field)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		`UPDATE bad_leads SET lead_status_id = (SELECT ls.id FROM lead_status ls %[1]s WHERE %[2]s = bad_leads.%[3]s ORDER BY ls.created_at ASC, ls.id ASC LIMIT 1), updated_at = %[4]s WHERE lead_status_id IS NULL AND %[3]s IS NOT NULL AND TRIM(%[3]s) <> '' AND EXISTS (SELECT 1 FROM lead_status ls %[1]s WHERE %[2]s = bad_leads.%[3]s)`,
		join, matchCol, guardCol, ph,
	), nil
}

// candidatesSQL fetches the lead_status rows one identity value can reach,
// for the reactive hook. Selection order is applied in Go, not SQL.
func candidatesSQL(field IdentityField, ph string) (string, error) {
	join, matchCol, _, err := identityJoin(field)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		`SELECT %s FROM lead_status ls %s WHERE %s = %s`,
		prefixCols("ls", leadStatusCols), join, matchCol, ph,
	), nil
}

// prefixCols qualifies every column in a list with a table alias.
func prefixCols(alias, cols string) string {
	return alias + "." + strings.ReplaceAll(cols, ", ", ", "+alias+".")
}

// scannable lets scan helpers work over pgx rows, database/sql rows, and
// single-row results alike.
type scannable interface {
	Scan(dest ...any) error
}

func scanLeadStatus(row scannable) (*LeadStatus, error) {
	var ls LeadStatus
	if err := row.Scan(&ls.ID, &ls.QuoteNumber, &ls.CustomerID, &ls.BookedOpportunityID,
		&ls.LeadSourceID, &ls.BranchID, &ls.BranchName, &ls.ReferralSource,
		&ls.CreatedAt, &ls.UpdatedAt); err != nil {
		return nil, err
	}
	return &ls, nil
}

func scanBookedOpportunity(row scannable) (*BookedOpportunity, error) {
	var bo BookedOpportunity
	if err := row.Scan(&bo.ID, &bo.QuoteNumber, &bo.CustomerID, &bo.SalesPersonID,
		&bo.SalesPersonName, &bo.BranchID, &bo.BranchName, &bo.LeadSourceID,
		&bo.ReferralSource, &bo.CreatedAt, &bo.UpdatedAt); err != nil {
		return nil, err
	}
	return &bo, nil
}

func scanLostLead(row scannable) (*LostLead, error) {
	var ll LostLead
	if err := row.Scan(&ll.ID, &ll.QuoteNumber, &ll.BookedOpportunityID,
		&ll.CreatedAt, &ll.UpdatedAt); err != nil {
		return nil, err
	}
	return &ll, nil
}

func scanBadLead(row scannable) (*BadLead, error) {
	var bl BadLead
	if err := row.Scan(&bl.ID, &bl.CustomerID, &bl.CustomerEmail, &bl.CustomerPhone,
		&bl.LeadStatusID, &bl.CreatedAt, &bl.UpdatedAt); err != nil {
		return nil, err
	}
	return &bl, nil
}

func scanBranch(row scannable) (*Branch, error) {
	var b Branch
	if err := row.Scan(&b.ID, &b.Name, &b.NormalizedName, &b.City, &b.Province,
		&b.IsActive, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanSalesPerson(row scannable) (*SalesPerson, error) {
	var sp SalesPerson
	if err := row.Scan(&sp.ID, &sp.Name, &sp.NormalizedName, &sp.IsActive,
		&sp.CreatedAt, &sp.UpdatedAt); err != nil {
		return nil, err
	}
	return &sp, nil
}

func scanLeadSource(row scannable) (*LeadSource, error) {
	var ls LeadSource
	if err := row.Scan(&ls.ID, &ls.Name, &ls.NormalizedName, &ls.Category,
		&ls.IsActive, &ls.CreatedAt, &ls.UpdatedAt); err != nil {
		return nil, err
	}
	return &ls, nil
}

func scanSnapshot(row scannable) (*IntegritySnapshot, error) {
	var snap IntegritySnapshot
	if err := row.Scan(&snap.ID, &snap.CheckedAt, &snap.JobCustomerRate,
		&snap.LeadStatusRate, &snap.BadLeadRate, &snap.LostLeadRate,
		&snap.OrphanedLeadStatus, &snap.OrphanedLostLeads, &snap.OrphanedBadLeads,
		&snap.JobsWithoutCustomer, &snap.Alerts, &snap.CreatedAt); err != nil {
		return nil, err
	}
	return &snap, nil
}

func scanLedgerEntry(row scannable) (*LedgerEntry, error) {
	var e LedgerEntry
	if err := row.Scan(&e.ScriptName, &e.ExecutionCount, &e.LastExecutionAt,
		&e.Notes, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
