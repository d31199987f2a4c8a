// Package crm defines the CRM fact and dimension entities the
// reconciliation engine links, and the storage contract it links them
// through. Link fields (the nullable FKs) are the only columns the engine
// ever mutates on a fact row.
package crm

import "time"

// Entity names accepted by the import front door.
const (
	EntityCustomers           = "customers"
	EntityLeadStatus          = "lead_status"
	EntityBookedOpportunities = "booked_opportunities"
	EntityLostLeads           = "lost_leads"
	EntityBadLeads            = "bad_leads"
	EntityJobs                = "jobs"
)

// Customer is the identity record fact rows resolve to.
type Customer struct {
	ID        string    `json:"id"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LeadStatus is a lead event. BookedOpportunityID is the link this engine
// maintains; BranchName and ReferralSource are the raw free-text fields the
// lookup resolver clusters into dimensions.
type LeadStatus struct {
	ID                  string    `json:"id"`
	QuoteNumber         *string   `json:"quote_number,omitempty"`
	CustomerID          *string   `json:"customer_id,omitempty"`
	BookedOpportunityID *string   `json:"booked_opportunity_id,omitempty"`
	LeadSourceID        *string   `json:"lead_source_id,omitempty"`
	BranchID            *string   `json:"branch_id,omitempty"`
	BranchName          *string   `json:"branch_name,omitempty"`
	ReferralSource      *string   `json:"referral_source,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// BookedOpportunity is an opportunity derived from a lead. QuoteNumber is
// the business key quote linking joins on.
type BookedOpportunity struct {
	ID              string    `json:"id"`
	QuoteNumber     string    `json:"quote_number"`
	CustomerID      string    `json:"customer_id"`
	SalesPersonID   *string   `json:"sales_person_id,omitempty"`
	SalesPersonName *string   `json:"sales_person_name,omitempty"`
	BranchID        *string   `json:"branch_id,omitempty"`
	BranchName      *string   `json:"branch_name,omitempty"`
	LeadSourceID    *string   `json:"lead_source_id,omitempty"`
	ReferralSource  *string   `json:"referral_source,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LostLead is a lead that did not convert.
type LostLead struct {
	ID                  string    `json:"id"`
	QuoteNumber         *string   `json:"quote_number,omitempty"`
	BookedOpportunityID *string   `json:"booked_opportunity_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// BadLead is a disqualified lead carrying partial customer identity. The
// identity cascade links it to a LeadStatus via customer_id, then email,
// then phone.
type BadLead struct {
	ID            string    `json:"id"`
	CustomerID    *string   `json:"customer_id,omitempty"`
	CustomerEmail *string   `json:"customer_email,omitempty"`
	CustomerPhone *string   `json:"customer_phone,omitempty"`
	LeadStatusID  *string   `json:"lead_status_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Job is realized work.
type Job struct {
	ID              string    `json:"id"`
	CustomerID      *string   `json:"customer_id,omitempty"`
	BranchID        *string   `json:"branch_id,omitempty"`
	BranchName      *string   `json:"branch_name,omitempty"`
	SalesPersonID   *string   `json:"sales_person_id,omitempty"`
	SalesPersonName *string   `json:"sales_person_name,omitempty"`
	LeadSourceID    *string   `json:"lead_source_id,omitempty"`
	ReferralSource  *string   `json:"referral_source,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Branch is a lookup dimension keyed by normalized name.
type Branch struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	City           *string   `json:"city,omitempty"`
	Province       *string   `json:"province,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SalesPerson is a lookup dimension keyed by normalized name. Merged
// variation rows are deactivated, never deleted.
type SalesPerson struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LeadSource is a lookup dimension keyed by normalized name, with a
// keyword-derived category.
type LeadSource struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	Category       string    `json:"category"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LedgerEntry records how often a batch script has executed.
type LedgerEntry struct {
	ScriptName      string    `json:"script_name"`
	ExecutionCount  int       `json:"execution_count"`
	LastExecutionAt time.Time `json:"last_execution_at"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// IntegritySnapshot is one append-only monitoring run result.
type IntegritySnapshot struct {
	ID                  string    `json:"id"`
	CheckedAt           time.Time `json:"checked_at"`
	JobCustomerRate     float64   `json:"job_customer_rate"`
	LeadStatusRate      float64   `json:"lead_status_rate"`
	BadLeadRate         float64   `json:"bad_lead_rate"`
	LostLeadRate        float64   `json:"lost_lead_rate"`
	OrphanedLeadStatus  int64     `json:"orphaned_lead_status"`
	OrphanedLostLeads   int64     `json:"orphaned_lost_leads"`
	OrphanedBadLeads    int64     `json:"orphaned_bad_leads"`
	JobsWithoutCustomer int64     `json:"jobs_without_customer"`
	Alerts              []byte    `json:"alerts,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}
