package reconcile

import (
	"sort"
	"strings"

	"github.com/movedash/reconcile-cli/internal/crm"
)

// PickBookedForQuote selects which booked opportunity a quote carrier
// links to. Candidates are rows whose quote_number equals the carrier's
// exactly; when the CRM exported duplicate quote numbers the lowest id
// wins, so the reactive hook and the batch passes always agree. The
// second return reports that duplicates were present. Sorts cands in
// place.
func PickBookedForQuote(cands []crm.BookedOpportunity) (*crm.BookedOpportunity, bool) {
	if len(cands) == 0 {
		return nil, false
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].ID < cands[j].ID })
	return &cands[0], len(cands) > 1
}

// PickLeadStatus selects the target of an identity-cascade step: the
// earliest-created candidate, id breaking ties. Sorts cands in place.
func PickLeadStatus(cands []crm.LeadStatus) *crm.LeadStatus {
	if len(cands) == 0 {
		return nil
	}
	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].CreatedAt.Equal(cands[j].CreatedAt) {
			return cands[i].CreatedAt.Before(cands[j].CreatedAt)
		}
		return cands[i].ID < cands[j].ID
	})
	return &cands[0]
}

// IdentityProbe is one step of the bad-lead cascade: find lead_status
// rows whose customer matches Value through Field.
type IdentityProbe struct {
	Field crm.IdentityField
	Value string
}

// IdentityProbes returns the cascade steps a bad lead's data supports,
// in priority order: customer_id, then email, then phone. Blank fields
// are skipped; values are matched raw, never normalized.
func IdentityProbes(bl crm.BadLead) []IdentityProbe {
	var probes []IdentityProbe
	add := func(f crm.IdentityField, v *string) {
		if v == nil || strings.TrimSpace(*v) == "" {
			return
		}
		probes = append(probes, IdentityProbe{Field: f, Value: *v})
	}
	add(crm.IdentityCustomerID, bl.CustomerID)
	add(crm.IdentityEmail, bl.CustomerEmail)
	add(crm.IdentityPhone, bl.CustomerPhone)
	return probes
}

// QuoteOf extracts a usable quote number from an optional column. False
// when the field is NULL or blank; such rows are never linked.
func QuoteOf(q *string) (string, bool) {
	if q == nil || strings.TrimSpace(*q) == "" {
		return "", false
	}
	return *q, true
}
