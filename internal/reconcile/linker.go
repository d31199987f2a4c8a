package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/movedash/reconcile-cli/internal/crm"
)

// QuoteLinkCounts summarizes one quote-linkage pass.
type QuoteLinkCounts struct {
	LeadStatus int64 `json:"lead_status"`
	LostLeads  int64 `json:"lost_leads"`
}

// Total is the number of fact rows linked.
func (c QuoteLinkCounts) Total() int64 {
	return c.LeadStatus + c.LostLeads
}

// Notes renders the counts for the execution ledger.
func (c QuoteLinkCounts) Notes() string {
	return fmt.Sprintf("linked %d lead statuses, %d lost leads", c.LeadStatus, c.LostLeads)
}

// CascadeCounts summarizes one bad-lead cascade pass, per identity step.
type CascadeCounts struct {
	ByCustomerID int64 `json:"by_customer_id"`
	ByEmail      int64 `json:"by_email"`
	ByPhone      int64 `json:"by_phone"`
}

// Total is the number of bad leads linked.
func (c CascadeCounts) Total() int64 {
	return c.ByCustomerID + c.ByEmail + c.ByPhone
}

// Notes renders the counts for the execution ledger.
func (c CascadeCounts) Notes() string {
	return fmt.Sprintf("linked %d bad leads (%d by customer, %d by email, %d by phone)",
		c.Total(), c.ByCustomerID, c.ByEmail, c.ByPhone)
}

// Linker runs the batch halves of the relationship linker: set-based SQL
// passes over rows whose link FK is still null. Tie-breaks match the
// reactive hook's exactly; each pass re-checks the null FK inside its
// UPDATE so concurrent reactive writes are never overwritten.
type Linker struct {
	store crm.Store
	log   *zap.Logger
}

// NewLinker returns a Linker over the given store.
func NewLinker(store crm.Store) *Linker {
	return &Linker{store: store, log: zap.L().With(zap.String("component", "reconcile.linker"))}
}

// CompleteQuoteLinkage backfills booked_opportunity_id on lead statuses
// and lost leads by exact quote-number equality. Quote numbers shared by
// several booked opportunities are logged for review before linking; the
// lowest id wins.
func (l *Linker) CompleteQuoteLinkage(ctx context.Context) (QuoteLinkCounts, error) {
	var counts QuoteLinkCounts

	dups, err := l.store.AmbiguousQuotes(ctx)
	if err != nil {
		return counts, err
	}
	for _, d := range dups {
		l.log.Warn("quote number shared by several booked opportunities, lowest id will win",
			zap.String("quote_number", d.QuoteNumber),
			zap.Int64("count", d.Count))
	}

	if counts.LeadStatus, err = l.store.LinkLeadStatusByQuote(ctx); err != nil {
		return counts, err
	}
	if counts.LostLeads, err = l.store.LinkLostLeadsByQuote(ctx); err != nil {
		return counts, err
	}
	l.log.Info("quote linkage complete",
		zap.Int64("lead_status", counts.LeadStatus),
		zap.Int64("lost_leads", counts.LostLeads),
		zap.Int("ambiguous_quotes", len(dups)))
	return counts, nil
}

// LinkBadLeads backfills lead_status_id on bad leads through the identity
// cascade. The passes run in priority order; a row linked by an earlier
// pass is out of scope for the later ones, so customer_id beats email
// beats phone exactly as in the reactive hook.
func (l *Linker) LinkBadLeads(ctx context.Context) (CascadeCounts, error) {
	var counts CascadeCounts
	var err error

	if counts.ByCustomerID, err = l.store.LinkBadLeadsByIdentity(ctx, crm.IdentityCustomerID); err != nil {
		return counts, err
	}
	if counts.ByEmail, err = l.store.LinkBadLeadsByIdentity(ctx, crm.IdentityEmail); err != nil {
		return counts, err
	}
	if counts.ByPhone, err = l.store.LinkBadLeadsByIdentity(ctx, crm.IdentityPhone); err != nil {
		return counts, err
	}
	l.log.Info("bad lead cascade complete",
		zap.Int64("by_customer_id", counts.ByCustomerID),
		zap.Int64("by_email", counts.ByEmail),
		zap.Int64("by_phone", counts.ByPhone))
	return counts, nil
}
