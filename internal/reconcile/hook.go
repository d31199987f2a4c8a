package reconcile

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/movedash/reconcile-cli/internal/crm"
)

// Hook is the reactive half of the relationship linker. Both store
// drivers invoke it inside the insert transaction, before the row is
// written, so freshly ingested rows arrive already linked and never
// need backfilling. It applies the same decision rules the batch passes
// encode in SQL.
type Hook struct {
	log *zap.Logger
}

// NewHook returns a Hook logging under the reconcile.hook component.
func NewHook() *Hook {
	return &Hook{log: zap.L().With(zap.String("component", "reconcile.hook"))}
}

func (h *Hook) BeforeLeadStatusWrite(ctx context.Context, r crm.HookReader, ls *crm.LeadStatus) error {
	if ls.BookedOpportunityID != nil {
		return nil
	}
	id, err := h.linkQuote(ctx, r, ls.QuoteNumber)
	if err != nil || id == "" {
		return err
	}
	ls.BookedOpportunityID = &id
	return nil
}

func (h *Hook) BeforeLostLeadWrite(ctx context.Context, r crm.HookReader, ll *crm.LostLead) error {
	if ll.BookedOpportunityID != nil {
		return nil
	}
	id, err := h.linkQuote(ctx, r, ll.QuoteNumber)
	if err != nil || id == "" {
		return err
	}
	ll.BookedOpportunityID = &id
	return nil
}

// linkQuote resolves a quote number to a booked opportunity id, or ""
// when the row carries no usable quote or nothing matches yet.
func (h *Hook) linkQuote(ctx context.Context, r crm.HookReader, quoteNumber *string) (string, error) {
	quote, ok := QuoteOf(quoteNumber)
	if !ok {
		return "", nil
	}
	cands, err := r.BookedByQuote(ctx, quote)
	if err != nil {
		return "", eris.Wrapf(err, "reconcile: booked candidates for quote %s", quote)
	}
	pick, ambiguous := PickBookedForQuote(cands)
	if pick == nil {
		return "", nil
	}
	if ambiguous {
		h.log.Warn("quote number shared by several booked opportunities, linking lowest id",
			zap.String("quote_number", quote),
			zap.Int("candidates", len(cands)))
	}
	return pick.ID, nil
}

func (h *Hook) BeforeBadLeadWrite(ctx context.Context, r crm.HookReader, bl *crm.BadLead) error {
	if bl.LeadStatusID != nil {
		return nil
	}
	for _, probe := range IdentityProbes(*bl) {
		cands, err := r.LeadStatusCandidates(ctx, probe.Field, probe.Value)
		if err != nil {
			return eris.Wrapf(err, "reconcile: lead_status candidates by %s", probe.Field)
		}
		if pick := PickLeadStatus(cands); pick != nil {
			bl.LeadStatusID = &pick.ID
			return nil
		}
	}
	return nil
}
