package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/movedash/reconcile-cli/internal/crm"
)

// LookupCounts summarizes one populate pass.
type LookupCounts struct {
	Values     int   `json:"values"`     // distinct normalized keys seen
	Created    int   `json:"created"`    // dimension rows created
	Backfilled int64 `json:"backfilled"` // fact rows whose FK was set
}

// Notes renders the counts for the execution ledger.
func (c LookupCounts) Notes() string {
	return fmt.Sprintf("%d values resolved, %d rows created, %d fact rows backfilled",
		c.Values, c.Created, c.Backfilled)
}

// MergeCounts summarizes a variation-merge pass.
type MergeCounts struct {
	Renamed     int   `json:"renamed"`     // canonical rows renamed to the canonical form
	Deactivated int   `json:"deactivated"` // duplicate rows marked inactive
	RefsMoved   int64 `json:"refs_moved"`  // fact FKs repointed to the canonical row
}

// Notes renders the counts for the execution ledger.
func (c MergeCounts) Notes() string {
	return fmt.Sprintf("%d duplicates folded, %d refs repointed, %d renamed",
		c.Deactivated, c.RefsMoved, c.Renamed)
}

// Resolver builds and maintains the branch, sales-person, and lead-source
// dimensions: it clusters distinct raw fact values by normalized key,
// creates missing lookup rows (enriched per the rules file), and backfills
// the fact tables' dimension FKs where they are still null.
type Resolver struct {
	store crm.Store
	rules *Rules
	log   *zap.Logger
}

// NewResolver returns a Resolver over the given store and rules.
func NewResolver(store crm.Store, rules *Rules) *Resolver {
	return &Resolver{
		store: store,
		rules: rules,
		log:   zap.L().With(zap.String("component", "reconcile.lookup")),
	}
}

// PopulateBranches resolves distinct branch names from jobs, booked
// opportunities, and lead statuses into branch rows, extracting city and
// province for new rows, then backfills branch_id on all three tables.
func (r *Resolver) PopulateBranches(ctx context.Context) (LookupCounts, error) {
	var counts LookupCounts
	ids := make(map[string]string)

	for _, src := range crm.BranchSources() {
		raws, err := r.store.DistinctRawValues(ctx, src)
		if err != nil {
			return counts, err
		}
		for _, raw := range raws {
			key := Normalize(raw)
			if key == "" {
				continue
			}
			id, ok := ids[key]
			if !ok {
				id, err = r.resolveBranch(ctx, raw, key, &counts)
				if err != nil {
					return counts, err
				}
				ids[key] = id
			}
			n, err := r.store.BackfillDimensionFK(ctx, src, raw, id)
			if err != nil {
				return counts, err
			}
			counts.Backfilled += n
		}
	}
	counts.Values = len(ids)
	r.log.Info("branches resolved",
		zap.Int("values", counts.Values),
		zap.Int("created", counts.Created),
		zap.Int64("backfilled", counts.Backfilled))
	return counts, nil
}

func (r *Resolver) resolveBranch(ctx context.Context, raw, key string, counts *LookupCounts) (string, error) {
	id, err := r.store.FindDimensionID(ctx, crm.DimensionBranch, key)
	if err != nil || id != "" {
		return id, err
	}
	counts.Created++
	return r.store.EnsureBranch(ctx, &crm.Branch{
		Name:           raw,
		NormalizedName: key,
		City:           optional(CityFromBranch(raw)),
		Province:       optional(r.rules.ProvinceFor(raw)),
	})
}

// PopulateSalesPersons resolves distinct sales-person names from jobs and
// booked opportunities and backfills sales_person_id on both.
func (r *Resolver) PopulateSalesPersons(ctx context.Context) (LookupCounts, error) {
	var counts LookupCounts
	ids := make(map[string]string)

	for _, src := range crm.SalesPersonSources() {
		raws, err := r.store.DistinctRawValues(ctx, src)
		if err != nil {
			return counts, err
		}
		for _, raw := range raws {
			key := Normalize(raw)
			if key == "" {
				continue
			}
			id, ok := ids[key]
			if !ok {
				id, err = r.resolveSalesPerson(ctx, raw, key, &counts)
				if err != nil {
					return counts, err
				}
				ids[key] = id
			}
			n, err := r.store.BackfillDimensionFK(ctx, src, raw, id)
			if err != nil {
				return counts, err
			}
			counts.Backfilled += n
		}
	}
	counts.Values = len(ids)
	r.log.Info("sales persons resolved",
		zap.Int("values", counts.Values),
		zap.Int("created", counts.Created),
		zap.Int64("backfilled", counts.Backfilled))
	return counts, nil
}

func (r *Resolver) resolveSalesPerson(ctx context.Context, raw, key string, counts *LookupCounts) (string, error) {
	id, err := r.store.FindDimensionID(ctx, crm.DimensionSalesPerson, key)
	if err != nil || id != "" {
		return id, err
	}
	counts.Created++
	return r.store.EnsureSalesPerson(ctx, &crm.SalesPerson{Name: raw, NormalizedName: key})
}

// PopulateLeadSources resolves distinct referral sources from lead
// statuses, booked opportunities, and jobs; new rows get a word-capitalized
// display name and a rules-file category. Rows with no referral source at
// all are pointed at the "Unknown" fallback row.
func (r *Resolver) PopulateLeadSources(ctx context.Context) (LookupCounts, error) {
	var counts LookupCounts
	ids := make(map[string]string)

	for _, src := range crm.LeadSourceSources() {
		raws, err := r.store.DistinctRawValues(ctx, src)
		if err != nil {
			return counts, err
		}
		for _, raw := range raws {
			key := Normalize(raw)
			if key == "" {
				continue
			}
			id, ok := ids[key]
			if !ok {
				id, err = r.resolveLeadSource(ctx, raw, key, &counts)
				if err != nil {
					return counts, err
				}
				ids[key] = id
			}
			n, err := r.store.BackfillDimensionFK(ctx, src, raw, id)
			if err != nil {
				return counts, err
			}
			counts.Backfilled += n
		}
	}

	// Blank or missing sources land on the Unknown row.
	unknownID, err := r.resolveLeadSource(ctx, "", "unknown", &counts)
	if err != nil {
		return counts, err
	}
	ids["unknown"] = unknownID
	for _, src := range crm.LeadSourceSources() {
		n, err := r.store.BackfillBlankDimensionFK(ctx, src, unknownID)
		if err != nil {
			return counts, err
		}
		counts.Backfilled += n
	}

	counts.Values = len(ids)
	r.log.Info("lead sources resolved",
		zap.Int("values", counts.Values),
		zap.Int("created", counts.Created),
		zap.Int64("backfilled", counts.Backfilled))
	return counts, nil
}

func (r *Resolver) resolveLeadSource(ctx context.Context, raw, key string, counts *LookupCounts) (string, error) {
	id, err := r.store.FindDimensionID(ctx, crm.DimensionLeadSource, key)
	if err != nil || id != "" {
		return id, err
	}
	counts.Created++
	return r.store.EnsureLeadSource(ctx, &crm.LeadSource{
		Name:           DisplayName(raw),
		NormalizedName: key,
		Category:       r.rules.CategoryFor(raw),
	})
}

// MergeSalesPersonVariations folds known spelling variations of each sales
// person into one canonical row: the exact-name row when present, else the
// most-referenced variant renamed to the canonical form. Duplicates have
// their fact references repointed and are deactivated, never deleted.
func (r *Resolver) MergeSalesPersonVariations(ctx context.Context) (MergeCounts, error) {
	var counts MergeCounts
	for _, group := range r.rules.SalesVariations {
		if err := r.mergeGroup(ctx, group, &counts); err != nil {
			return counts, err
		}
	}
	r.log.Info("sales person variations merged",
		zap.Int("deactivated", counts.Deactivated),
		zap.Int64("refs_moved", counts.RefsMoved),
		zap.Int("renamed", counts.Renamed))
	return counts, nil
}

type groupMember struct {
	sp   *crm.SalesPerson
	refs int64
}

func (r *Resolver) mergeGroup(ctx context.Context, group VariationRule, counts *MergeCounts) error {
	canonKey := Normalize(group.Canonical)
	if canonKey == "" {
		return nil
	}

	// Collect the group's active rows, keyed by normalized name so a
	// variation listed twice resolves once.
	var members []groupMember
	seen := make(map[string]bool)
	for _, name := range append([]string{group.Canonical}, group.Variations...) {
		key := Normalize(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		sp, err := r.store.SalesPersonByName(ctx, key)
		if err != nil {
			return err
		}
		if sp == nil || !sp.IsActive {
			continue
		}
		refs, err := r.store.SalesPersonRefCount(ctx, sp.ID)
		if err != nil {
			return err
		}
		members = append(members, groupMember{sp: sp, refs: refs})
	}
	if len(members) == 0 {
		return nil
	}

	var canonical *groupMember
	for i := range members {
		if members[i].sp.NormalizedName == canonKey {
			canonical = &members[i]
			break
		}
	}
	if canonical == nil {
		for i := range members {
			if canonical == nil || members[i].refs > canonical.refs {
				canonical = &members[i]
			}
		}
		if err := r.store.RenameSalesPerson(ctx, canonical.sp.ID, group.Canonical, canonKey); err != nil {
			return err
		}
		counts.Renamed++
	}

	for i := range members {
		m := &members[i]
		if m.sp.ID == canonical.sp.ID {
			continue
		}
		moved, err := r.store.RepointSalesPerson(ctx, m.sp.ID, canonical.sp.ID)
		if err != nil {
			return err
		}
		if err := r.store.DeactivateSalesPerson(ctx, m.sp.ID); err != nil {
			return err
		}
		counts.RefsMoved += moved
		counts.Deactivated++
		r.log.Info("merged sales person variation",
			zap.String("from", m.sp.Name),
			zap.String("into", group.Canonical),
			zap.Int64("refs_moved", moved))
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
