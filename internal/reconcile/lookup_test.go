package reconcile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movedash/reconcile-cli/internal/crm"
)

func newStore(t *testing.T) crm.Store {
	t.Helper()
	store, err := crm.NewSQLite(filepath.Join(t.TempDir(), "crm.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRules(t *testing.T) *Rules {
	t.Helper()
	rules, err := LoadRules("")
	require.NoError(t, err)
	return rules
}

func TestPopulateBranchesFoldsSpellings(t *testing.T) {
	store := newStore(t)
	resolver := NewResolver(store, testRules(t))
	ctx := context.Background()

	_, err := store.InsertJob(ctx, &crm.Job{BranchName: strPtr("NORTH YORK TORONTO")})
	require.NoError(t, err)
	_, err = store.InsertJob(ctx, &crm.Job{BranchName: strPtr("North York Toronto")})
	require.NoError(t, err)
	_, err = store.InsertBookedOpportunity(ctx, &crm.BookedOpportunity{
		QuoteNumber: "Q-1", CustomerID: "c-1", BranchName: strPtr("  north york   toronto "),
	})
	require.NoError(t, err)
	_, err = store.InsertLeadStatus(ctx, &crm.LeadStatus{BranchName: strPtr("Vancouver")})
	require.NoError(t, err)

	counts, err := resolver.PopulateBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Values)
	assert.Equal(t, 2, counts.Created)
	assert.EqualValues(t, 4, counts.Backfilled)

	id, err := store.FindDimensionID(ctx, crm.DimensionBranch, "north york toronto")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	branch, err := store.GetBranch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "NORTH YORK TORONTO", branch.Name)
	require.NotNil(t, branch.City)
	assert.Equal(t, "Toronto", *branch.City)
	require.NotNil(t, branch.Province)
	assert.Equal(t, "ON", *branch.Province)

	vid, err := store.FindDimensionID(ctx, crm.DimensionBranch, "vancouver")
	require.NoError(t, err)
	require.NotEmpty(t, vid)
	vbranch, err := store.GetBranch(ctx, vid)
	require.NoError(t, err)
	require.NotNil(t, vbranch.City)
	assert.Equal(t, "Vancouver", *vbranch.City)
	assert.Nil(t, vbranch.Province)

	// Rerun resolves the same values but creates and backfills nothing.
	again, err := resolver.PopulateBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Values)
	assert.Zero(t, again.Created)
	assert.Zero(t, again.Backfilled)
}

func TestPopulateSalesPersonsReusesRowAcrossTables(t *testing.T) {
	store := newStore(t)
	resolver := NewResolver(store, testRules(t))
	ctx := context.Background()

	_, err := store.InsertJob(ctx, &crm.Job{SalesPersonName: strPtr("Daud")})
	require.NoError(t, err)
	_, err = store.InsertBookedOpportunity(ctx, &crm.BookedOpportunity{
		QuoteNumber: "Q-2", CustomerID: "c-1", SalesPersonName: strPtr("DAUD"),
	})
	require.NoError(t, err)

	counts, err := resolver.PopulateSalesPersons(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Values)
	assert.Equal(t, 1, counts.Created)
	assert.EqualValues(t, 2, counts.Backfilled)

	sp, err := store.SalesPersonByName(ctx, "daud")
	require.NoError(t, err)
	require.NotNil(t, sp)
	assert.Equal(t, "Daud", sp.Name)
	assert.True(t, sp.IsActive)
}

func TestPopulateLeadSourcesAssignsCategories(t *testing.T) {
	store := newStore(t)
	resolver := NewResolver(store, testRules(t))
	ctx := context.Background()

	_, err := store.InsertLeadStatus(ctx, &crm.LeadStatus{ReferralSource: strPtr("google ads")})
	require.NoError(t, err)
	_, err = store.InsertBookedOpportunity(ctx, &crm.BookedOpportunity{
		QuoteNumber: "Q-3", CustomerID: "c-1", ReferralSource: strPtr("word of mouth"),
	})
	require.NoError(t, err)
	_, err = store.InsertJob(ctx, &crm.Job{ReferralSource: strPtr("   ")})
	require.NoError(t, err)
	_, err = store.InsertJob(ctx, &crm.Job{})
	require.NoError(t, err)

	counts, err := resolver.PopulateLeadSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Values)
	assert.Equal(t, 3, counts.Created)
	assert.EqualValues(t, 4, counts.Backfilled)

	for _, tc := range []struct {
		key, name, category string
	}{
		{"google ads", "Google Ads", "online"},
		{"word of mouth", "Word Of Mouth", "referral"},
		{"unknown", "Unknown", "other"},
	} {
		id, err := store.FindDimensionID(ctx, crm.DimensionLeadSource, tc.key)
		require.NoError(t, err)
		require.NotEmpty(t, id, tc.key)
		ls, err := store.GetLeadSource(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, tc.name, ls.Name)
		assert.Equal(t, tc.category, ls.Category)
	}

	// The Unknown row is reused, not recreated.
	again, err := resolver.PopulateLeadSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Values)
	assert.Zero(t, again.Created)
	assert.Zero(t, again.Backfilled)
}

func TestMergeKeepsExactCanonicalRow(t *testing.T) {
	store := newStore(t)
	resolver := NewResolver(store, testRules(t))
	ctx := context.Background()

	_, err := store.InsertJob(ctx, &crm.Job{SalesPersonName: strPtr("Bobby")})
	require.NoError(t, err)
	_, err = store.InsertJob(ctx, &crm.Job{SalesPersonName: strPtr("Bobby")})
	require.NoError(t, err)
	_, err = store.InsertBookedOpportunity(ctx, &crm.BookedOpportunity{
		QuoteNumber: "Q-4", CustomerID: "c-1", SalesPersonName: strPtr("Bobby S"),
	})
	require.NoError(t, err)

	_, err = resolver.PopulateSalesPersons(ctx)
	require.NoError(t, err)

	counts, err := resolver.MergeSalesPersonVariations(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Renamed)
	assert.Equal(t, 1, counts.Deactivated)
	assert.EqualValues(t, 2, counts.RefsMoved)

	keep, err := store.SalesPersonByName(ctx, "bobby s")
	require.NoError(t, err)
	require.NotNil(t, keep)
	assert.True(t, keep.IsActive)
	refs, err := store.SalesPersonRefCount(ctx, keep.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, refs)

	dup, err := store.SalesPersonByName(ctx, "bobby")
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.False(t, dup.IsActive)
	dupRefs, err := store.SalesPersonRefCount(ctx, dup.ID)
	require.NoError(t, err)
	assert.Zero(t, dupRefs)

	// A second pass finds the fold already done.
	again, err := resolver.MergeSalesPersonVariations(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Renamed)
	assert.Zero(t, again.Deactivated)
	assert.Zero(t, again.RefsMoved)
}

func TestMergeElectsMostReferencedWhenCanonicalMissing(t *testing.T) {
	store := newStore(t)
	rules := &Rules{
		DefaultCategory: "other",
		SalesVariations: []VariationRule{{Canonical: "Zed Z", Variations: []string{"Zed", "Zeddy"}}},
	}
	resolver := NewResolver(store, rules)
	ctx := context.Background()

	_, err := store.InsertJob(ctx, &crm.Job{SalesPersonName: strPtr("Zed")})
	require.NoError(t, err)
	_, err = store.InsertJob(ctx, &crm.Job{SalesPersonName: strPtr("Zeddy")})
	require.NoError(t, err)
	_, err = store.InsertJob(ctx, &crm.Job{SalesPersonName: strPtr("Zeddy")})
	require.NoError(t, err)

	_, err = resolver.PopulateSalesPersons(ctx)
	require.NoError(t, err)

	counts, err := resolver.MergeSalesPersonVariations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Renamed)
	assert.Equal(t, 1, counts.Deactivated)
	assert.EqualValues(t, 1, counts.RefsMoved)

	keep, err := store.SalesPersonByName(ctx, "zed z")
	require.NoError(t, err)
	require.NotNil(t, keep)
	assert.Equal(t, "Zed Z", keep.Name)
	refs, err := store.SalesPersonRefCount(ctx, keep.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, refs)

	gone, err := store.SalesPersonByName(ctx, "zed")
	require.NoError(t, err)
	require.NotNil(t, gone)
	assert.False(t, gone.IsActive)
}

func TestMergeRenamesLoneVariant(t *testing.T) {
	store := newStore(t)
	resolver := NewResolver(store, testRules(t))
	ctx := context.Background()

	_, err := store.InsertJob(ctx, &crm.Job{SalesPersonName: strPtr("Daud")})
	require.NoError(t, err)
	_, err = resolver.PopulateSalesPersons(ctx)
	require.NoError(t, err)

	counts, err := resolver.MergeSalesPersonVariations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Renamed)
	assert.Zero(t, counts.Deactivated)

	sp, err := store.SalesPersonByName(ctx, "daud p")
	require.NoError(t, err)
	require.NotNil(t, sp)
	assert.Equal(t, "Daud P", sp.Name)
	assert.True(t, sp.IsActive)
	refs, err := store.SalesPersonRefCount(ctx, sp.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, refs)
}
