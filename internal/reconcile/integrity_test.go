package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movedash/reconcile-cli/internal/crm"
)

func TestMonitor_Check_RatesAndOrphans(t *testing.T) {
	store := newStore(t)
	monitor := NewMonitor(store, testMonitorConfig())
	ctx := context.Background()

	_, err := store.InsertCustomer(ctx, &crm.Customer{ID: "c-1"})
	require.NoError(t, err)
	_, err = store.InsertBookedOpportunity(ctx, &crm.BookedOpportunity{
		ID: "bo-1", QuoteNumber: "Q-1", CustomerID: "c-1",
	})
	require.NoError(t, err)

	// 3 of 4 jobs carry a customer.
	for i := 0; i < 3; i++ {
		_, err = store.InsertJob(ctx, &crm.Job{CustomerID: strPtr("c-1")})
		require.NoError(t, err)
	}
	_, err = store.InsertJob(ctx, &crm.Job{})
	require.NoError(t, err)

	// 1 of 3 quoted lead statuses is linked; a fourth has no quote at all.
	_, err = store.InsertLeadStatus(ctx, &crm.LeadStatus{
		ID: "ls-1", QuoteNumber: strPtr("Q-1"), BookedOpportunityID: strPtr("bo-1"),
	})
	require.NoError(t, err)
	_, err = store.InsertLeadStatus(ctx, &crm.LeadStatus{ID: "ls-2", QuoteNumber: strPtr("Q-2")})
	require.NoError(t, err)
	_, err = store.InsertLeadStatus(ctx, &crm.LeadStatus{ID: "ls-3", QuoteNumber: strPtr("Q-3")})
	require.NoError(t, err)
	_, err = store.InsertLeadStatus(ctx, &crm.LeadStatus{ID: "ls-4"})
	require.NoError(t, err)

	// 1 of 2 identified bad leads is linked; a third has no identity.
	_, err = store.InsertBadLead(ctx, &crm.BadLead{
		ID: "bl-1", CustomerID: strPtr("c-1"), LeadStatusID: strPtr("ls-1"),
	})
	require.NoError(t, err)
	_, err = store.InsertBadLead(ctx, &crm.BadLead{ID: "bl-2", CustomerEmail: strPtr("x@y.com")})
	require.NoError(t, err)
	_, err = store.InsertBadLead(ctx, &crm.BadLead{ID: "bl-3"})
	require.NoError(t, err)

	// One quoted lost lead, unlinked.
	_, err = store.InsertLostLead(ctx, &crm.LostLead{ID: "ll-1", QuoteNumber: strPtr("Q-9")})
	require.NoError(t, err)

	rep, err := monitor.Check(ctx)
	require.NoError(t, err)

	assert.Equal(t, 75.0, rep.JobCustomerRate)
	assert.Equal(t, 33.33, rep.LeadStatusRate)
	assert.Equal(t, 50.0, rep.BadLeadRate)
	assert.Equal(t, 0.0, rep.LostLeadRate)
	assert.EqualValues(t, 2, rep.OrphanedLeadStatus)
	assert.EqualValues(t, 1, rep.OrphanedLostLeads)
	assert.EqualValues(t, 1, rep.OrphanedBadLeads)
	assert.EqualValues(t, 1, rep.JobsWithoutCustomer)

	// Three rates below threshold plus three orphaned relationships.
	require.Len(t, rep.Alerts, 6)
	byType := map[AlertType]int{}
	for _, alert := range rep.Alerts {
		byType[alert.Type]++
	}
	assert.Equal(t, 3, byType[AlertLowLinkageRate])
	assert.Equal(t, 3, byType[AlertOrphanedRows])
}

func TestMonitor_Check_AboveThresholdStaysQuiet(t *testing.T) {
	store := newStore(t)
	monitor := NewMonitor(store, testMonitorConfig())
	ctx := context.Background()

	jobs := make([]crm.Job, 100)
	for i := range jobs {
		jobs[i] = crm.Job{ID: fmt.Sprintf("j-%03d", i)}
		if i < 97 {
			jobs[i].CustomerID = strPtr("c-1")
		}
	}
	n, err := store.BulkInsertJobs(ctx, jobs)
	require.NoError(t, err)
	require.EqualValues(t, 100, n)

	rep, err := monitor.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 97.00, rep.JobCustomerRate)
	assert.EqualValues(t, 3, rep.JobsWithoutCustomer)
	assert.Empty(t, rep.Alerts)
}

func TestMonitor_Check_EmptyTablesReportHundred(t *testing.T) {
	store := newStore(t)
	monitor := NewMonitor(store, testMonitorConfig())

	rep, err := monitor.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, rep.JobCustomerRate)
	assert.Equal(t, 100.0, rep.LeadStatusRate)
	assert.Equal(t, 100.0, rep.BadLeadRate)
	assert.Equal(t, 100.0, rep.LostLeadRate)
	assert.Empty(t, rep.Alerts)
}

func TestMonitor_Persist_AppendsSnapshots(t *testing.T) {
	store := newStore(t)
	monitor := NewMonitor(store, testMonitorConfig())
	ctx := context.Background()

	_, err := store.InsertLeadStatus(ctx, &crm.LeadStatus{ID: "ls-1", QuoteNumber: strPtr("Q-1")})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		rep, err := monitor.Check(ctx)
		require.NoError(t, err)
		require.NoError(t, monitor.Persist(ctx, rep))
	}

	snaps, err := store.ListIntegritySnapshots(ctx, crm.SnapshotFilter{})
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	latest, err := store.LatestIntegritySnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 0.0, latest.LeadStatusRate)
	assert.EqualValues(t, 1, latest.OrphanedLeadStatus)

	var alerts []Alert
	require.NoError(t, json.Unmarshal(latest.Alerts, &alerts))
	require.NotEmpty(t, alerts)
}

func TestMonitor_WriteReport(t *testing.T) {
	dir := t.TempDir()
	monitor := NewMonitor(newStore(t), testMonitorConfig())

	rep := healthyReport()
	rep.CheckedAt = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	rep.JobCustomerRate = 97.5

	path, err := monitor.WriteReport(rep, dir)
	require.NoError(t, err)
	assert.Equal(t, "integrity_check_20240301_093000.json", filepath.Base(path))

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, 97.5, decoded.JobCustomerRate)
	assert.True(t, rep.CheckedAt.Equal(decoded.CheckedAt))
}

func TestRateRounding(t *testing.T) {
	cases := []struct {
		linked, eligible int64
		want             float64
	}{
		{0, 0, 100},
		{97, 100, 97},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{0, 5, 0},
	}
	for _, tc := range cases {
		got := rate(crm.RelationshipCounts{Linked: tc.linked, Eligible: tc.eligible})
		assert.Equal(t, tc.want, got, "%d/%d", tc.linked, tc.eligible)
	}
}
