package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedger_FirstRun(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	ran, err := ledger.HasRun(ctx, ScriptPopulateBranches)
	require.NoError(t, err)
	assert.False(t, ran)

	require.NoError(t, ledger.RecordRun(ctx, ScriptPopulateBranches, "created 12 branches"))

	ran, err = ledger.HasRun(ctx, ScriptPopulateBranches)
	require.NoError(t, err)
	assert.True(t, ran)

	entries, err := ledger.LedgerEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ScriptPopulateBranches, entries[0].ScriptName)
	assert.Equal(t, 1, entries[0].ExecutionCount)
	assert.Equal(t, "created 12 branches", entries[0].Notes)
	assert.False(t, entries[0].LastExecutionAt.IsZero())
}

func TestMemoryLedger_RepeatRunIncrementsCount(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	require.NoError(t, ledger.RecordRun(ctx, ScriptCompleteQuoteLinkage, "linked 40"))
	require.NoError(t, ledger.RecordRun(ctx, ScriptCompleteQuoteLinkage, ""))

	entries, err := ledger.LedgerEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].ExecutionCount)
	// Empty notes on a repeat run keep the previous notes.
	assert.Equal(t, "linked 40", entries[0].Notes)

	require.NoError(t, ledger.RecordRun(ctx, ScriptCompleteQuoteLinkage, "skipped"))
	entries, err = ledger.LedgerEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, entries[0].ExecutionCount)
	assert.Equal(t, "skipped", entries[0].Notes)
}

func TestMemoryLedger_EntriesSortedByScript(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	require.NoError(t, ledger.RecordRun(ctx, ScriptLinkBadLeads, ""))
	require.NoError(t, ledger.RecordRun(ctx, ScriptCompleteQuoteLinkage, ""))
	require.NoError(t, ledger.RecordRun(ctx, ScriptIntegrityCheck, ""))

	entries, err := ledger.LedgerEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ScriptCompleteQuoteLinkage, entries[0].ScriptName)
	assert.Equal(t, ScriptIntegrityCheck, entries[1].ScriptName)
	assert.Equal(t, ScriptLinkBadLeads, entries[2].ScriptName)
}
