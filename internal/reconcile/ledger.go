package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/movedash/reconcile-cli/internal/crm"
)

// Script names recorded in the execution ledger, one per gated batch
// script plus the integrity monitor.
const (
	ScriptPopulateBranches     = "populate_branches"
	ScriptPopulateSalesPersons = "populate_sales_persons"
	ScriptPopulateLeadSources  = "populate_lead_sources"
	ScriptMergeSalesPersons    = "merge_sales_person_variations"
	ScriptCompleteQuoteLinkage = "complete_quote_linkage"
	ScriptLinkBadLeads         = "link_badlead_to_leadstatus"
	ScriptIntegrityCheck       = "integrity_check"
)

// Ledger is the slice of the store the engine gates batch stages on.
// Both store drivers satisfy it; MemoryLedger backs unit tests.
type Ledger interface {
	HasRun(ctx context.Context, scriptName string) (bool, error)
	RecordRun(ctx context.Context, scriptName, notes string) error
	LedgerEntries(ctx context.Context) ([]crm.LedgerEntry, error)
}

// MemoryLedger is an in-process Ledger. Safe for concurrent use.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*crm.LedgerEntry
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*crm.LedgerEntry)}
}

// HasRun reports whether the script has at least one recorded execution.
func (m *MemoryLedger) HasRun(_ context.Context, scriptName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[scriptName]
	return ok, nil
}

// RecordRun inserts the script's entry or increments its execution
// count. Non-empty notes replace the stored ones.
func (m *MemoryLedger) RecordRun(_ context.Context, scriptName, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if e, ok := m.entries[scriptName]; ok {
		e.ExecutionCount++
		e.LastExecutionAt = now
		if notes != "" {
			e.Notes = notes
		}
		return nil
	}
	m.entries[scriptName] = &crm.LedgerEntry{
		ScriptName:      scriptName,
		ExecutionCount:  1,
		LastExecutionAt: now,
		Notes:           notes,
		CreatedAt:       now,
	}
	return nil
}

// LedgerEntries returns all entries ordered by script name.
func (m *MemoryLedger) LedgerEntries(_ context.Context) ([]crm.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]crm.LedgerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScriptName < out[j].ScriptName })
	return out, nil
}
