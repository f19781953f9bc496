// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/revenue-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds every collection in maps keyed by id. It mirrors the hosted
// document store's semantics: per-document writes, no cross-collection
// transaction, change notifications per collection.
type Memory struct {
	mu          sync.RWMutex
	entries     map[string]*ledger.LedgerEntry
	settlements map[string]*ledger.Settlement
	rules       map[string]*ledger.RevenueRule
	payments    map[string]*ledger.Payment

	subs   map[int]func(ledger.LedgerEntry)
	nextID int

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[string]*ledger.LedgerEntry),
		settlements: make(map[string]*ledger.Settlement),
		rules:       make(map[string]*ledger.RevenueRule),
		payments:    make(map[string]*ledger.Payment),
		subs:        make(map[int]func(ledger.LedgerEntry)),
		now:         time.Now,
	}
}

// SetClock overrides the timestamp source. Intended for tests.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

// SubscribeEntries registers a callback invoked after every entry create or
// update, mirroring the document store's subscribe contract. The returned
// function cancels the subscription.
func (m *Memory) SubscribeEntries(fn func(ledger.LedgerEntry)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// notifyEntry invokes subscribers outside the store lock so a callback can
// safely read back from the store.
func (m *Memory) notifyEntry(e ledger.LedgerEntry) {
	m.mu.RLock()
	fns := make([]func(ledger.LedgerEntry), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

// =============================================================================
// ENTRIES
// =============================================================================

func (m *Memory) CreateEntry(_ context.Context, e *ledger.LedgerEntry) (*ledger.LedgerEntry, error) {
	m.mu.Lock()
	stored := *e
	if stored.ID == "" {
		stored.ID = "ent_" + uuid.NewString()
	}
	stored.CreatedAt = m.now()
	stored.UpdatedAt = stored.CreatedAt
	m.entries[stored.ID] = &stored
	copyOut := stored
	m.mu.Unlock()

	m.notifyEntry(copyOut)
	return &copyOut, nil
}

func (m *Memory) GetEntry(_ context.Context, id string) (*ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, &ledger.NotFoundError{Collection: "ledger_entries", ID: id}
	}
	copyOut := *e
	return &copyOut, nil
}

func (m *Memory) QueryEntries(_ context.Context, f ledger.EntryFilter) ([]*ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ledger.LedgerEntry
	for _, e := range m.entries {
		if !matchEntry(e, f) {
			continue
		}
		copyOut := *e
		out = append(out, &copyOut)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchEntry(e *ledger.LedgerEntry, f ledger.EntryFilter) bool {
	if f.Party != nil && e.Party != *f.Party {
		return false
	}
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	if f.ProjectID != nil && e.ProjectID != *f.ProjectID {
		return false
	}
	if f.Currency != nil && e.Currency != *f.Currency {
		return false
	}
	if f.Type != nil && e.Type != *f.Type {
		return false
	}
	if f.PaymentID != nil && e.PaymentID != *f.PaymentID {
		return false
	}
	if f.SettlementID != nil && e.SettlementID != *f.SettlementID {
		return false
	}
	return true
}

func (m *Memory) UpdateEntry(_ context.Context, id string, patch ledger.EntryPatch) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return &ledger.NotFoundError{Collection: "ledger_entries", ID: id}
	}
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	if patch.SettlementID != nil {
		e.SettlementID = *patch.SettlementID
	}
	e.UpdatedAt = m.now()
	copyOut := *e
	m.mu.Unlock()

	m.notifyEntry(copyOut)
	return nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (m *Memory) CreateSettlement(_ context.Context, s *ledger.Settlement) (*ledger.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *s
	if stored.ID == "" {
		stored.ID = "stl_" + uuid.NewString()
	}
	stored.CreatedAt = m.now()
	stored.LedgerEntryIDs = append([]string(nil), s.LedgerEntryIDs...)
	m.settlements[stored.ID] = &stored

	copyOut := stored
	return &copyOut, nil
}

func (m *Memory) GetSettlement(_ context.Context, id string) (*ledger.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settlements[id]
	if !ok {
		return nil, &ledger.NotFoundError{Collection: "settlements", ID: id}
	}
	copyOut := *s
	return &copyOut, nil
}

func (m *Memory) QuerySettlements(_ context.Context, f ledger.SettlementFilter) ([]*ledger.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ledger.Settlement
	for _, s := range m.settlements {
		if f.Party != nil && s.Party != *f.Party {
			continue
		}
		if f.Currency != nil && s.Currency != *f.Currency {
			continue
		}
		copyOut := *s
		out = append(out, &copyOut)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// =============================================================================
// RULES
// =============================================================================

func (m *Memory) CreateRule(_ context.Context, r *ledger.RevenueRule) (*ledger.RevenueRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *r
	if stored.ID == "" {
		stored.ID = "rule_" + uuid.NewString()
	}
	stored.CreatedAt = m.now()
	stored.UpdatedAt = stored.CreatedAt
	m.rules[stored.ID] = &stored

	copyOut := stored
	return &copyOut, nil
}

func (m *Memory) GetRule(_ context.Context, id string) (*ledger.RevenueRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, &ledger.NotFoundError{Collection: "revenue_rules", ID: id}
	}
	copyOut := *r
	return &copyOut, nil
}

func (m *Memory) QueryRules(_ context.Context, f ledger.RuleFilter) ([]*ledger.RevenueRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ledger.RevenueRule
	for _, r := range m.rules {
		if f.IsActive != nil && r.IsActive != *f.IsActive {
			continue
		}
		copyOut := *r
		out = append(out, &copyOut)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ActiveDefaultRule(_ context.Context) (*ledger.RevenueRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rules {
		if r.IsDefault && r.IsActive {
			copyOut := *r
			return &copyOut, nil
		}
	}
	return nil, &ledger.NotFoundError{Collection: "revenue_rules", ID: "default"}
}

func (m *Memory) UpdateRule(_ context.Context, id string, patch ledger.RulePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return &ledger.NotFoundError{Collection: "revenue_rules", ID: id}
	}
	if patch.IsDefault != nil {
		r.IsDefault = *patch.IsDefault
	}
	if patch.IsActive != nil {
		r.IsActive = *patch.IsActive
	}
	r.UpdatedAt = m.now()
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) CreatePayment(_ context.Context, p *ledger.Payment) (*ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *p
	if stored.ID == "" {
		stored.ID = "pay_" + uuid.NewString()
	}
	stored.CreatedAt = m.now()
	stored.LedgerEntryIDs = append([]string(nil), p.LedgerEntryIDs...)
	m.payments[stored.ID] = &stored

	copyOut := stored
	return &copyOut, nil
}

func (m *Memory) GetPayment(_ context.Context, id string) (*ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, &ledger.NotFoundError{Collection: "payments", ID: id}
	}
	copyOut := *p
	return &copyOut, nil
}

func (m *Memory) QueryPayments(_ context.Context, f ledger.PaymentFilter) ([]*ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ledger.Payment
	for _, p := range m.payments {
		if f.Verified != nil && p.Verified != *f.Verified {
			continue
		}
		if f.RevenueProcessed != nil && p.RevenueProcessed != *f.RevenueProcessed {
			continue
		}
		if f.ProjectID != nil && p.ProjectID != *f.ProjectID {
			continue
		}
		copyOut := *p
		out = append(out, &copyOut)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) UpdatePayment(_ context.Context, id string, patch ledger.PaymentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return &ledger.NotFoundError{Collection: "payments", ID: id}
	}
	if patch.RevenueProcessed != nil {
		p.RevenueProcessed = *patch.RevenueProcessed
	}
	if patch.ProcessedAt != nil {
		t := *patch.ProcessedAt
		p.ProcessedAt = &t
	}
	if patch.AppliedRuleID != nil {
		p.AppliedRuleID = *patch.AppliedRuleID
	}
	if patch.LedgerEntryIDs != nil {
		p.LedgerEntryIDs = append([]string(nil), patch.LedgerEntryIDs...)
	}
	return nil
}
