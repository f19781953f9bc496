/*
store.go - Persistence contract for ledger collections

PURPOSE:
  Defines the interface between the domain logic and the document store.
  Every core component depends only on this contract; implementations may
  sit on SQLite, an in-memory map, or any hosted document database.

CONTRACT SHAPE:
  Per collection: Create (server-assigned id and timestamps), Get by id,
  Query by filter, Update by patch. Ledger entries have no delete and no
  general update - the only legal patch is the pending -> cleared transition
  plus its settlement linkage. Settlements are create-only.

CONSISTENCY:
  The store promises no cross-collection transaction. Multi-record flows
  (settlement creation, migration stamping) are written as independent
  operations and repaired by an explicit reconciliation pass when a crash
  leaves them half-applied.

IMPLEMENTATIONS:
  - ledger/store: in-memory, for tests and development
  - store/sqlite: production store on SQLite with WAL

SEE ALSO:
  - service.go: the only writer of entries and settlements
  - migration/coordinator.go: the only writer of payment stamps
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS AND PATCHES
// =============================================================================

// EntryFilter selects ledger entries. Nil fields impose no constraint; all
// provided fields combine conjunctively. Date-range narrowing is applied by
// the service after the query, not by the store.
type EntryFilter struct {
	Party        *Party
	Status       *EntryStatus
	ProjectID    *string
	Currency     *string
	Type         *EntryType
	PaymentID    *string
	SettlementID *string
	Limit        int // 0 = no limit
}

// EntryPatch is the only mutation entries accept.
type EntryPatch struct {
	Status       *EntryStatus
	SettlementID *string
}

// SettlementFilter selects settlements.
type SettlementFilter struct {
	Party    *Party
	Currency *string
	Limit    int
}

// RuleFilter selects revenue rules.
type RuleFilter struct {
	IsActive *bool
}

// RulePatch mutates a revenue rule's flags. Percentages are immutable once a
// rule exists; a different split is a new rule.
type RulePatch struct {
	IsDefault *bool
	IsActive  *bool
}

// PaymentFilter selects payments, primarily for migration sweeps.
type PaymentFilter struct {
	Verified         *bool
	RevenueProcessed *bool
	ProjectID        *string
	Limit            int
}

// PaymentPatch stamps revenue-processing metadata onto a payment.
type PaymentPatch struct {
	RevenueProcessed *bool
	ProcessedAt      *time.Time
	AppliedRuleID    *string
	LedgerEntryIDs   []string
}

// =============================================================================
// PER-COLLECTION STORES
// =============================================================================

// EntryStore persists ledger entries. Append-plus-transition only: no delete,
// no amount/party edits.
type EntryStore interface {
	// CreateEntry persists a new entry, assigning id and timestamps.
	CreateEntry(ctx context.Context, e *LedgerEntry) (*LedgerEntry, error)

	// GetEntry returns the entry or a NotFoundError.
	GetEntry(ctx context.Context, id string) (*LedgerEntry, error)

	// QueryEntries returns entries matching the filter, ordered by date.
	QueryEntries(ctx context.Context, f EntryFilter) ([]*LedgerEntry, error)

	// UpdateEntry applies a patch. Only status and settlement linkage move.
	UpdateEntry(ctx context.Context, id string, patch EntryPatch) error
}

// SettlementStore persists settlements. Create-only; settlements are
// immutable once written.
type SettlementStore interface {
	CreateSettlement(ctx context.Context, s *Settlement) (*Settlement, error)
	GetSettlement(ctx context.Context, id string) (*Settlement, error)
	QuerySettlements(ctx context.Context, f SettlementFilter) ([]*Settlement, error)
}

// RuleStore persists revenue rules.
type RuleStore interface {
	CreateRule(ctx context.Context, r *RevenueRule) (*RevenueRule, error)
	GetRule(ctx context.Context, id string) (*RevenueRule, error)

	// QueryRules returns rules matching the filter, oldest first.
	QueryRules(ctx context.Context, f RuleFilter) ([]*RevenueRule, error)

	// ActiveDefaultRule returns the single active default rule, or a
	// NotFoundError when none is configured.
	ActiveDefaultRule(ctx context.Context) (*RevenueRule, error)

	UpdateRule(ctx context.Context, id string, patch RulePatch) error
}

// PaymentStore reads payments and stamps processing metadata back. Payments
// are owned upstream; the ledger never creates them outside of fixtures.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *Payment) (*Payment, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
	QueryPayments(ctx context.Context, f PaymentFilter) ([]*Payment, error)
	UpdatePayment(ctx context.Context, id string, patch PaymentPatch) error
}

// Store is the full persistence surface the ledger core needs.
type Store interface {
	EntryStore
	SettlementStore
	RuleStore
	PaymentStore
}
