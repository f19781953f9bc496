/*
Package ledger provides the revenue-split ledger engine.

PURPOSE:
  This package contains the domain types and algorithms that turn a verified
  payment into a set of immutable financial records: per-party revenue shares,
  ledger entries, balances, and settlements. It is the single owner of entry
  and settlement mutation; everything else in the system observes.

KEY CONCEPTS IN THIS FILE (types.go):
  - Party: the revenue-distribution classification (admin, team, vendor)
  - RevenueRule: a named percentage split applied to payment amounts
  - LedgerEntry: an immutable credit/debit record attributed to a party
  - Settlement: a batch that clears same-party pending entries together
  - Payment: the upstream record a ledger entry may originate from

DESIGN PRINCIPLES:
  1. Immutability: entries are never deleted; status moves pending -> cleared only
  2. Precision: decimal.Decimal for every amount, never float64
  3. Flat references: entities point at each other by id, resolved by lookup;
     no owning back-pointers between Payment, LedgerEntry and Settlement
  4. Explicit actors: every guarded operation takes the Actor performing it

SEE ALSO:
  - split.go: revenue share calculation with exact-sum rounding
  - validation.go: field and business-rule validation
  - access.go: role/party-based access control
  - service.go: entry and settlement lifecycle
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PARTY - Revenue distribution classification
// =============================================================================

type Party string

const (
	PartyAdmin  Party = "admin"
	PartyTeam   Party = "team"
	PartyVendor Party = "vendor"
)

// AllParties returns every valid party, in a stable order.
func AllParties() []Party {
	return []Party{PartyAdmin, PartyTeam, PartyVendor}
}

func ValidParty(p Party) bool {
	switch p {
	case PartyAdmin, PartyTeam, PartyVendor:
		return true
	}
	return false
}

// =============================================================================
// ENTRY TYPE / STATUS
// =============================================================================

type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

func ValidEntryType(t EntryType) bool {
	return t == EntryCredit || t == EntryDebit
}

type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusCleared EntryStatus = "cleared"
)

func ValidEntryStatus(s EntryStatus) bool {
	return s == StatusPending || s == StatusCleared
}

// =============================================================================
// MONEY - Amount with currency
// =============================================================================

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// =============================================================================
// REVENUE RULE - Named percentage split
// =============================================================================

// RevenueRule defines how a payment amount is divided across parties.
// AdminPercent + TeamPercent + VendorPercent must sum to 100 (within 0.01).
// At most one rule is the active default at any time.
type RevenueRule struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	AdminPercent  decimal.Decimal `json:"admin_percent"`
	TeamPercent   decimal.Decimal `json:"team_percent"`
	VendorPercent decimal.Decimal `json:"vendor_percent"`
	IsDefault     bool            `json:"is_default"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PercentSum returns the sum of the three party percentages.
func (r *RevenueRule) PercentSum() decimal.Decimal {
	return r.AdminPercent.Add(r.TeamPercent).Add(r.VendorPercent)
}

// =============================================================================
// LEDGER ENTRY - Immutable credit/debit record
// =============================================================================

// LedgerEntry attributes money to a party. Entries are created by payment
// processing, by migration backfill, or by an authorized manual action.
// They are never deleted; the only mutation is pending -> cleared, which
// happens through UpdateStatus or settlement creation.
type LedgerEntry struct {
	ID            string          `json:"id"`
	PaymentID     string          `json:"payment_id,omitempty"` // empty for manual entries
	ProjectID     string          `json:"project_id"`
	RevenueRuleID string          `json:"revenue_rule_id,omitempty"`
	Type          EntryType       `json:"type"`
	Party         Party           `json:"party"`
	Amount        decimal.Decimal `json:"amount"` // always positive; sign comes from Type
	Currency      string          `json:"currency"`
	Date          time.Time       `json:"date"`
	Status        EntryStatus     `json:"status"`
	Remarks       string          `json:"remarks,omitempty"`
	SettlementID  string          `json:"settlement_id,omitempty"` // set once cleared via settlement
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Manual reports whether the entry was created by hand rather than derived
// from a payment.
func (e *LedgerEntry) Manual() bool {
	return e.PaymentID == ""
}

// SignedAmount returns the amount with its accounting sign:
// credit = +amount, debit = -amount.
func (e *LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Type == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// =============================================================================
// SETTLEMENT - Batch clearing of same-party pending entries
// =============================================================================

// Settlement clears a non-empty set of pending entries of a single party and
// currency, recording the signed total at creation time. Immutable once created.
type Settlement struct {
	ID             string          `json:"id"`
	Party          Party           `json:"party"`
	LedgerEntryIDs []string        `json:"ledger_entry_ids"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	SettlementDate time.Time       `json:"settlement_date"`
	CreatedBy      string          `json:"created_by"`
	Remarks        string          `json:"remarks,omitempty"`
	ProofRefs      []string        `json:"proof_refs,omitempty"` // attachment ids held by external storage
	CreatedAt      time.Time       `json:"created_at"`
}

// =============================================================================
// PAYMENT - Upstream record entries may derive from
// =============================================================================

// Payment is the verified upstream record the ledger derives entries from.
// The ledger does not own payments; it reads them and stamps revenue
// processing metadata back onto them.
type Payment struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"project_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Verified         bool            `json:"verified"`
	VerifiedAt       time.Time       `json:"verified_at,omitempty"`
	RevenueProcessed bool            `json:"revenue_processed"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	AppliedRuleID    string          `json:"applied_rule_id,omitempty"`
	LedgerEntryIDs   []string        `json:"ledger_entry_ids,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// =============================================================================
// BALANCE - Computed, never stored
// =============================================================================

// Balance is the signed sum of a party's entries in one currency, split by
// status. NetBalance = TotalPending + TotalCleared. All figures are reported
// at two decimal places.
type Balance struct {
	Party        Party           `json:"party"`
	Currency     string          `json:"currency"`
	TotalPending decimal.Decimal `json:"total_pending"`
	TotalCleared decimal.Decimal `json:"total_cleared"`
	NetBalance   decimal.Decimal `json:"net_balance"`
}

// SummaryGroup is one (party, currency) row of a project ledger summary.
type SummaryGroup struct {
	Party          Party           `json:"party"`
	Currency       string          `json:"currency"`
	TotalCredits   decimal.Decimal `json:"total_credits"`
	TotalDebits    decimal.Decimal `json:"total_debits"`
	PendingCredits decimal.Decimal `json:"pending_credits"`
	PendingDebits  decimal.Decimal `json:"pending_debits"`
	ClearedCredits decimal.Decimal `json:"cleared_credits"`
	ClearedDebits  decimal.Decimal `json:"cleared_debits"`
	NetBalance     decimal.Decimal `json:"net_balance"`
	EntryCount     int             `json:"entry_count"`
}
