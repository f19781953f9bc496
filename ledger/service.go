/*
service.go - Entry and settlement lifecycle

PURPOSE:
  The Service is the single owner of ledger mutation. It validates input,
  enforces access control, persists through the store contract, records
  every mutation on the audit trail, and dispatches best-effort
  notifications after the mutation has committed.

MUTATION PATHS:
  CreateEntry            manual or system-originated entry creation
  UpdateStatus           pending -> cleared (the only legal transition)
  CreateSettlement       batch-clear same-party pending entries
  ReconcileSettlements   repair half-applied settlements
  ProcessPaymentRevenue  trusted path: payment -> split -> entries
  CreateRule / DeactivateRule

READ PATHS:
  QueryEntries, QuerySettlements, ComputeBalance, ProjectLedgerSummary

TWO-PHASE SIDE EFFECTS:
  The store write commits synchronously; notification dispatch runs on its
  own goroutine with its own timeout and can only ever be lost, never undo
  a committed mutation.

SETTLEMENT ATOMICITY:
  The store offers no cross-record transaction. CreateSettlement persists
  the settlement, then clears each referenced entry independently; a crash
  partway leaves entries pending with the settlement already recorded.
  ReconcileSettlements finds and finishes those.
*/
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/revenue-ledger/audit"
	"github.com/warp/revenue-ledger/notify"
)

const notifyTimeout = 5 * time.Second

// Service is the ledger's only writer. Construct with NewService; all
// dependencies are injected, there is no ambient state.
type Service struct {
	store     Store
	guard     Guard
	validator *Validator
	calc      *Calculator
	trail     *audit.Trail
	notifier  notify.Notifier
	now       func() time.Time
}

func NewService(store Store, trail *audit.Trail, notifier notify.Notifier) *Service {
	v := NewValidator()
	return &Service{
		store:     store,
		validator: v,
		calc:      NewCalculator(v),
		trail:     trail,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Validator exposes the service's validation engine for collaborators that
// pre-validate input (API layer, migration).
func (s *Service) Validator() *Validator { return s.validator }

// Calculator exposes the revenue split calculator.
func (s *Service) Calculator() *Calculator { return s.calc }

// SetClock overrides the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// =============================================================================
// ENTRY CREATION
// =============================================================================

// CreateEntry validates and persists a new ledger entry.
//
// Manual entries (no payment id) require CREATE_MANUAL_ENTRIES and party
// access. System-originated entries carry a payment id and are trusted: they
// were derived from a verified payment by ProcessPaymentRevenue.
func (s *Service) CreateEntry(ctx context.Context, e *LedgerEntry, actor Actor) (*LedgerEntry, ValidationResult, error) {
	if e != nil && e.Manual() && actor.ID != SystemActor.ID {
		if !s.guard.HasPermission(actor, PermCreateManualEntries) {
			return nil, okResult(), s.deny(ctx, actor, "create manual entry", &PermissionError{
				ActorID: actor.ID, Permission: PermCreateManualEntries, Operation: "create manual entry",
			})
		}
		if !s.guard.CanAccessParty(actor, e.Party) {
			return nil, okResult(), s.deny(ctx, actor, "create manual entry", &PermissionError{
				ActorID: actor.ID, Parties: []Party{e.Party}, Operation: "create manual entry",
			})
		}
	}

	if e != nil {
		if e.Status == "" {
			e.Status = StatusPending
		}
		if e.Date.IsZero() {
			e.Date = s.now()
		}
		if e.CreatedBy == "" {
			e.CreatedBy = actor.ID
		}
	}

	if vr := s.validator.ValidateLedgerEntry(e); !vr.Valid {
		return nil, vr, nil
	}

	stored, err := s.store.CreateEntry(ctx, e)
	if err != nil {
		return nil, okResult(), &PersistenceError{Op: "create entry", Err: err}
	}

	s.trail.LogEntryCreated(ctx, actor.ID, stored.ID, map[string]any{
		"party":    string(stored.Party),
		"type":     string(stored.Type),
		"amount":   stored.Amount.String(),
		"currency": stored.Currency,
		"manual":   stored.Manual(),
	})
	s.dispatch([]string{string(stored.Party)}, notify.KindEntryCreated, map[string]string{
		"entry_id": stored.ID,
		"amount":   stored.Amount.String(),
		"currency": stored.Currency,
	})
	return stored, okResult(), nil
}

// =============================================================================
// QUERIES
// =============================================================================

// EntryQuery combines store-side filters with a date range. The date range
// is applied here, after the store query; stores are not required to index
// entry dates.
type EntryQuery struct {
	EntryFilter
	DateFrom *time.Time
	DateTo   *time.Time
}

// QueryEntries returns entries matching every provided criterion. Without
// VIEW_ALL_LEDGER_ENTRIES the result is further narrowed to the actor's
// reachable parties.
func (s *Service) QueryEntries(ctx context.Context, q EntryQuery, actor Actor) ([]*LedgerEntry, error) {
	entries, err := s.store.QueryEntries(ctx, q.EntryFilter)
	if err != nil {
		return nil, &PersistenceError{Op: "query entries", Err: err}
	}
	if q.DateFrom != nil || q.DateTo != nil {
		filtered := entries[:0]
		for _, e := range entries {
			if q.DateFrom != nil && e.Date.Before(*q.DateFrom) {
				continue
			}
			if q.DateTo != nil && e.Date.After(*q.DateTo) {
				continue
			}
			filtered = append(filtered, e)
		}
		entries = filtered
	}
	return s.guard.FilterEntries(actor, entries), nil
}

// QuerySettlements returns settlements visible to the actor.
func (s *Service) QuerySettlements(ctx context.Context, f SettlementFilter, actor Actor) ([]*Settlement, error) {
	settlements, err := s.store.QuerySettlements(ctx, f)
	if err != nil {
		return nil, &PersistenceError{Op: "query settlements", Err: err}
	}
	return s.guard.FilterSettlements(actor, settlements), nil
}

// =============================================================================
// STATUS TRANSITION
// =============================================================================

// UpdateStatus moves an entry from pending to cleared. Requires
// EDIT_LEDGER_ENTRIES and access to the entry's party. Any other transition
// is rejected; cleared is terminal.
func (s *Service) UpdateStatus(ctx context.Context, entryID string, newStatus EntryStatus, actor Actor) (*LedgerEntry, error) {
	if !ValidEntryStatus(newStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, newStatus)
	}

	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if !s.guard.HasPermission(actor, PermEditLedgerEntries) {
		return nil, s.deny(ctx, actor, "update entry status", &PermissionError{
			ActorID: actor.ID, Permission: PermEditLedgerEntries, Operation: "update entry status",
		})
	}
	if !s.guard.CanAccessParty(actor, entry.Party) {
		return nil, s.deny(ctx, actor, "update entry status", &PermissionError{
			ActorID: actor.ID, Parties: []Party{entry.Party}, Operation: "update entry status",
		})
	}

	if entry.Status != StatusPending || newStatus != StatusCleared {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, entry.Status, newStatus)
	}

	if err := s.store.UpdateEntry(ctx, entryID, EntryPatch{Status: &newStatus}); err != nil {
		return nil, &PersistenceError{Op: "update entry status", Err: err}
	}

	s.trail.LogStatusChanged(ctx, actor.ID, entryID, string(entry.Status), string(newStatus))

	entry.Status = newStatus
	entry.UpdatedAt = s.now()
	return entry, nil
}

// =============================================================================
// BALANCES
// =============================================================================

// ComputeBalance aggregates a party's signed amounts in one currency,
// separately for pending and cleared entries. Figures are reported at two
// decimal places. Requires VIEW_PARTY_BALANCES for a reachable party, or
// VIEW_ALL_PARTY_BALANCES for any party.
func (s *Service) ComputeBalance(ctx context.Context, party Party, currency string, actor Actor) (*Balance, error) {
	if !s.guard.HasPermission(actor, PermViewAllPartyBalances) {
		if !s.guard.HasPermission(actor, PermViewPartyBalances) || !s.guard.CanAccessParty(actor, party) {
			return nil, s.deny(ctx, actor, "compute balance", &PermissionError{
				ActorID: actor.ID, Permission: PermViewPartyBalances,
				Parties: []Party{party}, Operation: "compute balance",
			})
		}
	}
	if !ValidParty(party) {
		return nil, fmt.Errorf("%w: unknown party %q", ErrBalanceCalculation, party)
	}
	if !SupportedCurrency(currency) {
		return nil, fmt.Errorf("%w: unsupported currency %q", ErrBalanceCalculation, currency)
	}

	entries, err := s.store.QueryEntries(ctx, EntryFilter{Party: &party, Currency: &currency})
	if err != nil {
		return nil, &PersistenceError{Op: "compute balance", Err: err}
	}

	pending, cleared := decimal.Zero, decimal.Zero
	for _, e := range entries {
		switch e.Status {
		case StatusPending:
			pending = pending.Add(e.SignedAmount())
		case StatusCleared:
			cleared = cleared.Add(e.SignedAmount())
		}
	}

	return &Balance{
		Party:        party,
		Currency:     currency,
		TotalPending: pending.Round(2),
		TotalCleared: cleared.Round(2),
		NetBalance:   pending.Add(cleared).Round(2),
	}, nil
}

// ProjectLedgerSummary groups a project's entries by (party, currency) with
// credit/debit totals per status. Read-only, no side effects.
func (s *Service) ProjectLedgerSummary(ctx context.Context, projectID string) ([]SummaryGroup, error) {
	entries, err := s.store.QueryEntries(ctx, EntryFilter{ProjectID: &projectID})
	if err != nil {
		return nil, &PersistenceError{Op: "project summary", Err: err}
	}

	type groupKey struct {
		party    Party
		currency string
	}
	groups := make(map[groupKey]*SummaryGroup)
	var order []groupKey
	for _, e := range entries {
		k := groupKey{e.Party, e.Currency}
		g, ok := groups[k]
		if !ok {
			g = &SummaryGroup{Party: e.Party, Currency: e.Currency}
			groups[k] = g
			order = append(order, k)
		}
		g.EntryCount++
		if e.Type == EntryCredit {
			g.TotalCredits = g.TotalCredits.Add(e.Amount)
			if e.Status == StatusPending {
				g.PendingCredits = g.PendingCredits.Add(e.Amount)
			} else {
				g.ClearedCredits = g.ClearedCredits.Add(e.Amount)
			}
		} else {
			g.TotalDebits = g.TotalDebits.Add(e.Amount)
			if e.Status == StatusPending {
				g.PendingDebits = g.PendingDebits.Add(e.Amount)
			} else {
				g.ClearedDebits = g.ClearedDebits.Add(e.Amount)
			}
		}
		g.NetBalance = g.TotalCredits.Sub(g.TotalDebits)
	}

	out := make([]SummaryGroup, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	return out, nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// CreateSettlement batch-clears pending entries of one party.
//
// Order of checks: payload validation, entry loading, entry-level conflicts
// (status, party, currency), then authorization. The settlement record is
// persisted first; each referenced entry is then cleared independently. A
// per-entry failure is logged as a critical persistence event and surfaced,
// but already-cleared entries stay cleared - ReconcileSettlements finishes
// the rest.
func (s *Service) CreateSettlement(ctx context.Context, in SettlementInput, actor Actor) (*Settlement, ValidationResult, error) {
	if vr := s.validator.ValidateSettlementInput(in); !vr.Valid {
		return nil, vr, nil
	}

	entries := make([]*LedgerEntry, 0, len(in.LedgerEntryIDs))
	for _, id := range in.LedgerEntryIDs {
		e, err := s.store.GetEntry(ctx, id)
		if err != nil {
			return nil, okResult(), err
		}
		entries = append(entries, e)
	}

	for _, e := range entries {
		if e.Status != StatusPending {
			return nil, okResult(), &SettlementError{Reason: "entry is not pending", EntryID: e.ID}
		}
		if e.Party != in.Party {
			return nil, okResult(), &SettlementError{
				Reason:  fmt.Sprintf("entry belongs to party %s, settlement is for %s", e.Party, in.Party),
				EntryID: e.ID,
			}
		}
		if e.Currency != in.Currency {
			return nil, okResult(), &SettlementError{
				Reason:  fmt.Sprintf("entry currency %s differs from settlement currency %s", e.Currency, in.Currency),
				EntryID: e.ID,
			}
		}
	}

	if err := s.guard.ValidateSettlementPermissions(actor, entries); err != nil {
		return nil, okResult(), s.deny(ctx, actor, "create settlement", err)
	}
	if !s.guard.CanPerformSettlement(actor, in.Party) {
		return nil, okResult(), s.deny(ctx, actor, "create settlement", &PermissionError{
			ActorID: actor.ID, Parties: []Party{in.Party}, Operation: "create settlement",
		})
	}

	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.SignedAmount())
	}

	settlement := &Settlement{
		Party:          in.Party,
		LedgerEntryIDs: in.LedgerEntryIDs,
		TotalAmount:    RoundToCurrency(total, in.Currency),
		Currency:       in.Currency,
		SettlementDate: in.SettlementDate,
		CreatedBy:      actor.ID,
		Remarks:        in.Remarks,
		ProofRefs:      in.ProofRefs,
	}
	stored, err := s.store.CreateSettlement(ctx, settlement)
	if err != nil {
		return nil, okResult(), &PersistenceError{Op: "create settlement", Err: err}
	}

	// No cross-record transaction: each clear is an independent write.
	cleared := StatusCleared
	var clearErr error
	for _, e := range entries {
		patch := EntryPatch{Status: &cleared, SettlementID: &stored.ID}
		if err := s.store.UpdateEntry(ctx, e.ID, patch); err != nil {
			clearErr = err
			s.trail.LogPersistenceFailure(ctx, "settlement entry clear", err, map[string]any{
				"settlement_id": stored.ID,
				"entry_id":      e.ID,
			})
			s.dispatch([]string{string(PartyAdmin)}, notify.KindAdminAlert, map[string]string{
				"reason":        "settlement partially applied",
				"settlement_id": stored.ID,
				"entry_id":      e.ID,
			})
		}
	}

	s.trail.LogSettlement(ctx, audit.EventSettlementCreated, actor.ID, stored.ID, map[string]any{
		"party":        string(stored.Party),
		"total_amount": stored.TotalAmount.String(),
		"currency":     stored.Currency,
		"entry_count":  len(stored.LedgerEntryIDs),
	})
	s.dispatch([]string{string(stored.Party)}, notify.KindSettlementCreated, map[string]string{
		"settlement_id": stored.ID,
		"total_amount":  stored.TotalAmount.String(),
		"currency":      stored.Currency,
	})

	if clearErr != nil {
		return stored, okResult(), &PersistenceError{Op: "settlement entry clear", Err: clearErr}
	}
	return stored, okResult(), nil
}

// ReconcileSettlements finds settlements whose referenced entries are still
// pending or unlinked and re-applies the clear patch. Returns the number of
// entries repaired. Requires EDIT_LEDGER_ENTRIES.
func (s *Service) ReconcileSettlements(ctx context.Context, actor Actor) (int, error) {
	if actor.ID != SystemActor.ID && !s.guard.HasPermission(actor, PermEditLedgerEntries) {
		return 0, s.deny(ctx, actor, "reconcile settlements", &PermissionError{
			ActorID: actor.ID, Permission: PermEditLedgerEntries, Operation: "reconcile settlements",
		})
	}

	settlements, err := s.store.QuerySettlements(ctx, SettlementFilter{})
	if err != nil {
		return 0, &PersistenceError{Op: "reconcile settlements", Err: err}
	}

	repaired := 0
	cleared := StatusCleared
	for _, st := range settlements {
		for _, entryID := range st.LedgerEntryIDs {
			e, err := s.store.GetEntry(ctx, entryID)
			if err != nil {
				if IsNotFound(err) {
					continue
				}
				return repaired, &PersistenceError{Op: "reconcile settlements", Err: err}
			}
			if e.Status == StatusCleared && e.SettlementID == st.ID {
				continue
			}
			patch := EntryPatch{Status: &cleared, SettlementID: &st.ID}
			if err := s.store.UpdateEntry(ctx, entryID, patch); err != nil {
				return repaired, &PersistenceError{Op: "reconcile settlements", Err: err}
			}
			repaired++
			s.trail.LogSettlement(ctx, audit.EventSettlementRepaired, actor.ID, st.ID, map[string]any{
				"entry_id": entryID,
			})
		}
	}
	return repaired, nil
}

// =============================================================================
// PAYMENT REVENUE PROCESSING - trusted path
// =============================================================================

// ProcessPaymentRevenue splits a verified payment per the rule and persists
// one pending credit entry per party share. This is the path both normal
// payment verification and migration backfill go through.
func (s *Service) ProcessPaymentRevenue(ctx context.Context, payment *Payment, rule *RevenueRule) ([]*LedgerEntry, error) {
	split, vr := s.calc.CalculateSplit(payment.Amount, payment.Currency, rule)
	if !vr.Valid {
		return nil, fmt.Errorf("revenue split rejected for payment %s: %v", payment.ID, vr.Errors)
	}

	date := payment.VerifiedAt
	if date.IsZero() {
		date = s.now()
	}

	var created []*LedgerEntry
	for _, party := range AllParties() {
		share, ok := split.ShareFor(party)
		if !ok {
			continue
		}
		entry := &LedgerEntry{
			PaymentID:     payment.ID,
			ProjectID:     payment.ProjectID,
			RevenueRuleID: rule.ID,
			Type:          EntryCredit,
			Party:         party,
			Amount:        share.Amount,
			Currency:      share.Currency,
			Date:          date,
			Status:        StatusPending,
		}
		stored, _, err := s.CreateEntry(ctx, entry, SystemActor)
		if err != nil {
			return created, err
		}
		created = append(created, stored)
	}
	return created, nil
}

// =============================================================================
// REVENUE RULES
// =============================================================================

// CreateRule validates and persists a revenue rule. When the new rule is the
// active default, any previous default is demoted first so at most one rule
// holds that position.
func (s *Service) CreateRule(ctx context.Context, rule *RevenueRule, actor Actor) (*RevenueRule, ValidationResult, error) {
	if actor.ID != SystemActor.ID && !s.guard.HasPermission(actor, PermManageRevenueRules) {
		return nil, okResult(), s.deny(ctx, actor, "create revenue rule", &PermissionError{
			ActorID: actor.ID, Permission: PermManageRevenueRules, Operation: "create revenue rule",
		})
	}
	if vr := s.validator.ValidateRevenueRulePercentages(rule); !vr.Valid {
		return nil, vr, nil
	}

	if rule.IsDefault && rule.IsActive {
		if prev, err := s.store.ActiveDefaultRule(ctx); err == nil && prev != nil {
			off := false
			if err := s.store.UpdateRule(ctx, prev.ID, RulePatch{IsDefault: &off}); err != nil {
				return nil, okResult(), &PersistenceError{Op: "demote default rule", Err: err}
			}
		} else if err != nil && !IsNotFound(err) {
			return nil, okResult(), &PersistenceError{Op: "lookup default rule", Err: err}
		}
	}

	stored, err := s.store.CreateRule(ctx, rule)
	if err != nil {
		return nil, okResult(), &PersistenceError{Op: "create rule", Err: err}
	}

	s.trail.LogRuleChange(ctx, audit.EventRuleCreated, actor.ID, stored.ID, map[string]any{
		"name":           stored.Name,
		"admin_percent":  stored.AdminPercent.String(),
		"team_percent":   stored.TeamPercent.String(),
		"vendor_percent": stored.VendorPercent.String(),
		"is_default":     stored.IsDefault,
	})
	s.dispatch([]string{string(PartyAdmin)}, notify.KindRuleChanged, map[string]string{
		"rule_id": stored.ID,
		"name":    stored.Name,
	})
	return stored, okResult(), nil
}

// ListRules returns revenue rules. Rule managers see the full history;
// everyone else sees only the rules currently in effect.
func (s *Service) ListRules(ctx context.Context, actor Actor) ([]*RevenueRule, error) {
	var f RuleFilter
	if actor.ID != SystemActor.ID && !s.guard.HasPermission(actor, PermManageRevenueRules) {
		active := true
		f.IsActive = &active
	}
	rules, err := s.store.QueryRules(ctx, f)
	if err != nil {
		return nil, &PersistenceError{Op: "query rules", Err: err}
	}
	return rules, nil
}

// DeactivateRule retires a rule. Entries referencing it keep their reference;
// rules are never deleted.
func (s *Service) DeactivateRule(ctx context.Context, ruleID string, actor Actor) error {
	if !s.guard.HasPermission(actor, PermManageRevenueRules) {
		return s.deny(ctx, actor, "deactivate revenue rule", &PermissionError{
			ActorID: actor.ID, Permission: PermManageRevenueRules, Operation: "deactivate revenue rule",
		})
	}
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	off := false
	if err := s.store.UpdateRule(ctx, ruleID, RulePatch{IsActive: &off, IsDefault: &off}); err != nil {
		return &PersistenceError{Op: "deactivate rule", Err: err}
	}
	s.trail.LogRuleChange(ctx, audit.EventRuleDeactivated, actor.ID, ruleID, map[string]any{
		"name": rule.Name,
	})
	return nil
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// deny audits a denied attempt and returns the error unchanged.
func (s *Service) deny(ctx context.Context, actor Actor, operation string, err error) error {
	s.trail.LogUnauthorized(ctx, actor.ID, operation, map[string]any{
		"role": string(actor.Role),
	})
	return err
}

// dispatch sends a notification on its own goroutine with its own deadline.
// Failures are logged; they never affect the committed mutation.
func (s *Service) dispatch(targets []string, kind string, meta map[string]string) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, targets, kind, meta); err != nil {
			log.Printf("[LedgerService] notification %s failed: %v", kind, err)
		}
	}()
}
