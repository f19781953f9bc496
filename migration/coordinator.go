/*
Package migration backfills the revenue ledger over legacy payments.

PURPOSE:
  Payments verified before the ledger existed have no revenue split and no
  ledger entries. The Coordinator detects them and runs them through the
  normal revenue-processing path exactly as if they had just been verified,
  stamping each payment with processing metadata so the backfill is
  idempotent.

FAILURE POLICY:
  Per-item failures are absorbed: logged, counted, admin-notified, and the
  batch moves on. Approval of a payment was never conditioned on revenue
  processing, and the backfill keeps that property.

RATE LIMITING:
  Batches sleep between items to bound request rate against the store.
  The batch honors context cancellation between items.
*/
package migration

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/revenue-ledger/audit"
	"github.com/warp/revenue-ledger/ledger"
	"github.com/warp/revenue-ledger/notify"
)

// Fallback split used when no active default rule exists: admin 40, team 60,
// vendor 0.
const (
	fallbackRuleName     = "Default revenue split"
	fallbackAdminPercent = 40
	fallbackTeamPercent  = 60
)

// Coordinator drives the backfill. All dependencies are injected.
type Coordinator struct {
	store    ledger.Store
	svc      *ledger.Service
	trail    *audit.Trail
	notifier notify.Notifier

	// ItemDelay is the pause between batch items. Zero disables it.
	ItemDelay time.Duration

	now func() time.Time
}

func NewCoordinator(store ledger.Store, svc *ledger.Service, trail *audit.Trail, notifier notify.Notifier) *Coordinator {
	return &Coordinator{
		store:     store,
		svc:       svc,
		trail:     trail,
		notifier:  notifier,
		ItemDelay: 200 * time.Millisecond,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// =============================================================================
// DETECTION
// =============================================================================

// NeedsMigration reports whether a payment is verified, not yet
// revenue-processed, and has no ledger entries linked to it. The entry check
// guards against payments stamped incompletely by an earlier crash.
func (c *Coordinator) NeedsMigration(ctx context.Context, p *ledger.Payment) (bool, error) {
	if p == nil || !p.Verified || p.RevenueProcessed {
		return false, nil
	}
	linked, err := c.store.QueryEntries(ctx, ledger.EntryFilter{PaymentID: &p.ID, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(linked) == 0, nil
}

// =============================================================================
// MIGRATION
// =============================================================================

// Result describes the outcome for one payment.
type Result struct {
	PaymentID string   `json:"payment_id"`
	Success   bool     `json:"success"`
	Skipped   bool     `json:"skipped"`
	RuleID    string   `json:"rule_id,omitempty"`
	EntryIDs  []string `json:"entry_ids,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// MigratePayment processes one legacy payment. Idempotent: a payment that no
// longer needs migration comes back {Success: true, Skipped: true} and no
// entries are created. Failures are absorbed into the Result, never returned
// as errors, so a batch can keep moving.
func (c *Coordinator) MigratePayment(ctx context.Context, payment *ledger.Payment) *Result {
	res := &Result{PaymentID: payment.ID}

	needs, err := c.NeedsMigration(ctx, payment)
	if err != nil {
		return c.fail(ctx, res, fmt.Errorf("migration eligibility check: %w", err))
	}
	if !needs {
		res.Success = true
		res.Skipped = true
		return res
	}

	rule, err := c.activeOrSynthesizedRule(ctx)
	if err != nil {
		return c.fail(ctx, res, fmt.Errorf("resolve revenue rule: %w", err))
	}
	res.RuleID = rule.ID

	entries, err := c.svc.ProcessPaymentRevenue(ctx, payment, rule)
	if err != nil {
		return c.fail(ctx, res, fmt.Errorf("revenue processing: %w", err))
	}
	for _, e := range entries {
		res.EntryIDs = append(res.EntryIDs, e.ID)
	}

	processed := true
	processedAt := c.now()
	err = c.store.UpdatePayment(ctx, payment.ID, ledger.PaymentPatch{
		RevenueProcessed: &processed,
		ProcessedAt:      &processedAt,
		AppliedRuleID:    &rule.ID,
		LedgerEntryIDs:   res.EntryIDs,
	})
	if err != nil {
		// Entries exist but the stamp is missing; NeedsMigration's linked-entry
		// check prevents a duplicate run.
		return c.fail(ctx, res, fmt.Errorf("stamp payment: %w", err))
	}

	res.Success = true
	c.trail.LogMigration(ctx, payment.ID, true, map[string]any{
		"rule_id":     rule.ID,
		"entry_count": len(res.EntryIDs),
	})
	return res
}

// BatchResult summarizes one batch run.
type BatchResult struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// MigratePaymentsBatch processes up to n candidate payments, sleeping
// ItemDelay between items. Cancelling the context stops the batch at the
// next item boundary.
func (c *Coordinator) MigratePaymentsBatch(ctx context.Context, n int) (*BatchResult, error) {
	verified, unprocessed := true, false
	candidates, err := c.store.QueryPayments(ctx, ledger.PaymentFilter{
		Verified:         &verified,
		RevenueProcessed: &unprocessed,
		Limit:            n,
	})
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for i, p := range candidates {
		if i > 0 && c.ItemDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(c.ItemDelay):
			}
		} else if err := ctx.Err(); err != nil {
			return result, err
		}

		res := c.MigratePayment(ctx, p)
		result.Processed++
		switch {
		case res.Skipped:
			result.Skipped++
		case res.Success:
			result.Successful++
		default:
			result.Failed++
		}
	}
	log.Printf("[Migration] batch done: processed=%d successful=%d skipped=%d failed=%d",
		result.Processed, result.Successful, result.Skipped, result.Failed)
	return result, nil
}

// =============================================================================
// RULE RESOLUTION
// =============================================================================

// activeOrSynthesizedRule returns the active default rule, creating and
// persisting the fallback split when none exists.
func (c *Coordinator) activeOrSynthesizedRule(ctx context.Context) (*ledger.RevenueRule, error) {
	rule, err := c.store.ActiveDefaultRule(ctx)
	if err == nil {
		return rule, nil
	}
	if !ledger.IsNotFound(err) {
		return nil, err
	}
	synthesized := fallbackRule()
	stored, _, err := c.svc.CreateRule(ctx, synthesized, ledger.SystemActor)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// RuleWithFallback never fails: when no active default rule can be loaded it
// returns a non-persisted fallback rule usable purely for estimation.
func (c *Coordinator) RuleWithFallback(ctx context.Context, projectID string) *ledger.RevenueRule {
	rule, err := c.store.ActiveDefaultRule(ctx)
	if err == nil {
		return rule
	}
	if !ledger.IsNotFound(err) {
		log.Printf("[Migration] rule lookup failed for project %s, using fallback: %v", projectID, err)
	}
	return fallbackRule()
}

func fallbackRule() *ledger.RevenueRule {
	return &ledger.RevenueRule{
		Name:          fallbackRuleName,
		AdminPercent:  decimal.NewFromInt(fallbackAdminPercent),
		TeamPercent:   decimal.NewFromInt(fallbackTeamPercent),
		VendorPercent: decimal.Zero,
		IsDefault:     true,
		IsActive:      true,
	}
}

// =============================================================================
// BREAKDOWN
// =============================================================================

// Breakdown reports where a payment's revenue went, or would go. Estimated
// is true when the payment has not been processed and the shares come from
// the fallback/active rule rather than real entries.
type Breakdown struct {
	PaymentID string                `json:"payment_id"`
	Estimated bool                  `json:"estimated"`
	RuleID    string                `json:"rule_id,omitempty"`
	Entries   []*ledger.LedgerEntry `json:"entries,omitempty"`
	Split     *ledger.Split         `json:"split,omitempty"`
}

// PaymentRevenueBreakdown returns the real linked entries when the payment
// was processed, otherwise an estimate computed from the best rule available.
func (c *Coordinator) PaymentRevenueBreakdown(ctx context.Context, paymentID string) (*Breakdown, error) {
	payment, err := c.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	linked, err := c.store.QueryEntries(ctx, ledger.EntryFilter{PaymentID: &payment.ID})
	if err != nil {
		return nil, err
	}
	if payment.RevenueProcessed && len(linked) > 0 {
		return &Breakdown{
			PaymentID: payment.ID,
			Estimated: false,
			RuleID:    payment.AppliedRuleID,
			Entries:   linked,
		}, nil
	}

	rule := c.RuleWithFallback(ctx, payment.ProjectID)
	split, vr := c.svc.Calculator().CalculateSplit(payment.Amount, payment.Currency, rule)
	if !vr.Valid {
		return nil, fmt.Errorf("cannot estimate breakdown for payment %s: %v", payment.ID, vr.Errors)
	}
	return &Breakdown{
		PaymentID: payment.ID,
		Estimated: true,
		RuleID:    rule.ID,
		Split:     split,
	}, nil
}

// =============================================================================
// INTERNAL
// =============================================================================

// fail records the failure on the result, the audit trail, and the admin
// notification channel. The error never escapes.
func (c *Coordinator) fail(ctx context.Context, res *Result, err error) *Result {
	res.Success = false
	res.Error = err.Error()
	c.trail.LogMigration(ctx, res.PaymentID, false, map[string]any{
		"error": err.Error(),
	})
	if c.notifier != nil {
		nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if nerr := c.notifier.Notify(nctx, []string{string(ledger.PartyAdmin)}, notify.KindMigrationFailed, map[string]string{
			"payment_id": res.PaymentID,
			"error":      err.Error(),
		}); nerr != nil {
			log.Printf("[Migration] failure notification for %s not delivered: %v", res.PaymentID, nerr)
		}
	}
	return res
}
