/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract. Amounts travel as decimal strings;
  dates as RFC 3339.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients

VALIDATION:
  Handlers delegate to the ledger validation engine; DTOs are pure data
  carriers.
*/
package api

import (
	"time"

	"github.com/warp/revenue-ledger/ledger"
	"github.com/warp/revenue-ledger/migration"
)

// =============================================================================
// ENTRIES
// =============================================================================

// CreateEntryRequest is the body for POST /api/entries.
type CreateEntryRequest struct {
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	Party     string `json:"party"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Date      string `json:"date,omitempty"` // RFC 3339; defaults to now
	Remarks   string `json:"remarks,omitempty"`
}

// EntryDTO is a ledger entry in responses.
type EntryDTO struct {
	ID            string `json:"id"`
	PaymentID     string `json:"payment_id,omitempty"`
	ProjectID     string `json:"project_id"`
	RevenueRuleID string `json:"revenue_rule_id,omitempty"`
	Type          string `json:"type"`
	Party         string `json:"party"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Date          string `json:"date"`
	Status        string `json:"status"`
	Remarks       string `json:"remarks,omitempty"`
	SettlementID  string `json:"settlement_id,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

func entryDTO(e *ledger.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:            e.ID,
		PaymentID:     e.PaymentID,
		ProjectID:     e.ProjectID,
		RevenueRuleID: e.RevenueRuleID,
		Type:          string(e.Type),
		Party:         string(e.Party),
		Amount:        e.Amount.String(),
		Currency:      e.Currency,
		Date:          e.Date.Format(time.RFC3339),
		Status:        string(e.Status),
		Remarks:       e.Remarks,
		SettlementID:  e.SettlementID,
		CreatedBy:     e.CreatedBy,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
}

func entryDTOs(entries []*ledger.LedgerEntry) []EntryDTO {
	out := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryDTO(e))
	}
	return out
}

// UpdateStatusRequest is the body for POST /api/entries/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// CreateSettlementRequest is the body for POST /api/settlements.
type CreateSettlementRequest struct {
	Party          string   `json:"party"`
	LedgerEntryIDs []string `json:"ledger_entry_ids"`
	Currency       string   `json:"currency"`
	SettlementDate string   `json:"settlement_date"`
	Remarks        string   `json:"remarks,omitempty"`
	ProofRefs      []string `json:"proof_refs,omitempty"`
}

// SettlementDTO is a settlement in responses.
type SettlementDTO struct {
	ID             string   `json:"id"`
	Party          string   `json:"party"`
	LedgerEntryIDs []string `json:"ledger_entry_ids"`
	TotalAmount    string   `json:"total_amount"`
	Currency       string   `json:"currency"`
	SettlementDate string   `json:"settlement_date"`
	CreatedBy      string   `json:"created_by"`
	Remarks        string   `json:"remarks,omitempty"`
	ProofRefs      []string `json:"proof_refs,omitempty"`
	CreatedAt      string   `json:"created_at,omitempty"`
}

func settlementDTO(s *ledger.Settlement) SettlementDTO {
	return SettlementDTO{
		ID:             s.ID,
		Party:          string(s.Party),
		LedgerEntryIDs: s.LedgerEntryIDs,
		TotalAmount:    s.TotalAmount.String(),
		Currency:       s.Currency,
		SettlementDate: s.SettlementDate.Format(time.RFC3339),
		CreatedBy:      s.CreatedBy,
		Remarks:        s.Remarks,
		ProofRefs:      s.ProofRefs,
		CreatedAt:      s.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// BALANCES AND SUMMARIES
// =============================================================================

// BalanceDTO is a party balance in one currency.
type BalanceDTO struct {
	Party        string `json:"party"`
	Currency     string `json:"currency"`
	TotalPending string `json:"total_pending"`
	TotalCleared string `json:"total_cleared"`
	NetBalance   string `json:"net_balance"`
}

// SummaryGroupDTO is one (party, currency) row of a project summary.
type SummaryGroupDTO struct {
	Party          string `json:"party"`
	Currency       string `json:"currency"`
	TotalCredits   string `json:"total_credits"`
	TotalDebits    string `json:"total_debits"`
	PendingCredits string `json:"pending_credits"`
	PendingDebits  string `json:"pending_debits"`
	ClearedCredits string `json:"cleared_credits"`
	ClearedDebits  string `json:"cleared_debits"`
	NetBalance     string `json:"net_balance"`
	EntryCount     int    `json:"entry_count"`
}

// =============================================================================
// RULES
// =============================================================================

// CreateRuleRequest is the body for POST /api/rules.
type CreateRuleRequest struct {
	Name          string  `json:"name"`
	AdminPercent  float64 `json:"admin_percent"`
	TeamPercent   float64 `json:"team_percent"`
	VendorPercent float64 `json:"vendor_percent"`
	IsDefault     bool    `json:"is_default"`
	IsActive      bool    `json:"is_active"`
}

// RuleDTO is a revenue rule in responses.
type RuleDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AdminPercent  string `json:"admin_percent"`
	TeamPercent   string `json:"team_percent"`
	VendorPercent string `json:"vendor_percent"`
	IsDefault     bool   `json:"is_default"`
	IsActive      bool   `json:"is_active"`
}

func ruleDTO(r *ledger.RevenueRule) RuleDTO {
	return RuleDTO{
		ID:            r.ID,
		Name:          r.Name,
		AdminPercent:  r.AdminPercent.String(),
		TeamPercent:   r.TeamPercent.String(),
		VendorPercent: r.VendorPercent.String(),
		IsDefault:     r.IsDefault,
		IsActive:      r.IsActive,
	}
}

// =============================================================================
// MIGRATION
// =============================================================================

// SweepRequest is the body for POST /api/migration/sweep.
type SweepRequest struct {
	Limit int `json:"limit"`
}

// SweepResponse wraps a batch result.
type SweepResponse struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func sweepResponse(b *migration.BatchResult) SweepResponse {
	return SweepResponse{
		Processed:  b.Processed,
		Successful: b.Successful,
		Skipped:    b.Skipped,
		Failed:     b.Failed,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorDTO is the uniform error envelope.
type ErrorDTO struct {
	Error   string              `json:"error"`
	Details []ledger.FieldError `json:"details,omitempty"`
}
