/*
handlers.go - HTTP handler implementations

PURPOSE:
  Thin adapters from HTTP to the ledger core. Each handler:
  1. Resolves the acting user from request headers
  2. Parses and converts the request body
  3. Calls the domain service
  4. Maps the error taxonomy onto HTTP status codes

ACTOR RESOLUTION:
  The identity provider sits in front of this service; by the time a
  request arrives, X-Actor-ID / X-Actor-Role / X-Actor-Party /
  X-Actor-Permissions carry the authenticated actor. Missing headers
  yield a member actor with no party, which can see almost nothing.

ERROR MAPPING:
  - validation failure   400 with field details
  - permission denied    403
  - not found            404
  - settlement conflict  409
  - invalid transition   409
  - anything else        500

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: routing
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/revenue-ledger/audit"
	"github.com/warp/revenue-ledger/ledger"
	"github.com/warp/revenue-ledger/migration"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Svc         *ledger.Service
	Coordinator *migration.Coordinator
	Trail       *audit.Trail
}

func NewHandler(svc *ledger.Service, coordinator *migration.Coordinator, trail *audit.Trail) *Handler {
	return &Handler{Svc: svc, Coordinator: coordinator, Trail: trail}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorDTO{Error: msg})
}

func writeValidation(w http.ResponseWriter, vr ledger.ValidationResult) {
	writeJSON(w, http.StatusBadRequest, ErrorDTO{Error: "validation failed", Details: vr.Errors})
}

// writeDomainError maps the ledger error taxonomy to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrSettlement), errors.Is(err, ledger.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// actorFromRequest builds the Actor from identity headers.
func actorFromRequest(r *http.Request) ledger.Actor {
	actor := ledger.Actor{
		ID:    r.Header.Get("X-Actor-ID"),
		Role:  ledger.Role(r.Header.Get("X-Actor-Role")),
		Party: ledger.Party(r.Header.Get("X-Actor-Party")),
	}
	if actor.ID == "" {
		actor.ID = "anonymous"
	}
	if actor.Role == "" {
		actor.Role = ledger.RoleMember
	}
	if perms := r.Header.Get("X-Actor-Permissions"); perms != "" {
		for _, p := range strings.Split(perms, ",") {
			actor.Permissions = append(actor.Permissions, ledger.Permission(strings.TrimSpace(p)))
		}
	}
	return actor
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+req.Amount)
		return
	}
	entry := &ledger.LedgerEntry{
		ProjectID: req.ProjectID,
		Type:      ledger.EntryType(req.Type),
		Party:     ledger.Party(req.Party),
		Amount:    amount,
		Currency:  req.Currency,
		Remarks:   req.Remarks,
	}
	if req.Date != "" {
		d, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date (use RFC 3339 or YYYY-MM-DD)")
			return
		}
		entry.Date = d
	}

	stored, vr, err := h.Svc.CreateEntry(r.Context(), entry, actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !vr.Valid {
		writeValidation(w, vr)
		return
	}
	writeJSON(w, http.StatusCreated, entryDTO(stored))
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := ledger.EntryQuery{}
	qs := r.URL.Query()
	if v := qs.Get("party"); v != "" {
		p := ledger.Party(v)
		q.Party = &p
	}
	if v := qs.Get("status"); v != "" {
		st := ledger.EntryStatus(v)
		q.Status = &st
	}
	if v := qs.Get("project_id"); v != "" {
		q.ProjectID = &v
	}
	if v := qs.Get("currency"); v != "" {
		q.Currency = &v
	}
	if v := qs.Get("type"); v != "" {
		t := ledger.EntryType(v)
		q.Type = &t
	}
	if v := qs.Get("from"); v != "" {
		if d, err := parseDate(v); err == nil {
			q.DateFrom = &d
		}
	}
	if v := qs.Get("to"); v != "" {
		if d, err := parseDate(v); err == nil {
			q.DateTo = &d
		}
	}

	entries, err := h.Svc.QueryEntries(r.Context(), q, actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entryDTOs(entries))
}

func (h *Handler) UpdateEntryStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := h.Svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"),
		ledger.EntryStatus(req.Status), actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entryDTO(entry))
}

// =============================================================================
// BALANCE AND SUMMARY HANDLERS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	party := ledger.Party(r.URL.Query().Get("party"))
	currency := r.URL.Query().Get("currency")
	if party == "" || currency == "" {
		writeError(w, http.StatusBadRequest, "party and currency are required")
		return
	}
	balance, err := h.Svc.ComputeBalance(r.Context(), party, currency, actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		Party:        string(balance.Party),
		Currency:     balance.Currency,
		TotalPending: balance.TotalPending.StringFixed(2),
		TotalCleared: balance.TotalCleared.StringFixed(2),
		NetBalance:   balance.NetBalance.StringFixed(2),
	})
}

func (h *Handler) GetProjectSummary(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Svc.ProjectLedgerSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]SummaryGroupDTO, 0, len(groups))
	for _, g := range groups {
		dtos = append(dtos, SummaryGroupDTO{
			Party:          string(g.Party),
			Currency:       g.Currency,
			TotalCredits:   g.TotalCredits.String(),
			TotalDebits:    g.TotalDebits.String(),
			PendingCredits: g.PendingCredits.String(),
			PendingDebits:  g.PendingDebits.String(),
			ClearedCredits: g.ClearedCredits.String(),
			ClearedDebits:  g.ClearedDebits.String(),
			NetBalance:     g.NetBalance.String(),
			EntryCount:     g.EntryCount,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

func (h *Handler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	var req CreateSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in := ledger.SettlementInput{
		Party:          ledger.Party(req.Party),
		LedgerEntryIDs: req.LedgerEntryIDs,
		Currency:       req.Currency,
		Remarks:        req.Remarks,
		ProofRefs:      req.ProofRefs,
	}
	if req.SettlementDate != "" {
		d, err := parseDate(req.SettlementDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid settlement_date")
			return
		}
		in.SettlementDate = d
	}

	settlement, vr, err := h.Svc.CreateSettlement(r.Context(), in, actorFromRequest(r))
	if err != nil {
		// A partial clear still created the settlement; surface both.
		if settlement != nil {
			writeJSON(w, http.StatusAccepted, settlementDTO(settlement))
			return
		}
		writeDomainError(w, err)
		return
	}
	if !vr.Valid {
		writeValidation(w, vr)
		return
	}
	writeJSON(w, http.StatusCreated, settlementDTO(settlement))
}

func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	f := ledger.SettlementFilter{}
	if v := r.URL.Query().Get("party"); v != "" {
		p := ledger.Party(v)
		f.Party = &p
	}
	if v := r.URL.Query().Get("currency"); v != "" {
		f.Currency = &v
	}
	settlements, err := h.Svc.QuerySettlements(r.Context(), f, actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]SettlementDTO, 0, len(settlements))
	for _, s := range settlements {
		dtos = append(dtos, settlementDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ReconcileSettlements(w http.ResponseWriter, r *http.Request) {
	repaired, err := h.Svc.ReconcileSettlements(r.Context(), actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repaired": repaired})
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rule := &ledger.RevenueRule{
		Name:          req.Name,
		AdminPercent:  decimal.NewFromFloat(req.AdminPercent),
		TeamPercent:   decimal.NewFromFloat(req.TeamPercent),
		VendorPercent: decimal.NewFromFloat(req.VendorPercent),
		IsDefault:     req.IsDefault,
		IsActive:      req.IsActive,
	}
	stored, vr, err := h.Svc.CreateRule(r.Context(), rule, actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !vr.Valid {
		writeValidation(w, vr)
		return
	}
	writeJSON(w, http.StatusCreated, ruleDTO(stored))
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Svc.ListRules(r.Context(), actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]RuleDTO, 0, len(rules))
	for _, rule := range rules {
		out = append(out, ruleDTO(rule))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.DeactivateRule(r.Context(), chi.URLParam(r, "id"), actorFromRequest(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deactivated": true})
}

// =============================================================================
// MIGRATION HANDLERS
// =============================================================================

func (h *Handler) SweepMigrations(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	var guard ledger.Guard
	if !guard.HasPermission(actor, ledger.PermRunMigrations) {
		h.Trail.LogUnauthorized(r.Context(), actor.ID, "migration sweep", nil)
		writeError(w, http.StatusForbidden, "missing permission "+string(ledger.PermRunMigrations))
		return
	}

	var req SweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	result, err := h.Coordinator.MigratePaymentsBatch(r.Context(), req.Limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse(result))
}

func (h *Handler) GetPaymentBreakdown(w http.ResponseWriter, r *http.Request) {
	breakdown, err := h.Coordinator.PaymentRevenueBreakdown(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

func (h *Handler) GetComplianceReport(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	var guard ledger.Guard
	if !guard.HasPermission(actor, ledger.PermViewAuditReports) {
		h.Trail.LogUnauthorized(r.Context(), actor.ID, "compliance report", nil)
		writeError(w, http.StatusForbidden, "missing permission "+string(ledger.PermViewAuditReports))
		return
	}

	to := time.Now()
	from := to.AddDate(0, -1, 0)
	if v := r.URL.Query().Get("from"); v != "" {
		if d, err := parseDate(v); err == nil {
			from = d
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if d, err := parseDate(v); err == nil {
			to = d
		}
	}
	report, err := h.Trail.GenerateComplianceReport(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
