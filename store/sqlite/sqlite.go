/*
Package sqlite provides the SQLite-backed implementation of the storage
contracts.

PURPOSE:
  Implements ledger.Store (entries, settlements, rules, payments) and
  audit.Sink (audit events) on a single SQLite database. The same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

IMMUTABILITY ENFORCEMENT:
  - ledger_entries accepts no DELETE; the only UPDATE touches status and
    settlement linkage
  - settlements and audit_events accept no UPDATE or DELETE at all
  - amounts are stored as decimal strings, never floats

WAL MODE:
  The database opens with WAL so readers don't block behind the writer and
  crash recovery is cheap.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil { log.Fatal(err) }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: contract definitions
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/revenue-ledger/audit"
	"github.com/warp/revenue-ledger/ledger"
)

// Store implements ledger.Store and audit.Sink on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	now func() time.Time
}

// New opens (or creates) the database at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the timestamp source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (immutable except status/settlement linkage)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		payment_id TEXT,
		project_id TEXT NOT NULL,
		revenue_rule_id TEXT,
		entry_type TEXT NOT NULL,
		party TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		status TEXT NOT NULL,
		remarks TEXT,
		settlement_id TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_party_currency
		ON ledger_entries(party, currency);
	CREATE INDEX IF NOT EXISTS idx_entries_project
		ON ledger_entries(project_id);
	CREATE INDEX IF NOT EXISTS idx_entries_payment
		ON ledger_entries(payment_id) WHERE payment_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_status
		ON ledger_entries(status);
	CREATE INDEX IF NOT EXISTS idx_entries_settlement
		ON ledger_entries(settlement_id) WHERE settlement_id IS NOT NULL;

	-- Settlements (immutable once written)
	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		party TEXT NOT NULL,
		entry_ids_json TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		settlement_date TEXT NOT NULL,
		created_by TEXT NOT NULL,
		remarks TEXT,
		proof_refs_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_party
		ON settlements(party);

	-- Revenue rules
	CREATE TABLE IF NOT EXISTS revenue_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		admin_percent TEXT NOT NULL,
		team_percent TEXT NOT NULL,
		vendor_percent TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_default
		ON revenue_rules(is_default, is_active);

	-- Payments (owned upstream; read + stamped here)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		verified INTEGER NOT NULL DEFAULT 0,
		verified_at TEXT,
		revenue_processed INTEGER NOT NULL DEFAULT 0,
		processed_at TEXT,
		applied_rule_id TEXT,
		entry_ids_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_migration
		ON payments(verified, revenue_processed);

	-- Audit events (append-only)
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		level TEXT NOT NULL,
		risk TEXT NOT NULL,
		user_id TEXT,
		session_id TEXT,
		ts TEXT NOT NULL,
		details_json TEXT,
		resource_type TEXT,
		resource_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_user_ts
		ON audit_events(user_id, ts);
	CREATE INDEX IF NOT EXISTS idx_audit_type
		ON audit_events(event_type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func fromNull(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// =============================================================================
// ENTRIES
// =============================================================================

func (s *Store) CreateEntry(ctx context.Context, e *ledger.LedgerEntry) (*ledger.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *e
	if stored.ID == "" {
		stored.ID = "ent_" + uuid.NewString()
	}
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, payment_id, project_id, revenue_rule_id, entry_type, party,
			 amount, currency, entry_date, status, remarks, settlement_id,
			 created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, nullable(stored.PaymentID), stored.ProjectID,
		nullable(stored.RevenueRuleID), string(stored.Type), string(stored.Party),
		stored.Amount.String(), stored.Currency, formatTime(stored.Date),
		string(stored.Status), nullable(stored.Remarks), nullable(stored.SettlementID),
		nullable(stored.CreatedBy), formatTime(stored.CreatedAt), formatTime(stored.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	return &stored, nil
}

const entryColumns = `id, payment_id, project_id, revenue_rule_id, entry_type, party,
	amount, currency, entry_date, status, remarks, settlement_id, created_by,
	created_at, updated_at`

func scanEntry(row interface{ Scan(...any) error }) (*ledger.LedgerEntry, error) {
	var e ledger.LedgerEntry
	var paymentID, ruleID, remarks, settlementID, createdBy sql.NullString
	var entryType, party, amount, entryDate, status, createdAt, updatedAt string
	err := row.Scan(&e.ID, &paymentID, &e.ProjectID, &ruleID, &entryType, &party,
		&amount, &e.Currency, &entryDate, &status, &remarks, &settlementID,
		&createdBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.PaymentID = fromNull(paymentID)
	e.RevenueRuleID = fromNull(ruleID)
	e.Type = ledger.EntryType(entryType)
	e.Party = ledger.Party(party)
	e.Amount = parseDecimal(amount)
	e.Date = parseTime(entryDate)
	e.Status = ledger.EntryStatus(status)
	e.Remarks = fromNull(remarks)
	e.SettlementID = fromNull(settlementID)
	e.CreatedBy = fromNull(createdBy)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, &ledger.NotFoundError{Collection: "ledger_entries", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

func (s *Store) QueryEntries(ctx context.Context, f ledger.EntryFilter) ([]*ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE 1=1`
	var args []any
	if f.Party != nil {
		query += ` AND party = ?`
		args = append(args, string(*f.Party))
	}
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.ProjectID != nil {
		query += ` AND project_id = ?`
		args = append(args, *f.ProjectID)
	}
	if f.Currency != nil {
		query += ` AND currency = ?`
		args = append(args, *f.Currency)
	}
	if f.Type != nil {
		query += ` AND entry_type = ?`
		args = append(args, string(*f.Type))
	}
	if f.PaymentID != nil {
		query += ` AND payment_id = ?`
		args = append(args, *f.PaymentID)
	}
	if f.SettlementID != nil {
		query += ` AND settlement_id = ?`
		args = append(args, *f.SettlementID)
	}
	query += ` ORDER BY entry_date ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []*ledger.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateEntry(ctx context.Context, id string, patch ledger.EntryPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := `updated_at = ?`
	args := []any{formatTime(s.now())}
	if patch.Status != nil {
		set += `, status = ?`
		args = append(args, string(*patch.Status))
	}
	if patch.SettlementID != nil {
		set += `, settlement_id = ?`
		args = append(args, *patch.SettlementID)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE ledger_entries SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update ledger entry: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ledger.NotFoundError{Collection: "ledger_entries", ID: id}
	}
	return nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (s *Store) CreateSettlement(ctx context.Context, st *ledger.Settlement) (*ledger.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *st
	if stored.ID == "" {
		stored.ID = "stl_" + uuid.NewString()
	}
	stored.CreatedAt = s.now()

	entryIDs, err := json.Marshal(stored.LedgerEntryIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal settlement entry ids: %w", err)
	}
	proofRefs, err := json.Marshal(stored.ProofRefs)
	if err != nil {
		return nil, fmt.Errorf("marshal settlement proof refs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settlements
			(id, party, entry_ids_json, total_amount, currency, settlement_date,
			 created_by, remarks, proof_refs_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, string(stored.Party), string(entryIDs), stored.TotalAmount.String(),
		stored.Currency, formatTime(stored.SettlementDate), stored.CreatedBy,
		nullable(stored.Remarks), string(proofRefs), formatTime(stored.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert settlement: %w", err)
	}
	return &stored, nil
}

func scanSettlement(row interface{ Scan(...any) error }) (*ledger.Settlement, error) {
	var st ledger.Settlement
	var party, entryIDs, totalAmount, settlementDate, createdAt string
	var remarks, proofRefs sql.NullString
	err := row.Scan(&st.ID, &party, &entryIDs, &totalAmount, &st.Currency,
		&settlementDate, &st.CreatedBy, &remarks, &proofRefs, &createdAt)
	if err != nil {
		return nil, err
	}
	st.Party = ledger.Party(party)
	st.TotalAmount = parseDecimal(totalAmount)
	st.SettlementDate = parseTime(settlementDate)
	st.Remarks = fromNull(remarks)
	st.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(entryIDs), &st.LedgerEntryIDs); err != nil {
		return nil, fmt.Errorf("unmarshal settlement entry ids: %w", err)
	}
	if proofRefs.Valid && proofRefs.String != "" {
		if err := json.Unmarshal([]byte(proofRefs.String), &st.ProofRefs); err != nil {
			return nil, fmt.Errorf("unmarshal settlement proof refs: %w", err)
		}
	}
	return &st, nil
}

const settlementColumns = `id, party, entry_ids_json, total_amount, currency,
	settlement_date, created_by, remarks, proof_refs_json, created_at`

func (s *Store) GetSettlement(ctx context.Context, id string) (*ledger.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE id = ?`, id)
	st, err := scanSettlement(row)
	if err == sql.ErrNoRows {
		return nil, &ledger.NotFoundError{Collection: "settlements", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	return st, nil
}

func (s *Store) QuerySettlements(ctx context.Context, f ledger.SettlementFilter) ([]*ledger.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE 1=1`
	var args []any
	if f.Party != nil {
		query += ` AND party = ?`
		args = append(args, string(*f.Party))
	}
	if f.Currency != nil {
		query += ` AND currency = ?`
		args = append(args, *f.Currency)
	}
	query += ` ORDER BY created_at ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// =============================================================================
// RULES
// =============================================================================

func (s *Store) CreateRule(ctx context.Context, r *ledger.RevenueRule) (*ledger.RevenueRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *r
	if stored.ID == "" {
		stored.ID = "rule_" + uuid.NewString()
	}
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revenue_rules
			(id, name, admin_percent, team_percent, vendor_percent,
			 is_default, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.Name, stored.AdminPercent.String(), stored.TeamPercent.String(),
		stored.VendorPercent.String(), boolToInt(stored.IsDefault), boolToInt(stored.IsActive),
		formatTime(stored.CreatedAt), formatTime(stored.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert revenue rule: %w", err)
	}
	return &stored, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const ruleColumns = `id, name, admin_percent, team_percent, vendor_percent,
	is_default, is_active, created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (*ledger.RevenueRule, error) {
	var r ledger.RevenueRule
	var adminPct, teamPct, vendorPct, createdAt, updatedAt string
	var isDefault, isActive int
	err := row.Scan(&r.ID, &r.Name, &adminPct, &teamPct, &vendorPct,
		&isDefault, &isActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.AdminPercent = parseDecimal(adminPct)
	r.TeamPercent = parseDecimal(teamPct)
	r.VendorPercent = parseDecimal(vendorPct)
	r.IsDefault = isDefault == 1
	r.IsActive = isActive == 1
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func (s *Store) GetRule(ctx context.Context, id string) (*ledger.RevenueRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM revenue_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, &ledger.NotFoundError{Collection: "revenue_rules", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get revenue rule: %w", err)
	}
	return r, nil
}

func (s *Store) QueryRules(ctx context.Context, f ledger.RuleFilter) ([]*ledger.RevenueRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + ruleColumns + ` FROM revenue_rules`
	var args []any
	if f.IsActive != nil {
		query += ` WHERE is_active = ?`
		args = append(args, boolToInt(*f.IsActive))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query revenue rules: %w", err)
	}
	defer rows.Close()

	var out []*ledger.RevenueRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revenue rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ActiveDefaultRule(ctx context.Context) (*ledger.RevenueRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM revenue_rules
		 WHERE is_default = 1 AND is_active = 1
		 ORDER BY updated_at DESC LIMIT 1`)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, &ledger.NotFoundError{Collection: "revenue_rules", ID: "default"}
	}
	if err != nil {
		return nil, fmt.Errorf("get default revenue rule: %w", err)
	}
	return r, nil
}

func (s *Store) UpdateRule(ctx context.Context, id string, patch ledger.RulePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := `updated_at = ?`
	args := []any{formatTime(s.now())}
	if patch.IsDefault != nil {
		set += `, is_default = ?`
		args = append(args, boolToInt(*patch.IsDefault))
	}
	if patch.IsActive != nil {
		set += `, is_active = ?`
		args = append(args, boolToInt(*patch.IsActive))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE revenue_rules SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update revenue rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ledger.NotFoundError{Collection: "revenue_rules", ID: id}
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) CreatePayment(ctx context.Context, p *ledger.Payment) (*ledger.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *p
	if stored.ID == "" {
		stored.ID = "pay_" + uuid.NewString()
	}
	stored.CreatedAt = s.now()

	entryIDs, err := json.Marshal(stored.LedgerEntryIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal payment entry ids: %w", err)
	}
	var verifiedAt, processedAt any
	if !stored.VerifiedAt.IsZero() {
		verifiedAt = formatTime(stored.VerifiedAt)
	}
	if stored.ProcessedAt != nil {
		processedAt = formatTime(*stored.ProcessedAt)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payments
			(id, project_id, amount, currency, verified, verified_at,
			 revenue_processed, processed_at, applied_rule_id, entry_ids_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.ProjectID, stored.Amount.String(), stored.Currency,
		boolToInt(stored.Verified), verifiedAt, boolToInt(stored.RevenueProcessed),
		processedAt, nullable(stored.AppliedRuleID), string(entryIDs),
		formatTime(stored.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return &stored, nil
}

const paymentColumns = `id, project_id, amount, currency, verified, verified_at,
	revenue_processed, processed_at, applied_rule_id, entry_ids_json, created_at`

func scanPayment(row interface{ Scan(...any) error }) (*ledger.Payment, error) {
	var p ledger.Payment
	var amount, createdAt string
	var verified, processed int
	var verifiedAt, processedAt, ruleID, entryIDs sql.NullString
	err := row.Scan(&p.ID, &p.ProjectID, &amount, &p.Currency, &verified, &verifiedAt,
		&processed, &processedAt, &ruleID, &entryIDs, &createdAt)
	if err != nil {
		return nil, err
	}
	p.Amount = parseDecimal(amount)
	p.Verified = verified == 1
	p.RevenueProcessed = processed == 1
	if verifiedAt.Valid {
		p.VerifiedAt = parseTime(verifiedAt.String)
	}
	if processedAt.Valid {
		t := parseTime(processedAt.String)
		p.ProcessedAt = &t
	}
	p.AppliedRuleID = fromNull(ruleID)
	if entryIDs.Valid && entryIDs.String != "" {
		if err := json.Unmarshal([]byte(entryIDs.String), &p.LedgerEntryIDs); err != nil {
			return nil, fmt.Errorf("unmarshal payment entry ids: %w", err)
		}
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, &ledger.NotFoundError{Collection: "payments", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (s *Store) QueryPayments(ctx context.Context, f ledger.PaymentFilter) ([]*ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE 1=1`
	var args []any
	if f.Verified != nil {
		query += ` AND verified = ?`
		args = append(args, boolToInt(*f.Verified))
	}
	if f.RevenueProcessed != nil {
		query += ` AND revenue_processed = ?`
		args = append(args, boolToInt(*f.RevenueProcessed))
	}
	if f.ProjectID != nil {
		query += ` AND project_id = ?`
		args = append(args, *f.ProjectID)
	}
	query += ` ORDER BY created_at ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePayment(ctx context.Context, id string, patch ledger.PaymentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := ``
	var args []any
	if patch.RevenueProcessed != nil {
		set += `revenue_processed = ?, `
		args = append(args, boolToInt(*patch.RevenueProcessed))
	}
	if patch.ProcessedAt != nil {
		set += `processed_at = ?, `
		args = append(args, formatTime(*patch.ProcessedAt))
	}
	if patch.AppliedRuleID != nil {
		set += `applied_rule_id = ?, `
		args = append(args, *patch.AppliedRuleID)
	}
	if patch.LedgerEntryIDs != nil {
		entryIDs, err := json.Marshal(patch.LedgerEntryIDs)
		if err != nil {
			return fmt.Errorf("marshal payment entry ids: %w", err)
		}
		set += `entry_ids_json = ?, `
		args = append(args, string(entryIDs))
	}
	if set == "" {
		return nil
	}
	set = set[:len(set)-2]
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ledger.NotFoundError{Collection: "payments", ID: id}
	}
	return nil
}

// =============================================================================
// AUDIT SINK
// =============================================================================

func (s *Store) AppendEvents(ctx context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_events
			(id, event_type, level, risk, user_id, session_id, ts,
			 details_json, resource_type, resource_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		details, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		_, err = stmt.ExecContext(ctx, ev.ID, ev.Type, string(ev.Level), string(ev.Risk),
			nullable(ev.UserID), nullable(ev.SessionID), formatTime(ev.Timestamp),
			string(details), nullable(ev.ResourceType), nullable(ev.ResourceID))
		if err != nil {
			return fmt.Errorf("insert audit event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) QueryEvents(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, event_type, level, risk, user_id, session_id, ts,
		details_json, resource_type, resource_id FROM audit_events WHERE 1=1`
	var args []any
	if f.UserID != nil {
		query += ` AND user_id = ?`
		args = append(args, *f.UserID)
	}
	if len(f.Types) > 0 {
		query += ` AND event_type IN (?` + repeat(",?", len(f.Types)-1) + `)`
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if len(f.Levels) > 0 {
		query += ` AND level IN (?` + repeat(",?", len(f.Levels)-1) + `)`
		for _, l := range f.Levels {
			args = append(args, string(l))
		}
	}
	if f.From != nil {
		query += ` AND ts >= ?`
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		query += ` AND ts <= ?`
		args = append(args, formatTime(*f.To))
	}
	query += ` ORDER BY ts ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var ev audit.Event
		var level, risk, ts string
		var userID, sessionID, details, resourceType, resourceID sql.NullString
		err := rows.Scan(&ev.ID, &ev.Type, &level, &risk, &userID, &sessionID,
			&ts, &details, &resourceType, &resourceID)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Level = audit.Level(level)
		ev.Risk = audit.Risk(risk)
		ev.UserID = fromNull(userID)
		ev.SessionID = fromNull(sessionID)
		ev.Timestamp = parseTime(ts)
		ev.ResourceType = fromNull(resourceType)
		ev.ResourceID = fromNull(resourceID)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
