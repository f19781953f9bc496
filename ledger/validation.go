/*
validation.go - Rule-based field and business validation

PURPOSE:
  A registry of named validation rules plus composite validators for the
  ledger's entities. Validation failures are plain values, never errors:
  a ValidationResult carries every problem found so the caller can report
  all of them at once.

BUILT-IN RULES:
  monetary_amount   positive, within the currency's min/max, precision-bounded
  currency          membership in the fixed currency registry
  percentage        numeric, 0-100 inclusive
  party             membership in the party enum

COMPOSITE VALIDATORS:
  ValidateLedgerEntry, ValidateSettlementInput,
  ValidateRevenueRulePercentages, ValidateCurrencyConsistency

ERROR TYPES (FieldError.Type):
  REQUIRED_FIELD, INVALID_TYPE, INVALID_VALUE, OUT_OF_RANGE,
  UNSUPPORTED_CURRENCY, PRECISION_EXCEEDED, BUSINESS_RULE_VIOLATION
*/
package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Validation error type codes.
const (
	ErrTypeRequired     = "REQUIRED_FIELD"
	ErrTypeInvalidType  = "INVALID_TYPE"
	ErrTypeInvalidValue = "INVALID_VALUE"
	ErrTypeOutOfRange   = "OUT_OF_RANGE"
	ErrTypeCurrency     = "UNSUPPORTED_CURRENCY"
	ErrTypePrecision    = "PRECISION_EXCEEDED"
	ErrTypeBusinessRule = "BUSINESS_RULE_VIOLATION"
)

// PercentSumTolerance is the slack allowed on a rule's percentage sum.
var PercentSumTolerance = dec("0.01")

// FieldError describes one validation problem.
type FieldError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult collects every problem found. Valid is true only when
// Errors is empty.
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

func okResult() ValidationResult { return ValidationResult{Valid: true} }

func (r *ValidationResult) add(errType, field, format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, FieldError{
		Type:    errType,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// merge folds another result into this one.
func (r *ValidationResult) merge(other ValidationResult) {
	if !other.Valid {
		r.Valid = false
		r.Errors = append(r.Errors, other.Errors...)
	}
}

// RuleFunc is a named validation rule. The value's concrete type is
// rule-specific; a type mismatch is itself a validation failure, not a panic.
type RuleFunc func(value any) ValidationResult

// Validator is the rule registry. Construct with NewValidator; custom rules
// can be registered on top of the built-ins.
type Validator struct {
	rules map[string]RuleFunc
}

func NewValidator() *Validator {
	v := &Validator{rules: make(map[string]RuleFunc)}
	v.Register("monetary_amount", ruleMonetaryAmount)
	v.Register("currency", ruleCurrency)
	v.Register("percentage", rulePercentage)
	v.Register("party", ruleParty)
	return v
}

// Register adds or replaces a named rule.
func (v *Validator) Register(name string, fn RuleFunc) {
	v.rules[name] = fn
}

// Check runs a named rule against a value. An unknown rule name fails
// validation rather than erroring; a missing rule is a caller bug that
// should surface in tests, not crash a request.
func (v *Validator) Check(name string, value any) ValidationResult {
	fn, ok := v.rules[name]
	if !ok {
		r := ValidationResult{Valid: true}
		r.add(ErrTypeInvalidValue, "", "unknown validation rule %q", name)
		return r
	}
	return fn(value)
}

// =============================================================================
// BUILT-IN RULES
// =============================================================================

// ruleMonetaryAmount validates a Money value: parseable, finite, positive,
// within the currency's registered bounds and precision.
func ruleMonetaryAmount(value any) ValidationResult {
	r := okResult()
	m, ok := value.(Money)
	if !ok {
		// Accept a bare float for convenience, rejecting NaN/Inf before the
		// decimal conversion can produce garbage.
		f, isFloat := value.(float64)
		if !isFloat {
			r.add(ErrTypeInvalidType, "amount", "expected a monetary amount, got %T", value)
			return r
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			r.add(ErrTypeInvalidValue, "amount", "amount must be a finite number")
			return r
		}
		m = Money{Amount: decimal.NewFromFloat(f), Currency: "USD"}
	}

	info, found := LookupCurrency(m.Currency)
	if !found {
		r.add(ErrTypeCurrency, "currency", "unsupported currency %q", m.Currency)
		return r
	}
	if !m.Amount.IsPositive() {
		r.add(ErrTypeOutOfRange, "amount", "amount must be greater than zero")
	}
	if m.Amount.IsPositive() && m.Amount.LessThan(info.Min) {
		r.add(ErrTypeOutOfRange, "amount", "amount below %s minimum %s", info.Code, info.Min)
	}
	if m.Amount.GreaterThan(info.Max) {
		r.add(ErrTypeOutOfRange, "amount", "amount above %s maximum %s", info.Code, info.Max)
	}
	if m.Amount.Exponent() < -info.Decimals {
		r.add(ErrTypePrecision, "amount", "%s allows at most %d decimal places", info.Code, info.Decimals)
	}
	return r
}

func ruleCurrency(value any) ValidationResult {
	r := okResult()
	code, ok := value.(string)
	if !ok {
		r.add(ErrTypeInvalidType, "currency", "expected a currency code, got %T", value)
		return r
	}
	if code == "" {
		r.add(ErrTypeRequired, "currency", "currency is required")
		return r
	}
	if !SupportedCurrency(code) {
		r.add(ErrTypeCurrency, "currency", "unsupported currency %q", code)
	}
	return r
}

func rulePercentage(value any) ValidationResult {
	r := okResult()
	var d decimal.Decimal
	switch x := value.(type) {
	case decimal.Decimal:
		d = x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			r.add(ErrTypeInvalidValue, "percent", "percentage must be a finite number")
			return r
		}
		d = decimal.NewFromFloat(x)
	case int:
		d = decimal.NewFromInt(int64(x))
	default:
		r.add(ErrTypeInvalidType, "percent", "expected a percentage, got %T", value)
		return r
	}
	if d.IsNegative() || d.GreaterThan(dec("100")) {
		r.add(ErrTypeOutOfRange, "percent", "percentage must be between 0 and 100, got %s", d)
	}
	return r
}

func ruleParty(value any) ValidationResult {
	r := okResult()
	var p Party
	switch x := value.(type) {
	case Party:
		p = x
	case string:
		p = Party(x)
	default:
		r.add(ErrTypeInvalidType, "party", "expected a party, got %T", value)
		return r
	}
	if !ValidParty(p) {
		r.add(ErrTypeInvalidValue, "party", "unknown party %q", p)
	}
	return r
}

// =============================================================================
// COMPOSITE VALIDATORS
// =============================================================================

// ValidateLedgerEntry checks every field of an entry before persistence.
func (v *Validator) ValidateLedgerEntry(e *LedgerEntry) ValidationResult {
	r := okResult()
	if e == nil {
		r.add(ErrTypeRequired, "", "entry is required")
		return r
	}
	if e.ProjectID == "" {
		r.add(ErrTypeRequired, "project_id", "project id is required")
	}
	if !ValidEntryType(e.Type) {
		r.add(ErrTypeInvalidValue, "type", "entry type must be credit or debit, got %q", e.Type)
	}
	r.merge(v.Check("party", e.Party))
	r.merge(v.Check("monetary_amount", Money{Amount: e.Amount, Currency: e.Currency}))
	if e.Date.IsZero() {
		r.add(ErrTypeRequired, "date", "entry date is required")
	}
	if e.Status != "" && !ValidEntryStatus(e.Status) {
		r.add(ErrTypeInvalidValue, "status", "unknown status %q", e.Status)
	}
	return r
}

// SettlementInput is the payload validated before a settlement is built.
type SettlementInput struct {
	Party          Party
	LedgerEntryIDs []string
	Currency       string
	SettlementDate time.Time
	Remarks        string
	ProofRefs      []string
}

// ValidateSettlementInput checks the settlement payload; entry-level checks
// (pending status, party match) happen after the entries are loaded.
func (v *Validator) ValidateSettlementInput(in SettlementInput) ValidationResult {
	r := okResult()
	r.merge(v.Check("party", in.Party))
	if len(in.LedgerEntryIDs) == 0 {
		r.add(ErrTypeRequired, "ledger_entry_ids", "at least one ledger entry is required")
	}
	seen := make(map[string]bool, len(in.LedgerEntryIDs))
	for _, id := range in.LedgerEntryIDs {
		if id == "" {
			r.add(ErrTypeInvalidValue, "ledger_entry_ids", "entry id must not be empty")
			continue
		}
		if seen[id] {
			r.add(ErrTypeInvalidValue, "ledger_entry_ids", "duplicate entry id %s", id)
		}
		seen[id] = true
	}
	r.merge(v.Check("currency", in.Currency))
	if in.SettlementDate.IsZero() {
		r.add(ErrTypeRequired, "settlement_date", "settlement date is required")
	}
	return r
}

// ValidateRevenueRulePercentages checks each percentage individually and the
// exact-sum business rule: the three must total 100 within the tolerance.
func (v *Validator) ValidateRevenueRulePercentages(rule *RevenueRule) ValidationResult {
	r := okResult()
	if rule == nil {
		r.add(ErrTypeRequired, "", "revenue rule is required")
		return r
	}
	if len(rule.Name) < 3 {
		r.add(ErrTypeInvalidValue, "name", "rule name must be at least 3 characters")
	}
	r.merge(v.Check("percentage", rule.AdminPercent))
	r.merge(v.Check("percentage", rule.TeamPercent))
	r.merge(v.Check("percentage", rule.VendorPercent))
	if !r.Valid {
		return r
	}
	if rule.PercentSum().Sub(dec("100")).Abs().GreaterThan(PercentSumTolerance) {
		r.add(ErrTypeBusinessRule, "percentages",
			"admin + team + vendor percentages must total 100, got %s", rule.PercentSum())
	}
	return r
}

// ValidateCurrencyConsistency requires every entry in the collection to share
// one currency.
func (v *Validator) ValidateCurrencyConsistency(entries []*LedgerEntry) ValidationResult {
	r := okResult()
	if len(entries) == 0 {
		return r
	}
	first := entries[0].Currency
	for _, e := range entries[1:] {
		if e.Currency != first {
			r.add(ErrTypeBusinessRule, "currency",
				"mixed currencies: %s and %s (entry %s)", first, e.Currency, e.ID)
			return r
		}
	}
	return r
}
