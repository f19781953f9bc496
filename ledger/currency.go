/*
currency.go - Fixed currency registry and currency-faithful rounding

PURPOSE:
  Defines the closed set of currencies the ledger accepts, each with its
  display symbol, decimal precision, and sane per-transaction bounds.
  Rounding anywhere in the ledger goes through RoundToCurrency so that a
  0-decimal currency (JPY) never grows fractional yen.

ADDING A CURRENCY:
  Append to the registry below. Decimals drive rounding everywhere; Min/Max
  bound a single monetary amount, not a balance.
*/
package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyInfo describes one registered currency.
type CurrencyInfo struct {
	Code     string
	Symbol   string
	Decimals int32
	Min      decimal.Decimal // smallest accepted single amount
	Max      decimal.Decimal // largest accepted single amount
}

var currencyRegistry = map[string]CurrencyInfo{
	"USD": {Code: "USD", Symbol: "$", Decimals: 2, Min: dec("0.01"), Max: dec("10000000")},
	"EUR": {Code: "EUR", Symbol: "€", Decimals: 2, Min: dec("0.01"), Max: dec("10000000")},
	"GBP": {Code: "GBP", Symbol: "£", Decimals: 2, Min: dec("0.01"), Max: dec("10000000")},
	"INR": {Code: "INR", Symbol: "₹", Decimals: 2, Min: dec("0.01"), Max: dec("500000000")},
	"JPY": {Code: "JPY", Symbol: "¥", Decimals: 0, Min: dec("1"), Max: dec("1000000000")},
	"KES": {Code: "KES", Symbol: "KSh", Decimals: 2, Min: dec("0.01"), Max: dec("500000000")},
	"AED": {Code: "AED", Symbol: "د.إ", Decimals: 2, Min: dec("0.01"), Max: dec("10000000")},
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("bad registry constant %q: %v", s, err))
	}
	return d
}

// LookupCurrency returns the registry record for a code.
func LookupCurrency(code string) (CurrencyInfo, bool) {
	info, ok := currencyRegistry[strings.ToUpper(strings.TrimSpace(code))]
	return info, ok
}

// SupportedCurrency reports whether code is in the registry.
func SupportedCurrency(code string) bool {
	_, ok := LookupCurrency(code)
	return ok
}

// SupportedCurrencies returns all registered codes.
func SupportedCurrencies() []string {
	codes := make([]string, 0, len(currencyRegistry))
	for c := range currencyRegistry {
		codes = append(codes, c)
	}
	return codes
}

// RoundToCurrency rounds an amount to the currency's registered precision.
// Unknown currencies round to 2 decimals.
func RoundToCurrency(amount decimal.Decimal, code string) decimal.Decimal {
	info, ok := LookupCurrency(code)
	if !ok {
		return amount.Round(2)
	}
	return amount.Round(info.Decimals)
}

// FormatMonetaryAmount renders an amount with the currency's symbol and
// precision, e.g. "$1,234.50". The inverse is ParseMonetaryAmount.
func FormatMonetaryAmount(amount decimal.Decimal, code string) (string, error) {
	info, ok := LookupCurrency(code)
	if !ok {
		return "", &NotFoundError{Collection: "currencies", ID: code}
	}
	fixed := amount.Round(info.Decimals).StringFixed(info.Decimals)

	neg := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	intPart, fracPart, hasFrac := strings.Cut(fixed, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if hasFrac {
		out += "." + fracPart
	}
	if neg {
		return "-" + info.Symbol + out, nil
	}
	return info.Symbol + out, nil
}

// ParseMonetaryAmount strips the currency symbol and thousands separators and
// parses the remainder. The parsed value is re-validated against the
// monetary_amount rule by callers that need business bounds.
func ParseMonetaryAmount(s, code string) (decimal.Decimal, error) {
	info, ok := LookupCurrency(code)
	if !ok {
		return decimal.Zero, &NotFoundError{Collection: "currencies", ID: code}
	}
	cleaned := strings.TrimSpace(s)
	cleaned = strings.ReplaceAll(cleaned, info.Symbol, "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %q as %s: %w", s, info.Code, err)
	}
	return d, nil
}
