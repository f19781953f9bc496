/*
split.go - Revenue share calculation with exact-sum rounding

PURPOSE:
  Converts a payment amount plus a revenue rule into per-party shares.
  Small file, highest consequence: every cent that enters the ledger flows
  through CalculateSplit.

ROUNDING POLICY:
  Each party's raw share is rounded to the currency's registered precision.
  The residual (input minus the sum of rounded shares) is added entirely to
  the admin share, so the shares always sum exactly to the input amount.

  Example: 99.99 USD at 33/33/34 rounds to 33.00/33.00/34.00 (sum 100.00);
  the -0.01 residual lands on admin, final shares 32.99/33.00/34.00.
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

// Split is the outcome of dividing one amount across parties. Vendor is nil
// when the rule assigns the vendor nothing.
type Split struct {
	Admin  Money  `json:"admin"`
	Team   Money  `json:"team"`
	Vendor *Money `json:"vendor,omitempty"`
}

// Total returns the sum of all present shares.
func (s *Split) Total() decimal.Decimal {
	total := s.Admin.Amount.Add(s.Team.Amount)
	if s.Vendor != nil {
		total = total.Add(s.Vendor.Amount)
	}
	return total
}

// ShareFor returns the share belonging to a party, if present.
func (s *Split) ShareFor(p Party) (Money, bool) {
	switch p {
	case PartyAdmin:
		return s.Admin, true
	case PartyTeam:
		return s.Team, true
	case PartyVendor:
		if s.Vendor != nil {
			return *s.Vendor, true
		}
	}
	return Money{}, false
}

// Calculator computes revenue splits. It owns no state beyond its validator.
type Calculator struct {
	validator *Validator
}

func NewCalculator(v *Validator) *Calculator {
	if v == nil {
		v = NewValidator()
	}
	return &Calculator{validator: v}
}

// CalculateSplit divides amount across parties per the rule. Invalid input
// (non-positive amount, unsupported currency, missing or unbalanced rule)
// comes back as a failed ValidationResult with a nil split; this path never
// panics and never produces an error value.
func (c *Calculator) CalculateSplit(amount decimal.Decimal, currency string, rule *RevenueRule) (*Split, ValidationResult) {
	result := okResult()
	result.merge(c.validator.Check("monetary_amount", Money{Amount: amount, Currency: currency}))
	result.merge(c.validator.ValidateRevenueRulePercentages(rule))
	if !result.Valid {
		return nil, result
	}

	hundred := dec("100")
	adminShare := RoundToCurrency(amount.Mul(rule.AdminPercent).Div(hundred), currency)
	teamShare := RoundToCurrency(amount.Mul(rule.TeamPercent).Div(hundred), currency)
	vendorShare := decimal.Zero
	if rule.VendorPercent.IsPositive() {
		vendorShare = RoundToCurrency(amount.Mul(rule.VendorPercent).Div(hundred), currency)
	}

	// Whatever rounding left over (positive or negative) lands on admin so the
	// shares reproduce the input exactly.
	residual := amount.Sub(adminShare).Sub(teamShare).Sub(vendorShare)
	adminShare = adminShare.Add(residual)

	split := &Split{
		Admin: NewMoney(adminShare, currency),
		Team:  NewMoney(teamShare, currency),
	}
	if rule.VendorPercent.IsPositive() {
		v := NewMoney(vendorShare, currency)
		split.Vendor = &v
	}
	return split, result
}
