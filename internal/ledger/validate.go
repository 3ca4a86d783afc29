package ledger

import (
	"regexp"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/shopspring/decimal"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// validateTotals rejects breakdowns that cannot be stored as an order.
// decimal.Decimal has no NaN or infinity; those are refused when parsed.
func validateTotals(t *domain.TotalsBreakdown) error {
	if t == nil {
		return domain.Validationf("totals are required")
	}
	if !currencyPattern.MatchString(t.Currency) {
		return domain.Validationf("invalid currency %q", t.Currency)
	}
	if len(t.Lines) == 0 {
		return domain.Validationf("order needs at least one line")
	}
	if !t.ExchangeRate.IsPositive() {
		return domain.Validationf("exchange rate must be positive")
	}

	amounts := []struct {
		name string
		v    decimal.Decimal
	}{
		{"subtotal", t.Subtotal},
		{"discount", t.Discount.Amount},
		{"tax", t.Tax.Total},
		{"total", t.Total},
		{"amount_due", t.AmountDue},
	}
	for _, a := range amounts {
		if a.v.IsNegative() {
			return domain.Validationf("%s is negative: %s", a.name, a.v.String())
		}
	}
	if t.Discount.Amount.GreaterThan(t.Subtotal) {
		return domain.Validationf("discount %s exceeds subtotal %s", t.Discount.Amount.String(), t.Subtotal.String())
	}

	sum := decimal.Zero
	for _, l := range t.Lines {
		if !l.ItemType.Valid() {
			return domain.Validationf("line %s has invalid item type %q", l.ItemID, l.ItemType)
		}
		if l.ItemID == "" || l.Quantity <= 0 {
			return domain.Validationf("line %q has quantity %d", l.ItemID, l.Quantity)
		}
		if l.UnitPrice.IsNegative() || l.LineTotal.IsNegative() {
			return domain.Validationf("line %s has a negative amount", l.ItemID)
		}
		sum = sum.Add(l.LineTotal)
	}
	if !sum.Equal(t.Subtotal) {
		return domain.Validationf("lines sum to %s, subtotal is %s", sum.StringFixed(domain.MoneyPlaces), t.Subtotal.StringFixed(domain.MoneyPlaces))
	}

	taxSum := decimal.Zero
	for _, c := range t.Tax.Breakdown {
		taxSum = taxSum.Add(c.Amount)
	}
	if len(t.Tax.Breakdown) > 0 && !taxSum.Equal(t.Tax.Total) {
		return domain.Validationf("tax components sum to %s, total is %s", taxSum.String(), t.Tax.Total.String())
	}

	return t.CheckConservation()
}
