package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the precision every monetary amount is rounded to.
const MoneyPlaces = 2

// RoundMoney rounds half away from zero to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// DiscountApplied describes the discount that made it into a calculation.
type DiscountApplied struct {
	Amount     decimal.Decimal `json:"amount"`
	DiscountID string          `json:"discount_id,omitempty"`
	Code       string          `json:"code,omitempty"`
	Details    string          `json:"details,omitempty"`
}

type TaxComponent struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

type TaxApplied struct {
	Total     decimal.Decimal `json:"total"`
	Breakdown []TaxComponent  `json:"breakdown"`
}

// PricedLine is a cart line after conversion into the quote currency.
type PricedLine struct {
	ItemID           string          `json:"item_id"`
	ItemType         ItemType        `json:"item_type"`
	Name             string          `json:"name"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	LineTotal        decimal.Decimal `json:"line_total"`
	ManualProcessing bool            `json:"manual_processing"`
}

// TotalsBreakdown is the output of a price calculation.
type TotalsBreakdown struct {
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     DiscountApplied `json:"discount"`
	Tax          TaxApplied      `json:"tax"`
	Total        decimal.Decimal `json:"total"`
	AmountDue    decimal.Decimal `json:"amount_due"`
	Context      string          `json:"context,omitempty"`
	Lines        []PricedLine    `json:"lines"`
}

// ZeroTotals is the breakdown of an empty cart.
func ZeroTotals(currency string, rate decimal.Decimal) *TotalsBreakdown {
	return &TotalsBreakdown{
		Currency:     currency,
		ExchangeRate: rate,
		Subtotal:     decimal.Zero,
		Discount:     DiscountApplied{Amount: decimal.Zero},
		Tax:          TaxApplied{Total: decimal.Zero, Breakdown: []TaxComponent{}},
		Total:        decimal.Zero,
		AmountDue:    decimal.Zero,
		Lines:        []PricedLine{},
	}
}

// Payable returns round(subtotal - discount + tax, 2).
func (t *TotalsBreakdown) Payable() decimal.Decimal {
	return RoundMoney(t.Subtotal.Sub(t.Discount.Amount).Add(t.Tax.Total))
}

// CheckConservation verifies amountDue and total against the components.
func (t *TotalsBreakdown) CheckConservation() error {
	want := t.Payable()
	if !t.AmountDue.Equal(want) {
		return fmt.Errorf("%w: amount_due %s != %s", ErrValidation, t.AmountDue.StringFixed(MoneyPlaces), want.StringFixed(MoneyPlaces))
	}
	if !t.Total.Equal(want) {
		return fmt.Errorf("%w: total %s != %s", ErrValidation, t.Total.StringFixed(MoneyPlaces), want.StringFixed(MoneyPlaces))
	}
	return nil
}

// ItemTypes returns the distinct item types of the priced lines in order of appearance.
func (t *TotalsBreakdown) ItemTypes() []ItemType {
	seen := make(map[ItemType]struct{}, len(t.Lines))
	var out []ItemType
	for _, l := range t.Lines {
		if _, ok := seen[l.ItemType]; ok {
			continue
		}
		seen[l.ItemType] = struct{}{}
		out = append(out, l.ItemType)
	}
	return out
}
