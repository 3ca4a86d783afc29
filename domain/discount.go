package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountKind string

const (
	DiscountFixed      DiscountKind = "fixed"
	DiscountPercentage DiscountKind = "percentage"
)

// Discount is a redeemable code. Amounts are in the base currency.
type Discount struct {
	ID             string
	Code           string
	Kind           DiscountKind
	Value          decimal.Decimal
	MaxAmount      decimal.NullDecimal
	MinOrderAmount decimal.Decimal
	UsageLimit     *int
	PerUserLimit   *int
	TimesUsed      int
	ItemTypes      []ItemType
	Active         bool
	StartsAt       *time.Time
	EndsAt         *time.Time
}

// AppliesTo reports whether the discount covers item type t.
func (d *Discount) AppliesTo(t ItemType) bool {
	if len(d.ItemTypes) == 0 {
		return true
	}
	for _, it := range d.ItemTypes {
		if it == t {
			return true
		}
	}
	return false
}

// TaxRule is one named tax component.
type TaxRule struct {
	ID        string
	Name      string
	Rate      decimal.Decimal
	ItemTypes []ItemType
	Active    bool
}

func (r *TaxRule) AppliesTo(t ItemType) bool {
	if len(r.ItemTypes) == 0 {
		return true
	}
	for _, it := range r.ItemTypes {
		if it == t {
			return true
		}
	}
	return false
}

// Product is the authoritative price and classification of an item.
type Product struct {
	ID               string
	ItemType         ItemType
	Name             string
	Price            decimal.Decimal
	ListPrice        decimal.Decimal
	ManualProcessing bool
	Active           bool
}
