package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// LineKey identifies a cart line within an owner's cart.
type LineKey struct {
	ItemID   string
	ItemType ItemType
}

// CartLine is one entry of a customer's cart. Price fields are always
// re-derived from the catalog; whatever the caller sent is ignored.
type CartLine struct {
	OwnerID          string          `json:"owner_id" bson:"owner_id"`
	ItemID           string          `json:"item_id" bson:"item_id"`
	ItemType         ItemType        `json:"item_type" bson:"item_type"`
	Name             string          `json:"name" bson:"name"`
	Quantity         int             `json:"quantity" bson:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price" bson:"-"`
	ListPrice        decimal.Decimal `json:"list_price" bson:"-"`
	StockHint        *int            `json:"stock_hint,omitempty" bson:"-"`
	ManualProcessing bool            `json:"manual_processing" bson:"-"`
	AddedAt          time.Time       `json:"added_at" bson:"added_at"`
}

func (l CartLine) Key() LineKey {
	return LineKey{ItemID: l.ItemID, ItemType: l.ItemType}
}

// Cart is the set of lines owned by one customer.
type Cart struct {
	OwnerID   string     `json:"owner_id" bson:"owner_id"`
	Lines     []CartLine `json:"lines" bson:"lines"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
}

// EmptyCartVersion is the version token of a cart with no lines.
const EmptyCartVersion = "0.0"

// Version derives the optimistic concurrency token from the row count and
// the latest mutation timestamp.
func (c *Cart) Version() string {
	if c == nil || len(c.Lines) == 0 {
		return EmptyCartVersion
	}
	return fmt.Sprintf("%d.%d", len(c.Lines), c.UpdatedAt.UnixNano())
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

// ExclusiveFamily returns the exclusive item type present in the cart, or ""
// when the cart only holds non-exclusive lines.
func (c *Cart) ExclusiveFamily() ItemType {
	if c == nil {
		return ""
	}
	return ExclusiveFamilyOf(c.Lines)
}

// ExclusiveFamilyOf returns the first exclusive type found in lines.
func ExclusiveFamilyOf(lines []CartLine) ItemType {
	for _, l := range lines {
		if l.ItemType.IsExclusive() {
			return l.ItemType
		}
	}
	return ""
}

// CheckExclusiveFamily returns the two conflicting families when lines mix
// more than one exclusive item type.
func CheckExclusiveFamily(lines []CartLine) (current, attempted ItemType, ok bool) {
	for _, l := range lines {
		if !l.ItemType.IsExclusive() {
			continue
		}
		if current == "" {
			current = l.ItemType
			continue
		}
		if l.ItemType != current {
			return current, l.ItemType, false
		}
	}
	return current, "", true
}

// SortLines orders lines by (type, id) so calculations over them are stable.
func SortLines(lines []CartLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].ItemType != lines[j].ItemType {
			return lines[i].ItemType < lines[j].ItemType
		}
		return lines[i].ItemID < lines[j].ItemID
	})
}
