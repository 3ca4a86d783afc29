package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem is a priced line copied into an order at creation time.
type OrderItem struct {
	OrderID          string          `json:"order_id"`
	ItemID           string          `json:"item_id"`
	ItemType         ItemType        `json:"item_type"`
	Name             string          `json:"name"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	LineTotal        decimal.Decimal `json:"line_total"`
	ManualProcessing bool            `json:"manual_processing"`
	Active           bool            `json:"active"`
}

type Order struct {
	ID            string          `json:"order_id"`
	OwnerID       string          `json:"owner_id"`
	QuoteID       string          `json:"quote_id,omitempty"`
	ProviderID    string          `json:"provider_id"`
	Currency      string          `json:"currency"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	DiscountID    string          `json:"discount_id,omitempty"`
	Tax           decimal.Decimal `json:"tax"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AmountDue     decimal.Decimal `json:"amount_due"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	ItemTypes     []ItemType      `json:"item_types"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	OrderStatus   OrderStatus     `json:"order_status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Metadata      []byte          `json:"-"`
	Items         []OrderItem     `json:"items,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HasItemType reports whether any line of the order is of type t.
func (o *Order) HasItemType(t ItemType) bool {
	for _, it := range o.ItemTypes {
		if it == t {
			return true
		}
	}
	return false
}

// StatusAfterPayment decides where an order lands once paid: pure digital
// orders complete immediately, anything physical or flagged for manual
// processing waits in processing.
func StatusAfterPayment(items []OrderItem) OrderStatus {
	for _, it := range items {
		if it.ItemType == ItemTypePhysicalProduct || it.ManualProcessing {
			return OrderStatusProcessing
		}
	}
	return OrderStatusCompleted
}
