package domain

import "time"

// Reservation is a quantity held for a quote from a finite pool.
type Reservation struct {
	ItemID           string   `json:"item_id"`
	ItemType         ItemType `json:"item_type"`
	QuantityReserved int      `json:"quantity_reserved"`
	StockBefore      int      `json:"stock_before"`
}

// ReleaseReason records why a quote stopped holding stock.
type ReleaseReason string

const (
	ReleaseConsumed ReleaseReason = "consumed"
	ReleaseExpired  ReleaseReason = "expired"
	ReleaseReleased ReleaseReason = "released"
)

// CheckoutQuote snapshots a calculation and the stock it holds until ExpiresAt.
type CheckoutQuote struct {
	ID             string           `json:"quote_id"`
	OwnerID        string           `json:"owner_id"`
	Totals         *TotalsBreakdown `json:"totals"`
	Reservations   []Reservation    `json:"reservations"`
	ExpiresAt      time.Time        `json:"expires_at"`
	IsUsed         bool             `json:"is_used"`
	ReleasedReason ReleaseReason    `json:"released_reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

func (q *CheckoutQuote) IsExpired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}
