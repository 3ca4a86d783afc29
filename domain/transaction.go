package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Channel is the path a payment confirmation arrived through.
type Channel string

const (
	ChannelWebhook Channel = "webhook"
	ChannelPoll    Channel = "poll"
	ChannelManual  Channel = "manual"
)

// Transaction is the single paid record of an order.
type Transaction struct {
	ID                  string          `json:"transaction_id"`
	OrderID             string          `json:"order_id"`
	OwnerID             string          `json:"owner_id"`
	Currency            string          `json:"currency"`
	Amount              decimal.Decimal `json:"amount"`
	ProviderID          string          `json:"provider_id"`
	ProviderTxnID       string          `json:"provider_txn_id"`
	Channel             Channel         `json:"channel"`
	RawProviderResponse json.RawMessage `json:"raw_provider_response,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// ProviderTxnMeta is what a provider adapter knows about a successful payment.
type ProviderTxnMeta struct {
	Channel       Channel
	ProviderID    string
	ProviderTxnID string
	// Amount is optional; when set it must equal the order's amount due.
	Amount      decimal.NullDecimal
	Currency    string
	RawResponse json.RawMessage
}

// ConfirmResult is returned by every confirmation, fresh or repeated.
type ConfirmResult struct {
	OrderID          string        `json:"order_id"`
	AlreadyProcessed bool          `json:"already_processed"`
	TransactionID    string        `json:"transaction_id"`
	OrderStatus      OrderStatus   `json:"order_status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
}
