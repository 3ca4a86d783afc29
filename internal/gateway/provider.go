package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/shopspring/decimal"
)

var ErrChannelUnsupported = errors.New("provider does not offer this confirmation channel")

// Session is what the buyer needs to complete payment with the provider.
type Session struct {
	RedirectURL string `json:"redirect_url,omitempty"`
	ProviderRef string `json:"provider_ref"`
	// Instructions is set by providers without a hosted page.
	Instructions string `json:"instructions,omitempty"`
}

type PaymentState string

const (
	PaymentPending   PaymentState = "pending"
	PaymentSucceeded PaymentState = "succeeded"
	PaymentFailed    PaymentState = "failed"
)

// StatusReport is a provider's view of one payment.
type StatusReport struct {
	OrderID       string
	State         PaymentState
	ProviderTxnID string
	Amount        decimal.NullDecimal
	Currency      string
	Reason        string
	Raw           json.RawMessage
}

// Provider is one payment integration. Providers only talk to their PSP;
// every confirmation they learn about goes through settlement.
type Provider interface {
	ID() string
	Channels() []domain.Channel
	Begin(ctx context.Context, order *domain.Order) (*Session, error)
	// FetchStatus looks a payment up by the merchant reference the provider
	// was given in Begin, which is the order id.
	FetchStatus(ctx context.Context, providerRef string) (*StatusReport, error)
	ParseWebhook(ctx context.Context, body []byte, headers http.Header) (*StatusReport, error)
}

func offers(p Provider, c domain.Channel) bool {
	for _, ch := range p.Channels() {
		if ch == c {
			return true
		}
	}
	return false
}
