package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/settlement-service/domain"
)

const ManualProviderID = "manual"

// ManualProvider covers bank transfers and other offline payments. An admin
// confirms them once the money is seen.
type ManualProvider struct{}

func NewManualProvider() *ManualProvider {
	return &ManualProvider{}
}

func (*ManualProvider) ID() string { return ManualProviderID }

func (*ManualProvider) Channels() []domain.Channel {
	return []domain.Channel{domain.ChannelManual}
}

func (*ManualProvider) Begin(_ context.Context, order *domain.Order) (*Session, error) {
	return &Session{
		ProviderRef: order.ID,
		Instructions: fmt.Sprintf("transfer %s %s quoting reference %s",
			order.AmountDue.StringFixed(domain.MoneyPlaces), order.Currency, order.ID),
	}, nil
}

func (*ManualProvider) FetchStatus(context.Context, string) (*StatusReport, error) {
	return nil, ErrChannelUnsupported
}

func (*ManualProvider) ParseWebhook(context.Context, []byte, http.Header) (*StatusReport, error) {
	return nil, ErrChannelUnsupported
}
