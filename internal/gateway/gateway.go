package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/ledger"
	"github.com/fjod/go_cart/settlement-service/internal/reservation"
	"github.com/fjod/go_cart/settlement-service/pkg/logger"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("settlement/gateway")

type Quoter interface {
	Quote(ctx context.Context, req reservation.QuoteRequest) (*domain.CheckoutQuote, error)
	Release(ctx context.Context, quoteID string) (bool, error)
}

type Orders interface {
	CreateOrder(ctx context.Context, req ledger.CreateOrderRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	GetOwnedOrder(ctx context.Context, ownerID, orderID string) (*domain.Order, error)
}

type Settler interface {
	ConfirmPayment(ctx context.Context, orderID string, meta domain.ProviderTxnMeta) (*domain.ConfirmResult, error)
	MarkFailed(ctx context.Context, orderID, reason string) (*domain.Order, error)
}

// UsageRecorder charges a discount use against an existing order.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, discountID, ownerID, orderID string, amount decimal.Decimal) (bool, error)
}

type CheckoutRequest struct {
	OwnerID      string
	ProviderID   string
	Currency     string
	DiscountCode string
	// QuoteID reuses a quote taken earlier; otherwise a fresh one is taken.
	QuoteID string
}

type CheckoutResult struct {
	Order   *domain.Order `json:"order"`
	Session *Session      `json:"session"`
}

type ManualVerification struct {
	ProviderTxnID string
	Amount        decimal.NullDecimal
	Currency      string
	VerifiedBy    string
	Note          string
}

// Gateway runs the one checkout sequence every provider shares and routes
// each confirmation channel into settlement.
type Gateway struct {
	providers map[string]Provider
	quotes    Quoter
	orders    Orders
	settler   Settler
	usage     UsageRecorder
	log       *zap.Logger
}

func NewGateway(quotes Quoter, orders Orders, settler Settler, usage UsageRecorder, log *zap.Logger, providers ...Provider) *Gateway {
	g := &Gateway{
		providers: make(map[string]Provider, len(providers)),
		quotes:    quotes,
		orders:    orders,
		settler:   settler,
		usage:     usage,
		log:       log,
	}
	for _, p := range providers {
		g.providers[p.ID()] = p
	}
	return g
}

func (g *Gateway) Provider(id string) (Provider, error) {
	p, ok := g.providers[id]
	if !ok {
		return nil, fmt.Errorf("payment provider %q %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (g *Gateway) ProviderIDs() []string {
	ids := make([]string, 0, len(g.providers))
	for id := range g.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Checkout quotes the cart, stores a pending order from the quote, records
// the discount use and hands the order to the provider. When the discount
// use is refused or the provider cannot start the payment, the order is
// failed so its stock returns.
func (g *Gateway) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := tracer.Start(ctx, "gateway.Checkout")
	defer span.End()
	span.SetAttributes(attribute.String("owner_id", req.OwnerID), attribute.String("provider", req.ProviderID))

	provider, err := g.Provider(req.ProviderID)
	if err != nil {
		return nil, domain.Validationf("unknown payment provider %q", req.ProviderID)
	}
	log := logger.WithTrace(ctx, g.log).With(zap.String("owner_id", req.OwnerID), zap.String("provider", provider.ID()))

	quoteID := req.QuoteID
	if quoteID == "" {
		quote, err := g.quotes.Quote(ctx, reservation.QuoteRequest{
			OwnerID:      req.OwnerID,
			Currency:     req.Currency,
			DiscountCode: req.DiscountCode,
		})
		if err != nil {
			return nil, err
		}
		quoteID = quote.ID
	}

	order, err := g.orders.CreateOrder(ctx, ledger.CreateOrderRequest{
		OwnerID:    req.OwnerID,
		ProviderID: provider.ID(),
		QuoteID:    quoteID,
		Metadata: map[string]any{
			"provider": provider.ID(),
			"channels": provider.Channels(),
			"quote_id": quoteID,
		},
	})
	if err != nil {
		// a quote taken here is not the caller's to keep
		if req.QuoteID == "" && !errors.Is(err, domain.ErrQuoteUnavailable) {
			if _, relErr := g.quotes.Release(context.WithoutCancel(ctx), quoteID); relErr != nil {
				log.Warn("failed to release quote after order failure", zap.String("quote_id", quoteID), zap.Error(relErr))
			}
		}
		return nil, err
	}
	log = log.With(zap.String("order_id", order.ID))

	if order.DiscountID != "" {
		if _, err := g.usage.RecordUsage(ctx, order.DiscountID, order.OwnerID, order.ID, order.Discount); err != nil {
			// the order was priced with a discount it cannot have
			log.Warn("discount use not recorded, failing order", zap.String("discount_id", order.DiscountID), zap.Error(err))
			if _, failErr := g.settler.MarkFailed(context.WithoutCancel(ctx), order.ID, "discount unavailable"); failErr != nil {
				log.Error("failed to fail order after discount error", zap.Error(failErr))
			}
			return nil, err
		}
	}

	session, err := provider.Begin(ctx, order)
	if err != nil {
		log.Error("provider failed to start payment", zap.Error(err))
		if _, failErr := g.settler.MarkFailed(context.WithoutCancel(ctx), order.ID, "provider begin failed"); failErr != nil {
			log.Error("failed to fail order after provider error", zap.Error(failErr))
		}
		if !errors.Is(err, domain.ErrExternalProvider) {
			err = fmt.Errorf("%w: %v", domain.ErrExternalProvider, err)
		}
		return nil, err
	}

	log.Info("checkout started", zap.String("provider_ref", session.ProviderRef))
	return &CheckoutResult{Order: order, Session: session}, nil
}

// HandleWebhook is the push channel.
func (g *Gateway) HandleWebhook(ctx context.Context, providerID string, body []byte, headers http.Header) (*domain.ConfirmResult, error) {
	provider, err := g.Provider(providerID)
	if err != nil {
		return nil, err
	}
	if !offers(provider, domain.ChannelWebhook) {
		return nil, domain.Validationf("provider %q does not accept webhooks", providerID)
	}
	report, err := provider.ParseWebhook(ctx, body, headers)
	if err != nil {
		return nil, err
	}
	order, err := g.orders.GetOrder(ctx, report.OrderID)
	if err != nil {
		return nil, err
	}
	if order.ProviderID != provider.ID() {
		g.log.Warn("webhook for an order of another provider",
			zap.String("provider", provider.ID()),
			zap.String("order_id", order.ID),
			zap.String("order_provider", order.ProviderID))
		return nil, domain.Validationf("order %q was not placed with provider %q", order.ID, provider.ID())
	}
	return g.settle(ctx, provider, domain.ChannelWebhook, report)
}

// PollStatus is the pull channel: the buyer's client asks after returning
// from the provider's page.
func (g *Gateway) PollStatus(ctx context.Context, ownerID, orderID string) (*domain.ConfirmResult, error) {
	order, err := g.orders.GetOwnedOrder(ctx, ownerID, orderID)
	if err != nil {
		return nil, err
	}
	provider, err := g.Provider(order.ProviderID)
	if err != nil {
		return nil, err
	}
	if !offers(provider, domain.ChannelPoll) {
		return resultFrom(order), nil
	}
	report, err := provider.FetchStatus(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if report.OrderID != order.ID {
		return nil, fmt.Errorf("%w: status for %q returned for order %q", domain.ErrExternalProvider, report.OrderID, order.ID)
	}
	return g.settle(ctx, provider, domain.ChannelPoll, report)
}

// ManualVerify is the admin channel for providers without an automatic one.
func (g *Gateway) ManualVerify(ctx context.Context, orderID string, v ManualVerification) (*domain.ConfirmResult, error) {
	order, err := g.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	provider, err := g.Provider(order.ProviderID)
	if err != nil {
		return nil, err
	}
	if !offers(provider, domain.ChannelManual) {
		return nil, domain.Validationf("provider %q does not allow manual verification", provider.ID())
	}
	raw, err := json.Marshal(map[string]any{
		"verified_by": v.VerifiedBy,
		"note":        v.Note,
		"verified_at": time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return g.settle(ctx, provider, domain.ChannelManual, &StatusReport{
		OrderID:       order.ID,
		State:         PaymentSucceeded,
		ProviderTxnID: v.ProviderTxnID,
		Amount:        v.Amount,
		Currency:      v.Currency,
		Raw:           raw,
	})
}

func (g *Gateway) settle(ctx context.Context, provider Provider, channel domain.Channel, r *StatusReport) (*domain.ConfirmResult, error) {
	switch r.State {
	case PaymentSucceeded:
		return g.settler.ConfirmPayment(ctx, r.OrderID, domain.ProviderTxnMeta{
			Channel:       channel,
			ProviderID:    provider.ID(),
			ProviderTxnID: r.ProviderTxnID,
			Amount:        r.Amount,
			Currency:      r.Currency,
			RawResponse:   r.Raw,
		})
	case PaymentFailed:
		reason := r.Reason
		if reason == "" {
			reason = "declined by provider"
		}
		order, err := g.settler.MarkFailed(ctx, r.OrderID, reason)
		if errors.Is(err, domain.ErrIllegalTransition) {
			// a late failure for an order that already moved on; report where it is
			g.log.Warn("ignoring payment failure for settled order",
				zap.String("order_id", r.OrderID), zap.String("channel", string(channel)), zap.String("reason", reason))
			order, err = g.orders.GetOrder(ctx, r.OrderID)
		}
		if err != nil {
			return nil, err
		}
		return resultFrom(order), nil
	default:
		order, err := g.orders.GetOrder(ctx, r.OrderID)
		if err != nil {
			return nil, err
		}
		return resultFrom(order), nil
	}
}

func resultFrom(o *domain.Order) *domain.ConfirmResult {
	return &domain.ConfirmResult{
		OrderID:       o.ID,
		TransactionID: o.TransactionID,
		OrderStatus:   o.OrderStatus,
		PaymentStatus: o.PaymentStatus,
	}
}
