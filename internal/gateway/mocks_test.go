package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/ledger"
	"github.com/fjod/go_cart/settlement-service/internal/reservation"
	"github.com/shopspring/decimal"
)

type mockQuoter struct {
	quote    *domain.CheckoutQuote
	err      error
	quoted   int
	released []string
}

func (m *mockQuoter) Quote(_ context.Context, req reservation.QuoteRequest) (*domain.CheckoutQuote, error) {
	m.quoted++
	if m.err != nil {
		return nil, m.err
	}
	q := *m.quote
	q.OwnerID = req.OwnerID
	return &q, nil
}

func (m *mockQuoter) Release(_ context.Context, quoteID string) (bool, error) {
	m.released = append(m.released, quoteID)
	return true, nil
}

type mockOrders struct {
	m         sync.Mutex
	orders    map[string]*domain.Order
	createErr error
	discount  string
	created   []ledger.CreateOrderRequest
}

func newMockOrders() *mockOrders {
	return &mockOrders{orders: map[string]*domain.Order{}}
}

func (m *mockOrders) CreateOrder(_ context.Context, req ledger.CreateOrderRequest) (*domain.Order, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.created = append(m.created, req)
	if m.createErr != nil {
		return nil, m.createErr
	}
	o := &domain.Order{
		ID:            fmt.Sprintf("order-%d", len(m.created)),
		OwnerID:       req.OwnerID,
		QuoteID:       req.QuoteID,
		ProviderID:    req.ProviderID,
		Currency:      "USD",
		AmountDue:     decimal.RequireFromString("35.00"),
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
	}
	if m.discount != "" {
		o.DiscountID = m.discount
		o.Discount = decimal.RequireFromString("15.00")
	}
	m.orders[o.ID] = o
	return o, nil
}

func (m *mockOrders) put(o *domain.Order) {
	m.m.Lock()
	defer m.m.Unlock()
	m.orders[o.ID] = o
}

func (m *mockOrders) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	m.m.Lock()
	defer m.m.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %w", domain.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) GetOwnedOrder(ctx context.Context, ownerID, orderID string) (*domain.Order, error) {
	o, err := m.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != ownerID {
		return nil, fmt.Errorf("order %w", domain.ErrNotFound)
	}
	return o, nil
}

// mockSettler settles each order once and reports later calls as already
// processed, updating the shared orders the way the real service does.
type mockSettler struct {
	m      sync.Mutex
	orders *mockOrders
	calls  []domain.ProviderTxnMeta
	failed []string
}

func (s *mockSettler) ConfirmPayment(_ context.Context, orderID string, meta domain.ProviderTxnMeta) (*domain.ConfirmResult, error) {
	s.m.Lock()
	defer s.m.Unlock()
	s.calls = append(s.calls, meta)

	s.orders.m.Lock()
	defer s.orders.m.Unlock()
	o, ok := s.orders.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %w", domain.ErrNotFound)
	}
	if o.PaymentStatus == domain.PaymentStatusPaid {
		return &domain.ConfirmResult{OrderID: o.ID, AlreadyProcessed: true, TransactionID: o.TransactionID, OrderStatus: o.OrderStatus, PaymentStatus: o.PaymentStatus}, nil
	}
	if o.PaymentStatus != domain.PaymentStatusPending {
		return nil, domain.ErrIllegalTransition
	}
	o.PaymentStatus = domain.PaymentStatusPaid
	o.OrderStatus = domain.OrderStatusCompleted
	o.TransactionID = "txn-" + o.ID
	return &domain.ConfirmResult{OrderID: o.ID, TransactionID: o.TransactionID, OrderStatus: o.OrderStatus, PaymentStatus: o.PaymentStatus}, nil
}

func (s *mockSettler) MarkFailed(_ context.Context, orderID, reason string) (*domain.Order, error) {
	s.m.Lock()
	defer s.m.Unlock()
	s.failed = append(s.failed, orderID+":"+reason)

	s.orders.m.Lock()
	defer s.orders.m.Unlock()
	o, ok := s.orders.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %w", domain.ErrNotFound)
	}
	if o.PaymentStatus != domain.PaymentStatusPending {
		return nil, domain.ErrIllegalTransition
	}
	o.PaymentStatus = domain.PaymentStatusFailed
	o.OrderStatus = domain.OrderStatusCancelled
	cp := *o
	return &cp, nil
}

type usageCall struct {
	discountID, ownerID, orderID string
	amount                       decimal.Decimal
}

type mockUsage struct {
	calls []usageCall
	err   error
}

func (m *mockUsage) RecordUsage(_ context.Context, discountID, ownerID, orderID string, amount decimal.Decimal) (bool, error) {
	m.calls = append(m.calls, usageCall{discountID, ownerID, orderID, amount})
	return m.err == nil, m.err
}

type mockProvider struct {
	id       string
	channels []domain.Channel
	beginErr error
	report   *StatusReport
	fetched  []string
}

func (p *mockProvider) ID() string                 { return p.id }
func (p *mockProvider) Channels() []domain.Channel { return p.channels }

func (p *mockProvider) Begin(_ context.Context, order *domain.Order) (*Session, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	return &Session{RedirectURL: "https://psp.test/pay/" + order.ID, ProviderRef: "pay-" + order.ID}, nil
}

func (p *mockProvider) FetchStatus(_ context.Context, ref string) (*StatusReport, error) {
	p.fetched = append(p.fetched, ref)
	if p.report == nil {
		return nil, errors.New("no status")
	}
	r := *p.report
	return &r, nil
}

func (p *mockProvider) ParseWebhook(_ context.Context, _ []byte, _ http.Header) (*StatusReport, error) {
	if p.report == nil {
		return nil, domain.Validationf("bad webhook")
	}
	r := *p.report
	return &r, nil
}
