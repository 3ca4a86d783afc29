package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/cart"
	"github.com/fjod/go_cart/settlement-service/internal/gateway"
	"github.com/fjod/go_cart/settlement-service/internal/pricing"
	"github.com/fjod/go_cart/settlement-service/internal/reservation"
	"github.com/shopspring/decimal"
)

type mockCarts struct {
	cart    *domain.Cart
	result  *cart.SyncResult
	err     error
	lastReq cart.SyncRequest
}

func (m *mockCarts) Sync(_ context.Context, req cart.SyncRequest) (*cart.SyncResult, error) {
	m.lastReq = req
	return m.result, m.err
}

func (m *mockCarts) GetCart(_ context.Context, ownerID string) (*domain.Cart, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.cart == nil {
		return &domain.Cart{OwnerID: ownerID}, nil
	}
	return m.cart, nil
}

type mockCalculator struct {
	totals  *domain.TotalsBreakdown
	err     error
	lastReq pricing.Request
}

func (m *mockCalculator) Calculate(_ context.Context, req pricing.Request) (*domain.TotalsBreakdown, error) {
	m.lastReq = req
	return m.totals, m.err
}

type mockQuotes struct {
	quote    *domain.CheckoutQuote
	err      error
	released bool
	lastReq  reservation.QuoteRequest
}

func (m *mockQuotes) Quote(_ context.Context, req reservation.QuoteRequest) (*domain.CheckoutQuote, error) {
	m.lastReq = req
	return m.quote, m.err
}

func (m *mockQuotes) ReleaseOwned(_ context.Context, _, _ string) (bool, error) {
	return m.released, m.err
}

type mockGateway struct {
	checkout    *gateway.CheckoutResult
	result      *domain.ConfirmResult
	err         error
	lastReq     gateway.CheckoutRequest
	lastBody    []byte
	lastOwner   string
	lastVerify  gateway.ManualVerification
	lastOrderID string
}

func (m *mockGateway) Checkout(_ context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutResult, error) {
	m.lastReq = req
	return m.checkout, m.err
}

func (m *mockGateway) HandleWebhook(_ context.Context, _ string, body []byte, _ http.Header) (*domain.ConfirmResult, error) {
	m.lastBody = body
	return m.result, m.err
}

func (m *mockGateway) PollStatus(_ context.Context, ownerID, orderID string) (*domain.ConfirmResult, error) {
	m.lastOwner, m.lastOrderID = ownerID, orderID
	return m.result, m.err
}

func (m *mockGateway) ManualVerify(_ context.Context, orderID string, v gateway.ManualVerification) (*domain.ConfirmResult, error) {
	m.lastOrderID, m.lastVerify = orderID, v
	return m.result, m.err
}

type mockOrders struct {
	order  *domain.Order
	orders []*domain.Order
	err    error
	limit  int
}

func (m *mockOrders) GetOwnedOrder(_ context.Context, _, _ string) (*domain.Order, error) {
	return m.order, m.err
}

func (m *mockOrders) ListOrders(_ context.Context, _ string, limit, _ int) ([]*domain.Order, error) {
	m.limit = limit
	return m.orders, m.err
}

type mockAudit struct {
	order *domain.Order
	txn   *domain.Transaction
	count int
	tasks []domain.FulfillmentTask
}

func (m *mockAudit) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	if m.order == nil || m.order.ID != orderID {
		return nil, fmt.Errorf("order %w", domain.ErrNotFound)
	}
	return m.order, nil
}

func (m *mockAudit) FindTransaction(_ context.Context, _ string) (*domain.Transaction, error) {
	if m.txn == nil {
		return nil, fmt.Errorf("transaction %w", domain.ErrNotFound)
	}
	return m.txn, nil
}

func (m *mockAudit) CountTransactions(_ context.Context, _ string) (int, error) {
	return m.count, nil
}

func (m *mockAudit) TasksForOrder(_ context.Context, _ string) ([]domain.FulfillmentTask, error) {
	return m.tasks, nil
}

type mockCatalog struct {
	products []*domain.Product
	saved    []*domain.Product
}

func (m *mockCatalog) ListProducts(_ context.Context) ([]*domain.Product, error) {
	return m.products, nil
}

func (m *mockCatalog) UpsertProduct(_ context.Context, p *domain.Product) error {
	m.saved = append(m.saved, p)
	return nil
}

type mockRates struct {
	published map[string]decimal.Decimal
	err       error
}

func (m *mockRates) Publish(_ context.Context, rates map[string]decimal.Decimal) error {
	if m.err != nil {
		return m.err
	}
	m.published = rates
	return nil
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }
