package pricing

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/shopspring/decimal"
)

type mockLines struct {
	mu    sync.Mutex
	lines map[string][]domain.CartLine
	err   error
}

func (m *mockLines) Lines(_ context.Context, ownerID string) ([]domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.lines[ownerID], nil
}

type mockDiscounts struct {
	byCode map[string]*domain.Discount
	usage  map[string]int
	err    error
}

func (m *mockDiscounts) DiscountByCode(_ context.Context, code string) (*domain.Discount, error) {
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.byCode[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockDiscounts) UsageCount(_ context.Context, discountID, ownerID string) (int, error) {
	return m.usage[discountID+"/"+ownerID], nil
}

type mockTaxes struct {
	rules []domain.TaxRule
}

func (m *mockTaxes) ActiveTaxRules(context.Context) ([]domain.TaxRule, error) {
	return m.rules, nil
}

type mockRates struct {
	rates map[string]decimal.Decimal
	calls int
}

func (m *mockRates) Rate(_ context.Context, currency string) (decimal.Decimal, error) {
	m.calls++
	if currency == "USD" {
		return decimal.NewFromInt(1), nil
	}
	r, ok := m.rates[currency]
	if !ok {
		return decimal.Zero, domain.Validationf("unsupported currency %s", currency)
	}
	return r, nil
}
