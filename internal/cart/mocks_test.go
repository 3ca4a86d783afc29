package cart

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/cart/cache"
	"github.com/fjod/go_cart/settlement-service/internal/cart/repository"
	"github.com/shopspring/decimal"
)

type mockRepository struct {
	m          sync.RWMutex
	carts      map[string]*domain.Cart
	err        error
	saves      int
	beforeSave func()
	beforeGet  func()
}

func newMockRepository() *mockRepository {
	return &mockRepository{carts: map[string]*domain.Cart{}}
}

func (m *mockRepository) GetCart(_ context.Context, ownerID string) (*domain.Cart, error) {
	if m.beforeGet != nil {
		m.beforeGet()
	}
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[ownerID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	cp := *c
	cp.Lines = append([]domain.CartLine(nil), c.Lines...)
	return &cp, nil
}

func (m *mockRepository) SaveCart(_ context.Context, c *domain.Cart, expected time.Time) error {
	if m.beforeSave != nil {
		m.beforeSave()
	}
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	stored, ok := m.carts[c.OwnerID]
	switch {
	case expected.IsZero() && ok:
		return repository.ErrStaleCart
	case !expected.IsZero() && (!ok || !stored.UpdatedAt.Equal(expected)):
		return repository.ErrStaleCart
	}
	cp := *c
	cp.Lines = make([]domain.CartLine, len(c.Lines))
	for i, l := range c.Lines {
		// mirror what survives persistence
		cp.Lines[i] = domain.CartLine{OwnerID: l.OwnerID, ItemID: l.ItemID, ItemType: l.ItemType,
			Name: l.Name, Quantity: l.Quantity, AddedAt: l.AddedAt}
	}
	m.carts[c.OwnerID] = &cp
	m.saves++
	return nil
}

func (m *mockRepository) DeleteCart(_ context.Context, ownerID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if _, ok := m.carts[ownerID]; !ok {
		return repository.ErrCartNotFound
	}
	delete(m.carts, ownerID)
	return nil
}

func (m *mockRepository) DeleteCartIfUnchangedSince(_ context.Context, ownerID string, t time.Time) (bool, error) {
	m.m.Lock()
	defer m.m.Unlock()
	c, ok := m.carts[ownerID]
	if !ok || c.UpdatedAt.After(t) {
		return false, nil
	}
	delete(m.carts, ownerID)
	return true, nil
}

func (m *mockRepository) put(c *domain.Cart) {
	m.m.Lock()
	defer m.m.Unlock()
	m.carts[c.OwnerID] = c
}

type mockCache struct {
	m       sync.Mutex
	carts   map[string]*domain.Cart
	gens    map[string]int64
	gets    int
	deletes int
	// fillGate, when set, holds every Fill until it is closed
	fillGate chan struct{}
	fills    []bool
}

func newMockCache() *mockCache {
	return &mockCache{carts: map[string]*domain.Cart{}, gens: map[string]int64{}}
}

func (m *mockCache) Get(_ context.Context, ownerID string) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.gets++
	c, ok := m.carts[ownerID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return c, nil
}

func (m *mockCache) Generation(_ context.Context, ownerID string) (int64, error) {
	m.m.Lock()
	defer m.m.Unlock()
	return m.gens[ownerID], nil
}

func (m *mockCache) Fill(_ context.Context, ownerID string, gen int64, c *domain.Cart) (bool, error) {
	m.m.Lock()
	gate := m.fillGate
	m.m.Unlock()
	if gate != nil {
		<-gate
	}

	m.m.Lock()
	defer m.m.Unlock()
	stored := m.gens[ownerID] == gen
	if stored {
		m.carts[ownerID] = c
	}
	m.fills = append(m.fills, stored)
	return stored, nil
}

func (m *mockCache) Delete(_ context.Context, ownerID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.deletes++
	m.gens[ownerID]++
	delete(m.carts, ownerID)
	return nil
}

func (m *mockCache) fillResults() []bool {
	m.m.Lock()
	defer m.m.Unlock()
	return append([]bool(nil), m.fills...)
}

type mockProducts struct {
	products map[domain.LineKey]*domain.Product
}

func (m *mockProducts) GetProduct(_ context.Context, itemID string, itemType domain.ItemType) (*domain.Product, error) {
	p, ok := m.products[domain.LineKey{ItemID: itemID, ItemType: itemType}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (m *mockProducts) add(id string, t domain.ItemType, price string) {
	m.products[domain.LineKey{ItemID: id, ItemType: t}] = &domain.Product{
		ID: id, ItemType: t, Name: "name of " + id,
		Price: decimal.RequireFromString(price), ListPrice: decimal.RequireFromString(price), Active: true,
	}
}

type mockStock struct {
	available map[domain.LineKey]int
}

func (m *mockStock) Available(_ context.Context, itemID string, itemType domain.ItemType) (int, error) {
	return m.available[domain.LineKey{ItemID: itemID, ItemType: itemType}], nil
}
