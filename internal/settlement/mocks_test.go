package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
	"github.com/shopspring/decimal"
)

var errInjected = fmt.Errorf("injected: %w", domain.ErrPersistence)

// fakeStore mimics Postgres for settlement: LockOrder holds a per-order
// mutex until the transaction ends and writes become visible on commit.
// With noRowLock set, only the unique transaction check at commit guards.
type fakeStore struct {
	mu           sync.Mutex
	locks        map[string]*sync.Mutex
	orders       map[string]*domain.Order
	items        map[string][]domain.OrderItem
	txns         map[string]*domain.Transaction
	tasks        []domain.FulfillmentTask
	stock        map[domain.LineKey]int
	reservations map[string][]domain.Reservation
	failOn       string
	noRowLock    bool
	inserts      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		locks:        map[string]*sync.Mutex{},
		orders:       map[string]*domain.Order{},
		items:        map[string][]domain.OrderItem{},
		txns:         map[string]*domain.Transaction{},
		stock:        map[domain.LineKey]int{},
		reservations: map[string][]domain.Reservation{},
	}
}

func (s *fakeStore) addOrder(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	s.items[o.ID] = o.Items
	s.locks[o.ID] = &sync.Mutex{}
}

func (s *fakeStore) order(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *fakeStore) transactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txns)
}

func (s *fakeStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	tx := &fakeTx{store: s}
	defer tx.unlock()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *fakeStore) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) FindTransaction(_ context.Context, orderID string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[orderID]
	if !ok {
		return nil, fmt.Errorf("transaction: %w", domain.ErrNotFound)
	}
	return t, nil
}

type fakeTx struct {
	store  *fakeStore
	held   []*sync.Mutex
	writes []func() error
}

func (t *fakeTx) unlock() {
	for _, m := range t.held {
		m.Unlock()
	}
}

func (t *fakeTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, w := range t.writes {
		if err := w(); err != nil {
			return err
		}
	}
	return nil
}

func (t *fakeTx) fail(method string) error {
	if t.store.failOn == method {
		return errInjected
	}
	return nil
}

func (t *fakeTx) LockOrder(_ context.Context, orderID string) (*domain.Order, error) {
	t.store.mu.Lock()
	lock, ok := t.store.locks[orderID]
	t.store.mu.Unlock()
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	if !t.store.noRowLock {
		lock.Lock()
		t.held = append(t.held, lock)
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	cp := *t.store.orders[orderID]
	return &cp, nil
}

func (t *fakeTx) OrderItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return append([]domain.OrderItem(nil), t.store.items[orderID]...), nil
}

func (t *fakeTx) FindTransaction(_ context.Context, orderID string) (*domain.Transaction, error) {
	return t.store.FindTransaction(context.Background(), orderID)
}

func (t *fakeTx) InsertTransaction(_ context.Context, txn *domain.Transaction) error {
	if err := t.fail("InsertTransaction"); err != nil {
		return err
	}
	t.store.mu.Lock()
	t.store.inserts++
	_, exists := t.store.txns[txn.OrderID]
	t.store.mu.Unlock()
	if exists {
		return repository.ErrDuplicateTransaction
	}
	t.writes = append(t.writes, func() error {
		if _, ok := t.store.txns[txn.OrderID]; ok {
			return repository.ErrDuplicateTransaction
		}
		t.store.txns[txn.OrderID] = txn
		return nil
	})
	return nil
}

func (t *fakeTx) MarkOrderPaid(_ context.Context, orderID string, amountPaid decimal.Decimal, transactionID string, status domain.OrderStatus, now time.Time) error {
	if err := t.fail("MarkOrderPaid"); err != nil {
		return err
	}
	t.writes = append(t.writes, func() error {
		o := *t.store.orders[orderID]
		o.PaymentStatus = domain.PaymentStatusPaid
		o.AmountPaid = amountPaid
		o.TransactionID = transactionID
		o.OrderStatus = status
		o.UpdatedAt = now
		t.store.orders[orderID] = &o
		return nil
	})
	return nil
}

func (t *fakeTx) UpdateOrderStatus(_ context.Context, orderID string, payment domain.PaymentStatus, status domain.OrderStatus, now time.Time) error {
	t.writes = append(t.writes, func() error {
		o := *t.store.orders[orderID]
		o.PaymentStatus = payment
		o.OrderStatus = status
		o.UpdatedAt = now
		t.store.orders[orderID] = &o
		return nil
	})
	return nil
}

func (t *fakeTx) ActivateItems(_ context.Context, orderID string) error {
	t.writes = append(t.writes, func() error {
		items := append([]domain.OrderItem(nil), t.store.items[orderID]...)
		for i := range items {
			items[i].Active = true
		}
		t.store.items[orderID] = items
		return nil
	})
	return nil
}

func (t *fakeTx) EnqueueTasks(_ context.Context, tasks []domain.FulfillmentTask) error {
	if err := t.fail("EnqueueTasks"); err != nil {
		return err
	}
	t.writes = append(t.writes, func() error {
		t.store.tasks = append(t.store.tasks, tasks...)
		return nil
	})
	return nil
}

func (t *fakeTx) Reservations(_ context.Context, quoteID string) ([]domain.Reservation, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.reservations[quoteID], nil
}

func (t *fakeTx) AdjustStock(_ context.Context, itemID string, itemType domain.ItemType, delta int) error {
	t.writes = append(t.writes, func() error {
		t.store.stock[domain.LineKey{ItemID: itemID, ItemType: itemType}] += delta
		return nil
	})
	return nil
}

type clearCall struct {
	ownerID string
	cutoff  time.Time
}

type mockCarts struct {
	mu    sync.Mutex
	calls []clearCall
	err   error
	panic bool
}

func (c *mockCarts) ClearCart(_ context.Context, ownerID string, cutoff time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, clearCall{ownerID, cutoff})
	if c.panic {
		panic("cart store exploded")
	}
	return c.err == nil, c.err
}

func (c *mockCarts) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type mockWaker struct {
	mu    sync.Mutex
	wakes int
}

func (w *mockWaker) Wake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wakes++
}

func (w *mockWaker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wakes
}

