package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
)

type fakeStore struct {
	m         sync.Mutex
	quotes    map[string]*domain.CheckoutQuote
	orders    map[string]*domain.Order
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{quotes: map[string]*domain.CheckoutQuote{}, orders: map[string]*domain.Order{}}
}

func (s *fakeStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	s.m.Lock()
	defer s.m.Unlock()
	tx := &fakeTx{store: s, consumed: map[string]bool{}, orders: map[string]*domain.Order{}}
	if err := fn(tx); err != nil {
		return err
	}
	for id := range tx.consumed {
		s.quotes[id].IsUsed = true
		s.quotes[id].ReleasedReason = domain.ReleaseConsumed
	}
	for id, o := range tx.orders {
		s.orders[id] = o
	}
	return nil
}

func (s *fakeStore) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.m.Lock()
	defer s.m.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) ListOrders(_ context.Context, ownerID string, limit, offset int) ([]*domain.Order, error) {
	s.m.Lock()
	defer s.m.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.OwnerID == ownerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeTx struct {
	store    *fakeStore
	consumed map[string]bool
	orders   map[string]*domain.Order
}

func (t *fakeTx) ConsumeQuote(_ context.Context, quoteID, ownerID string, now time.Time) (*domain.CheckoutQuote, error) {
	q, ok := t.store.quotes[quoteID]
	if !ok || q.IsUsed || q.OwnerID != ownerID || !q.ExpiresAt.After(now) || t.consumed[quoteID] {
		return nil, domain.ErrQuoteUnavailable
	}
	t.consumed[quoteID] = true
	cp := *q
	return &cp, nil
}

func (t *fakeTx) InsertOrder(_ context.Context, o *domain.Order) error {
	if t.store.insertErr != nil {
		return t.store.insertErr
	}
	t.orders[o.ID] = o
	return nil
}
