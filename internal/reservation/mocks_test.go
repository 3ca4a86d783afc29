package reservation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/pricing"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
)

type quoteRow struct {
	quote  domain.CheckoutQuote
	reason domain.ReleaseReason
}

// fakeStore runs each InTx serially against a copy of its state and keeps
// the copy only when fn succeeds.
type fakeStore struct {
	m      sync.Mutex
	stock  map[domain.LineKey]int
	quotes map[string]*quoteRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{stock: map[domain.LineKey]int{}, quotes: map[string]*quoteRow{}}
}

func (s *fakeStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	s.m.Lock()
	defer s.m.Unlock()

	tx := &fakeTx{stock: map[domain.LineKey]int{}, quotes: map[string]*quoteRow{}}
	for k, v := range s.stock {
		tx.stock[k] = v
	}
	for k, v := range s.quotes {
		row := *v
		tx.quotes[k] = &row
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.stock, s.quotes = tx.stock, tx.quotes
	return nil
}

func (s *fakeStore) GetQuote(_ context.Context, quoteID string) (*domain.CheckoutQuote, error) {
	s.m.Lock()
	defer s.m.Unlock()
	row, ok := s.quotes[quoteID]
	if !ok {
		return nil, repository.ErrQuoteNotFound
	}
	q := row.quote
	q.ReleasedReason = row.reason
	return &q, nil
}

func (s *fakeStore) available(id string, t domain.ItemType) int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.stock[domain.LineKey{ItemID: id, ItemType: t}]
}

func (s *fakeStore) setStock(id string, t domain.ItemType, n int) {
	s.m.Lock()
	defer s.m.Unlock()
	s.stock[domain.LineKey{ItemID: id, ItemType: t}] = n
}

type fakeTx struct {
	stock  map[domain.LineKey]int
	quotes map[string]*quoteRow
}

func (t *fakeTx) LockStock(_ context.Context, itemID string, itemType domain.ItemType) (int, error) {
	return t.stock[domain.LineKey{ItemID: itemID, ItemType: itemType}], nil
}

func (t *fakeTx) AdjustStock(_ context.Context, itemID string, itemType domain.ItemType, delta int) error {
	k := domain.LineKey{ItemID: itemID, ItemType: itemType}
	if t.stock[k]+delta < 0 {
		return errors.New("stock below zero")
	}
	t.stock[k] += delta
	return nil
}

func (t *fakeTx) InsertQuote(_ context.Context, q *domain.CheckoutQuote) error {
	t.quotes[q.ID] = &quoteRow{quote: *q}
	return nil
}

func (t *fakeTx) ReleaseQuote(_ context.Context, quoteID string, reason domain.ReleaseReason, _ time.Time) (bool, error) {
	row, ok := t.quotes[quoteID]
	if !ok || row.quote.IsUsed {
		return false, nil
	}
	row.quote.IsUsed = true
	row.reason = reason
	return true, nil
}

func (t *fakeTx) Reservations(_ context.Context, quoteID string) ([]domain.Reservation, error) {
	row, ok := t.quotes[quoteID]
	if !ok {
		return nil, nil
	}
	return row.quote.Reservations, nil
}

func (t *fakeTx) LockExpiredQuotes(_ context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	for id, row := range t.quotes {
		if !row.quote.IsUsed && !row.quote.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type mockCalculator struct {
	totals *domain.TotalsBreakdown
	err    error
}

func (c *mockCalculator) Calculate(_ context.Context, _ pricing.Request) (*domain.TotalsBreakdown, error) {
	return c.totals, c.err
}
