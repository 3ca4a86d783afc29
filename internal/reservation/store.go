package reservation

import (
	"context"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
)

// Tx is the slice of a database transaction reservations run under.
type Tx interface {
	LockStock(ctx context.Context, itemID string, itemType domain.ItemType) (int, error)
	AdjustStock(ctx context.Context, itemID string, itemType domain.ItemType, delta int) error
	InsertQuote(ctx context.Context, q *domain.CheckoutQuote) error
	ReleaseQuote(ctx context.Context, quoteID string, reason domain.ReleaseReason, now time.Time) (bool, error)
	Reservations(ctx context.Context, quoteID string) ([]domain.Reservation, error)
	LockExpiredQuotes(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetQuote(ctx context.Context, quoteID string) (*domain.CheckoutQuote, error)
}

type repoStore struct {
	repo *repository.Repository
}

// NewStore adapts the Postgres repository to Store.
func NewStore(repo *repository.Repository) Store {
	return repoStore{repo: repo}
}

func (s repoStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.repo.InTx(ctx, func(tx *repository.Tx) error { return fn(tx) })
}

func (s repoStore) GetQuote(ctx context.Context, quoteID string) (*domain.CheckoutQuote, error) {
	return s.repo.GetQuote(ctx, quoteID)
}

type StockAdjuster interface {
	AdjustStock(ctx context.Context, itemID string, itemType domain.ItemType, delta int) error
}

// Restock returns the quantities held by a quote to their pools.
func Restock(ctx context.Context, tx StockAdjuster, reservations []domain.Reservation) error {
	for _, r := range reservations {
		if err := tx.AdjustStock(ctx, r.ItemID, r.ItemType, r.QuantityReserved); err != nil {
			return err
		}
	}
	return nil
}
