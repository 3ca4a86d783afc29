package ledger

import (
	"context"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
)

type Tx interface {
	ConsumeQuote(ctx context.Context, quoteID, ownerID string, now time.Time) (*domain.CheckoutQuote, error)
	InsertOrder(ctx context.Context, o *domain.Order) error
}

type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Order, error)
}

type repoStore struct {
	*repository.Repository
}

func NewStore(repo *repository.Repository) Store {
	return repoStore{repo}
}

func (s repoStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.Repository.InTx(ctx, func(tx *repository.Tx) error { return fn(tx) })
}
