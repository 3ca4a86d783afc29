package settlement

import (
	"context"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
	"github.com/shopspring/decimal"
)

// Tx is what one settlement transition needs from its database transaction.
type Tx interface {
	LockOrder(ctx context.Context, orderID string) (*domain.Order, error)
	OrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	FindTransaction(ctx context.Context, orderID string) (*domain.Transaction, error)
	InsertTransaction(ctx context.Context, txn *domain.Transaction) error
	MarkOrderPaid(ctx context.Context, orderID string, amountPaid decimal.Decimal, transactionID string, status domain.OrderStatus, now time.Time) error
	UpdateOrderStatus(ctx context.Context, orderID string, payment domain.PaymentStatus, status domain.OrderStatus, now time.Time) error
	ActivateItems(ctx context.Context, orderID string) error
	EnqueueTasks(ctx context.Context, tasks []domain.FulfillmentTask) error
	Reservations(ctx context.Context, quoteID string) ([]domain.Reservation, error)
	AdjustStock(ctx context.Context, itemID string, itemType domain.ItemType, delta int) error
}

type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	FindTransaction(ctx context.Context, orderID string) (*domain.Transaction, error)
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
