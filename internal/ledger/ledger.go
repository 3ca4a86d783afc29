package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("settlement/ledger")

// hookTimeout bounds each OrderCreated hook.
const hookTimeout = 10 * time.Second

type CreateOrderRequest struct {
	OwnerID    string
	ProviderID string
	// Totals may be nil when QuoteID is set; the quote snapshot is used.
	Totals   *domain.TotalsBreakdown
	QuoteID  string
	Metadata map[string]any
}

// Hook is told about every order once it is durable. Hooks run
// asynchronously and cannot affect the order.
type Hook func(ctx context.Context, order *domain.Order)

type Ledger struct {
	store Store
	log   *zap.Logger
	now   func() time.Time

	mu    sync.RWMutex
	hooks []Hook
	wg    sync.WaitGroup
}

func NewLedger(store Store, log *zap.Logger) *Ledger {
	return &Ledger{store: store, log: log, now: time.Now}
}

// OnOrderCreated registers a hook fired after each successful CreateOrder.
func (l *Ledger) OnOrderCreated(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, h)
}

// CreateOrder stores a pending order built from the totals. When a quote is
// given it is consumed in the same transaction; a used or expired quote
// fails with domain.ErrQuoteUnavailable and nothing is written.
func (l *Ledger) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "ledger.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("owner_id", req.OwnerID), attribute.String("provider", req.ProviderID))

	if req.OwnerID == "" {
		return nil, domain.Validationf("owner id is required")
	}
	if req.ProviderID == "" {
		return nil, domain.Validationf("provider id is required")
	}
	if req.Totals == nil && req.QuoteID == "" {
		return nil, domain.Validationf("totals or quote id is required")
	}
	if req.Totals != nil {
		if err := validateTotals(req.Totals); err != nil {
			return nil, err
		}
	}

	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, domain.Validationf("metadata is not serialisable: %v", err)
	}
	if req.Metadata == nil {
		metadata = []byte("{}")
	}

	var order *domain.Order
	now := l.now().UTC()
	err = l.store.InTx(ctx, func(tx Tx) error {
		totals := req.Totals
		if req.QuoteID != "" {
			quote, err := tx.ConsumeQuote(ctx, req.QuoteID, req.OwnerID, now)
			if err != nil {
				return err
			}
			if totals == nil {
				totals = quote.Totals
				if err := validateTotals(totals); err != nil {
					return err
				}
			} else if totals.Currency != quote.Totals.Currency || !totals.AmountDue.Equal(quote.Totals.AmountDue) {
				return domain.Validationf("totals differ from quote %s", req.QuoteID)
			}
		}

		order = newOrder(req, totals, metadata, now)
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("owner_id", order.OwnerID),
		zap.String("provider", order.ProviderID),
		zap.String("amount_due", order.AmountDue.StringFixed(domain.MoneyPlaces)),
		zap.String("currency", order.Currency))
	l.fireCreated(order)
	return order, nil
}

func (l *Ledger) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return l.store.GetOrder(ctx, orderID)
}

// GetOwnedOrder returns the order only when it belongs to ownerID.
func (l *Ledger) GetOwnedOrder(ctx context.Context, ownerID, orderID string) (*domain.Order, error) {
	o, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != ownerID {
		return nil, fmt.Errorf("order %w", domain.ErrNotFound)
	}
	return o, nil
}

func (l *Ledger) ListOrders(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.ListOrders(ctx, ownerID, limit, offset)
}

// Wait blocks until every in-flight hook has returned.
func (l *Ledger) Wait() {
	l.wg.Wait()
}

func (l *Ledger) fireCreated(order *domain.Order) {
	l.mu.RLock()
	hooks := make([]Hook, len(l.hooks))
	copy(hooks, l.hooks)
	l.mu.RUnlock()

	for _, h := range hooks {
		l.wg.Add(1)
		go func(h Hook) {
			defer l.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					l.log.Error("order created hook panicked", zap.String("order_id", order.ID), zap.Any("panic", r))
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
			defer cancel()
			h(ctx, order)
		}(h)
	}
}

func newOrder(req CreateOrderRequest, t *domain.TotalsBreakdown, metadata []byte, now time.Time) *domain.Order {
	id := uuid.NewString()
	items := make([]domain.OrderItem, 0, len(t.Lines))
	for _, l := range t.Lines {
		items = append(items, domain.OrderItem{
			OrderID:          id,
			ItemID:           l.ItemID,
			ItemType:         l.ItemType,
			Name:             l.Name,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			LineTotal:        l.LineTotal,
			ManualProcessing: l.ManualProcessing,
		})
	}
	return &domain.Order{
		ID:            id,
		OwnerID:       req.OwnerID,
		QuoteID:       req.QuoteID,
		ProviderID:    req.ProviderID,
		Currency:      t.Currency,
		ExchangeRate:  t.ExchangeRate,
		Subtotal:      t.Subtotal,
		Discount:      t.Discount.Amount,
		DiscountID:    t.Discount.DiscountID,
		Tax:           t.Tax.Total,
		TotalAmount:   t.Total,
		AmountDue:     t.AmountDue,
		AmountPaid:    decimal.Zero,
		ItemTypes:     t.ItemTypes(),
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
		Metadata:      metadata,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
