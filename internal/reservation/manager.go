package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/pricing"
	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("settlement/reservation")

// DefaultTTL is how long a quote holds its stock.
const DefaultTTL = 10 * time.Minute

type Calculator interface {
	Calculate(ctx context.Context, req pricing.Request) (*domain.TotalsBreakdown, error)
}

type QuoteRequest struct {
	OwnerID      string
	Currency     string
	DiscountCode string
}

type Manager struct {
	store   Store
	calc    Calculator
	ttl     time.Duration
	batch   int
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewManager(store Store, calc Calculator, ttl time.Duration, batch int, m *metrics.Metrics, log *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if batch <= 0 {
		batch = 100
	}
	return &Manager{
		store:   store,
		calc:    calc,
		ttl:     ttl,
		batch:   batch,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Quote snapshots the owner's cart price and holds every finite-stock line.
// Either every line is held or nothing is. A discount code that cannot be
// applied fails the quote with its *domain.DiscountError.
func (m *Manager) Quote(ctx context.Context, req QuoteRequest) (*domain.CheckoutQuote, error) {
	ctx, span := tracer.Start(ctx, "reservation.Quote")
	defer span.End()
	span.SetAttributes(attribute.String("owner_id", req.OwnerID))

	totals, err := m.calc.Calculate(ctx, pricing.Request{
		OwnerID:      req.OwnerID,
		Currency:     req.Currency,
		DiscountCode: req.DiscountCode,
		ContextID:    "checkout_quote",
	})
	if err != nil {
		return nil, err
	}
	if len(totals.Lines) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrEmptyCart)
	}

	now := m.now().UTC()
	quote := &domain.CheckoutQuote{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		Totals:    totals,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}

	err = m.store.InTx(ctx, func(tx Tx) error {
		// lines are sorted by (type, id), so concurrent quotes lock rows in the same order
		for _, l := range totals.Lines {
			if !l.ItemType.TracksStock() {
				continue
			}
			stock, err := tx.LockStock(ctx, l.ItemID, l.ItemType)
			if err != nil {
				return err
			}
			if stock < l.Quantity {
				return &domain.InsufficientStockError{
					ItemID:    l.ItemID,
					ItemType:  l.ItemType,
					Available: stock,
					Requested: l.Quantity,
				}
			}
			if err := tx.AdjustStock(ctx, l.ItemID, l.ItemType, -l.Quantity); err != nil {
				return err
			}
			quote.Reservations = append(quote.Reservations, domain.Reservation{
				ItemID:           l.ItemID,
				ItemType:         l.ItemType,
				QuantityReserved: l.Quantity,
				StockBefore:      stock,
			})
		}
		return tx.InsertQuote(ctx, quote)
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("quote created",
		zap.String("quote_id", quote.ID),
		zap.String("owner_id", quote.OwnerID),
		zap.Int("reservations", len(quote.Reservations)),
		zap.Time("expires_at", quote.ExpiresAt))
	return quote, nil
}

// Release gives a quote's stock back. Only the first caller releases; a
// quote already consumed, expired or released reports false.
func (m *Manager) Release(ctx context.Context, quoteID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "reservation.Release")
	defer span.End()

	var released bool
	err := m.store.InTx(ctx, func(tx Tx) error {
		var err error
		released, err = m.release(ctx, tx, quoteID, domain.ReleaseReleased)
		return err
	})
	if err != nil {
		return false, err
	}
	if released {
		m.metrics.Releases.WithLabelValues(string(domain.ReleaseReleased)).Inc()
		m.log.Info("quote released", zap.String("quote_id", quoteID))
	}
	return released, nil
}

// ReleaseOwned releases a quote on behalf of its owner.
func (m *Manager) ReleaseOwned(ctx context.Context, ownerID, quoteID string) (bool, error) {
	q, err := m.GetQuote(ctx, quoteID)
	if err != nil {
		return false, err
	}
	if q.OwnerID != ownerID {
		return false, fmt.Errorf("quote %w", domain.ErrNotFound)
	}
	return m.Release(ctx, quoteID)
}

func (m *Manager) GetQuote(ctx context.Context, quoteID string) (*domain.CheckoutQuote, error) {
	return m.store.GetQuote(ctx, quoteID)
}

// ExpireDue releases every unused quote past its expiry and returns how many
// it released. Quotes locked by a concurrent sweep are skipped.
func (m *Manager) ExpireDue(ctx context.Context) (int, error) {
	total := 0
	for {
		n, claimed, err := m.expireBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if claimed < m.batch {
			return total, nil
		}
	}
}

func (m *Manager) expireBatch(ctx context.Context) (released, claimed int, err error) {
	ctx, span := tracer.Start(ctx, "reservation.ExpireDue")
	defer span.End()

	now := m.now().UTC()
	err = m.store.InTx(ctx, func(tx Tx) error {
		released = 0
		ids, err := tx.LockExpiredQuotes(ctx, now, m.batch)
		if err != nil {
			return err
		}
		claimed = len(ids)
		for _, id := range ids {
			ok, err := m.release(ctx, tx, id, domain.ReleaseExpired)
			if err != nil {
				return err
			}
			if ok {
				released++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if released > 0 {
		m.metrics.Releases.WithLabelValues(string(domain.ReleaseExpired)).Add(float64(released))
		m.log.Info("expired quotes released", zap.Int("count", released))
	}
	return released, claimed, nil
}

func (m *Manager) release(ctx context.Context, tx Tx, quoteID string, reason domain.ReleaseReason) (bool, error) {
	ok, err := tx.ReleaseQuote(ctx, quoteID, reason, m.now().UTC())
	if err != nil || !ok {
		return false, err
	}
	held, err := tx.Reservations(ctx, quoteID)
	if err != nil {
		return false, err
	}
	if err := Restock(ctx, tx, held); err != nil {
		return false, err
	}
	return true, nil
}
