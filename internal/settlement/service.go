package settlement

import (
	"context"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("settlement/settlement")

// postCommitTimeout bounds the work done after a settlement commits.
const postCommitTimeout = 5 * time.Second

// CartClearer empties the owner's cart unless it changed after cutoff.
type CartClearer interface {
	ClearCart(ctx context.Context, ownerID string, cutoff time.Time) (bool, error)
}

// Waker nudges the fulfillment dispatcher to poll now.
type Waker interface {
	Wake()
}

// Service drives orders through payment and fulfillment. Every transition
// holds the order's row lock for its whole transaction.
type Service struct {
	store      Store
	carts      CartClearer
	dispatcher Waker
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

func NewService(store Store, carts CartClearer, dispatcher Waker, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		store:      store,
		carts:      carts,
		dispatcher: dispatcher,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// activate runs after a payment commit. Nothing here may fail the
// settlement; errors are logged and the dispatcher retries on its own.
func (s *Service) activate(ctx context.Context, order *domain.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
	defer cancel()

	log := s.log.With(zap.String("order_id", order.ID), zap.String("owner_id", order.OwnerID))

	if s.carts != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("cart clear panicked", zap.Any("panic", r))
				}
			}()
			cleared, err := s.carts.ClearCart(ctx, order.OwnerID, order.CreatedAt)
			if err != nil {
				log.Warn("failed to clear cart after payment", zap.Error(err))
				return
			}
			log.Debug("cart cleared after payment", zap.Bool("cleared", cleared))
		}()
	}

	if s.dispatcher != nil {
		s.dispatcher.Wake()
	}
}
