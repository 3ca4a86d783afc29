package settlement

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/reservation"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type step struct {
	name    string
	from    []domain.OrderStatus
	payment []domain.PaymentStatus
	// target payment status; empty keeps the current one
	toPayment domain.PaymentStatus
	to        domain.OrderStatus
	restock   bool
}

var (
	stepFail = step{
		name:      "mark_failed",
		from:      []domain.OrderStatus{domain.OrderStatusPending},
		payment:   []domain.PaymentStatus{domain.PaymentStatusPending},
		toPayment: domain.PaymentStatusFailed,
		to:        domain.OrderStatusCancelled,
		restock:   true,
	}
	stepCancel = step{
		name:    "cancel",
		from:    []domain.OrderStatus{domain.OrderStatusPending},
		payment: []domain.PaymentStatus{domain.PaymentStatusPending},
		to:      domain.OrderStatusCancelled,
		restock: true,
	}
	stepFulfilled = step{
		name:    "mark_fulfilled",
		from:    []domain.OrderStatus{domain.OrderStatusAccepted, domain.OrderStatusProcessing},
		payment: []domain.PaymentStatus{domain.PaymentStatusPaid},
		to:      domain.OrderStatusShipped,
	}
	stepComplete = step{
		name:    "complete",
		from:    []domain.OrderStatus{domain.OrderStatusAccepted, domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered},
		payment: []domain.PaymentStatus{domain.PaymentStatusPaid},
		to:      domain.OrderStatusCompleted,
	}
	stepRefund = step{
		name:      "mark_refunded",
		from:      []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCompleted},
		payment:   []domain.PaymentStatus{domain.PaymentStatusPaid},
		toPayment: domain.PaymentStatusRefunded,
		to:        domain.OrderStatusRefunded,
	}
)

// MarkFailed records a failed payment: the order is cancelled, the stock its
// quote held goes back, and the cart stays untouched for a retry.
func (s *Service) MarkFailed(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	order, err := s.apply(ctx, orderID, stepFail)
	if err == nil {
		s.log.Info("payment failed", zap.String("order_id", orderID), zap.String("reason", reason))
	}
	return order, err
}

// MarkFulfilled marks a paid order as shipped.
func (s *Service) MarkFulfilled(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.apply(ctx, orderID, stepFulfilled)
}

func (s *Service) Complete(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.apply(ctx, orderID, stepComplete)
}

// Cancel drops an unpaid order and returns its held stock.
func (s *Service) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.apply(ctx, orderID, stepCancel)
}

// MarkRefunded only flags the order; money movement happens elsewhere.
func (s *Service) MarkRefunded(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.apply(ctx, orderID, stepRefund)
}

// apply runs one non-payment transition under the order lock. Repeating a
// transition that already happened returns the order unchanged.
func (s *Service) apply(ctx context.Context, orderID string, st step) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "settlement."+st.name)
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	var order *domain.Order
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}

		payment := order.PaymentStatus
		if st.toPayment != "" {
			payment = st.toPayment
		}
		if order.OrderStatus == st.to && order.PaymentStatus == payment {
			return nil
		}
		if !contains(st.payment, order.PaymentStatus) || !contains(st.from, order.OrderStatus) {
			return fmt.Errorf("%w: cannot %s an order that is %s with payment %s",
				domain.ErrIllegalTransition, st.name, order.OrderStatus, order.PaymentStatus)
		}
		if !domain.CanTransitionTo(order.OrderStatus, st.to) {
			return fmt.Errorf("%w: %s to %s", domain.ErrIllegalTransition, order.OrderStatus, st.to)
		}

		now := s.now().UTC()
		if err := tx.UpdateOrderStatus(ctx, orderID, payment, st.to, now); err != nil {
			return err
		}
		if st.restock && order.QuoteID != "" {
			held, err := tx.Reservations(ctx, order.QuoteID)
			if err != nil {
				return err
			}
			if err := reservation.Restock(ctx, tx, held); err != nil {
				return err
			}
		}

		order.PaymentStatus = payment
		order.OrderStatus = st.to
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("order transition",
		zap.String("order_id", orderID),
		zap.String("step", st.name),
		zap.String("order_status", string(order.OrderStatus)),
		zap.String("payment_status", string(order.PaymentStatus)))
	return order, nil
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
