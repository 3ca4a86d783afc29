package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/fulfillment"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
	"github.com/fjod/go_cart/settlement-service/pkg/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ConfirmPayment moves a pending order to paid exactly once. Any number of
// calls, from any channel and in any order, produce one transaction row; all
// but the first report AlreadyProcessed.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string, meta domain.ProviderTxnMeta) (*domain.ConfirmResult, error) {
	ctx, span := tracer.Start(ctx, "settlement.ConfirmPayment")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID), attribute.String("channel", string(meta.Channel)))

	res, order, err := s.confirm(ctx, orderID, meta)
	s.metrics.Confirmations.WithLabelValues(string(meta.Channel), confirmOutcome(res, err)).Inc()
	if err != nil {
		return nil, err
	}

	log := logger.WithTrace(ctx, s.log).With(
		zap.String("order_id", orderID),
		zap.String("channel", string(meta.Channel)),
		zap.String("provider", meta.ProviderID))
	if res.AlreadyProcessed {
		log.Info("payment already processed", zap.String("transaction_id", res.TransactionID))
		return res, nil
	}

	log.Info("payment settled",
		zap.String("transaction_id", res.TransactionID),
		zap.String("order_status", string(res.OrderStatus)))
	s.activate(ctx, order)
	return res, nil
}

func (s *Service) confirm(ctx context.Context, orderID string, meta domain.ProviderTxnMeta) (*domain.ConfirmResult, *domain.Order, error) {
	if orderID == "" {
		return nil, nil, domain.Validationf("order id is required")
	}
	if meta.ProviderTxnID == "" {
		return nil, nil, domain.Validationf("provider transaction id is required")
	}
	switch meta.Channel {
	case domain.ChannelWebhook, domain.ChannelPoll, domain.ChannelManual:
	default:
		return nil, nil, domain.Validationf("unknown confirmation channel %q", meta.Channel)
	}

	var (
		res   *domain.ConfirmResult
		order *domain.Order
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		// only the provider the order was placed with can settle it
		if meta.ProviderID != order.ProviderID {
			return domain.Validationf("provider %q cannot settle order placed with %q", meta.ProviderID, order.ProviderID)
		}

		if order.PaymentStatus == domain.PaymentStatusPaid || order.PaymentStatus == domain.PaymentStatusRefunded {
			existing, err := tx.FindTransaction(ctx, orderID)
			switch {
			case err == nil:
				res = alreadyProcessed(order, existing)
				return nil
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}
		}

		if order.PaymentStatus != domain.PaymentStatusPending && order.PaymentStatus != domain.PaymentStatusPaid {
			return fmt.Errorf("%w: payment is %s", domain.ErrIllegalTransition, order.PaymentStatus)
		}
		if order.OrderStatus.IsTerminal() {
			return fmt.Errorf("%w: order is %s", domain.ErrIllegalTransition, order.OrderStatus)
		}
		if meta.Amount.Valid && !meta.Amount.Decimal.Equal(order.AmountDue) {
			return domain.Validationf("paid amount %s does not match amount due %s",
				meta.Amount.Decimal.StringFixed(domain.MoneyPlaces), order.AmountDue.StringFixed(domain.MoneyPlaces))
		}
		if meta.Currency != "" && meta.Currency != order.Currency {
			return domain.Validationf("paid currency %s does not match order currency %s", meta.Currency, order.Currency)
		}

		items, err := tx.OrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		status := domain.StatusAfterPayment(items)
		if status != order.OrderStatus && !domain.CanTransitionTo(order.OrderStatus, status) {
			return fmt.Errorf("%w: %s to %s", domain.ErrIllegalTransition, order.OrderStatus, status)
		}

		now := s.now().UTC()
		txn := &domain.Transaction{
			ID:                  uuid.NewString(),
			OrderID:             order.ID,
			OwnerID:             order.OwnerID,
			Currency:            order.Currency,
			Amount:              order.AmountDue,
			ProviderID:          meta.ProviderID,
			ProviderTxnID:       meta.ProviderTxnID,
			Channel:             meta.Channel,
			RawProviderResponse: meta.RawResponse,
			CreatedAt:           now,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		if err := tx.MarkOrderPaid(ctx, order.ID, order.AmountDue, txn.ID, status, now); err != nil {
			return err
		}
		if err := tx.ActivateItems(ctx, order.ID); err != nil {
			return err
		}

		tasks, err := fulfillment.NewTasks(domain.SettledEvent{
			OrderID:       order.ID,
			OwnerID:       order.OwnerID,
			TransactionID: txn.ID,
			Currency:      order.Currency,
			AmountPaid:    order.AmountDue.StringFixed(domain.MoneyPlaces),
			OrderStatus:   status,
			Items:         activeItems(items),
			OrderedAt:     order.CreatedAt,
			PaidAt:        now,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.EnqueueTasks(ctx, tasks); err != nil {
			return err
		}

		order.PaymentStatus = domain.PaymentStatusPaid
		order.OrderStatus = status
		order.AmountPaid = order.AmountDue
		order.TransactionID = txn.ID
		order.UpdatedAt = now
		res = &domain.ConfirmResult{
			OrderID:       order.ID,
			TransactionID: txn.ID,
			OrderStatus:   status,
			PaymentStatus: domain.PaymentStatusPaid,
		}
		return nil
	})

	if errors.Is(err, repository.ErrDuplicateTransaction) {
		// the unique index caught a writer the row lock did not serialise
		return s.reread(ctx, orderID)
	}
	if err != nil {
		return nil, nil, err
	}
	return res, order, nil
}

func (s *Service) reread(ctx context.Context, orderID string) (*domain.ConfirmResult, *domain.Order, error) {
	existing, err := s.store.FindTransaction(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return alreadyProcessed(order, existing), order, nil
}

func alreadyProcessed(order *domain.Order, txn *domain.Transaction) *domain.ConfirmResult {
	return &domain.ConfirmResult{
		OrderID:          order.ID,
		AlreadyProcessed: true,
		TransactionID:    txn.ID,
		OrderStatus:      order.OrderStatus,
		PaymentStatus:    order.PaymentStatus,
	}
}

func activeItems(items []domain.OrderItem) []domain.OrderItem {
	out := make([]domain.OrderItem, len(items))
	for i, it := range items {
		it.Active = true
		out[i] = it
	}
	return out
}

func confirmOutcome(res *domain.ConfirmResult, err error) string {
	switch {
	case err == nil && res.AlreadyProcessed:
		return "already_processed"
	case err == nil:
		return "settled"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrIllegalTransition):
		return "rejected"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
