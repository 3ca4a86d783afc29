package poller

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	minRetryDelay = 500 * time.Millisecond
	maxRetryDelay = 30 * time.Second
)

// CartClearer empties an owner's cart unless it changed after cutoff.
type CartClearer interface {
	ClearCart(ctx context.Context, ownerID string, cutoff time.Time) (bool, error)
}

// messageReader is the part of *kafka.Reader the poller drives.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Poller consumes order.settled events and clears the paid cart. Settlement
// already clears it in-process; this covers a crash between commit and clear
// and a failed in-process clear. An offset is committed only once its event
// is handled, so an event whose clear keeps failing is retried here and,
// after a restart, redelivered.
type Poller struct {
	carts      CartClearer
	reader     messageReader
	metrics    *metrics.Metrics
	log        *zap.Logger
	retryDelay time.Duration
}

func NewPoller(carts CartClearer, topic, groupID string, m *metrics.Metrics, log *zap.Logger, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(carts, reader, m, log)
}

func newPoller(carts CartClearer, reader messageReader, m *metrics.Metrics, log *zap.Logger) *Poller {
	return &Poller{carts: carts, reader: reader, metrics: m, log: log, retryDelay: minRetryDelay}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.consumeOne(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("closing settled reader", zap.Error(err))
	}
}

func (p *Poller) consumeOne(ctx context.Context) {
	m, err := p.reader.FetchMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.log.Warn("reading settled event", zap.Error(err))
		}
		return
	}

	delay := p.retryDelay
	for {
		err = p.handle(ctx, m)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			// left uncommitted; the group hands it out again
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}

	if err := p.reader.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn("committing settled event", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

// handle returns an error only when the clear should be tried again.
// Malformed events are logged and dropped.
func (p *Poller) handle(ctx context.Context, m kafka.Message) error {
	var event domain.SettledEvent
	if errUnmarshal := json.Unmarshal(m.Value, &event); errUnmarshal != nil {
		p.log.Warn("malformed settled event", zap.Int64("offset", m.Offset), zap.Error(errUnmarshal))
		return nil
	}
	if event.OwnerID == "" || event.CartCutoff().IsZero() {
		p.log.Warn("settled event without owner or timestamps", zap.String("order_id", event.OrderID))
		return nil
	}

	cleared, err := p.carts.ClearCart(ctx, event.OwnerID, event.CartCutoff())
	switch {
	case err != nil:
		p.metrics.CartSyncs.WithLabelValues("clear_error").Inc()
		p.log.Error("clearing paid cart",
			zap.String("order_id", event.OrderID),
			zap.String("owner_id", event.OwnerID),
			zap.Error(err))
		return err
	case cleared:
		p.metrics.CartSyncs.WithLabelValues("cleared").Inc()
		p.log.Debug("paid cart cleared", zap.String("order_id", event.OrderID), zap.String("owner_id", event.OwnerID))
	default:
		p.log.Debug("cart kept, modified after payment", zap.String("owner_id", event.OwnerID))
	}
	return nil
}
