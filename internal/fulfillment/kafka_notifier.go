package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes settled events, keyed by order id so one order's
// events stay on one partition.
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(topic string, brokers ...string) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaNotifier{writer: w}
}

func (n *KafkaNotifier) Send(ctx context.Context, event domain.SettledEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return Permanent(fmt.Errorf("failed to marshal event: %w", err))
	}
	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("order.settled")},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish settled event: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
