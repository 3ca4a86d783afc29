package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"
)

type clearCall struct {
	ownerID string
	cutoff  time.Time
}

type mockClearer struct {
	m     sync.Mutex
	calls []clearCall
	// errs are returned in order before the clear starts succeeding
	errs []error
}

func (c *mockClearer) ClearCart(_ context.Context, ownerID string, cutoff time.Time) (bool, error) {
	c.m.Lock()
	defer c.m.Unlock()
	c.calls = append(c.calls, clearCall{ownerID, cutoff})
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return false, err
	}
	return true, nil
}

// fakeReader hands out queued messages and records commits.
type fakeReader struct {
	m         sync.Mutex
	queue     []kafkaGo.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkaGo.Message, error) {
	r.m.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.m.Unlock()
		return msg, nil
	}
	r.m.Unlock()
	<-ctx.Done()
	return kafkaGo.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	r.m.Lock()
	defer r.m.Unlock()
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.m.Lock()
	defer r.m.Unlock()
	return append([]int64(nil), r.committed...)
}

func settledMessage(t *testing.T, offset int64, owner string, orderedAt time.Time) kafkaGo.Message {
	t.Helper()
	value, err := json.Marshal(domain.SettledEvent{
		OrderID:   fmt.Sprintf("order-%d", offset),
		OwnerID:   owner,
		OrderedAt: orderedAt,
		PaidAt:    orderedAt.Add(time.Minute),
	})
	require.NoError(t, err)
	return kafkaGo.Message{Offset: offset, Value: value}
}

func (c *mockClearer) snapshot() []clearCall {
	c.m.Lock()
	defer c.m.Unlock()
	return append([]clearCall(nil), c.calls...)
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestPoller_ClearsCartOnSettledEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokers, cleanupKafka := setupKafka(t)
	defer cleanupKafka()
	topic := "order.settled"
	createTopic(t, brokers, topic)

	clearer := &mockClearer{}
	poller := NewPoller(clearer, topic, "cart-clear-test", metrics.Noop(), zap.NewNop(), brokers)
	defer poller.Close()

	orderedAt := time.Date(2026, 3, 1, 11, 55, 0, 0, time.UTC)
	good, err := json.Marshal(domain.SettledEvent{
		OrderID:     "order-1",
		OwnerID:     "user-1",
		Currency:    "USD",
		AmountPaid:  "50.00",
		OrderStatus: domain.OrderStatusCompleted,
		OrderedAt:   orderedAt,
		PaidAt:      orderedAt.Add(5 * time.Minute),
	})
	require.NoError(t, err)

	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(brokers),
		Topic:                  topic,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	err = w.WriteMessages(ctx,
		kafkaGo.Message{Key: []byte("order-0"), Value: []byte("{not json")},
		kafkaGo.Message{Key: []byte("order-1"), Value: good},
	)
	require.NoError(t, err)
	w.Close()

	go poller.Run(ctx)

	require.Eventually(t, func() bool {
		return len(clearer.snapshot()) == 1
	}, 15*time.Second, 500*time.Millisecond)

	call := clearer.snapshot()[0]
	assert.Equal(t, "user-1", call.ownerID)
	assert.True(t, orderedAt.Equal(call.cutoff))
}

func TestPoller_RetriesFailedClearBeforeCommit(t *testing.T) {
	orderedAt := time.Date(2026, 3, 1, 11, 55, 0, 0, time.UTC)
	reader := &fakeReader{queue: []kafkaGo.Message{settledMessage(t, 7, "user-1", orderedAt)}}
	clearer := &mockClearer{errs: []error{errors.New("mongo down"), errors.New("mongo down")}}
	p := newPoller(clearer, reader, metrics.Noop(), zap.NewNop())
	p.retryDelay = time.Millisecond

	p.consumeOne(context.Background())

	assert.Len(t, clearer.snapshot(), 3)
	assert.Equal(t, []int64{7}, reader.commits())
}

func TestPoller_FailingClearStaysUncommitted(t *testing.T) {
	orderedAt := time.Date(2026, 3, 1, 11, 55, 0, 0, time.UTC)
	reader := &fakeReader{queue: []kafkaGo.Message{settledMessage(t, 3, "user-1", orderedAt)}}
	clearer := &mockClearer{errs: []error{errors.New("mongo down")}}
	p := newPoller(clearer, reader, metrics.Noop(), zap.NewNop())
	p.retryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.consumeOne(ctx)
	}()
	require.Eventually(t, func() bool { return len(clearer.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Empty(t, reader.commits())

	// the group redelivers it to the next consumer, which clears and commits
	reader.queue = append(reader.queue, settledMessage(t, 3, "user-1", orderedAt))
	p.consumeOne(context.Background())
	assert.Len(t, clearer.snapshot(), 2)
	assert.Equal(t, []int64{3}, reader.commits())
}

func TestPoller_MalformedEventIsCommitted(t *testing.T) {
	reader := &fakeReader{queue: []kafkaGo.Message{{Offset: 1, Value: []byte("{not json")}}}
	clearer := &mockClearer{}
	p := newPoller(clearer, reader, metrics.Noop(), zap.NewNop())

	p.consumeOne(context.Background())

	assert.Empty(t, clearer.snapshot())
	assert.Equal(t, []int64{1}, reader.commits())
}
