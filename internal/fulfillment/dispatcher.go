package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

type Store interface {
	ClaimDueTasks(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.FulfillmentTask, error)
	MarkTaskDone(ctx context.Context, taskID string, attempts int) error
	RescheduleTask(ctx context.Context, taskID string, attempts int, next time.Time, lastErr string) error
	MarkTaskDead(ctx context.Context, taskID string, attempts int, lastErr string) error
}

var _ Store = (*repository.Repository)(nil)

type Options struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	CallTimeout  time.Duration
	Concurrency  int
}

func (o *Options) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 5 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Minute
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
}

// Dispatcher delivers queued fulfillment tasks. Failures only ever touch the
// task row, never the order.
type Dispatcher struct {
	store         Store
	collaborators map[domain.Collaborator]Collaborator
	opts          Options
	wake          chan struct{}
	metrics       *metrics.Metrics
	log           *zap.Logger
	now           func() time.Time
}

func NewDispatcher(store Store, collaborators map[domain.Collaborator]Collaborator, opts Options, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	opts.withDefaults()
	return &Dispatcher{
		store:         store,
		collaborators: collaborators,
		opts:          opts,
		wake:          make(chan struct{}, 1),
		metrics:       m,
		log:           log,
		now:           time.Now,
	}
}

// Wake asks for a poll right away. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-d.wake:
		case <-ctx.Done():
			return
		}
		for {
			n, err := d.ProcessDue(ctx)
			if err != nil {
				if ctx.Err() == nil {
					d.log.Error("failed to process fulfillment tasks", zap.Error(err))
				}
				break
			}
			if n < d.opts.BatchSize {
				break
			}
		}
	}
}

// ProcessDue claims one batch of due tasks and attempts each. It returns how
// many tasks were claimed.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	lease := d.opts.CallTimeout*2 + d.opts.PollInterval
	tasks, err := d.store.ClaimDueTasks(ctx, d.now().UTC(), lease, d.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	// one task's bookkeeping failure must not cancel its siblings
	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for _, task := range tasks {
		g.Go(func() error {
			return d.attempt(ctx, task)
		})
	}
	return len(tasks), g.Wait()
}

func (d *Dispatcher) attempt(ctx context.Context, task domain.FulfillmentTask) error {
	attempts := task.Attempts + 1
	log := d.log.With(
		zap.String("task_id", task.ID),
		zap.String("order_id", task.OrderID),
		zap.String("collaborator", string(task.Collaborator)),
		zap.Int("attempt", attempts))

	sendErr := d.send(ctx, task)
	if sendErr == nil {
		d.metrics.Tasks.WithLabelValues(string(task.Collaborator), "done").Inc()
		log.Info("fulfillment task delivered")
		return d.store.MarkTaskDone(ctx, task.ID, attempts)
	}

	if IsPermanent(sendErr) || attempts >= d.opts.MaxAttempts {
		d.metrics.Tasks.WithLabelValues(string(task.Collaborator), "dead").Inc()
		log.Error("fulfillment task dead", zap.Error(sendErr))
		return d.store.MarkTaskDead(ctx, task.ID, attempts, sendErr.Error())
	}

	next := d.now().UTC().Add(d.Backoff(attempts))
	d.metrics.Tasks.WithLabelValues(string(task.Collaborator), "retry").Inc()
	log.Warn("fulfillment task failed, will retry", zap.Time("next_attempt_at", next), zap.Error(sendErr))
	return d.store.RescheduleTask(ctx, task.ID, attempts, next, sendErr.Error())
}

func (d *Dispatcher) send(ctx context.Context, task domain.FulfillmentTask) error {
	collab, ok := d.collaborators[task.Collaborator]
	if !ok {
		return Permanent(fmt.Errorf("no collaborator registered for %q", task.Collaborator))
	}
	var event domain.SettledEvent
	if err := json.Unmarshal(task.Payload, &event); err != nil {
		return Permanent(fmt.Errorf("malformed task payload: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	defer cancel()
	return collab.Send(ctx, event)
}

// Backoff is the delay before the attempt after the given one: base doubled
// per attempt, capped at the configured maximum.
func (d *Dispatcher) Backoff(attempt int) time.Duration {
	delay := d.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.opts.MaxBackoff {
			return d.opts.MaxBackoff
		}
	}
	return delay
}
