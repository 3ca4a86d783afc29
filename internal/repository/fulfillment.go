package repository

import (
	"context"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
)

// EnqueueTasks stores fulfillment work alongside the settlement that owes it.
// A task already queued for the same (order, collaborator) is kept as is.
func (t *Tx) EnqueueTasks(ctx context.Context, tasks []domain.FulfillmentTask) error {
	query := `INSERT INTO fulfillment_tasks (id, order_id, owner_id, collaborator, status, attempts,
	              next_attempt_at, payload, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $8)
	          ON CONFLICT (order_id, collaborator) DO NOTHING`
	for _, task := range tasks {
		_, err := t.tx.ExecContext(ctx, query, task.ID, task.OrderID, task.OwnerID, task.Collaborator,
			domain.TaskStatusPending, task.NextAttemptAt, []byte(task.Payload), task.CreatedAt)
		if err != nil {
			return persistence("enqueue fulfillment task", err)
		}
	}
	return nil
}

// ClaimDueTasks leases up to limit due tasks by pushing their next attempt
// past now+lease, so concurrent dispatchers never pick the same task.
func (r *Repository) ClaimDueTasks(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.FulfillmentTask, error) {
	var tasks []domain.FulfillmentTask
	err := r.InTx(ctx, func(tx *Tx) error {
		rows, err := tx.tx.QueryContext(ctx,
			`SELECT id, order_id, owner_id, collaborator, status, attempts, next_attempt_at,
			     COALESCE(last_error, ''), payload, created_at
			 FROM fulfillment_tasks
			 WHERE status = $1 AND next_attempt_at <= $2
			 ORDER BY next_attempt_at
			 LIMIT $3
			 FOR UPDATE SKIP LOCKED`,
			domain.TaskStatusPending, now, limit)
		if err != nil {
			return persistence("claim fulfillment tasks", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				task    domain.FulfillmentTask
				payload []byte
			)
			err := rows.Scan(&task.ID, &task.OrderID, &task.OwnerID, &task.Collaborator, &task.Status,
				&task.Attempts, &task.NextAttemptAt, &task.LastError, &payload, &task.CreatedAt)
			if err != nil {
				return persistence("scan fulfillment task", err)
			}
			task.Payload = payload
			tasks = append(tasks, task)
		}
		if err := rows.Err(); err != nil {
			return persistence("iterate fulfillment tasks", err)
		}
		rows.Close()

		for _, task := range tasks {
			_, err := tx.tx.ExecContext(ctx,
				`UPDATE fulfillment_tasks SET next_attempt_at = $2, updated_at = $3 WHERE id = $1`,
				task.ID, now.Add(lease), now)
			if err != nil {
				return persistence("lease fulfillment task", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *Repository) MarkTaskDone(ctx context.Context, taskID string, attempts int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fulfillment_tasks SET status = $2, attempts = $3, last_error = NULL, updated_at = NOW() WHERE id = $1`,
		taskID, domain.TaskStatusDone, attempts)
	if err != nil {
		return persistence("mark task done", err)
	}
	return nil
}

func (r *Repository) RescheduleTask(ctx context.Context, taskID string, attempts int, next time.Time, lastErr string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fulfillment_tasks SET attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = NOW() WHERE id = $1`,
		taskID, attempts, next, lastErr)
	if err != nil {
		return persistence("reschedule task", err)
	}
	return nil
}

func (r *Repository) MarkTaskDead(ctx context.Context, taskID string, attempts int, lastErr string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fulfillment_tasks SET status = $2, attempts = $3, last_error = $4, updated_at = NOW() WHERE id = $1`,
		taskID, domain.TaskStatusDead, attempts, lastErr)
	if err != nil {
		return persistence("mark task dead", err)
	}
	return nil
}

func (r *Repository) TasksForOrder(ctx context.Context, orderID string) ([]domain.FulfillmentTask, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, owner_id, collaborator, status, attempts, next_attempt_at,
		     COALESCE(last_error, ''), payload, created_at
		 FROM fulfillment_tasks WHERE order_id = $1 ORDER BY collaborator`, orderID)
	if err != nil {
		return nil, persistence("query fulfillment tasks", err)
	}
	defer rows.Close()

	var tasks []domain.FulfillmentTask
	for rows.Next() {
		var (
			task    domain.FulfillmentTask
			payload []byte
		)
		err := rows.Scan(&task.ID, &task.OrderID, &task.OwnerID, &task.Collaborator, &task.Status,
			&task.Attempts, &task.NextAttemptAt, &task.LastError, &payload, &task.CreatedAt)
		if err != nil {
			return nil, persistence("scan fulfillment task", err)
		}
		task.Payload = payload
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate fulfillment tasks", err)
	}
	return tasks, nil
}
