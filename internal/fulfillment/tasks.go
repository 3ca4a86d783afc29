package fulfillment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/google/uuid"
)

// NewTasks builds the pending tasks owed for a settled order. They are
// stored in the settlement transaction and picked up by the Dispatcher.
func NewTasks(event domain.SettledEvent, now time.Time) ([]domain.FulfillmentTask, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settled event: %w", err)
	}

	collaborators := domain.TasksFor(event.Items)
	tasks := make([]domain.FulfillmentTask, 0, len(collaborators))
	for _, c := range collaborators {
		tasks = append(tasks, domain.FulfillmentTask{
			ID:            uuid.NewString(),
			OrderID:       event.OrderID,
			OwnerID:       event.OwnerID,
			Collaborator:  c,
			Status:        domain.TaskStatusPending,
			NextAttemptAt: now,
			Payload:       payload,
			CreatedAt:     now,
		})
	}
	return tasks, nil
}
