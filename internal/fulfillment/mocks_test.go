package fulfillment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
)

type fakeStore struct {
	m     sync.Mutex
	tasks map[string]*domain.FulfillmentTask
}

func newFakeStore(tasks ...domain.FulfillmentTask) *fakeStore {
	s := &fakeStore{tasks: map[string]*domain.FulfillmentTask{}}
	for i := range tasks {
		t := tasks[i]
		s.tasks[t.ID] = &t
	}
	return s
}

func (s *fakeStore) ClaimDueTasks(_ context.Context, now time.Time, lease time.Duration, limit int) ([]domain.FulfillmentTask, error) {
	s.m.Lock()
	defer s.m.Unlock()
	var due []domain.FulfillmentTask
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusPending && !t.NextAttemptAt.After(now) {
			due = append(due, *t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if len(due) > limit {
		due = due[:limit]
	}
	for _, t := range due {
		s.tasks[t.ID].NextAttemptAt = now.Add(lease)
	}
	return due, nil
}

func (s *fakeStore) MarkTaskDone(_ context.Context, taskID string, attempts int) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.tasks[taskID].Status = domain.TaskStatusDone
	s.tasks[taskID].Attempts = attempts
	s.tasks[taskID].LastError = ""
	return nil
}

func (s *fakeStore) RescheduleTask(_ context.Context, taskID string, attempts int, next time.Time, lastErr string) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.tasks[taskID].Attempts = attempts
	s.tasks[taskID].NextAttemptAt = next
	s.tasks[taskID].LastError = lastErr
	return nil
}

func (s *fakeStore) MarkTaskDead(_ context.Context, taskID string, attempts int, lastErr string) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.tasks[taskID].Status = domain.TaskStatusDead
	s.tasks[taskID].Attempts = attempts
	s.tasks[taskID].LastError = lastErr
	return nil
}

func (s *fakeStore) task(id string) domain.FulfillmentTask {
	s.m.Lock()
	defer s.m.Unlock()
	return *s.tasks[id]
}

// scriptedCollaborator returns the queued errors in order, then succeeds.
type scriptedCollaborator struct {
	m      sync.Mutex
	errs   []error
	events []domain.SettledEvent
}

func (c *scriptedCollaborator) Send(_ context.Context, event domain.SettledEvent) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.events = append(c.events, event)
	if len(c.errs) == 0 {
		return nil
	}
	err := c.errs[0]
	c.errs = c.errs[1:]
	return err
}

func (c *scriptedCollaborator) calls() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.events)
}
