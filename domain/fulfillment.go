package domain

import (
	"encoding/json"
	"time"
)

// Collaborator names a downstream system notified after settlement.
type Collaborator string

const (
	CollaboratorDelivery     Collaborator = "delivery"
	CollaboratorShipping     Collaborator = "shipping"
	CollaboratorNotification Collaborator = "notification"
)

type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusDead    TaskStatus = "dead"
)

// FulfillmentTask is one outbound call owed to a collaborator for a paid order.
type FulfillmentTask struct {
	ID            string          `json:"task_id"`
	OrderID       string          `json:"order_id"`
	OwnerID       string          `json:"owner_id"`
	Collaborator  Collaborator    `json:"collaborator"`
	Status        TaskStatus      `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SettledEvent is the payload handed to collaborators and published on the
// order.settled stream.
type SettledEvent struct {
	OrderID       string      `json:"order_id"`
	OwnerID       string      `json:"owner_id"`
	TransactionID string      `json:"transaction_id"`
	Currency      string      `json:"currency"`
	AmountPaid    string      `json:"amount_paid"`
	OrderStatus   OrderStatus `json:"order_status"`
	Items         []OrderItem `json:"items"`
	OrderedAt     time.Time   `json:"ordered_at"`
	PaidAt        time.Time   `json:"paid_at"`
}

// CartCutoff is the instant after which a cart change belongs to a new
// shopping session and must survive the post-payment clear.
func (e SettledEvent) CartCutoff() time.Time {
	if !e.OrderedAt.IsZero() {
		return e.OrderedAt
	}
	return e.PaidAt
}

// TasksFor lists the collaborators owed work for an order with the given items.
func TasksFor(items []OrderItem) []Collaborator {
	var digital, physical bool
	for _, it := range items {
		if it.ItemType.IsDigital() {
			digital = true
		}
		if it.ItemType.RequiresShipping() {
			physical = true
		}
	}
	var out []Collaborator
	if digital {
		out = append(out, CollaboratorDelivery)
	}
	if physical {
		out = append(out, CollaboratorShipping)
	}
	return append(out, CollaboratorNotification)
}
