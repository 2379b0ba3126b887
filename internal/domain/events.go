package domain

import "time"

// Order event types published after successful state changes.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEvent is the payload published to downstream consumers (fulfilment, notifications).
type OrderEvent struct {
	Type           string      `json:"type"`
	OrderID        string      `json:"order_id"`
	ExternalID     string      `json:"external_id"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	PaymentStatus  string      `json:"payment_status,omitempty"`
	Total          int64       `json:"total"`
	Currency       string      `json:"currency"`
	IsTest         bool        `json:"is_test"`
	Source         string      `json:"source,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}
