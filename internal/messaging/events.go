// Package messaging carries order integration events out of the process.
// Events are written to the order_outbox table in the same transaction as
// the state they describe and relayed to RabbitMQ by the dispatcher, so
// external consumers (fulfilment, analytics) see at-least-once delivery
// that never precedes the committed state.
package messaging

import "time"

const (
	TypeOrderCreated = "orders.created"
	TypeOrderPaid    = "orders.paid"
	TypeOrderFailed  = "orders.failed"
)

type OrderCreatedEvent struct {
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	TotalCents int64     `json:"total_cents"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"created_at"`
}

type OrderSettledEvent struct {
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	TotalCents int64     `json:"total_cents"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	SettledAt  time.Time `json:"settled_at"`
}
