package order

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// LineItem is a purchase-time snapshot of one catalog item. The name and
// price are captured at creation so later catalog changes never leak into
// an existing order.
type LineItem struct {
	VinylID    uuid.UUID `json:"vinyl_id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
}

type Order struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Items      []LineItem `json:"items"`
	TotalCents int64      `json:"total_cents"`
	Currency   string     `json:"currency"`
	Status     Status     `json:"status"`
	SessionID  *string    `json:"stripe_session_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Patch is a partial update applied by the store. Nil fields are left
// untouched; updated_at is bumped on every apply.
type Patch struct {
	Status    *Status
	SessionID *string
}
