package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/NikaPanchulidze/Vinyl/internal/order"
)

var (
	ErrOrderNotPending = errors.New("order already paid or failed")
	ErrNoRedirectURL   = errors.New("provider returned no redirect url")
)

// SessionRecorder persists the provider session id onto the order, using
// the owner id as the authorization check.
type SessionRecorder interface {
	UpdateSessionID(ctx context.Context, orderID, userID uuid.UUID, sessionID string) (*order.Order, error)
}

// Gateway opens checkout sessions for pending orders.
type Gateway struct {
	provider   SessionCreator
	orders     SessionRecorder
	successURL string
	cancelURL  string
}

func NewGateway(provider SessionCreator, orders SessionRecorder, successURL, cancelURL string) *Gateway {
	return &Gateway{
		provider:   provider,
		orders:     orders,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

// CreateSession requests a checkout session for the order and returns the
// provider's redirect URL. Only pending orders qualify; the provider is
// never contacted otherwise. Re-attempting while still pending is allowed
// and overwrites the recorded session id. If anything fails the order is
// left untouched and still pending.
func (g *Gateway) CreateSession(ctx context.Context, o *order.Order) (string, error) {
	if o.Status != order.StatusPending {
		return "", ErrOrderNotPending
	}

	lines := make([]PriceLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, PriceLine{
			Name:      item.Name,
			UnitCents: item.PriceCents,
			Currency:  o.Currency,
		})
	}

	session, err := g.provider.CreateSession(ctx, SessionParams{
		Lines:      lines,
		OrderID:    o.ID.String(),
		SuccessURL: g.successURL,
		CancelURL:  g.cancelURL,
	})
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if session.URL == "" {
		return "", ErrNoRedirectURL
	}

	if _, err := g.orders.UpdateSessionID(ctx, o.ID, o.UserID, session.ID); err != nil {
		return "", fmt.Errorf("record session id: %w", err)
	}

	return session.URL, nil
}
