package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/NikaPanchulidze/Vinyl/internal/bus"
	"github.com/NikaPanchulidze/Vinyl/internal/order"
)

var ErrMissingOrderID = errors.New("order id missing in event metadata")

// Settler applies a settlement outcome to an order.
type Settler interface {
	MarkPaid(ctx context.Context, orderID uuid.UUID) (*order.Order, error)
	MarkFailed(ctx context.Context, orderID uuid.UUID) (*order.Order, error)
}

// Announcer fans a settlement outcome out to in-process listeners.
type Announcer interface {
	PublishSettled(ctx context.Context, event bus.OrderSettled)
	PublishSettlementFailed(ctx context.Context, event bus.OrderSettlementFailed)
}

// Intake turns one signed provider callback into at most one settlement
// transition plus one bus announcement. The pipeline is verify, classify,
// apply, announce; the announcement only happens after the transition is
// durably persisted.
type Intake struct {
	verifier *Verifier
	orders   Settler
	bus      Announcer
	logger   *slog.Logger
}

func NewIntake(verifier *Verifier, orders Settler, announcer Announcer, logger *slog.Logger) *Intake {
	return &Intake{
		verifier: verifier,
		orders:   orders,
		bus:      announcer,
		logger:   logger,
	}
}

type outcome int

const (
	outcomeIgnore outcome = iota
	outcomeSettled
	outcomeFailed
)

type providerEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// Handle processes one webhook delivery. A nil return means the provider
// gets {"received": true} and will not redeliver; any error provokes a
// provider-side retry. Redelivery of an already-processed event reapplies
// the same status and re-announces it; neither is deduplicated here.
func (i *Intake) Handle(ctx context.Context, signatureHeader string, rawBody []byte) error {
	if err := i.verifier.Verify(signatureHeader, rawBody); err != nil {
		// Wrong secret or a forged payload; either way worth noticing.
		i.logger.Warn("webhook signature rejected", "err", err)
		return err
	}

	var event providerEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return fmt.Errorf("parse webhook event: %w", err)
	}

	result := classify(event.Type)
	if result == outcomeIgnore {
		// The provider adds event types over time; unknown ones are
		// acknowledged so it stops redelivering them.
		i.logger.Info("unhandled webhook event type", "type", event.Type)
		return nil
	}

	orderID, err := orderIDFromMetadata(event.Data.Object.Metadata)
	if err != nil {
		return err
	}

	switch result {
	case outcomeSettled:
		if _, err := i.orders.MarkPaid(ctx, orderID); err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		i.bus.PublishSettled(ctx, bus.OrderSettled{OrderID: orderID})
	case outcomeFailed:
		if _, err := i.orders.MarkFailed(ctx, orderID); err != nil {
			return fmt.Errorf("mark order failed: %w", err)
		}
		i.bus.PublishSettlementFailed(ctx, bus.OrderSettlementFailed{OrderID: orderID})
	}

	return nil
}

func classify(eventType string) outcome {
	switch eventType {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded":
		return outcomeSettled
	case "payment_intent.payment_failed",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
		return outcomeFailed
	default:
		return outcomeIgnore
	}
}

// orderIDFromMetadata fails closed: a settlement event whose metadata
// carries no well-formed order id is either an integration bug or a signed
// payload for some unrelated object, and must not be acknowledged.
func orderIDFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	raw, ok := metadata["orderId"]
	if !ok || raw == "" {
		return uuid.Nil, ErrMissingOrderID
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q is not a valid id", ErrMissingOrderID, raw)
	}
	return id, nil
}
