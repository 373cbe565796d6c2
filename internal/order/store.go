package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NikaPanchulidze/Vinyl/internal/messaging"
)

var ErrOrderNotFound = errors.New("order not found")

// Store persists order aggregates. It enforces nothing about transition
// legality; that policy lives in Service.
type Store interface {
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*Order, error)
	FindByOwnerAndID(ctx context.Context, userID, orderID uuid.UUID) (*Order, error)
	FindByOwner(ctx context.Context, userID uuid.UUID) ([]Order, error)
	// FindAll ignores ownership. Callers escalate to it explicitly; the
	// HTTP layer only does so for administrative identities.
	FindAll(ctx context.Context) ([]Order, error)
	Update(ctx context.Context, orderID uuid.UUID, patch Patch) (*Order, error)
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Create inserts the order, its line items and an order.created outbox row
// in one transaction. Either everything lands or nothing does.
func (s *PGStore) Create(ctx context.Context, o *Order) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, total_cents, currency, status, stripe_session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.UserID, o.TotalCents, o.Currency, o.Status, o.SessionID, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, vinyl_id, name, price_cents)
			VALUES ($1, $2, $3, $4)`,
			o.ID, item.VinylID, item.Name, item.PriceCents,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	event := messaging.OrderCreatedEvent{
		EventID:    uuid.New().String(),
		OrderID:    o.ID.String(),
		UserID:     o.UserID.String(),
		TotalCents: o.TotalCents,
		Currency:   o.Currency,
		CreatedAt:  o.CreatedAt,
	}
	if err := insertOutbox(ctx, tx, event.EventID, messaging.TypeOrderCreated, event); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PGStore) FindByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	return s.findOne(ctx, `WHERE id = $1`, orderID)
}

func (s *PGStore) FindByOwnerAndID(ctx context.Context, userID, orderID uuid.UUID) (*Order, error) {
	return s.findOne(ctx, `WHERE id = $1 AND user_id = $2`, orderID, userID)
}

func (s *PGStore) findOne(ctx context.Context, where string, args ...any) (*Order, error) {
	var o Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, total_cents, currency, status, stripe_session_id, created_at, updated_at
		FROM orders `+where,
		args...,
	).Scan(&o.ID, &o.UserID, &o.TotalCents, &o.Currency, &o.Status, &o.SessionID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := s.loadItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (s *PGStore) FindByOwner(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	return s.list(ctx, `WHERE user_id = $1`, userID)
}

func (s *PGStore) FindAll(ctx context.Context) ([]Order, error) {
	return s.list(ctx, ``)
}

func (s *PGStore) list(ctx context.Context, where string, args ...any) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, total_cents, currency, status, stripe_session_id, created_at, updated_at
		FROM orders `+where+`
		ORDER BY created_at DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalCents, &o.Currency, &o.Status, &o.SessionID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		items, err := s.loadItems(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Items = items
	}
	return result, nil
}

func (s *PGStore) loadItems(ctx context.Context, orderID uuid.UUID) ([]LineItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vinyl_id, name, price_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.VinylID, &item.Name, &item.PriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Update applies the patch in one UPDATE so concurrent writers for the
// same order serialize on the row lock. A terminal-status patch also
// records the matching outbox event in the same transaction, so the
// integration event never outruns the visible status.
func (s *PGStore) Update(ctx context.Context, orderID uuid.UUID, patch Patch) (*Order, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var o Order
	err = tx.QueryRow(ctx, `
		UPDATE orders
		SET status = COALESCE($2::text, status),
		    stripe_session_id = COALESCE($3::text, stripe_session_id),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, user_id, total_cents, currency, status, stripe_session_id, created_at, updated_at`,
		orderID, patch.Status, patch.SessionID,
	).Scan(&o.ID, &o.UserID, &o.TotalCents, &o.Currency, &o.Status, &o.SessionID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("update order: %w", err)
	}

	if patch.Status != nil {
		var eventType string
		switch *patch.Status {
		case StatusPaid:
			eventType = messaging.TypeOrderPaid
		case StatusFailed:
			eventType = messaging.TypeOrderFailed
		}
		if eventType != "" {
			event := messaging.OrderSettledEvent{
				EventID:    uuid.New().String(),
				OrderID:    o.ID.String(),
				UserID:     o.UserID.String(),
				TotalCents: o.TotalCents,
				Currency:   o.Currency,
				Status:     string(o.Status),
				SettledAt:  o.UpdatedAt,
			}
			if err := insertOutbox(ctx, tx, event.EventID, eventType, event); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	items, err := s.loadItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, eventID, eventType string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO order_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		eventID, eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
