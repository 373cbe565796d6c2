// Package catalog is the vinyl lookup consumed by order creation. Order
// line items snapshot the resolved price at purchase time, so catalog
// edits after the fact never touch existing orders.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NikaPanchulidze/Vinyl/internal/bus"
)

var ErrItemNotFound = errors.New("vinyl not found")

type Item struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	AuthorName string    `json:"author_name"`
	PriceCents int64     `json:"price_cents"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Service struct {
	pool *pgxpool.Pool
	bus  *bus.Bus
}

func NewService(pool *pgxpool.Pool, eventBus *bus.Bus) *Service {
	return &Service{pool: pool, bus: eventBus}
}

func (s *Service) Add(ctx context.Context, name, authorName string, priceCents int64, currency string) (*Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name must not be empty")
	}
	if priceCents <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}

	now := time.Now().UTC()
	item := &Item{
		ID:         uuid.New(),
		Name:       name,
		AuthorName: strings.TrimSpace(authorName),
		PriceCents: priceCents,
		Currency:   currency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO vinyls (id, name, author_name, price_cents, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID, item.Name, item.AuthorName, item.PriceCents, item.Currency, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert vinyl: %w", err)
	}

	s.bus.PublishCatalogItemAdded(ctx, bus.CatalogItemAdded{
		Name:       item.Name,
		PriceCents: item.PriceCents,
		Currency:   item.Currency,
	})

	return item, nil
}

func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (*Item, error) {
	var item Item
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, author_name, price_cents, currency, created_at, updated_at
		FROM vinyls
		WHERE id = $1`, id,
	).Scan(&item.ID, &item.Name, &item.AuthorName, &item.PriceCents, &item.Currency, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("get vinyl: %w", err)
	}
	return &item, nil
}

func (s *Service) List(ctx context.Context) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, author_name, price_cents, currency, created_at, updated_at
		FROM vinyls
		ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query vinyls: %w", err)
	}
	defer rows.Close()

	var result []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Name, &item.AuthorName, &item.PriceCents, &item.Currency, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}
