package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NikaPanchulidze/Vinyl/internal/catalog"
)

var (
	ErrNoItems         = errors.New("order needs at least one item")
	ErrMixedCurrencies = errors.New("order items have mixed currencies")
)

// Resolver is the catalog lookup consumed at creation time.
type Resolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (*catalog.Item, error)
}

type Service struct {
	store   Store
	catalog Resolver
}

func NewService(store Store, resolver Resolver) *Service {
	return &Service{store: store, catalog: resolver}
}

// Create resolves every requested vinyl and persists a pending order with
// purchase-time price snapshots. Any unresolvable id fails the whole
// operation; nothing is persisted.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, vinylIDs []uuid.UUID) (*Order, error) {
	unique := dedupe(vinylIDs)
	if len(unique) == 0 {
		return nil, ErrNoItems
	}

	items := make([]LineItem, 0, len(unique))
	var total int64
	var currency string
	for _, id := range unique {
		vinyl, err := s.catalog.Resolve(ctx, id)
		if err != nil {
			if errors.Is(err, catalog.ErrItemNotFound) {
				return nil, fmt.Errorf("vinyl %s: %w", id, catalog.ErrItemNotFound)
			}
			return nil, fmt.Errorf("resolve vinyl %s: %w", id, err)
		}
		if currency == "" {
			currency = vinyl.Currency
		} else if vinyl.Currency != currency {
			return nil, ErrMixedCurrencies
		}
		items = append(items, LineItem{
			VinylID:    vinyl.ID,
			Name:       vinyl.Name,
			PriceCents: vinyl.PriceCents,
		})
		total += vinyl.PriceCents
	}

	now := time.Now().UTC()
	o := &Order{
		ID:         uuid.New(),
		UserID:     userID,
		Items:      items,
		TotalCents: total,
		Currency:   currency,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	return s.store.FindByID(ctx, orderID)
}

func (s *Service) GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*Order, error) {
	return s.store.FindByOwnerAndID(ctx, userID, orderID)
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	return s.store.FindByOwner(ctx, userID)
}

func (s *Service) ListAll(ctx context.Context) ([]Order, error) {
	return s.store.FindAll(ctx)
}

// UpdateSessionID records the provider's checkout session on the order.
// The owner id is the authorization check: an id under someone else's
// order is a NotFound, not a write.
func (s *Service) UpdateSessionID(ctx context.Context, orderID, userID uuid.UUID, sessionID string) (*Order, error) {
	if _, err := s.store.FindByOwnerAndID(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return s.store.Update(ctx, orderID, Patch{SessionID: &sessionID})
}

// MarkPaid applies the settled outcome. The current status is deliberately
// not consulted: the provider delivers at least once and possibly out of
// order, so the most recently processed notification wins. Redelivery of
// the same outcome is therefore a harmless overwrite.
func (s *Service) MarkPaid(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	return s.setStatus(ctx, orderID, StatusPaid)
}

// MarkFailed is the failure half of MarkPaid, with the same
// last-write-wins behavior.
func (s *Service) MarkFailed(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	return s.setStatus(ctx, orderID, StatusFailed)
}

func (s *Service) setStatus(ctx context.Context, orderID uuid.UUID, status Status) (*Order, error) {
	if _, err := s.store.FindByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.Update(ctx, orderID, Patch{Status: &status})
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	result := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
