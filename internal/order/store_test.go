package order

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikaPanchulidze/Vinyl/internal/storage"
)

// Exercises the real Postgres store. Skipped unless TEST_DATABASE_URL
// points at a disposable database.
func setupPGStore(t *testing.T) *PGStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	store, err := storage.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return NewPGStore(store.Pool())
}

func testOrder(userID uuid.UUID) *Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Order{
		ID:     uuid.New(),
		UserID: userID,
		Items: []LineItem{
			{VinylID: uuid.New(), Name: "Abbey Road", PriceCents: 1000},
			{VinylID: uuid.New(), Name: "Kind of Blue", PriceCents: 2500},
		},
		TotalCents: 3500,
		Currency:   "usd",
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestPGStoreCreateAndFind(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()
	userID := uuid.New()

	o := testOrder(userID)
	require.NoError(t, store.Create(ctx, o))

	got, err := store.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.TotalCents, got.TotalCents)
	assert.Equal(t, StatusPending, got.Status)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Abbey Road", got.Items[0].Name)

	_, err = store.FindByOwnerAndID(ctx, uuid.New(), o.ID)
	require.ErrorIs(t, err, ErrOrderNotFound)

	mine, err := store.FindByOwner(ctx, userID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
}

func TestPGStoreUpdateAppliesPatchAndBumpsUpdatedAt(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()

	o := testOrder(uuid.New())
	require.NoError(t, store.Create(ctx, o))

	sessionID := "cs_pg_test"
	updated, err := store.Update(ctx, o.ID, Patch{SessionID: &sessionID})
	require.NoError(t, err)
	require.NotNil(t, updated.SessionID)
	assert.Equal(t, sessionID, *updated.SessionID)
	assert.True(t, updated.UpdatedAt.After(o.UpdatedAt))

	paid := StatusPaid
	updated, err = store.Update(ctx, o.ID, Patch{Status: &paid})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, updated.Status)
	assert.Equal(t, sessionID, *updated.SessionID, "session id survives a status-only patch")

	failed := StatusFailed
	updated, err = store.Update(ctx, o.ID, Patch{Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, updated.Status)
}

func TestPGStoreUpdateUnknownOrder(t *testing.T) {
	store := setupPGStore(t)
	paid := StatusPaid
	_, err := store.Update(context.Background(), uuid.New(), Patch{Status: &paid})
	require.ErrorIs(t, err, ErrOrderNotFound)
}
