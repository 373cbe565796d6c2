package payment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikaPanchulidze/Vinyl/internal/bus"
	"github.com/NikaPanchulidze/Vinyl/internal/catalog"
	"github.com/NikaPanchulidze/Vinyl/internal/order"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedEvent(eventType string, orderID string) (string, []byte) {
	body := []byte(fmt.Sprintf(
		`{"type":%q,"data":{"object":{"metadata":{"orderId":%q}}}}`,
		eventType, orderID,
	))
	return SignatureHeader(testSecret, time.Now(), body), body
}

type fakeSettler struct {
	mu     sync.Mutex
	paid   []uuid.UUID
	failed []uuid.UUID
	err    error
}

func (f *fakeSettler) MarkPaid(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.paid = append(f.paid, orderID)
	return &order.Order{ID: orderID, Status: order.StatusPaid}, nil
}

func (f *fakeSettler) MarkFailed(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.failed = append(f.failed, orderID)
	return &order.Order{ID: orderID, Status: order.StatusFailed}, nil
}

type recordingAnnouncer struct {
	mu      sync.Mutex
	settled []bus.OrderSettled
	failed  []bus.OrderSettlementFailed
}

func (r *recordingAnnouncer) PublishSettled(ctx context.Context, e bus.OrderSettled) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, e)
}

func (r *recordingAnnouncer) PublishSettlementFailed(ctx context.Context, e bus.OrderSettlementFailed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, e)
}

func newIntakeFixture() (*Intake, *fakeSettler, *recordingAnnouncer) {
	settler := &fakeSettler{}
	announcer := &recordingAnnouncer{}
	intake := NewIntake(NewVerifier(testSecret, 5*time.Minute), settler, announcer, discardLogger())
	return intake, settler, announcer
}

func TestHandleSettlesOrderAndAnnounces(t *testing.T) {
	intake, settler, announcer := newIntakeFixture()
	orderID := uuid.New()

	header, body := signedEvent("checkout.session.completed", orderID.String())
	require.NoError(t, intake.Handle(context.Background(), header, body))

	require.Len(t, settler.paid, 1)
	assert.Equal(t, orderID, settler.paid[0])
	require.Len(t, announcer.settled, 1)
	assert.Equal(t, orderID, announcer.settled[0].OrderID)
}

func TestHandleFailureEvents(t *testing.T) {
	for _, eventType := range []string{
		"payment_intent.payment_failed",
		"checkout.session.async_payment_failed",
		"checkout.session.expired",
	} {
		intake, settler, announcer := newIntakeFixture()
		orderID := uuid.New()

		header, body := signedEvent(eventType, orderID.String())
		require.NoError(t, intake.Handle(context.Background(), header, body), eventType)

		require.Len(t, settler.failed, 1, eventType)
		require.Len(t, announcer.failed, 1, eventType)
		assert.Empty(t, settler.paid, eventType)
	}
}

func TestHandleRejectsForgedSignature(t *testing.T) {
	intake, settler, announcer := newIntakeFixture()

	_, body := signedEvent("checkout.session.completed", uuid.New().String())
	forged := SignatureHeader("whsec_wrong", time.Now(), body)

	err := intake.Handle(context.Background(), forged, body)
	require.ErrorIs(t, err, ErrBadSignature)

	assert.Empty(t, settler.paid, "no state transition on forged delivery")
	assert.Empty(t, settler.failed)
	assert.Empty(t, announcer.settled, "no announcement on forged delivery")
	assert.Empty(t, announcer.failed)
}

func TestHandleUnknownEventTypeIsAcknowledged(t *testing.T) {
	intake, settler, announcer := newIntakeFixture()

	header, body := signedEvent("customer.subscription.updated", uuid.New().String())
	require.NoError(t, intake.Handle(context.Background(), header, body))

	assert.Empty(t, settler.paid)
	assert.Empty(t, settler.failed)
	assert.Empty(t, announcer.settled)
}

func TestHandleMissingOrderIDFailsClosed(t *testing.T) {
	intake, settler, _ := newIntakeFixture()

	body := []byte(`{"type":"checkout.session.completed","data":{"object":{"metadata":{}}}}`)
	header := SignatureHeader(testSecret, time.Now(), body)

	require.ErrorIs(t, intake.Handle(context.Background(), header, body), ErrMissingOrderID)
	assert.Empty(t, settler.paid)
}

func TestHandleMalformedOrderIDFailsClosed(t *testing.T) {
	intake, settler, _ := newIntakeFixture()

	header, body := signedEvent("checkout.session.completed", "not-a-uuid")
	require.ErrorIs(t, intake.Handle(context.Background(), header, body), ErrMissingOrderID)
	assert.Empty(t, settler.paid)
}

func TestHandleRedeliveryReappliesAndReannounces(t *testing.T) {
	intake, settler, announcer := newIntakeFixture()
	orderID := uuid.New()

	header, body := signedEvent("checkout.session.completed", orderID.String())
	require.NoError(t, intake.Handle(context.Background(), header, body))
	require.NoError(t, intake.Handle(context.Background(), header, body))

	assert.Len(t, settler.paid, 2, "redelivery reapplies the same status")
	assert.Len(t, announcer.settled, 2, "announcements are not deduplicated")
}

func TestHandlePropagatesUnknownOrder(t *testing.T) {
	intake, settler, announcer := newIntakeFixture()
	settler.err = order.ErrOrderNotFound

	header, body := signedEvent("checkout.session.completed", uuid.New().String())
	require.ErrorIs(t, intake.Handle(context.Background(), header, body), order.ErrOrderNotFound)
	assert.Empty(t, announcer.settled, "no announcement when the transition failed")
}

// memStore is a minimal in-memory order.Store for flow tests.
type memStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*order.Order
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[uuid.UUID]*order.Order)}
}

func (m *memStore) Create(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *o
	m.orders[o.ID] = &clone
	return nil
}

func (m *memStore) FindByID(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	clone := *o
	return &clone, nil
}

func (m *memStore) FindByOwnerAndID(ctx context.Context, userID, orderID uuid.UUID) (*order.Order, error) {
	o, err := m.FindByID(ctx, orderID)
	if err != nil || o.UserID != userID {
		return nil, order.ErrOrderNotFound
	}
	return o, nil
}

func (m *memStore) FindByOwner(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []order.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			result = append(result, *o)
		}
	}
	return result, nil
}

func (m *memStore) FindAll(ctx context.Context) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []order.Order
	for _, o := range m.orders {
		result = append(result, *o)
	}
	return result, nil
}

func (m *memStore) Update(ctx context.Context, orderID uuid.UUID, patch order.Patch) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	if patch.Status != nil {
		o.Status = *patch.Status
	}
	if patch.SessionID != nil {
		o.SessionID = patch.SessionID
	}
	o.UpdatedAt = time.Now().UTC()
	clone := *o
	return &clone, nil
}

type staticResolver map[uuid.UUID]*catalog.Item

func (s staticResolver) Resolve(ctx context.Context, id uuid.UUID) (*catalog.Item, error) {
	item, ok := s[id]
	if !ok {
		return nil, catalog.ErrItemNotFound
	}
	return item, nil
}

// TestCheckoutAndSettlementFlow walks the whole pipeline: create an order,
// open a checkout session, deliver a signed settlement webhook twice.
func TestCheckoutAndSettlementFlow(t *testing.T) {
	ctx := context.Background()

	vinylA := &catalog.Item{ID: uuid.New(), Name: "Abbey Road", PriceCents: 1000, Currency: "usd"}
	vinylB := &catalog.Item{ID: uuid.New(), Name: "Kind of Blue", PriceCents: 2500, Currency: "usd"}
	resolver := staticResolver{vinylA.ID: vinylA, vinylB.ID: vinylB}

	store := newMemStore()
	orders := order.NewService(store, resolver)

	eventBus := bus.New(discardLogger())
	settledCh := make(chan bus.OrderSettled, 4)
	eventBus.SubscribeSettled(func(ctx context.Context, e bus.OrderSettled) {
		// The persisted status must already be visible to listeners.
		o, err := orders.Get(ctx, e.OrderID)
		if assert.NoError(t, err) {
			assert.Equal(t, order.StatusPaid, o.Status)
		}
		settledCh <- e
	})

	userID := uuid.New()
	o, err := orders.Create(ctx, userID, []uuid.UUID{vinylA.ID, vinylB.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(3500), o.TotalCents)
	assert.Equal(t, "usd", o.Currency)
	assert.Equal(t, order.StatusPending, o.Status)

	provider := &fakeProvider{session: &Session{ID: "cs_flow_1", URL: "https://pay.example/cs_flow_1"}}
	gateway := NewGateway(provider, orders, "https://s", "https://c")

	url, err := gateway.CreateSession(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/cs_flow_1", url)

	stored, err := orders.Get(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SessionID)
	assert.Equal(t, "cs_flow_1", *stored.SessionID)

	// A second attempt while still pending succeeds and may overwrite.
	provider.session = &Session{ID: "cs_flow_2", URL: "https://pay.example/cs_flow_2"}
	_, err = gateway.CreateSession(ctx, stored)
	require.NoError(t, err)
	stored, err = orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "cs_flow_2", *stored.SessionID)

	intake := NewIntake(NewVerifier(testSecret, 5*time.Minute), orders, eventBus, discardLogger())
	header, body := signedEvent("checkout.session.completed", o.ID.String())

	require.NoError(t, intake.Handle(ctx, header, body))
	waitSettled(t, settledCh, o.ID)

	stored, err = orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, stored.Status)

	// Identical redelivery: still paid, announced again.
	require.NoError(t, intake.Handle(ctx, header, body))
	waitSettled(t, settledCh, o.ID)

	stored, err = orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, stored.Status)

	// Checkout on the settled order is refused before the provider is hit.
	provider.calls = 0
	_, err = gateway.CreateSession(ctx, stored)
	require.ErrorIs(t, err, ErrOrderNotPending)
	assert.Zero(t, provider.calls)
}

func waitSettled(t *testing.T, ch chan bus.OrderSettled, orderID uuid.UUID) {
	t.Helper()
	select {
	case e := <-ch:
		assert.Equal(t, orderID, e.OrderID)
	case <-time.After(time.Second):
		t.Fatal("OrderSettled was not announced")
	}
}
