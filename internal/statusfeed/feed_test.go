package statusfeed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesSubscribers(t *testing.T) {
	feed := New()
	subA := feed.subscribe("order-1")
	subB := feed.subscribe("order-1")
	other := feed.subscribe("order-2")

	feed.Broadcast(StatusUpdate{OrderID: "order-1", Status: "paid"})

	for _, sub := range []*subscriber{subA, subB} {
		var update StatusUpdate
		require.NoError(t, json.Unmarshal(<-sub.send, &update))
		assert.Equal(t, "order-1", update.OrderID)
		assert.Equal(t, "paid", update.Status)
	}

	select {
	case <-other.send:
		t.Fatal("subscriber of a different order received the update")
	default:
	}
}

func TestBroadcastToUnknownOrderIsNoop(t *testing.T) {
	feed := New()
	require.NotPanics(t, func() {
		feed.Broadcast(StatusUpdate{OrderID: "nobody-watching", Status: "failed"})
	})
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	feed := New()
	sub := feed.subscribe("order-1")

	// Never read: once the buffer is full the subscriber gets cut off.
	for i := 0; i < cap(sub.send)+1; i++ {
		feed.Broadcast(StatusUpdate{OrderID: "order-1", Status: "pending"})
	}

	drained := 0
	for range sub.send {
		drained++
	}
	assert.Equal(t, cap(sub.send), drained, "channel must be closed after the drop")
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	feed := New()
	sub := feed.subscribe("order-1")
	feed.unsubscribe("order-1", sub)

	_, open := <-sub.send
	assert.False(t, open)

	// Idempotent.
	require.NotPanics(t, func() { feed.unsubscribe("order-1", sub) })
}

func TestSendSkipsDroppedSubscriber(t *testing.T) {
	feed := New()
	sub := feed.subscribe("order-1")

	feed.unsubscribe("order-1", sub)

	// The channel is closed; a send to a gone subscriber must be a noop,
	// not a panic.
	require.NotPanics(t, func() { feed.send("order-1", sub, []byte(`{}`)) })

	sub = feed.subscribe("order-2")
	feed.Close()
	require.NotPanics(t, func() { feed.send("order-2", sub, []byte(`{}`)) })
}

func TestSendDeliversToRegisteredSubscriber(t *testing.T) {
	feed := New()
	sub := feed.subscribe("order-1")

	feed.send("order-1", sub, []byte(`{"order_id":"order-1","status":"pending"}`))

	var update StatusUpdate
	require.NoError(t, json.Unmarshal(<-sub.send, &update))
	assert.Equal(t, "pending", update.Status)
}

func TestCloseTearsDownAllSubscribers(t *testing.T) {
	feed := New()
	subA := feed.subscribe("order-1")
	subB := feed.subscribe("order-2")
	feed.Close()

	for _, sub := range []*subscriber{subA, subB} {
		_, open := <-sub.send
		assert.False(t, open)
	}
}
