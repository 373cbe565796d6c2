package statusfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	gw "github.com/gorilla/websocket"

	"github.com/NikaPanchulidze/Vinyl/internal/order"
)

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// OrderReader authorizes the subscription: only the order's owner may
// watch its status.
type OrderReader interface {
	GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*order.Order, error)
}

type Handler struct {
	feed   *Feed
	orders OrderReader
}

func NewHandler(feed *Feed, orders OrderReader) *Handler {
	return &Handler{feed: feed, orders: orders}
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		http.Error(w, "missing or invalid X-User-ID header", http.StatusBadRequest)
		return
	}

	o, err := h.orders.GetForUser(r.Context(), userID, orderID)
	if err != nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := h.feed.subscribe(o.ID.String())
	go h.writeLoop(conn, sub)
	go h.readLoop(conn, o.ID.String(), sub)

	// Current status first, so the client never starts from a gap.
	if msg, err := json.Marshal(StatusUpdate{OrderID: o.ID.String(), Status: string(o.Status)}); err == nil {
		h.feed.send(o.ID.String(), sub, msg)
	}
}

func (h *Handler) readLoop(conn *gw.Conn, orderID string, sub *subscriber) {
	defer func() {
		h.feed.unsubscribe(orderID, sub)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writeLoop(conn *gw.Conn, sub *subscriber) {
	defer func() { _ = conn.Close() }()
	for msg := range sub.send {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
}
