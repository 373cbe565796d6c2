// Package statusfeed pushes live order status updates to websocket
// subscribers. Settlement listeners broadcast here; a slow or dead client
// is dropped rather than ever blocking a broadcast.
package statusfeed

import (
	"encoding/json"
	"sync"
)

type StatusUpdate struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type subscriber struct {
	send chan []byte
}

type Feed struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func New() *Feed {
	return &Feed{subs: make(map[string]map[*subscriber]struct{})}
}

func (f *Feed) subscribe(orderID string) *subscriber {
	sub := &subscriber{send: make(chan []byte, 16)}
	f.mu.Lock()
	set, ok := f.subs[orderID]
	if !ok {
		set = make(map[*subscriber]struct{})
		f.subs[orderID] = set
	}
	set[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

func (f *Feed) unsubscribe(orderID string, sub *subscriber) {
	f.mu.Lock()
	if set, ok := f.subs[orderID]; ok {
		if _, exists := set[sub]; exists {
			delete(set, sub)
			close(sub.send)
		}
		if len(set) == 0 {
			delete(f.subs, orderID)
		}
	}
	f.mu.Unlock()
}

// send delivers msg to sub if it is still registered. Holding the lock
// orders the delivery against Broadcast drops and Close, which close the
// channel.
func (f *Feed) send(orderID string, sub *subscriber, msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[orderID]
	if !ok {
		return
	}
	if _, exists := set[sub]; !exists {
		return
	}
	select {
	case sub.send <- msg:
	default:
	}
}

// Broadcast delivers the update to every subscriber of the order. Full
// send buffers drop the subscriber.
func (f *Feed) Broadcast(update StatusUpdate) {
	msg, err := json.Marshal(update)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[update.OrderID]
	if !ok {
		return
	}
	for sub := range set {
		select {
		case sub.send <- msg:
		default:
			delete(set, sub)
			close(sub.send)
		}
	}
	if len(set) == 0 {
		delete(f.subs, update.OrderID)
	}
}

// Close tears down every subscriber, ending their write loops.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for orderID, set := range f.subs {
		for sub := range set {
			close(sub.send)
		}
		delete(f.subs, orderID)
	}
}
