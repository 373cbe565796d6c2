// Package bus is the in-process event bus that decouples settlement
// outcomes from their side effects. Listeners are registered once at
// startup; every delivery runs on its own goroutine and a failing or
// panicking listener never reaches the publisher.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type OrderSettled struct {
	OrderID uuid.UUID
}

type OrderSettlementFailed struct {
	OrderID uuid.UUID
}

type CatalogItemAdded struct {
	Name       string
	PriceCents int64
	Currency   string
}

type Handler[T any] func(ctx context.Context, event T)

type group[T any] struct {
	mu       sync.RWMutex
	handlers []Handler[T]
}

func (g *group[T]) subscribe(h Handler[T]) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, h)
}

func (g *group[T]) publish(ctx context.Context, logger *slog.Logger, event T) {
	g.mu.RLock()
	handlers := make([]Handler[T], len(g.handlers))
	copy(handlers, g.handlers)
	g.mu.RUnlock()

	// Deliveries outlive the publisher's scope: a webhook handler's request
	// context is canceled as soon as the response is written, which must
	// not cancel the side effects it triggered.
	ctx = context.WithoutCancel(ctx)

	for _, h := range handlers {
		go func(h Handler[T]) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event listener panicked", "panic", r)
				}
			}()
			h(ctx, event)
		}(h)
	}
}

type Bus struct {
	logger *slog.Logger

	settled    group[OrderSettled]
	failed     group[OrderSettlementFailed]
	vinylAdded group[CatalogItemAdded]
}

func New(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

func (b *Bus) SubscribeSettled(h Handler[OrderSettled]) {
	b.settled.subscribe(h)
}

func (b *Bus) PublishSettled(ctx context.Context, event OrderSettled) {
	b.settled.publish(ctx, b.logger, event)
}

func (b *Bus) SubscribeSettlementFailed(h Handler[OrderSettlementFailed]) {
	b.failed.subscribe(h)
}

func (b *Bus) PublishSettlementFailed(ctx context.Context, event OrderSettlementFailed) {
	b.failed.publish(ctx, b.logger, event)
}

func (b *Bus) SubscribeCatalogItemAdded(h Handler[CatalogItemAdded]) {
	b.vinylAdded.subscribe(h)
}

func (b *Bus) PublishCatalogItemAdded(ctx context.Context, event CatalogItemAdded) {
	b.vinylAdded.publish(ctx, b.logger, event)
}
