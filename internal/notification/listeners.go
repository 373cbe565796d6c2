// Package notification reacts to bus announcements with emails, chat
// broadcasts and status-feed pushes. Everything here is best effort: a
// failure is logged and swallowed, and never reaches the payment path
// that triggered it.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"github.com/NikaPanchulidze/Vinyl/internal/bus"
	"github.com/NikaPanchulidze/Vinyl/internal/order"
	"github.com/NikaPanchulidze/Vinyl/internal/statusfeed"
)

// OrderLookup re-fetches order detail; bus payloads carry only the id.
type OrderLookup interface {
	Get(ctx context.Context, orderID uuid.UUID) (*order.Order, error)
}

type ChatSender interface {
	SendMessage(ctx context.Context, text string) error
}

type Broadcaster interface {
	Broadcast(update statusfeed.StatusUpdate)
}

type Listeners struct {
	orders    OrderLookup
	directory Directory
	mailer    Mailer
	chat      ChatSender
	feed      Broadcaster
	storeURL  string
	logger    *slog.Logger
}

func NewListeners(orders OrderLookup, directory Directory, mailer Mailer, chat ChatSender, feed Broadcaster, storeURL string, logger *slog.Logger) *Listeners {
	return &Listeners{
		orders:    orders,
		directory: directory,
		mailer:    mailer,
		chat:      chat,
		feed:      feed,
		storeURL:  storeURL,
		logger:    logger,
	}
}

func (l *Listeners) Register(b *bus.Bus) {
	b.SubscribeSettled(l.onSettled)
	b.SubscribeSettlementFailed(l.onSettlementFailed)
	b.SubscribeCatalogItemAdded(l.onCatalogItemAdded)
}

func (l *Listeners) onSettled(ctx context.Context, event bus.OrderSettled) {
	o, err := l.orders.Get(ctx, event.OrderID)
	if err != nil {
		l.logger.Error("settled listener: fetch order", "order_id", event.OrderID, "err", err)
		return
	}

	l.feed.Broadcast(statusfeed.StatusUpdate{OrderID: o.ID.String(), Status: string(o.Status)})

	l.mailOwner(ctx, o, "Payment Updated",
		"Hi %s, your payment has been successfully processed.",
		"<p>Hi <strong>%s</strong>, your payment has been successfully processed.</p>")
}

func (l *Listeners) onSettlementFailed(ctx context.Context, event bus.OrderSettlementFailed) {
	o, err := l.orders.Get(ctx, event.OrderID)
	if err != nil {
		l.logger.Error("failed listener: fetch order", "order_id", event.OrderID, "err", err)
		return
	}

	l.feed.Broadcast(statusfeed.StatusUpdate{OrderID: o.ID.String(), Status: string(o.Status)})

	l.mailOwner(ctx, o, "Payment Failed",
		"Hi %s, unfortunately, your payment could not be processed. Please try again.",
		"<p>Hi <strong>%s</strong>, unfortunately, your payment could not be processed. Please try again.</p>")
}

func (l *Listeners) mailOwner(ctx context.Context, o *order.Order, subject, textFormat, htmlFormat string) {
	contact, err := l.directory.Lookup(ctx, o.UserID)
	if err != nil {
		l.logger.Error("lookup order owner", "order_id", o.ID, "user_id", o.UserID, "err", err)
		return
	}

	mail := Mail{
		To:      contact.Email,
		Subject: subject,
		Text:    fmt.Sprintf(textFormat, contact.FirstName),
		HTML:    fmt.Sprintf(htmlFormat, contact.FirstName),
	}
	if err := l.mailer.Send(mail); err != nil {
		l.logger.Error("send settlement mail", "order_id", o.ID, "err", err)
	}
}

func (l *Listeners) onCatalogItemAdded(ctx context.Context, event bus.CatalogItemAdded) {
	link := fmt.Sprintf("%s=%s", l.storeURL, url.QueryEscape(event.Name))
	message := fmt.Sprintf(
		"<b>New Vinyl Added!</b>\n\n<b>Name:</b> %s\n<b>Price:</b> $%.2f\n<b>Link:</b> %s",
		event.Name, float64(event.PriceCents)/100, link,
	)
	if err := l.chat.SendMessage(ctx, message); err != nil {
		l.logger.Error("announce vinyl", "name", event.Name, "err", err)
	}
}
