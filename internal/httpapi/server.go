package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/NikaPanchulidze/Vinyl/internal/catalog"
	"github.com/NikaPanchulidze/Vinyl/internal/order"
	"github.com/NikaPanchulidze/Vinyl/internal/payment"
)

const maxWebhookBody = 1 << 20

// RoleAdmin in X-User-Role widens order listing to every user's orders.
const RoleAdmin = "admin"

type OrderService interface {
	Create(ctx context.Context, userID uuid.UUID, vinylIDs []uuid.UUID) (*order.Order, error)
	GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*order.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error)
	ListAll(ctx context.Context) ([]order.Order, error)
}

type CheckoutGateway interface {
	CreateSession(ctx context.Context, o *order.Order) (string, error)
}

type WebhookIntake interface {
	Handle(ctx context.Context, signatureHeader string, rawBody []byte) error
}

type CatalogService interface {
	Add(ctx context.Context, name, authorName string, priceCents int64, currency string) (*catalog.Item, error)
	List(ctx context.Context) ([]catalog.Item, error)
}

type Server struct {
	orders   OrderService
	checkout CheckoutGateway
	webhook  WebhookIntake
	catalog  CatalogService
	logger   *slog.Logger
	mux      *http.ServeMux
}

func NewServer(orders OrderService, checkout CheckoutGateway, webhook WebhookIntake, catalogSvc CatalogService, logger *slog.Logger) *Server {
	s := &Server{
		orders:   orders,
		checkout: checkout,
		webhook:  webhook,
		catalog:  catalogSvc,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /orders", s.createOrder)
	s.mux.HandleFunc("GET /orders", s.listOrders)
	s.mux.HandleFunc("GET /orders/{orderID}", s.getOrder)
	s.mux.HandleFunc("POST /orders/{orderID}/checkout", s.retryCheckout)
	s.mux.HandleFunc("POST /payment/webhook", s.handleWebhook)
	s.mux.HandleFunc("POST /vinyls", s.addVinyl)
	s.mux.HandleFunc("GET /vinyls", s.listVinyls)
}

func (s *Server) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		VinylIDs []uuid.UUID `json:"vinyl_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	o, err := s.orders.Create(r.Context(), userID, req.VinylIDs)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrItemNotFound):
			writeError(w, http.StatusNotFound, "one or more vinyls not found")
		case errors.Is(err, order.ErrNoItems), errors.Is(err, order.ErrMixedCurrencies):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("create order", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	url, err := s.checkout.CreateSession(r.Context(), o)
	if err != nil {
		s.logger.Error("create checkout session", "order_id", o.ID, "err", err)
		writeError(w, http.StatusBadGateway, "failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"order": o, "url": url})
}

func (s *Server) retryCheckout(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := s.orders.GetForUser(r.Context(), userID, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.Error("get order", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	url, err := s.checkout.CreateSession(r.Context(), o)
	if err != nil {
		if errors.Is(err, payment.ErrOrderNotPending) {
			writeError(w, http.StatusConflict, "order already paid or failed")
			return
		}
		s.logger.Error("create checkout session", "order_id", o.ID, "err", err)
		writeError(w, http.StatusBadGateway, "failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var orders []order.Order
	if r.Header.Get("X-User-Role") == RoleAdmin {
		orders, err = s.orders.ListAll(r.Context())
	} else {
		orders, err = s.orders.ListForUser(r.Context(), userID)
	}
	if err != nil {
		s.logger.Error("list orders", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := s.orders.GetForUser(r.Context(), userID, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.Error("get order", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	signature := r.Header.Get("Provider-Signature")
	if err := s.webhook.Handle(r.Context(), signature, body); err != nil {
		switch {
		case errors.Is(err, payment.ErrBadSignature), errors.Is(err, payment.ErrMissingOrderID):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, order.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		default:
			s.logger.Error("handle webhook", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) addVinyl(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-User-Role") != RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	var req struct {
		Name       string `json:"name"`
		AuthorName string `json:"author_name"`
		PriceCents int64  `json:"price_cents"`
		Currency   string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	item, err := s.catalog.Add(r.Context(), req.Name, req.AuthorName, req.PriceCents, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) listVinyls(w http.ResponseWriter, r *http.Request) {
	items, err := s.catalog.List(r.Context())
	if err != nil {
		s.logger.Error("list vinyls", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vinyls": items})
}

func (s *Server) userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	value := r.Header.Get("X-User-ID")
	if value == "" {
		return uuid.Nil, errors.New("missing X-User-ID header")
	}
	return uuid.Parse(value)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
