package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Orders interface {
	GetOwnedOrder(ctx context.Context, ownerID, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Order, error)
}

// StatusPoller is the client-driven confirmation channel.
type StatusPoller interface {
	PollStatus(ctx context.Context, ownerID, orderID string) (*domain.ConfirmResult, error)
}

type OrdersHandler struct {
	orders  Orders
	poller  StatusPoller
	timeout time.Duration
	log     *zap.Logger
}

func NewOrdersHandler(orders Orders, poller StatusPoller, timeout time.Duration, log *zap.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, poller: poller, timeout: timeout, log: log}
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	orders, err := h.orders.ListOrders(ctx, getUserIDFromContext(r.Context()), limit, offset)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	o, err := h.orders.GetOwnedOrder(ctx, getUserIDFromContext(r.Context()), orderID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// GET /api/v1/orders/{order_id}/status
func (h *OrdersHandler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	res, err := h.poller.PollStatus(ctx, getUserIDFromContext(r.Context()), orderID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
