package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/gateway"
	"github.com/fjod/go_cart/settlement-service/internal/reservation"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Quotes interface {
	Quote(ctx context.Context, req reservation.QuoteRequest) (*domain.CheckoutQuote, error)
	ReleaseOwned(ctx context.Context, ownerID, quoteID string) (bool, error)
}

type Checkout interface {
	Checkout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutResult, error)
}

type CheckoutHandler struct {
	quotes   Quotes
	checkout Checkout
	timeout  time.Duration
	log      *zap.Logger
}

func NewCheckoutHandler(quotes Quotes, checkout Checkout, timeout time.Duration, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{quotes: quotes, checkout: checkout, timeout: timeout, log: log}
}

type QuoteRequestDTO struct {
	Currency     string `json:"currency"`
	DiscountCode string `json:"discount_code"`
}

type QuoteResponseDTO struct {
	QuoteID          string                  `json:"quote_id"`
	ExpiresAt        time.Time               `json:"expires_at"`
	Totals           *domain.TotalsBreakdown `json:"totals"`
	ReservationCount int                     `json:"reservation_count"`
}

type CheckoutRequestDTO struct {
	ProviderID   string `json:"provider_id"`
	Currency     string `json:"currency"`
	DiscountCode string `json:"discount_code"`
	QuoteID      string `json:"quote_id"`
}

type CheckoutResponseDTO struct {
	OrderID     string             `json:"order_id"`
	AmountDue   string             `json:"amount_due"`
	Currency    string             `json:"currency"`
	OrderStatus domain.OrderStatus `json:"order_status"`
	Session     *gateway.Session   `json:"session"`
}

// POST /api/v1/checkout/quote
func (h *CheckoutHandler) Quote(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req QuoteRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	q, err := h.quotes.Quote(ctx, reservation.QuoteRequest{
		OwnerID:      getUserIDFromContext(r.Context()),
		Currency:     strings.ToUpper(req.Currency),
		DiscountCode: req.DiscountCode,
	})
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, QuoteResponseDTO{
		QuoteID:          q.ID,
		ExpiresAt:        q.ExpiresAt,
		Totals:           q.Totals,
		ReservationCount: len(q.Reservations),
	})
}

// DELETE /api/v1/checkout/quote/{quote_id}
func (h *CheckoutHandler) ReleaseQuote(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	quoteID := chi.URLParam(r, "quote_id")
	if quoteID == "" {
		respondError(w, http.StatusBadRequest, "missing_quote_id", "quote_id is required")
		return
	}
	released, err := h.quotes.ReleaseOwned(ctx, getUserIDFromContext(r.Context()), quoteID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"quote_id": quoteID, "released": released})
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProviderID == "" {
		respondError(w, http.StatusBadRequest, "missing_provider_id", "provider_id is required")
		return
	}

	res, err := h.checkout.Checkout(ctx, gateway.CheckoutRequest{
		OwnerID:      getUserIDFromContext(r.Context()),
		ProviderID:   req.ProviderID,
		Currency:     strings.ToUpper(req.Currency),
		DiscountCode: req.DiscountCode,
		QuoteID:      req.QuoteID,
	})
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, CheckoutResponseDTO{
		OrderID:     res.Order.ID,
		AmountDue:   res.Order.AmountDue.StringFixed(domain.MoneyPlaces),
		Currency:    res.Order.Currency,
		OrderStatus: res.Order.OrderStatus,
		Session:     res.Session,
	})
}
