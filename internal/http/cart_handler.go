package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/cart"
	"github.com/fjod/go_cart/settlement-service/internal/pricing"
	"go.uber.org/zap"
)

type CartService interface {
	Sync(ctx context.Context, req cart.SyncRequest) (*cart.SyncResult, error)
	GetCart(ctx context.Context, ownerID string) (*domain.Cart, error)
}

type Calculator interface {
	Calculate(ctx context.Context, req pricing.Request) (*domain.TotalsBreakdown, error)
}

type CartHandler struct {
	carts   CartService
	calc    Calculator
	timeout time.Duration
	log     *zap.Logger
}

func NewCartHandler(carts CartService, calc Calculator, timeout time.Duration, log *zap.Logger) *CartHandler {
	return &CartHandler{carts: carts, calc: calc, timeout: timeout, log: log}
}

type CartLineDTO struct {
	ItemID   string          `json:"item_id"`
	ItemType domain.ItemType `json:"item_type"`
	Quantity int             `json:"quantity"`
}

type SyncCartRequestDTO struct {
	Lines    []CartLineDTO `json:"lines"`
	IsUpdate bool          `json:"is_update"`
	Version  string        `json:"version"`
}

type CartResponseDTO struct {
	Lines   []domain.CartLine `json:"lines"`
	Version string            `json:"version"`
}

type CalculateRequestDTO struct {
	Currency     string `json:"currency"`
	DiscountCode string `json:"discount_code"`
}

type CalculateResponseDTO struct {
	Totals        *domain.TotalsBreakdown `json:"totals"`
	DiscountError *discountDetails        `json:"discount_error,omitempty"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	c, err := h.carts.GetCart(ctx, getUserIDFromContext(r.Context()))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	lines := c.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	respondJSON(w, http.StatusOK, CartResponseDTO{Lines: lines, Version: c.Version()})
}

// PUT /api/v1/cart
func (h *CartHandler) SyncCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req SyncCartRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	ownerID := getUserIDFromContext(r.Context())
	lines := make([]domain.CartLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, domain.CartLine{
			OwnerID:  ownerID,
			ItemID:   l.ItemID,
			ItemType: l.ItemType,
			Quantity: l.Quantity,
		})
	}

	res, err := h.carts.Sync(ctx, cart.SyncRequest{
		OwnerID:       ownerID,
		Lines:         lines,
		IsUpdate:      req.IsUpdate,
		ClientVersion: req.Version,
	})
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, CartResponseDTO{Lines: res.Lines, Version: res.Version})
}

// POST /api/v1/cart/calculate
func (h *CartHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CalculateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	totals, err := h.calc.Calculate(ctx, pricing.Request{
		OwnerID:      getUserIDFromContext(r.Context()),
		Currency:     strings.ToUpper(req.Currency),
		DiscountCode: req.DiscountCode,
		ContextID:    "cart_calculate",
	})
	var discountErr *domain.DiscountError
	switch {
	case errors.As(err, &discountErr) && totals != nil:
		respondJSON(w, http.StatusOK, CalculateResponseDTO{
			Totals:        totals,
			DiscountError: &discountDetails{Code: discountErr.Code, Reason: discountErr.Reason},
		})
	case err != nil:
		handleError(w, h.log, err)
	default:
		respondJSON(w, http.StatusOK, CalculateResponseDTO{Totals: totals})
	}
}
