package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/settlement-service/domain"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type conflictDetails struct {
	CurrentLines    []domain.CartLine `json:"current_lines"`
	CurrentVersion  string            `json:"current_version"`
	CurrentFamily   domain.ItemType   `json:"current_family,omitempty"`
	AttemptedFamily domain.ItemType   `json:"attempted_family,omitempty"`
}

type stockDetails struct {
	ItemID    string          `json:"item_id"`
	ItemType  domain.ItemType `json:"item_type"`
	Available int             `json:"available"`
	Requested int             `json:"requested"`
}

type discountDetails struct {
	Code   string `json:"discount_code"`
	Reason string `json:"reason"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleError turns a domain error into a response. Validation and conflict
// errors carry what the caller needs to fix the request; provider and
// persistence failures never leak their detail.
func handleError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		conflict *domain.ConflictError
		stock    *domain.InsufficientStockError
		discount *domain.DiscountError
	)
	switch {
	case errors.As(err, &conflict):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  string(conflict.Kind),
			Details: conflictDetails{
				CurrentLines:    conflict.CurrentLines,
				CurrentVersion:  conflict.CurrentVersion,
				CurrentFamily:   conflict.CurrentFamily,
				AttemptedFamily: conflict.AttemptedFamily,
			},
		})
	case errors.As(err, &stock):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "insufficient_stock",
			Details: stockDetails{
				ItemID:    stock.ItemID,
				ItemType:  stock.ItemType,
				Available: stock.Available,
				Requested: stock.Requested,
			},
		})
	case errors.As(err, &discount):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   err.Error(),
			Code:    "discount_not_applied",
			Details: discountDetails{Code: discount.Code, Reason: discount.Reason},
		})
	case errors.Is(err, domain.ErrValidation):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrQuoteUnavailable):
		respondError(w, http.StatusConflict, "quote_unavailable", err.Error())
	case errors.Is(err, domain.ErrIllegalTransition):
		respondError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, domain.ErrConflict):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrExternalProvider):
		log.Error("payment provider failure", zap.Error(err))
		respondError(w, http.StatusBadGateway, "provider_error", "payment provider unavailable")
	default:
		log.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
