package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/gateway"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type Confirmations interface {
	HandleWebhook(ctx context.Context, providerID string, body []byte, headers http.Header) (*domain.ConfirmResult, error)
	ManualVerify(ctx context.Context, orderID string, v gateway.ManualVerification) (*domain.ConfirmResult, error)
}

// PaymentsHandler serves the provider push and admin confirmation channels.
type PaymentsHandler struct {
	confirmations Confirmations
	timeout       time.Duration
	log           *zap.Logger
}

func NewPaymentsHandler(c Confirmations, timeout time.Duration, log *zap.Logger) *PaymentsHandler {
	return &PaymentsHandler{confirmations: c, timeout: timeout, log: log}
}

type ManualVerifyRequestDTO struct {
	ProviderTxnID string `json:"provider_txn_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	VerifiedBy    string `json:"verified_by"`
	Note          string `json:"note"`
}

// POST /webhooks/{provider}
func (h *PaymentsHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "unreadable body")
		return
	}

	res, err := h.confirmations.HandleWebhook(ctx, chi.URLParam(r, "provider"), body, r.Header)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// POST /admin/orders/{order_id}/verify
func (h *PaymentsHandler) ManualVerify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ManualVerifyRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProviderTxnID == "" {
		respondError(w, http.StatusBadRequest, "missing_provider_txn_id", "provider_txn_id is required")
		return
	}

	v := gateway.ManualVerification{
		ProviderTxnID: req.ProviderTxnID,
		Currency:      strings.ToUpper(req.Currency),
		VerifiedBy:    req.VerifiedBy,
		Note:          req.Note,
	}
	if req.Amount != "" {
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_amount", "amount must be a decimal number")
			return
		}
		v.Amount = decimal.NewNullDecimal(amount)
	}

	res, err := h.confirmations.ManualVerify(ctx, chi.URLParam(r, "order_id"), v)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
