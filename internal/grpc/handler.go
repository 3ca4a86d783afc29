package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Settler interface {
	ConfirmPayment(ctx context.Context, orderID string, meta domain.ProviderTxnMeta) (*domain.ConfirmResult, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
}

// SettlementHandler lets trusted internal callers (payment workers, ops
// tooling) confirm payments without going through HTTP.
type SettlementHandler struct {
	settler Settler
	log     *zap.Logger
}

func NewSettlementHandler(settler Settler, log *zap.Logger) *SettlementHandler {
	return &SettlementHandler{settler: settler, log: log}
}

func (h *SettlementHandler) ConfirmPayment(ctx context.Context, req *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error) {
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	meta := domain.ProviderTxnMeta{
		Channel:       domain.Channel(req.Channel),
		ProviderID:    req.ProviderID,
		ProviderTxnID: req.ProviderTxnID,
		Currency:      strings.ToUpper(req.Currency),
		RawResponse:   req.RawResponse,
	}
	if req.Amount != "" {
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid amount %q", req.Amount)
		}
		meta.Amount = decimal.NewNullDecimal(amount)
	}

	res, err := h.settler.ConfirmPayment(ctx, req.OrderID, meta)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &ConfirmPaymentResponse{Result: res}, nil
}

func (h *SettlementHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	o, err := h.settler.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &GetOrderResponse{Order: o}, nil
}

func (h *SettlementHandler) toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrIllegalTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrExternalProvider):
		h.log.Error("provider failure", zap.Error(err))
		return status.Error(codes.Unavailable, "payment provider unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		h.log.Error("settlement call failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}
