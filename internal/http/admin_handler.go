package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// OrderAudit is the read side operators use to reconcile an order.
type OrderAudit interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	FindTransaction(ctx context.Context, orderID string) (*domain.Transaction, error)
	CountTransactions(ctx context.Context, orderID string) (int, error)
	TasksForOrder(ctx context.Context, orderID string) ([]domain.FulfillmentTask, error)
}

type Catalog interface {
	ListProducts(ctx context.Context) ([]*domain.Product, error)
	UpsertProduct(ctx context.Context, p *domain.Product) error
}

// RatePublisher stores exchange rates from the base currency.
type RatePublisher interface {
	Publish(ctx context.Context, rates map[string]decimal.Decimal) error
}

// AdminHandler serves the operator routes and the public product listing.
type AdminHandler struct {
	audit   OrderAudit
	catalog Catalog
	rates   RatePublisher
	timeout time.Duration
	log     *zap.Logger
}

func NewAdminHandler(audit OrderAudit, catalog Catalog, rates RatePublisher, timeout time.Duration, log *zap.Logger) *AdminHandler {
	return &AdminHandler{audit: audit, catalog: catalog, rates: rates, timeout: timeout, log: log}
}

type ProductDTO struct {
	ID               string          `json:"id"`
	ItemType         domain.ItemType `json:"item_type"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	ListPrice        decimal.Decimal `json:"list_price"`
	ManualProcessing bool            `json:"manual_processing"`
	Active           bool            `json:"active"`
}

func productDTO(p *domain.Product) ProductDTO {
	return ProductDTO{
		ID:               p.ID,
		ItemType:         p.ItemType,
		Name:             p.Name,
		Price:            p.Price,
		ListPrice:        p.ListPrice,
		ManualProcessing: p.ManualProcessing,
		Active:           p.Active,
	}
}

type UpsertProductRequestDTO struct {
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	ListPrice        decimal.Decimal `json:"list_price"`
	ManualProcessing bool            `json:"manual_processing"`
	Active           *bool           `json:"active"`
}

// OrderAuditResponse shows an order next to what settlement wrote for it.
// TransactionCount above one means the single-settlement guarantee broke.
type OrderAuditResponse struct {
	Order            *domain.Order            `json:"order"`
	Transaction      *domain.Transaction      `json:"transaction,omitempty"`
	TransactionCount int                      `json:"transaction_count"`
	Tasks            []domain.FulfillmentTask `json:"fulfillment_tasks"`
}

// GET /admin/orders/{order_id}
func (h *AdminHandler) AuditOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	order, err := h.audit.GetOrder(ctx, orderID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	resp := OrderAuditResponse{Order: order}
	txn, err := h.audit.FindTransaction(ctx, orderID)
	switch {
	case err == nil:
		resp.Transaction = txn
	case !errors.Is(err, domain.ErrNotFound):
		handleError(w, h.log, err)
		return
	}
	if resp.TransactionCount, err = h.audit.CountTransactions(ctx, orderID); err != nil {
		handleError(w, h.log, err)
		return
	}
	if resp.Tasks, err = h.audit.TasksForOrder(ctx, orderID); err != nil {
		handleError(w, h.log, err)
		return
	}
	if resp.Tasks == nil {
		resp.Tasks = []domain.FulfillmentTask{}
	}
	if resp.TransactionCount > 1 {
		h.log.Error("order has more than one transaction",
			zap.String("order_id", orderID), zap.Int("count", resp.TransactionCount))
	}
	respondJSON(w, http.StatusOK, resp)
}

// GET /api/v1/products
func (h *AdminHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.catalog.ListProducts(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	out := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		out = append(out, productDTO(p))
	}
	respondJSON(w, http.StatusOK, out)
}

// PUT /admin/products/{item_type}/{product_id}
func (h *AdminHandler) UpsertProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	itemType := domain.ItemType(chi.URLParam(r, "item_type"))
	if !itemType.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_item_type", "unknown item type")
		return
	}

	var req UpsertProductRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "missing_name", "name is required")
		return
	}
	if !req.Price.IsPositive() {
		respondError(w, http.StatusBadRequest, "invalid_price", "price must be positive")
		return
	}

	p := &domain.Product{
		ID:               chi.URLParam(r, "product_id"),
		ItemType:         itemType,
		Name:             req.Name,
		Price:            req.Price.Round(domain.MoneyPlaces),
		ListPrice:        req.ListPrice.Round(domain.MoneyPlaces),
		ManualProcessing: req.ManualProcessing,
		Active:           req.Active == nil || *req.Active,
	}
	if p.ListPrice.IsZero() {
		p.ListPrice = p.Price
	}
	if err := h.catalog.UpsertProduct(ctx, p); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.log.Info("product saved", zap.String("item_type", string(itemType)), zap.String("product_id", p.ID),
		zap.String("price", p.Price.StringFixed(domain.MoneyPlaces)))
	respondJSON(w, http.StatusOK, productDTO(p))
}

// PUT /admin/rates
func (h *AdminHandler) PublishRates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req map[string]decimal.Decimal
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if len(req) == 0 {
		respondError(w, http.StatusBadRequest, "missing_rates", "at least one rate is required")
		return
	}
	rates := make(map[string]decimal.Decimal, len(req))
	for cur, rate := range req {
		cur = strings.ToUpper(cur)
		if !currencyCode.MatchString(cur) {
			respondError(w, http.StatusBadRequest, "invalid_currency", "currency must be a 3-letter code")
			return
		}
		if !rate.IsPositive() {
			respondError(w, http.StatusBadRequest, "invalid_rate", "rate for "+cur+" must be positive")
			return
		}
		rates[cur] = rate
	}

	if err := h.rates.Publish(ctx, rates); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.log.Info("exchange rates published", zap.Int("currencies", len(rates)))
	respondJSON(w, http.StatusOK, rates)
}
