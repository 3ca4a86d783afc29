package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
	Payments *PaymentsHandler
	Admin    *AdminHandler

	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Health         Pinger
	AdminToken     string
	RequestTimeout time.Duration
	Log            *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Instrument(cfg.Metrics, cfg.Log))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health.Ping(r.Context()); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(cfg.Gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware)
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cfg.Cart.GetCart)
			r.Put("/", cfg.Cart.SyncCart)
			r.Post("/calculate", cfg.Cart.Calculate)
		})
		r.Route("/checkout", func(r chi.Router) {
			r.Post("/", cfg.Checkout.Checkout)
			r.Post("/quote", cfg.Checkout.Quote)
			r.Delete("/quote/{quote_id}", cfg.Checkout.ReleaseQuote)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", cfg.Orders.ListOrders)
			r.Get("/{order_id}", cfg.Orders.GetOrder)
			r.Get("/{order_id}/status", cfg.Orders.OrderStatus)
		})
		r.Get("/products", cfg.Admin.ListProducts)
	})

	r.Post("/webhooks/{provider}", cfg.Payments.Webhook)
	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminMiddleware(cfg.AdminToken))
		r.Get("/orders/{order_id}", cfg.Admin.AuditOrder)
		r.Post("/orders/{order_id}/verify", cfg.Payments.ManualVerify)
		r.Put("/products/{item_type}/{product_id}", cfg.Admin.UpsertProduct)
		r.Put("/rates", cfg.Admin.PublishRates)
	})

	return otelhttp.NewHandler(r, "settlement-http")
}
