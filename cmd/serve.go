package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/cart"
	"github.com/fjod/go_cart/settlement-service/internal/cart/cache"
	"github.com/fjod/go_cart/settlement-service/internal/cart/poller"
	cartrepo "github.com/fjod/go_cart/settlement-service/internal/cart/repository"
	"github.com/fjod/go_cart/settlement-service/internal/catalog"
	"github.com/fjod/go_cart/settlement-service/internal/config"
	"github.com/fjod/go_cart/settlement-service/internal/fulfillment"
	"github.com/fjod/go_cart/settlement-service/internal/gateway"
	settlementgrpc "github.com/fjod/go_cart/settlement-service/internal/grpc"
	h "github.com/fjod/go_cart/settlement-service/internal/http"
	"github.com/fjod/go_cart/settlement-service/internal/ledger"
	"github.com/fjod/go_cart/settlement-service/internal/pricing"
	"github.com/fjod/go_cart/settlement-service/internal/pricing/rates"
	"github.com/fjod/go_cart/settlement-service/internal/reservation"
	"github.com/fjod/go_cart/settlement-service/internal/settlement"
	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func serveCmd(configPath *string) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC APIs with the background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, migrate bool) error {
	log.Info("settlement-service starting")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repo, err := openRepository(ctx, cfg, log, migrate)
	if err != nil {
		return err
	}
	defer repo.Close()

	products, err := catalog.NewRepository(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer products.Close()
	if migrate {
		if err := products.RunMigrations(cfg.Catalog.MigrationsPath); err != nil {
			return fmt.Errorf("migrate catalog: %w", err)
		}
	}

	mongoDB, err := cartrepo.ConnectMongoDB(ctx, cartrepo.ConnectOptions{
		URI:         cfg.Mongo.URI,
		Database:    cfg.Mongo.Database,
		AppName:     cfg.Service,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
		MinPoolSize: cfg.Mongo.MinPoolSize,
	})
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer func() {
		_ = mongoDB.Client().Disconnect(context.Background())
	}()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()

	static, err := rates.NewStatic(cfg.Pricing.BaseCurrency, cfg.Pricing.StaticRates)
	if err != nil {
		return fmt.Errorf("static rates: %w", err)
	}

	carts := cart.NewService(cartrepo.NewMongoRepository(mongoDB), cache.NewRedisCache(rdb), products, repo, m, log)
	liveRates := rates.NewRedis(rdb, cfg.Pricing.BaseCurrency, static, log)
	calc := pricing.NewCalculator(carts, repo, repo, liveRates, log)
	quotes := reservation.NewManager(reservation.NewStore(repo), calc, cfg.Reservation.QuoteTTL, cfg.Reservation.ExpiryBatch, m, log)

	orders := ledger.NewLedger(ledger.NewStore(repo), log)
	orders.OnOrderCreated(func(_ context.Context, o *domain.Order) {
		log.Info("order created",
			zap.String("order_id", o.ID),
			zap.String("owner_id", o.OwnerID),
			zap.String("provider", o.ProviderID),
			zap.String("amount_due", o.AmountDue.StringFixed(domain.MoneyPlaces)))
	})

	notifier := fulfillment.NewKafkaNotifier(cfg.Kafka.SettledTopic, cfg.Kafka.Brokers...)
	defer notifier.Close()
	dispatcher := fulfillment.NewDispatcher(repo, collaborators(cfg, notifier, log), fulfillment.Options{
		PollInterval: cfg.Fulfillment.PollInterval,
		BatchSize:    cfg.Fulfillment.BatchSize,
		MaxAttempts:  cfg.Fulfillment.MaxAttempts,
		BaseBackoff:  cfg.Fulfillment.BaseBackoff,
		MaxBackoff:   cfg.Fulfillment.MaxBackoff,
		CallTimeout:  cfg.Fulfillment.CallTimeout,
	}, m, log)

	settler := settlement.NewService(settlement.NewStore(repo), carts, dispatcher, m, log)
	gw := gateway.NewGateway(quotes, orders, settler, repo, log, providers(cfg, log)...)
	log.Info("payment providers enabled", zap.Strings("providers", gw.ProviderIDs()))

	timeout := cfg.HTTP.RequestTimeout
	httpServer := &http.Server{
		Addr: ":" + cfg.HTTP.Port,
		Handler: h.NewRouter(h.RouterConfig{
			Cart:           h.NewCartHandler(carts, calc, timeout, log),
			Checkout:       h.NewCheckoutHandler(quotes, gw, timeout, log),
			Orders:         h.NewOrdersHandler(orders, gw, timeout, log),
			Payments:       h.NewPaymentsHandler(gw, timeout, log),
			Admin:          h.NewAdminHandler(repo, products, liveRates, timeout, log),
			Metrics:        m,
			Gatherer:       reg,
			Health:         repo,
			AdminToken:     cfg.HTTP.AdminToken,
			RequestTimeout: timeout,
			Log:            log,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcServer, grpcHealth := settlementgrpc.NewServer(settlementgrpc.NewSettlementHandler(settler, log))
	lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	cartPoller := poller.NewPoller(carts, cfg.Kafka.SettledTopic, cfg.Kafka.CartGroupID, m, log, cfg.Kafka.Brokers...)
	defer cartPoller.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("port", cfg.HTTP.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc server listening", zap.String("port", cfg.GRPC.Port))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		dispatcher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		reservation.NewExpirer(quotes, cfg.Reservation.ExpiryInterval, log).Run(ctx)
		return nil
	})
	g.Go(func() error {
		cartPoller.Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		orders.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("settlement-service stopped")
	return nil
}

func collaborators(cfg *config.Config, notifier *fulfillment.KafkaNotifier, log *zap.Logger) map[domain.Collaborator]fulfillment.Collaborator {
	out := map[domain.Collaborator]fulfillment.Collaborator{
		domain.CollaboratorNotification: notifier,
	}
	if ep := cfg.Fulfillment.DeliveryEndpoint; ep != "" {
		out[domain.CollaboratorDelivery] = fulfillment.NewHTTPCollaborator(domain.CollaboratorDelivery, ep, cfg.Fulfillment.CallTimeout, log)
	} else {
		log.Warn("no delivery endpoint configured; delivery tasks will be dead-lettered")
	}
	if ep := cfg.Fulfillment.ShippingEndpoint; ep != "" {
		out[domain.CollaboratorShipping] = fulfillment.NewHTTPCollaborator(domain.CollaboratorShipping, ep, cfg.Fulfillment.CallTimeout, log)
	} else {
		log.Warn("no shipping endpoint configured; shipping tasks will be dead-lettered")
	}
	return out
}

func providers(cfg *config.Config, log *zap.Logger) []gateway.Provider {
	var out []gateway.Provider
	if cfg.Providers.Manual.Enabled {
		out = append(out, gateway.NewManualProvider())
	}
	if rc := cfg.Providers.Rest; rc.Enabled {
		out = append(out, gateway.NewRestProvider(gateway.RestConfig{
			ID:            rc.ID,
			BaseURL:       rc.BaseURL,
			ClientID:      rc.ClientID,
			ClientSecret:  rc.ClientSecret,
			WebhookSecret: rc.WebhookSecret,
			ReturnURL:     rc.ReturnURL,
			Timeout:       rc.Timeout,
		}, log))
	}
	return out
}
