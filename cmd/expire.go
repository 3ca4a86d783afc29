package main

import (
	"fmt"

	"github.com/fjod/go_cart/settlement-service/internal/reservation"
	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// expireQuotesCmd runs one expiry sweep, for deployments that schedule it
// externally instead of running the in-process expirer.
func expireQuotesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "expire-quotes",
		Short: "Release every expired checkout quote once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			repo, err := openRepository(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer repo.Close()

			// expiry never prices, so no calculator is needed
			manager := reservation.NewManager(reservation.NewStore(repo), nil,
				cfg.Reservation.QuoteTTL, cfg.Reservation.ExpiryBatch, metrics.Noop(), log)
			n, err := manager.ExpireDue(cmd.Context())
			if err != nil {
				return fmt.Errorf("expire quotes: %w", err)
			}
			log.Info("expired quotes released", zap.Int("count", n))
			return nil
		},
	}
}
