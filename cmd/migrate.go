package main

import (
	"fmt"

	"github.com/fjod/go_cart/settlement-service/internal/catalog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres and catalog migrations, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			repo, err := openRepository(cmd.Context(), cfg, log, true)
			if err != nil {
				return err
			}
			defer repo.Close()

			products, err := catalog.NewRepository(cfg.Catalog.Path)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer products.Close()
			if err := products.RunMigrations(cfg.Catalog.MigrationsPath); err != nil {
				return fmt.Errorf("migrate catalog: %w", err)
			}

			log.Info("migrations applied", zap.String("postgres", cfg.Postgres.MigrationsPath), zap.String("catalog", cfg.Catalog.MigrationsPath))
			return nil
		},
	}
}
