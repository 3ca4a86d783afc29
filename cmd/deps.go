package main

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/settlement-service/internal/config"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
	"github.com/fjod/go_cart/settlement-service/pkg/logger"
	"go.uber.org/zap"
)

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Service, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func credentials(cfg *config.Config) *repository.Credentials {
	return &repository.Credentials{
		Host:              cfg.Postgres.Host,
		Port:              cfg.Postgres.Port,
		User:              cfg.Postgres.User,
		Password:          cfg.Postgres.Password,
		DBName:            cfg.Postgres.DBName,
		MigrationsDirPath: cfg.Postgres.MigrationsPath,
	}
}

func openRepository(ctx context.Context, cfg *config.Config, log *zap.Logger, migrate bool) (*repository.Repository, error) {
	creds := credentials(cfg)
	repo, err := repository.NewRepository(ctx, creds, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if migrate {
		if err := repo.RunMigrations(creds); err != nil {
			repo.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return repo, nil
}
