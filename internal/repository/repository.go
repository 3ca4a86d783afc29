package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// pq error code for unique_violation
const uniqueViolation = "23505"

var (
	ErrDuplicateTransaction = errors.New("order already has a transaction")
	ErrQuoteNotFound        = fmt.Errorf("checkout quote %w", domain.ErrNotFound)
	ErrOrderNotFound        = fmt.Errorf("order %w", domain.ErrNotFound)
	ErrDiscountNotFound     = fmt.Errorf("discount %w", domain.ErrNotFound)
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

func (c *Credentials) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.DBName)
}

// Repository is the Postgres store behind quotes, orders, transactions,
// discounts and fulfillment tasks.
type Repository struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewRepository(ctx context.Context, cred *Credentials, log *zap.Logger) (*Repository, error) {
	db, err := sql.Open("postgres", cred.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.PingContext(ctx); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	log.Info("connected to postgres", zap.String("host", cred.Host), zap.String("db", cred.DBName))
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "settlement_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// InTx runs fn inside one database transaction. fn's error rolls the
// transaction back and is returned unchanged.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin transaction", err)
	}

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, persistence("rollback", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return persistence("commit", err)
	}
	return nil
}

// Tx exposes the statements that must run under one transaction.
type Tx struct {
	tx *sql.Tx
}

func persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func itemTypesToArray(types []domain.ItemType) pq.StringArray {
	out := make(pq.StringArray, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func arrayToItemTypes(arr pq.StringArray) []domain.ItemType {
	if len(arr) == 0 {
		return nil
	}
	out := make([]domain.ItemType, len(arr))
	for i, s := range arr {
		out[i] = domain.ItemType(s)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
