package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"
)

var ErrProductNotFound = fmt.Errorf("product %w", domain.ErrNotFound)

// Repository is the authoritative product and price source, kept in SQLite.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps ":memory:" coherent
	db.SetMaxOpenConns(1)

	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

const productColumns = `id, item_type, name, price, list_price, manual_processing, active`

// GetProduct returns the active product for (id, type).
func (r *Repository) GetProduct(ctx context.Context, itemID string, itemType domain.ItemType) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ? AND item_type = ? AND active = 1`

	p := &domain.Product{}
	err := r.db.QueryRowContext(ctx, query, itemID, string(itemType)).Scan(
		&p.ID,
		&p.ItemType,
		&p.Name,
		&p.Price,
		&p.ListPrice,
		&p.ManualProcessing,
		&p.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", itemType, itemID, ErrProductNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

func (r *Repository) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE active = 1 ORDER BY item_type, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p := &domain.Product{}
		err := rows.Scan(
			&p.ID,
			&p.ItemType,
			&p.Name,
			&p.Price,
			&p.ListPrice,
			&p.ManualProcessing,
			&p.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return products, nil
}

// UpsertProduct creates a product or replaces its price and flags.
func (r *Repository) UpsertProduct(ctx context.Context, p *domain.Product) error {
	query := `INSERT INTO products (` + productColumns + `, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	          ON CONFLICT (id, item_type) DO UPDATE SET
	              name = excluded.name,
	              price = excluded.price,
	              list_price = excluded.list_price,
	              manual_processing = excluded.manual_processing,
	              active = excluded.active,
	              updated_at = CURRENT_TIMESTAMP`
	_, err := r.db.ExecContext(ctx, query, p.ID, string(p.ItemType), p.Name,
		p.Price.StringFixed(domain.MoneyPlaces), p.ListPrice.StringFixed(domain.MoneyPlaces),
		p.ManualProcessing, p.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
