package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/settlement-service/domain"
)

func (r *Repository) Available(ctx context.Context, itemID string, itemType domain.ItemType) (int, error) {
	return available(ctx, r.db, itemID, itemType, false)
}

// SetStock creates or overwrites the available count of an item.
func (r *Repository) SetStock(ctx context.Context, itemID string, itemType domain.ItemType, qty int) error {
	query := `INSERT INTO inventory (item_id, item_type, available, updated_at)
	          VALUES ($1, $2, $3, NOW())
	          ON CONFLICT (item_id, item_type) DO UPDATE SET available = EXCLUDED.available, updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, itemID, itemType, qty); err != nil {
		return persistence("set stock", err)
	}
	return nil
}

// LockStock reads the available count under a row lock. Items without an
// inventory row have nothing available.
func (t *Tx) LockStock(ctx context.Context, itemID string, itemType domain.ItemType) (int, error) {
	return available(ctx, t.tx, itemID, itemType, true)
}

// AdjustStock adds delta (negative to take stock) to an item's available count.
func (t *Tx) AdjustStock(ctx context.Context, itemID string, itemType domain.ItemType, delta int) error {
	query := `UPDATE inventory SET available = available + $3, updated_at = NOW()
	          WHERE item_id = $1 AND item_type = $2`
	res, err := t.tx.ExecContext(ctx, query, itemID, itemType, delta)
	if err != nil {
		return persistence("adjust stock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistence("adjust stock", err)
	}
	if n == 0 {
		return fmt.Errorf("inventory row for %s %s: %w", itemType, itemID, domain.ErrNotFound)
	}
	return nil
}

func available(ctx context.Context, q querier, itemID string, itemType domain.ItemType, lock bool) (int, error) {
	query := `SELECT available FROM inventory WHERE item_id = $1 AND item_type = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	var n int
	err := q.QueryRowContext(ctx, query, itemID, itemType).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, persistence("read stock", err)
	}
	return n, nil
}
