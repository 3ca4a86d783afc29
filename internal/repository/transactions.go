package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/settlement-service/domain"
)

// FindTransaction returns the paid transaction of an order, or an error
// wrapping domain.ErrNotFound.
func (t *Tx) FindTransaction(ctx context.Context, orderID string) (*domain.Transaction, error) {
	return findTransaction(ctx, t.tx, orderID)
}

func (r *Repository) FindTransaction(ctx context.Context, orderID string) (*domain.Transaction, error) {
	return findTransaction(ctx, r.db, orderID)
}

// InsertTransaction writes the single transaction row of an order. A second
// row for the same order fails with ErrDuplicateTransaction.
func (t *Tx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	var raw any
	if len(txn.RawProviderResponse) > 0 {
		raw = []byte(txn.RawProviderResponse)
	}

	query := `INSERT INTO transactions (id, order_id, owner_id, currency, amount, provider_id,
	              provider_txn_id, channel, raw_provider_response, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := t.tx.ExecContext(ctx, query, txn.ID, txn.OrderID, txn.OwnerID, txn.Currency, txn.Amount,
		txn.ProviderID, txn.ProviderTxnID, txn.Channel, raw, txn.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return persistence("insert transaction", err)
	}
	return nil
}

// CountTransactions returns how many transactions exist for an order.
func (r *Repository) CountTransactions(ctx context.Context, orderID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE order_id = $1`, orderID).Scan(&n); err != nil {
		return 0, persistence("count transactions", err)
	}
	return n, nil
}

func findTransaction(ctx context.Context, q querier, orderID string) (*domain.Transaction, error) {
	query := `SELECT id, order_id, owner_id, currency, amount, provider_id, provider_txn_id, channel,
	              raw_provider_response, created_at
	          FROM transactions WHERE order_id = $1`
	var (
		txn domain.Transaction
		raw []byte
	)
	err := q.QueryRowContext(ctx, query, orderID).Scan(&txn.ID, &txn.OrderID, &txn.OwnerID, &txn.Currency,
		&txn.Amount, &txn.ProviderID, &txn.ProviderTxnID, &txn.Channel, &raw, &txn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction for order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, persistence("find transaction", err)
	}
	txn.RawProviderResponse = raw
	return &txn, nil
}
