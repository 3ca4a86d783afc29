package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
)

func (t *Tx) InsertQuote(ctx context.Context, q *domain.CheckoutQuote) error {
	totals, err := json.Marshal(q.Totals)
	if err != nil {
		return fmt.Errorf("failed to marshal quote totals: %w", err)
	}

	query := `INSERT INTO checkout_quotes (id, owner_id, currency, totals, is_used, expires_at, created_at)
	          VALUES ($1, $2, $3, $4, FALSE, $5, $6)`
	if _, err := t.tx.ExecContext(ctx, query, q.ID, q.OwnerID, q.Totals.Currency, totals, q.ExpiresAt, q.CreatedAt); err != nil {
		return persistence("insert quote", err)
	}

	for _, res := range q.Reservations {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO quote_reservations (quote_id, item_id, item_type, quantity_reserved, stock_before)
			 VALUES ($1, $2, $3, $4, $5)`,
			q.ID, res.ItemID, res.ItemType, res.QuantityReserved, res.StockBefore)
		if err != nil {
			return persistence("insert reservation", err)
		}
	}
	return nil
}

// ReleaseQuote flips is_used from false to true. It reports false when the
// quote was already used, expired or released by someone else.
func (t *Tx) ReleaseQuote(ctx context.Context, quoteID string, reason domain.ReleaseReason, now time.Time) (bool, error) {
	query := `UPDATE checkout_quotes
	          SET is_used = TRUE, released_reason = $2, released_at = $3
	          WHERE id = $1 AND NOT is_used
	          RETURNING id`
	var id string
	err := t.tx.QueryRowContext(ctx, query, quoteID, reason, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistence("release quote", err)
	}
	return true, nil
}

// ConsumeQuote marks an owner's live quote as used by an order and returns it.
func (t *Tx) ConsumeQuote(ctx context.Context, quoteID, ownerID string, now time.Time) (*domain.CheckoutQuote, error) {
	query := `UPDATE checkout_quotes
	          SET is_used = TRUE, released_reason = $3, released_at = $4
	          WHERE id = $1 AND owner_id = $2 AND NOT is_used AND expires_at > $4
	          RETURNING ` + quoteColumns
	q, err := scanQuote(t.tx.QueryRowContext(ctx, query, quoteID, ownerID, domain.ReleaseConsumed, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrQuoteUnavailable
	}
	if err != nil {
		return nil, persistence("consume quote", err)
	}
	q.Reservations, err = t.Reservations(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (t *Tx) Reservations(ctx context.Context, quoteID string) ([]domain.Reservation, error) {
	return reservations(ctx, t.tx, quoteID)
}

// LockExpiredQuotes claims up to limit unused quotes past their expiry,
// skipping rows another sweeper already holds.
func (t *Tx) LockExpiredQuotes(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `SELECT id FROM checkout_quotes
	          WHERE NOT is_used AND expires_at <= $1
	          ORDER BY expires_at
	          LIMIT $2
	          FOR UPDATE SKIP LOCKED`
	rows, err := t.tx.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, persistence("lock expired quotes", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistence("scan expired quote", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate expired quotes", err)
	}
	return ids, nil
}

func (r *Repository) GetQuote(ctx context.Context, quoteID string) (*domain.CheckoutQuote, error) {
	query := `SELECT ` + quoteColumns + ` FROM checkout_quotes WHERE id = $1`
	q, err := scanQuote(r.db.QueryRowContext(ctx, query, quoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, persistence("get quote", err)
	}
	q.Reservations, err = reservations(ctx, r.db, quoteID)
	if err != nil {
		return nil, err
	}
	return q, nil
}

const quoteColumns = `id, owner_id, totals, is_used, COALESCE(released_reason, ''), expires_at, created_at`

func scanQuote(row *sql.Row) (*domain.CheckoutQuote, error) {
	var (
		q      domain.CheckoutQuote
		totals []byte
		reason string
	)
	if err := row.Scan(&q.ID, &q.OwnerID, &totals, &q.IsUsed, &reason, &q.ExpiresAt, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.ReleasedReason = domain.ReleaseReason(reason)
	q.Totals = &domain.TotalsBreakdown{}
	if err := json.Unmarshal(totals, q.Totals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quote totals: %w", err)
	}
	return &q, nil
}

func reservations(ctx context.Context, q querier, quoteID string) ([]domain.Reservation, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT item_id, item_type, quantity_reserved, stock_before
		 FROM quote_reservations WHERE quote_id = $1 ORDER BY item_type, item_id`, quoteID)
	if err != nil {
		return nil, persistence("query reservations", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.ItemID, &res.ItemType, &res.QuantityReserved, &res.StockBefore); err != nil {
			return nil, persistence("scan reservation", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate reservations", err)
	}
	return out, nil
}
