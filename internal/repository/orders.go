package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, owner_id, quote_id, provider_id, currency, exchange_rate, subtotal, discount,
	discount_id, tax, total_amount, amount_due, amount_paid, item_types, payment_status,
	order_status, transaction_id, metadata, created_at, updated_at`

func (t *Tx) InsertOrder(ctx context.Context, o *domain.Order) error {
	metadata := o.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}

	query := `INSERT INTO orders (id, owner_id, quote_id, provider_id, currency, exchange_rate, subtotal,
	              discount, discount_id, tax, total_amount, amount_due, amount_paid, item_types,
	              payment_status, order_status, metadata, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)`
	_, err := t.tx.ExecContext(ctx, query,
		o.ID,
		o.OwnerID,
		nullString(o.QuoteID),
		o.ProviderID,
		o.Currency,
		o.ExchangeRate,
		o.Subtotal,
		o.Discount,
		nullString(o.DiscountID),
		o.Tax,
		o.TotalAmount,
		o.AmountDue,
		o.AmountPaid,
		itemTypesToArray(o.ItemTypes),
		o.PaymentStatus,
		o.OrderStatus,
		metadata,
		o.CreatedAt)
	if err != nil {
		return persistence("insert order", err)
	}

	for _, it := range o.Items {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, item_id, item_type, name, quantity, unit_price, line_total,
			     manual_processing, active)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			o.ID, it.ItemID, it.ItemType, it.Name, it.Quantity, it.UnitPrice, it.LineTotal,
			it.ManualProcessing, it.Active)
		if err != nil {
			return persistence("insert order item", err)
		}
	}
	return nil
}

// LockOrder loads an order and holds its row lock until the transaction ends.
// Every settlement transition of one order is serialized here.
func (t *Tx) LockOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, persistence("lock order", err)
	}
	return o, nil
}

func (t *Tx) OrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	return orderItems(ctx, t.tx, orderID)
}

// MarkOrderPaid records the payment on the order row.
func (t *Tx) MarkOrderPaid(ctx context.Context, orderID string, amountPaid decimal.Decimal, transactionID string, status domain.OrderStatus, now time.Time) error {
	query := `UPDATE orders
	          SET payment_status = $2, amount_paid = $3, transaction_id = $4, order_status = $5, updated_at = $6
	          WHERE id = $1`
	_, err := t.tx.ExecContext(ctx, query, orderID, domain.PaymentStatusPaid, amountPaid, transactionID, status, now)
	if err != nil {
		return persistence("mark order paid", err)
	}
	return nil
}

func (t *Tx) UpdateOrderStatus(ctx context.Context, orderID string, payment domain.PaymentStatus, status domain.OrderStatus, now time.Time) error {
	query := `UPDATE orders SET payment_status = $2, order_status = $3, updated_at = $4 WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, orderID, payment, status, now); err != nil {
		return persistence("update order status", err)
	}
	return nil
}

// ActivateItems flags every line of a paid order as active.
func (t *Tx) ActivateItems(ctx context.Context, orderID string) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE order_items SET active = TRUE WHERE order_id = $1`, orderID); err != nil {
		return persistence("activate order items", err)
	}
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, persistence("get order", err)
	}
	o.Items, err = orderItems(ctx, r.db, orderID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders returns an owner's orders, newest first, without items.
func (r *Repository) ListOrders(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE owner_id = $1
	          ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, persistence("list orders", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, persistence("scan order", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate orders", err)
	}
	return orders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o          domain.Order
		quoteID    sql.NullString
		discountID sql.NullString
		txnID      sql.NullString
		itemTypes  pq.StringArray
	)
	err := row.Scan(
		&o.ID,
		&o.OwnerID,
		&quoteID,
		&o.ProviderID,
		&o.Currency,
		&o.ExchangeRate,
		&o.Subtotal,
		&o.Discount,
		&discountID,
		&o.Tax,
		&o.TotalAmount,
		&o.AmountDue,
		&o.AmountPaid,
		&itemTypes,
		&o.PaymentStatus,
		&o.OrderStatus,
		&txnID,
		&o.Metadata,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.QuoteID = quoteID.String
	o.DiscountID = discountID.String
	o.TransactionID = txnID.String
	o.ItemTypes = arrayToItemTypes(itemTypes)
	return &o, nil
}

func orderItems(ctx context.Context, q querier, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT order_id, item_id, item_type, name, quantity, unit_price, line_total, manual_processing, active
		 FROM order_items WHERE order_id = $1 ORDER BY item_type, item_id`, orderID)
	if err != nil {
		return nil, persistence("query order items", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		err := rows.Scan(&it.OrderID, &it.ItemID, &it.ItemType, &it.Name, &it.Quantity,
			&it.UnitPrice, &it.LineTotal, &it.ManualProcessing, &it.Active)
		if err != nil {
			return nil, persistence("scan order item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate order items", err)
	}
	return items, nil
}
