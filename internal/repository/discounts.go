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

func (r *Repository) DiscountByCode(ctx context.Context, code string) (*domain.Discount, error) {
	query := `SELECT id, code, kind, value, max_amount, min_order_amount, usage_limit, per_user_limit,
	              times_used, item_types, active, starts_at, ends_at
	          FROM discounts WHERE code = $1`
	var (
		d            domain.Discount
		usageLimit   sql.NullInt64
		perUserLimit sql.NullInt64
		itemTypes    pq.StringArray
		startsAt     sql.NullTime
		endsAt       sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, code).Scan(&d.ID, &d.Code, &d.Kind, &d.Value, &d.MaxAmount,
		&d.MinOrderAmount, &usageLimit, &perUserLimit, &d.TimesUsed, &itemTypes, &d.Active, &startsAt, &endsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDiscountNotFound
	}
	if err != nil {
		return nil, persistence("get discount", err)
	}
	if usageLimit.Valid {
		n := int(usageLimit.Int64)
		d.UsageLimit = &n
	}
	if perUserLimit.Valid {
		n := int(perUserLimit.Int64)
		d.PerUserLimit = &n
	}
	if startsAt.Valid {
		d.StartsAt = &startsAt.Time
	}
	if endsAt.Valid {
		d.EndsAt = &endsAt.Time
	}
	d.ItemTypes = arrayToItemTypes(itemTypes)
	return &d, nil
}

// UsageCount counts how many orders of ownerID redeemed the discount.
func (r *Repository) UsageCount(ctx context.Context, discountID, ownerID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM discount_usages WHERE discount_id = $1 AND owner_id = $2`,
		discountID, ownerID).Scan(&n)
	if err != nil {
		return 0, persistence("count discount usage", err)
	}
	return n, nil
}

// RecordUsage charges one use of a discount to an existing order. The
// discount row is locked for the check so usage_limit and per_user_limit
// hold across concurrent checkouts; a use past either limit records nothing
// and fails with a *domain.DiscountError. Recording the same (discount,
// order) pair twice is a no-op and reports false.
func (r *Repository) RecordUsage(ctx context.Context, discountID, ownerID, orderID string, amount decimal.Decimal) (bool, error) {
	var recorded bool
	err := r.InTx(ctx, func(tx *Tx) error {
		var (
			code         string
			perUserLimit sql.NullInt64
		)
		err := tx.tx.QueryRowContext(ctx,
			`SELECT code, per_user_limit FROM discounts WHERE id = $1 FOR UPDATE`,
			discountID).Scan(&code, &perUserLimit)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDiscountNotFound
		}
		if err != nil {
			return persistence("lock discount", err)
		}

		var seen bool
		err = tx.tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM discount_usages WHERE discount_id = $1 AND order_id = $2)`,
			discountID, orderID).Scan(&seen)
		if err != nil {
			return persistence("find discount usage", err)
		}
		if seen {
			return nil
		}

		if perUserLimit.Valid {
			var used int64
			err := tx.tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM discount_usages WHERE discount_id = $1 AND owner_id = $2`,
				discountID, ownerID).Scan(&used)
			if err != nil {
				return persistence("count discount usage", err)
			}
			if used >= perUserLimit.Int64 {
				return &domain.DiscountError{Code: code, Reason: domain.DiscountReasonPerUserLimit}
			}
		}

		res, err := tx.tx.ExecContext(ctx,
			`UPDATE discounts SET times_used = times_used + 1
			 WHERE id = $1 AND (usage_limit IS NULL OR times_used < usage_limit)`,
			discountID)
		if err != nil {
			return persistence("bump discount usage", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return persistence("bump discount usage", err)
		}
		if n == 0 {
			return &domain.DiscountError{Code: code, Reason: domain.DiscountReasonUsageLimit}
		}

		if _, err := tx.tx.ExecContext(ctx,
			`INSERT INTO discount_usages (discount_id, owner_id, order_id, amount, created_at)
			 VALUES ($1, $2, $3, $4, NOW())`,
			discountID, ownerID, orderID, amount); err != nil {
			return persistence("insert discount usage", err)
		}
		recorded = true
		return nil
	})
	return recorded, err
}

func (r *Repository) CreateDiscount(ctx context.Context, d *domain.Discount) error {
	var usageLimit, perUserLimit sql.NullInt64
	if d.UsageLimit != nil {
		usageLimit = sql.NullInt64{Int64: int64(*d.UsageLimit), Valid: true}
	}
	if d.PerUserLimit != nil {
		perUserLimit = sql.NullInt64{Int64: int64(*d.PerUserLimit), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO discounts (id, code, kind, value, max_amount, min_order_amount, usage_limit,
		     per_user_limit, times_used, item_types, active, starts_at, ends_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.Code, d.Kind, d.Value, d.MaxAmount, d.MinOrderAmount, usageLimit, perUserLimit,
		d.TimesUsed, itemTypesToArray(d.ItemTypes), d.Active, nullTime(d.StartsAt), nullTime(d.EndsAt))
	if err != nil {
		return persistence("create discount", err)
	}
	return nil
}

func (r *Repository) ActiveTaxRules(ctx context.Context) ([]domain.TaxRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, rate, item_types, active FROM tax_rules WHERE active ORDER BY name, id`)
	if err != nil {
		return nil, persistence("query tax rules", err)
	}
	defer rows.Close()

	var rules []domain.TaxRule
	for rows.Next() {
		var (
			rule      domain.TaxRule
			itemTypes pq.StringArray
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Rate, &itemTypes, &rule.Active); err != nil {
			return nil, persistence("scan tax rule", err)
		}
		rule.ItemTypes = arrayToItemTypes(itemTypes)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate tax rules", err)
	}
	return rules, nil
}

func (r *Repository) CreateTaxRule(ctx context.Context, rule *domain.TaxRule) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tax_rules (id, name, rate, item_types, active) VALUES ($1, $2, $3, $4, $5)`,
		rule.ID, rule.Name, rule.Rate, itemTypesToArray(rule.ItemTypes), rule.Active)
	if err != nil {
		return persistence("create tax rule", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
