package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// applyDiscount checks eligibility and writes the discount into totals.
// Usage is not recorded here; that happens once an order exists.
func (c *Calculator) applyDiscount(ctx context.Context, ownerID, code string, rate, baseSubtotal decimal.Decimal, totals *domain.TotalsBreakdown) (*domain.Discount, error) {
	reject := func(reason string) error {
		return &domain.DiscountError{Code: code, Reason: reason}
	}

	d, err := c.discounts.DiscountByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, reject(domain.DiscountReasonNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load discount %q: %w", code, err)
	}

	now := c.now()
	switch {
	case !d.Active:
		return nil, reject(domain.DiscountReasonInactive)
	case d.StartsAt != nil && now.Before(*d.StartsAt):
		return nil, reject(domain.DiscountReasonNotStarted)
	case d.EndsAt != nil && !now.Before(*d.EndsAt):
		return nil, reject(domain.DiscountReasonExpired)
	case baseSubtotal.LessThan(d.MinOrderAmount):
		return nil, reject(domain.DiscountReasonMinimum)
	case d.UsageLimit != nil && d.TimesUsed >= *d.UsageLimit:
		return nil, reject(domain.DiscountReasonUsageLimit)
	}

	if d.PerUserLimit != nil {
		used, err := c.discounts.UsageCount(ctx, d.ID, ownerID)
		if err != nil {
			return nil, fmt.Errorf("count discount usage: %w", err)
		}
		if used >= *d.PerUserLimit {
			return nil, reject(domain.DiscountReasonPerUserLimit)
		}
	}

	eligible := decimal.Zero
	for _, l := range totals.Lines {
		if d.AppliesTo(l.ItemType) {
			eligible = eligible.Add(l.LineTotal)
		}
	}
	if !eligible.IsPositive() {
		return nil, reject(domain.DiscountReasonNotEligible)
	}

	var amount decimal.Decimal
	switch d.Kind {
	case domain.DiscountFixed:
		amount = domain.RoundMoney(d.Value.Mul(rate))
	case domain.DiscountPercentage:
		amount = domain.RoundMoney(eligible.Mul(d.Value).Div(hundred))
		if d.MaxAmount.Valid {
			limit := domain.RoundMoney(d.MaxAmount.Decimal.Mul(rate))
			amount = decimal.Min(amount, limit)
		}
	default:
		return nil, fmt.Errorf("discount %q has unknown kind %q", code, d.Kind)
	}
	amount = decimal.Min(amount, eligible)

	totals.Discount = domain.DiscountApplied{
		Amount:     amount,
		DiscountID: d.ID,
		Code:       d.Code,
		Details:    describe(d),
	}
	return d, nil
}

func describe(d *domain.Discount) string {
	if d.Kind == domain.DiscountPercentage {
		return fmt.Sprintf("%s%% off", d.Value.String())
	}
	return fmt.Sprintf("%s off", d.Value.StringFixed(domain.MoneyPlaces))
}
