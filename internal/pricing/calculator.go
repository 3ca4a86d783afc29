package pricing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

var tracer = otel.Tracer("settlement/pricing")

// LineSource yields the current, catalog-priced lines of an owner's cart.
type LineSource interface {
	Lines(ctx context.Context, ownerID string) ([]domain.CartLine, error)
}

type DiscountSource interface {
	DiscountByCode(ctx context.Context, code string) (*domain.Discount, error)
	UsageCount(ctx context.Context, discountID, ownerID string) (int, error)
}

type TaxRuleSource interface {
	ActiveTaxRules(ctx context.Context) ([]domain.TaxRule, error)
}

// RateSource converts from the base currency. Rate(base) is 1.
type RateSource interface {
	Rate(ctx context.Context, currency string) (decimal.Decimal, error)
}

type Request struct {
	OwnerID      string
	Currency     string
	DiscountCode string
	ContextID    string
}

type Calculator struct {
	lines     LineSource
	discounts DiscountSource
	taxes     TaxRuleSource
	rates     RateSource
	now       func() time.Time
	log       *zap.Logger
}

func NewCalculator(lines LineSource, discounts DiscountSource, taxes TaxRuleSource, rates RateSource, log *zap.Logger) *Calculator {
	return &Calculator{
		lines:     lines,
		discounts: discounts,
		taxes:     taxes,
		rates:     rates,
		now:       time.Now,
		log:       log,
	}
}

// Calculate prices the owner's cart. When the discount code cannot be
// applied it returns the totals computed without it together with a
// *domain.DiscountError; every other error comes with nil totals.
func (c *Calculator) Calculate(ctx context.Context, req Request) (*domain.TotalsBreakdown, error) {
	ctx, span := tracer.Start(ctx, "pricing.Calculate")
	defer span.End()
	span.SetAttributes(attribute.String("owner_id", req.OwnerID), attribute.String("currency", req.Currency))

	if req.OwnerID == "" {
		return nil, domain.Validationf("owner id is required")
	}
	if !currencyPattern.MatchString(req.Currency) {
		return nil, domain.Validationf("invalid currency %q", req.Currency)
	}

	lines, err := c.lines.Lines(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load cart lines: %w", err)
	}
	return c.CalculateLines(ctx, req, lines)
}

// CalculateLines prices an explicit set of lines for req.OwnerID.
func (c *Calculator) CalculateLines(ctx context.Context, req Request, lines []domain.CartLine) (*domain.TotalsBreakdown, error) {
	if !currencyPattern.MatchString(req.Currency) {
		return nil, domain.Validationf("invalid currency %q", req.Currency)
	}
	for _, l := range lines {
		if err := checkLine(l); err != nil {
			return nil, err
		}
	}

	// one rate for the whole calculation
	rate, err := c.rates.Rate(ctx, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("exchange rate for %s: %w", req.Currency, err)
	}

	if len(lines) == 0 {
		totals := domain.ZeroTotals(req.Currency, rate)
		totals.Context = req.ContextID
		return totals, nil
	}

	sorted := make([]domain.CartLine, len(lines))
	copy(sorted, lines)
	domain.SortLines(sorted)

	totals := &domain.TotalsBreakdown{
		Currency:     req.Currency,
		ExchangeRate: rate,
		Subtotal:     decimal.Zero,
		Discount:     domain.DiscountApplied{Amount: decimal.Zero},
		Context:      req.ContextID,
		Lines:        make([]domain.PricedLine, 0, len(sorted)),
	}
	baseSubtotal := decimal.Zero
	for _, l := range sorted {
		qty := decimal.NewFromInt(int64(l.Quantity))
		unit := domain.RoundMoney(l.UnitPrice.Mul(rate))
		lineTotal := unit.Mul(qty)
		totals.Lines = append(totals.Lines, domain.PricedLine{
			ItemID:           l.ItemID,
			ItemType:         l.ItemType,
			Name:             l.Name,
			Quantity:         l.Quantity,
			UnitPrice:        unit,
			LineTotal:        lineTotal,
			ManualProcessing: l.ManualProcessing,
		})
		totals.Subtotal = totals.Subtotal.Add(lineTotal)
		baseSubtotal = baseSubtotal.Add(l.UnitPrice.Mul(qty))
	}

	var discountErr error
	var applied *domain.Discount
	if code := strings.TrimSpace(req.DiscountCode); code != "" {
		applied, discountErr = c.applyDiscount(ctx, req.OwnerID, code, rate, baseSubtotal, totals)
		if discountErr != nil {
			var de *domain.DiscountError
			if !errors.As(discountErr, &de) {
				return nil, discountErr
			}
			c.log.Debug("discount rejected",
				zap.String("owner_id", req.OwnerID),
				zap.String("code", de.Code),
				zap.String("reason", de.Reason))
		}
	}

	rules, err := c.taxes.ActiveTaxRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tax rules: %w", err)
	}
	totals.Tax = computeTax(rules, totals.Lines, totals.Discount.Amount, applied)

	totals.Total = totals.Payable()
	totals.AmountDue = totals.Total
	return totals, discountErr
}

func checkLine(l domain.CartLine) error {
	switch {
	case !l.ItemType.Valid():
		return domain.Validationf("cart line %s has no valid item type", l.ItemID)
	case strings.TrimSpace(l.Name) == "":
		return domain.Validationf("cart line %s %s has no name", l.ItemType, l.ItemID)
	case !l.UnitPrice.IsPositive():
		return domain.Validationf("cart line %s %s has no price", l.ItemType, l.ItemID)
	case l.Quantity <= 0:
		return domain.Validationf("cart line %s %s has quantity %d", l.ItemType, l.ItemID, l.Quantity)
	}
	return nil
}

// computeTax applies each rule to the discounted base of the lines it covers.
// The discount is spread over its eligible lines in proportion to their totals.
func computeTax(rules []domain.TaxRule, lines []domain.PricedLine, discount decimal.Decimal, applied *domain.Discount) domain.TaxApplied {
	tax := domain.TaxApplied{Total: decimal.Zero, Breakdown: []domain.TaxComponent{}}

	eligible := decimal.Zero
	for _, l := range lines {
		if applied == nil || applied.AppliesTo(l.ItemType) {
			eligible = eligible.Add(l.LineTotal)
		}
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.Active {
			continue
		}
		covered, coveredEligible := decimal.Zero, decimal.Zero
		for _, l := range lines {
			if !rule.AppliesTo(l.ItemType) {
				continue
			}
			covered = covered.Add(l.LineTotal)
			if applied == nil || applied.AppliesTo(l.ItemType) {
				coveredEligible = coveredEligible.Add(l.LineTotal)
			}
		}
		if covered.IsZero() {
			continue
		}
		base := covered
		if discount.IsPositive() && eligible.IsPositive() {
			base = base.Sub(discount.Mul(coveredEligible).Div(eligible))
		}
		if base.IsNegative() {
			base = decimal.Zero
		}
		amount := domain.RoundMoney(base.Mul(rule.Rate))
		tax.Breakdown = append(tax.Breakdown, domain.TaxComponent{Name: rule.Name, Rate: rule.Rate, Amount: amount})
		tax.Total = tax.Total.Add(amount)
	}
	return tax
}
