package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mugLine(qty int) domain.CartLine {
	return domain.CartLine{
		OwnerID:   "user-1",
		ItemID:    "mug-001",
		ItemType:  domain.ItemTypePhysicalProduct,
		Name:      "Ceramic Mug",
		Quantity:  qty,
		UnitPrice: dec("25.00"),
		ListPrice: dec("30.00"),
	}
}

type fixture struct {
	lines     *mockLines
	discounts *mockDiscounts
	taxes     *mockTaxes
	rates     *mockRates
	calc      *Calculator
}

func newFixture(lines ...domain.CartLine) *fixture {
	f := &fixture{
		lines:     &mockLines{lines: map[string][]domain.CartLine{"user-1": lines}},
		discounts: &mockDiscounts{byCode: map[string]*domain.Discount{}, usage: map[string]int{}},
		taxes:     &mockTaxes{},
		rates:     &mockRates{rates: map[string]decimal.Decimal{"EUR": dec("0.5")}},
	}
	f.calc = NewCalculator(f.lines, f.discounts, f.taxes, f.rates, zap.NewNop())
	f.calc.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func TestCalculate_PhysicalProductNoDiscount(t *testing.T) {
	f := newFixture(mugLine(2))

	totals, err := f.calc.Calculate(context.Background(), Request{OwnerID: "user-1", Currency: "USD"})
	require.NoError(t, err)

	assert.Equal(t, "50.00", totals.Subtotal.StringFixed(2))
	assert.True(t, totals.Discount.Amount.IsZero())
	assert.True(t, totals.Tax.Total.IsZero())
	assert.Equal(t, "50.00", totals.Total.StringFixed(2))
	assert.Equal(t, "50.00", totals.AmountDue.StringFixed(2))
	assert.NoError(t, totals.CheckConservation())
}

func TestCalculate_FixedDiscount(t *testing.T) {
	f := newFixture(mugLine(2))
	f.discounts.byCode["SAVE15"] = &domain.Discount{ID: "d-1", Code: "SAVE15", Kind: domain.DiscountFixed,
		Value: dec("15"), Active: true}

	totals, err := f.calc.Calculate(context.Background(), Request{OwnerID: "user-1", Currency: "USD", DiscountCode: "SAVE15"})
	require.NoError(t, err)

	assert.Equal(t, "15.00", totals.Discount.Amount.StringFixed(2))
	assert.Equal(t, "d-1", totals.Discount.DiscountID)
	assert.Equal(t, "35.00", totals.Total.StringFixed(2))
	assert.NoError(t, totals.CheckConservation())
}

func TestCalculate_FixedDiscountClampedToSubtotal(t *testing.T) {
	f := newFixture(mugLine(1))
	f.discounts.byCode["BIG"] = &domain.Discount{ID: "d-1", Code: "BIG", Kind: domain.DiscountFixed,
		Value: dec("100"), Active: true}

	totals, err := f.calc.Calculate(context.Background(), Request{OwnerID: "user-1", Currency: "USD", DiscountCode: "BIG"})
	require.NoError(t, err)
	assert.Equal(t, "25.00", totals.Discount.Amount.StringFixed(2))
	assert.True(t, totals.Total.IsZero())
}

func TestCalculate_PercentageWithCap(t *testing.T) {
	f := newFixture(mugLine(4))
	f.discounts.byCode["TEN"] = &domain.Discount{ID: "d-2", Code: "TEN", Kind: domain.DiscountPercentage,
		Value: dec("10"), MaxAmount: decimal.NewNullDecimal(dec("7.5")), Active: true}

	totals, err := f.calc.Calculate(context.Background(), Request{OwnerID: "user-1", Currency: "USD", DiscountCode: "TEN"})
	require.NoError(t, err)
	assert.Equal(t, "7.50", totals.Discount.Amount.StringFixed(2))
	assert.Equal(t, "92.50", totals.Total.StringFixed(2))
}

func TestCalculate_DiscountRejected_ReturnsUndiscountedTotals(t *testing.T) {
	start := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	one := 1

	tests := []struct {
		name     string
		discount *domain.Discount
		usage    int
		reason   string
	}{
		{"unknown code", nil, 0, domain.DiscountReasonNotFound},
		{"inactive", &domain.Discount{Kind: domain.DiscountFixed, Value: dec("5")}, 0, domain.DiscountReasonInactive},
		{"not started", &domain.Discount{Kind: domain.DiscountFixed, Value: dec("5"), Active: true, StartsAt: &start}, 0, domain.DiscountReasonNotStarted},
		{"expired", &domain.Discount{Kind: domain.DiscountFixed, Value: dec("5"), Active: true, EndsAt: &end}, 0, domain.DiscountReasonExpired},
		{"minimum", &domain.Discount{Kind: domain.DiscountFixed, Value: dec("5"), Active: true, MinOrderAmount: dec("100")}, 0, domain.DiscountReasonMinimum},
		{"usage limit", &domain.Discount{Kind: domain.DiscountFixed, Value: dec("5"), Active: true, UsageLimit: &one, TimesUsed: 1}, 0, domain.DiscountReasonUsageLimit},
		{"per user", &domain.Discount{Kind: domain.DiscountFixed, Value: dec("5"), Active: true, PerUserLimit: &one}, 1, domain.DiscountReasonPerUserLimit},
		{"item types", &domain.Discount{Kind: domain.DiscountFixed, Value: dec("5"), Active: true,
			ItemTypes: []domain.ItemType{domain.ItemTypeCourse}}, 0, domain.DiscountReasonNotEligible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(mugLine(2))
			if tt.discount != nil {
				tt.discount.ID = "d-x"
				tt.discount.Code = "CODE"
				f.discounts.byCode["CODE"] = tt.discount
				f.discounts.usage["d-x/user-1"] = tt.usage
			}

			totals, err := f.calc.Calculate(context.Background(), Request{OwnerID: "user-1", Currency: "USD", DiscountCode: "CODE"})

			var de *domain.DiscountError
			require.True(t, errors.As(err, &de), "expected DiscountError, got %v", err)
			assert.Equal(t, tt.reason, de.Reason)
			require.NotNil(t, totals)
			assert.True(t, totals.Discount.Amount.IsZero())
			assert.Equal(t, "50.00", totals.Total.StringFixed(2))
			assert.NoError(t, totals.CheckConservation())
		})
	}
}

func TestCalculate_DiscountLookupFailureIsHard(t *testing.T) {
	f := newFixture(mugLine(2))
	f.discounts.err = fmt.Errorf("db down: %w", domain.ErrPersistence)

	totals, err := f.calc.Calculate(context.Background(), Request{OwnerID: "user-1", Currency: "USD", DiscountCode: "CODE"})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Nil(t, totals)
}

func TestCalculate_TaxComponents(t *testing.T) {
	course := domain.CartLine{ItemID: "course-001", ItemType: domain.ItemTypeCourse, Name: "Course",
		Quantity: 1, UnitPrice: dec("40.00")}
	topUp := domain.CartLine{ItemID: "topup-10", ItemType: domain.ItemTypeWalletTopUp, Name: "Top-up",
		Quantity: 1, UnitPrice: dec("10.00")}
	f := newFixture(course, topUp)
	f.taxes.rules = []domain.TaxRule{
		{Name: "VAT", Rate: dec("0.2"), Active: true, ItemTypes: []domain.ItemType{domain.ItemTypeCourse}},
		{Name: "Levy", Rate: dec("0.01"), Active: true},
	}
	f.discounts.byCode["HALF"] = &domain.Discount{ID: "d-3", Code: "HALF", Kind: domain.DiscountPercentage,
		Value: dec("50"), Active: true, ItemTypes: []domain.ItemType{domain.ItemTypeCourse}}

	totals, err := f.calc.Calculate(context.Background(), Request{OwnerID: "user-1", Currency: "USD", DiscountCode: "HALF"})
	require.NoError(t, err)

	// subtotal 50, discount 20 on the course only
	assert.Equal(t, "50.00", totals.Subtotal.StringFixed(2))
	assert.Equal(t, "20.00", totals.Discount.Amount.StringFixed(2))
	require.Len(t, totals.Tax.Breakdown, 2)
	assert.Equal(t, "VAT", totals.Tax.Breakdown[0].Name)
	assert.Equal(t, "4.00", totals.Tax.Breakdown[0].Amount.StringFixed(2))
	assert.Equal(t, "Levy", totals.Tax.Breakdown[1].Name)
	assert.Equal(t, "0.30", totals.Tax.Breakdown[1].Amount.StringFixed(2))
	assert.Equal(t, "4.30", totals.Tax.Total.StringFixed(2))
	assert.Equal(t, "34.30", totals.Total.StringFixed(2))
	assert.NoError(t, totals.CheckConservation())
}

func TestCalculate_CurrencyConversionUsesOneRate(t *testing.T) {
	f := newFixture(mugLine(1), domain.CartLine{ItemID: "topup-10", ItemType: domain.ItemTypeWalletTopUp,
		Name: "Top-up", Quantity: 3, UnitPrice: dec("3.33")})

	totals, err := f.calc.Calculate(context.Background(), Request{OwnerID: "user-1", Currency: "EUR"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.rates.calls)
	assert.Equal(t, "0.5", totals.ExchangeRate.String())
	// 25*0.5 = 12.50; 3.33*0.5 = 1.665 -> 1.67 per unit, *3 = 5.01
	assert.Equal(t, "17.51", totals.Subtotal.StringFixed(2))
}

func TestCalculate_InvalidCurrency(t *testing.T) {
	f := newFixture(mugLine(1))
	for _, cur := range []string{"usd", "US", "USDD", "", "U$D"} {
		_, err := f.calc.Calculate(context.Background(), Request{OwnerID: "user-1", Currency: cur})
		assert.ErrorIs(t, err, domain.ErrValidation, cur)
	}
}

func TestCalculate_LineMissingFieldsIsHardFailure(t *testing.T) {
	tests := []struct {
		name string
		line domain.CartLine
	}{
		{"no price", domain.CartLine{ItemID: "x", ItemType: domain.ItemTypeCourse, Name: "X", Quantity: 1}},
		{"no name", domain.CartLine{ItemID: "x", ItemType: domain.ItemTypeCourse, Quantity: 1, UnitPrice: dec("1")}},
		{"no type", domain.CartLine{ItemID: "x", Name: "X", Quantity: 1, UnitPrice: dec("1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(mugLine(1), tt.line)
			totals, err := f.calc.Calculate(context.Background(), Request{OwnerID: "user-1", Currency: "USD"})
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Nil(t, totals)
		})
	}
}

func TestCalculate_EmptyCartIsZero(t *testing.T) {
	f := newFixture()

	totals, err := f.calc.Calculate(context.Background(), Request{OwnerID: "user-1", Currency: "USD", ContextID: "ctx-1"})
	require.NoError(t, err)
	assert.True(t, totals.Total.IsZero())
	assert.True(t, totals.AmountDue.IsZero())
	assert.Empty(t, totals.Lines)
	assert.Equal(t, "ctx-1", totals.Context)
}

func TestCalculate_Deterministic(t *testing.T) {
	lines := []domain.CartLine{
		{ItemID: "b", ItemType: domain.ItemTypeWalletTopUp, Name: "B", Quantity: 2, UnitPrice: dec("3.99")},
		mugLine(3),
		{ItemID: "a", ItemType: domain.ItemTypeWalletTopUp, Name: "A", Quantity: 1, UnitPrice: dec("0.01")},
	}
	f := newFixture(lines...)
	f.taxes.rules = []domain.TaxRule{{Name: "VAT", Rate: dec("0.175"), Active: true}}
	req := Request{OwnerID: "user-1", Currency: "EUR"}

	first, err := f.calc.Calculate(context.Background(), req)
	require.NoError(t, err)

	// reverse the stored order; the result must not change
	f.lines.lines["user-1"] = []domain.CartLine{lines[2], lines[1], lines[0]}
	second, err := f.calc.Calculate(context.Background(), req)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, "a", second.Lines[1].ItemID)
}

func TestCalculate_ConservationOverRandomCarts(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	types := domain.ItemTypes()

	for i := 0; i < 200; i++ {
		var lines []domain.CartLine
		for j := 0; j < 1+rng.Intn(5); j++ {
			cents := 1 + rng.Int63n(100000)
			lines = append(lines, domain.CartLine{
				ItemID:    fmt.Sprintf("item-%d", j),
				ItemType:  types[rng.Intn(len(types))],
				Name:      "Item",
				Quantity:  1 + rng.Intn(9),
				UnitPrice: decimal.New(cents, -2),
			})
		}
		f := newFixture(lines...)
		f.rates.rates["EUR"] = decimal.New(50+rng.Int63n(150), -2)
		f.taxes.rules = []domain.TaxRule{
			{Name: "VAT", Rate: decimal.New(rng.Int63n(300), -3), Active: true},
			{Name: "Digital", Rate: dec("0.05"), Active: true, ItemTypes: []domain.ItemType{domain.ItemTypeDigitalFile, domain.ItemTypeCourse}},
		}
		f.discounts.byCode["P"] = &domain.Discount{ID: "p", Code: "P", Kind: domain.DiscountPercentage,
			Value: decimal.New(rng.Int63n(100), 0), Active: true}
		f.discounts.byCode["F"] = &domain.Discount{ID: "f", Code: "F", Kind: domain.DiscountFixed,
			Value: decimal.New(rng.Int63n(50000), -2), Active: true}

		for _, code := range []string{"", "P", "F"} {
			totals, err := f.calc.Calculate(context.Background(), Request{OwnerID: "user-1", Currency: "EUR", DiscountCode: code})
			require.NoError(t, err)
			want := domain.RoundMoney(totals.Subtotal.Sub(totals.Discount.Amount).Add(totals.Tax.Total))
			require.True(t, totals.AmountDue.Equal(want), "iteration %d code %q", i, code)
			require.True(t, totals.Total.Equal(want))
			require.False(t, totals.AmountDue.IsNegative())
		}
	}
}
