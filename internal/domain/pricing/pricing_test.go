package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func newProduct(id, category, price, tax string) product.Product {
	return product.Product{
		ID:            id,
		Name:          "Product " + id,
		Price:         dec(price),
		TaxPercentage: dec(tax),
		Stock:         100,
		Category:      category,
	}
}

func TestCompute_NoPromo(t *testing.T) {
	a := newProduct("A", "toys", "100000", "11")
	b := newProduct("B", "books", "50000", "0")

	res := Compute([]Line{{Product: a, Quantity: 2}, {Product: b, Quantity: 1}}, nil)

	assertDecimal(t, "250000", res.Subtotal)
	assertDecimal(t, "0", res.Discount)
	assertDecimal(t, "22000", res.Tax)
	assertDecimal(t, "272000", res.Total)
	require.Len(t, res.Lines, 2)
	assert.False(t, res.Lines[0].Eligible)
}

func TestCompute_ScopeAll(t *testing.T) {
	a := newProduct("A", "toys", "100000", "11")
	save10 := &promo.Promo{Code: "SAVE10", DiscountPercentage: dec("10"), Active: true, Scope: promo.ScopeAll}

	res := Compute([]Line{{Product: a, Quantity: 2}}, save10)

	assertDecimal(t, "200000", res.Subtotal)
	assertDecimal(t, "20000", res.Discount)
	assertDecimal(t, "19800", res.Tax)
	assertDecimal(t, "199800", res.Total)
}

func TestCompute_ScopeExcludesLine(t *testing.T) {
	a := newProduct("A", "toys", "100000", "11")
	onlyB := &promo.Promo{
		Code:               "SAVE10",
		DiscountPercentage: dec("10"),
		Active:             true,
		Scope:              promo.ScopeProducts,
		ProductIDs:         []string{"B"},
	}

	res := Compute([]Line{{Product: a, Quantity: 2}}, onlyB)

	assertDecimal(t, "200000", res.Subtotal)
	assertDecimal(t, "0", res.Discount)
	assertDecimal(t, "22000", res.Tax)
	assertDecimal(t, "222000", res.Total)
}

func TestCompute_MixedEligibility(t *testing.T) {
	toy := newProduct("A", "toys", "100000", "10")
	book := newProduct("B", "books", "40000", "10")
	toys20 := &promo.Promo{
		Code:               "TOYS20",
		DiscountPercentage: dec("20"),
		Active:             true,
		Scope:              promo.ScopeCategory,
		CategorySlugs:      []string{"toys"},
	}

	res := Compute([]Line{{Product: toy, Quantity: 1}, {Product: book, Quantity: 2}}, toys20)

	assertDecimal(t, "180000", res.Subtotal)
	assertDecimal(t, "20000", res.Discount)
	// toy taxed on 80000, books on 80000
	assertDecimal(t, "16000", res.Tax)
	assertDecimal(t, "176000", res.Total)
	assert.True(t, res.Lines[0].Eligible)
	assert.False(t, res.Lines[1].Eligible)
	assertDecimal(t, "88000", res.Lines[0].Total)
}

func TestEligible(t *testing.T) {
	line := Line{Product: newProduct("A", "toys", "1", "0"), Quantity: 1}

	tests := []struct {
		name  string
		promo *promo.Promo
		want  bool
	}{
		{name: "nil promo", promo: nil, want: false},
		{name: "scope all", promo: &promo.Promo{Scope: promo.ScopeAll}, want: true},
		{name: "product listed", promo: &promo.Promo{Scope: promo.ScopeProducts, ProductIDs: []string{"X", "A"}}, want: true},
		{name: "product not listed", promo: &promo.Promo{Scope: promo.ScopeProducts, ProductIDs: []string{"X"}}, want: false},
		{name: "empty product list", promo: &promo.Promo{Scope: promo.ScopeProducts}, want: false},
		{name: "category listed", promo: &promo.Promo{Scope: promo.ScopeCategory, CategorySlugs: []string{"toys"}}, want: true},
		{name: "category not listed", promo: &promo.Promo{Scope: promo.ScopeCategory, CategorySlugs: []string{"books"}}, want: false},
		{name: "unknown scope", promo: &promo.Promo{Scope: "weekend"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Eligible(line, tt.promo))
		})
	}
}

func TestCompute_ProductWithoutCategory(t *testing.T) {
	p := newProduct("A", "", "1000", "0")
	catPromo := &promo.Promo{Scope: promo.ScopeCategory, CategorySlugs: []string{""}, DiscountPercentage: dec("50")}

	res := Compute([]Line{{Product: p, Quantity: 1}}, catPromo)
	assertDecimal(t, "0", res.Discount)
}

func TestCompute_Empty(t *testing.T) {
	res := Compute(nil, nil)
	assertDecimal(t, "0", res.Total)
	assert.Empty(t, res.Lines)
}

func TestCompute_NoIntermediateRounding(t *testing.T) {
	// 3 x 333 at 10% off with 11% tax: line discount 99.9, tax 98.901.
	p := newProduct("A", "toys", "333", "11")
	save10 := &promo.Promo{DiscountPercentage: dec("10"), Scope: promo.ScopeAll}

	res := Compute([]Line{{Product: p, Quantity: 3}}, save10)
	assertDecimal(t, "99.9", res.Discount)
	assertDecimal(t, "98.901", res.Tax)
	assertDecimal(t, "998.001", res.Total)

	rounded := res.Round()
	assertDecimal(t, "999", rounded.Subtotal)
	assertDecimal(t, "100", rounded.Discount)
	assertDecimal(t, "99", rounded.Tax)
	assertDecimal(t, "998", rounded.Total)
}

func TestRound_TotalInvariant(t *testing.T) {
	a := newProduct("A", "toys", "12345", "11")
	b := newProduct("B", "toys", "9999", "12.5")
	p := &promo.Promo{DiscountPercentage: dec("15"), Scope: promo.ScopeAll}

	for qty := 1; qty <= 25; qty++ {
		res := Compute([]Line{{Product: a, Quantity: qty}, {Product: b, Quantity: qty + 1}}, p)
		rounded := res.Round()

		assert.True(t, rounded.Total.Equal(rounded.Subtotal.Sub(rounded.Discount).Add(rounded.Tax)), "qty %d", qty)
		assert.True(t, rounded.Total.Equal(rounded.Total.Truncate(0)), "qty %d: total not whole", qty)
		assert.False(t, rounded.Total.IsNegative())
	}
}

func TestRound_HalfAwayFromZero(t *testing.T) {
	// 1 x 5 at 10% off with 10% tax: discount 0.5, tax 0.45.
	p := newProduct("A", "toys", "5", "10")
	pr := &promo.Promo{DiscountPercentage: dec("10"), Scope: promo.ScopeAll}

	rounded := Compute([]Line{{Product: p, Quantity: 1}}, pr).Round()
	assertDecimal(t, "1", rounded.Discount)
	assertDecimal(t, "0", rounded.Tax)
	assertDecimal(t, "4", rounded.Total)
}
