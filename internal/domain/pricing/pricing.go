// Package pricing computes cart totals under an optional percentage promo.
//
// All arithmetic is exact decimal arithmetic. Nothing is rounded until the
// caller asks for a persisted snapshot via Result.Round.
package pricing

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
)

var hundred = decimal.NewFromInt(100)

// Line is a product with the quantity requested for it.
type Line struct {
	Product  product.Product
	Quantity int
}

// Gross returns price * quantity.
func (l Line) Gross() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineResult is the priced breakdown of a single Line.
type LineResult struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Gross     decimal.Decimal
	Eligible  bool
	Discount  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
}

// Result holds cart totals. Total always equals (Subtotal - Discount) + Tax.
type Result struct {
	Lines    []LineResult
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Eligible reports whether the promo's scope covers the line. A nil promo, an
// unknown scope or an empty target list covers nothing.
func Eligible(l Line, p *promo.Promo) bool {
	if p == nil {
		return false
	}
	switch p.Scope {
	case promo.ScopeAll:
		return true
	case promo.ScopeProducts:
		return slices.Contains(p.ProductIDs, l.Product.ID)
	case promo.ScopeCategory:
		return l.Product.Category != "" && slices.Contains(p.CategorySlugs, l.Product.Category)
	default:
		return false
	}
}

// Compute prices the lines. Tax is charged per line on the effective price,
// i.e. after the line's discount when the line is eligible. p may be nil.
func Compute(lines []Line, p *promo.Promo) Result {
	res := Result{
		Lines:    make([]LineResult, 0, len(lines)),
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
		Tax:      decimal.Zero,
	}

	for _, l := range lines {
		gross := l.Gross()
		lr := LineResult{
			ProductID: l.Product.ID,
			Quantity:  l.Quantity,
			UnitPrice: l.Product.Price,
			Gross:     gross,
			Discount:  decimal.Zero,
		}

		effective := gross
		if Eligible(l, p) {
			lr.Eligible = true
			lr.Discount = gross.Mul(p.DiscountPercentage).Div(hundred)
			effective = gross.Sub(lr.Discount)
		}
		lr.Tax = effective.Mul(l.Product.TaxPercentage).Div(hundred)
		lr.Total = effective.Add(lr.Tax)

		res.Subtotal = res.Subtotal.Add(gross)
		res.Discount = res.Discount.Add(lr.Discount)
		res.Tax = res.Tax.Add(lr.Tax)
		res.Lines = append(res.Lines, lr)
	}

	res.Total = res.Subtotal.Sub(res.Discount).Add(res.Tax)
	return res
}

// Round returns the persisted form of r: subtotal, discount and tax rounded
// half away from zero to whole currency units, and the total recomputed from
// the rounded components so the total invariant holds exactly.
func (r Result) Round() Result {
	out := Result{
		Lines:    make([]LineResult, len(r.Lines)),
		Subtotal: r.Subtotal.Round(0),
		Discount: r.Discount.Round(0),
		Tax:      r.Tax.Round(0),
	}
	for i, lr := range r.Lines {
		lr.Discount = lr.Discount.Round(0)
		lr.Tax = lr.Tax.Round(0)
		lr.Total = lr.Gross.Sub(lr.Discount).Add(lr.Tax)
		out.Lines[i] = lr
	}
	out.Total = out.Subtotal.Sub(out.Discount).Add(out.Tax)
	return out
}
