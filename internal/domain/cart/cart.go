// Package cart turns client-held cart items into priced lines against the
// current catalog.
package cart

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-engine/internal/domain/pricing"
	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
)

// ErrEmpty is returned when a cart has no items.
var ErrEmpty = errors.New("items required")

// Item is a product reference and quantity as submitted by a client.
type Item struct {
	ProductID string
	Quantity  int
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Is lets callers match on product.ErrNotFound.
func (e *ProductNotFoundError) Is(target error) bool {
	return target == product.ErrNotFound
}

// InvalidQuantityError indicates a line item has a non-positive quantity, or
// merged duplicate lines add up past the representable range.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity for product %s", e.ProductID)
}

// InsufficientStockError indicates a line asks for more units than are in stock.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("product %s: requested %d, only %d in stock", e.ProductID, e.Requested, e.Available)
}

// IsInputError reports whether err describes a malformed cart.
func IsInputError(err error) bool {
	var (
		pnf *ProductNotFoundError
		iq  *InvalidQuantityError
		is  *InsufficientStockError
	)
	return errors.Is(err, ErrEmpty) || errors.As(err, &pnf) || errors.As(err, &iq) || errors.As(err, &is)
}

// Resolve validates quantities, fetches all products in one batch and returns
// the lines in request order. Duplicate product ids are merged.
func Resolve(ctx context.Context, products product.Repository, items []Item) ([]pricing.Line, error) {
	if len(items) == 0 {
		return nil, ErrEmpty
	}

	// Merge duplicates while keeping first-seen order.
	qty := make(map[string]int, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		merged, seen := qty[item.ProductID]
		if !seen {
			ids = append(ids, item.ProductID)
		}
		if item.Quantity > math.MaxInt-merged {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		qty[item.ProductID] = merged + item.Quantity
	}

	fetched, err := products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	lines := make([]pricing.Line, 0, len(ids))
	for _, id := range ids {
		p, ok := productMap[id]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: id}
		}
		if qty[id] > p.Stock {
			return nil, &InsufficientStockError{ProductID: id, Requested: qty[id], Available: p.Stock}
		}
		lines = append(lines, pricing.Line{Product: p, Quantity: qty[id]})
	}
	return lines, nil
}

// Quote is the result of pricing a cart.
type Quote struct {
	Pricing pricing.Result
	// Promo is the applied promo, nil when no code was given.
	Promo *promo.Promo
}

// Service prices carts for display. The promo check here is optimistic: the
// authoritative check happens again when the order is placed.
type Service struct {
	products product.Repository
	promos   promo.Validator
	now      func() time.Time
}

// NewService creates a cart Service.
func NewService(products product.Repository, promos promo.Validator) *Service {
	return &Service{products: products, promos: promos, now: time.Now}
}

// Price resolves items against the catalog and computes totals. When code is
// non-empty the promo must be usable, otherwise the promo error is returned.
func (s *Service) Price(ctx context.Context, items []Item, code string) (*Quote, error) {
	lines, err := Resolve(ctx, s.products, items)
	if err != nil {
		return nil, err
	}

	var p *promo.Promo
	if promo.NormalizeCode(code) != "" {
		p, err = s.promos.Validate(ctx, code, s.now())
		if err != nil {
			return nil, err
		}
	}

	return &Quote{
		Pricing: pricing.Compute(lines, p),
		Promo:   p,
	}, nil
}
