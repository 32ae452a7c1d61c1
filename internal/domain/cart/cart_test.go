package cart

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
)

type mockProductRepo struct {
	byID    map[string]product.Product
	err     error
	lastIDs []string
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockProductRepo{byID: byID}
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	m.lastIDs = ids
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockValidator struct {
	promo *promo.Promo
	err   error
	calls int
}

func (m *mockValidator) Validate(_ context.Context, _ string, _ time.Time) (*promo.Promo, error) {
	m.calls++
	return m.promo, m.err
}

func newTestProduct(id string, price int64, stock int) product.Product {
	return product.Product{
		ID:            id,
		Name:          "Product " + id,
		Price:         decimal.NewFromInt(price),
		TaxPercentage: decimal.NewFromInt(11),
		Stock:         stock,
		Category:      "toys",
	}
}

func TestResolve(t *testing.T) {
	repo := newProductRepo(newTestProduct("A", 100, 5), newTestProduct("B", 50, 1))

	tests := []struct {
		name    string
		items   []Item
		check   func(t *testing.T, err error)
		wantLen int
	}{
		{
			name:  "empty",
			items: nil,
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrEmpty) },
		},
		{
			name:  "zero quantity",
			items: []Item{{ProductID: "A", Quantity: 0}},
			check: func(t *testing.T, err error) {
				var iq *InvalidQuantityError
				require.ErrorAs(t, err, &iq)
				assert.Equal(t, "A", iq.ProductID)
			},
		},
		{
			name:  "unknown product",
			items: []Item{{ProductID: "Z", Quantity: 1}},
			check: func(t *testing.T, err error) {
				var pnf *ProductNotFoundError
				require.ErrorAs(t, err, &pnf)
				assert.Equal(t, "Z", pnf.ProductID)
				assert.ErrorIs(t, err, product.ErrNotFound)
			},
		},
		{
			name:  "over stock after merge",
			items: []Item{{ProductID: "A", Quantity: 3}, {ProductID: "A", Quantity: 3}},
			check: func(t *testing.T, err error) {
				var is *InsufficientStockError
				require.ErrorAs(t, err, &is)
				assert.Equal(t, 6, is.Requested)
				assert.Equal(t, 5, is.Available)
			},
		},
		{
			name:  "merged quantity overflows",
			items: []Item{{ProductID: "A", Quantity: math.MaxInt}, {ProductID: "A", Quantity: 1}},
			check: func(t *testing.T, err error) {
				var iq *InvalidQuantityError
				require.ErrorAs(t, err, &iq)
				assert.Equal(t, "A", iq.ProductID)
			},
		},
		{
			name:    "valid",
			items:   []Item{{ProductID: "B", Quantity: 1}, {ProductID: "A", Quantity: 2}},
			wantLen: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := Resolve(context.Background(), repo, tt.items)
			if tt.check != nil {
				tt.check(t, err)
				assert.True(t, IsInputError(err))
				return
			}
			require.NoError(t, err)
			require.Len(t, lines, tt.wantLen)
			assert.Equal(t, "B", lines[0].Product.ID)
			assert.Equal(t, 2, lines[1].Quantity)
		})
	}
}

func TestResolve_MergesDuplicatesIntoOneFetch(t *testing.T) {
	repo := newProductRepo(newTestProduct("A", 100, 10))

	lines, err := Resolve(context.Background(), repo, []Item{
		{ProductID: "A", Quantity: 1},
		{ProductID: "A", Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, []string{"A"}, repo.lastIDs)
}

func TestResolve_RepoError(t *testing.T) {
	repo := &mockProductRepo{err: errors.New("db down")}

	_, err := Resolve(context.Background(), repo, []Item{{ProductID: "A", Quantity: 1}})
	require.Error(t, err)
	assert.False(t, IsInputError(err))
}

func TestService_Price(t *testing.T) {
	repo := newProductRepo(newTestProduct("A", 100000, 10))

	t.Run("without code skips validator", func(t *testing.T) {
		v := &mockValidator{}
		q, err := NewService(repo, v).Price(context.Background(), []Item{{ProductID: "A", Quantity: 2}}, "  ")
		require.NoError(t, err)
		assert.Zero(t, v.calls)
		assert.Nil(t, q.Promo)
		assert.True(t, decimal.NewFromInt(222000).Equal(q.Pricing.Total))
	})

	t.Run("with usable code", func(t *testing.T) {
		v := &mockValidator{promo: &promo.Promo{
			Code:               "SAVE10",
			DiscountPercentage: decimal.NewFromInt(10),
			Active:             true,
			Scope:              promo.ScopeAll,
		}}
		q, err := NewService(repo, v).Price(context.Background(), []Item{{ProductID: "A", Quantity: 2}}, "save10")
		require.NoError(t, err)
		require.NotNil(t, q.Promo)
		assert.True(t, decimal.NewFromInt(199800).Equal(q.Pricing.Total))
	})

	t.Run("with rejected code", func(t *testing.T) {
		v := &mockValidator{err: promo.ErrExpired}
		_, err := NewService(repo, v).Price(context.Background(), []Item{{ProductID: "A", Quantity: 2}}, "OLD")
		require.ErrorIs(t, err, promo.ErrExpired)
	})
}
