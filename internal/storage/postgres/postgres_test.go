//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront-engine/internal/domain/order"
	"github.com/xenking/storefront-engine/internal/domain/payment"
	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "store",
				"POSTGRES_PASSWORD": "store",
				"POSTGRES_DB":       "store",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = c.Terminate(context.Background()) }()

	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://store:store@%s:%s/store?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	return m.Run()
}

type stores struct {
	products *ProductRepository
	promos   *PromoRepository
	payments *PaymentRepository
	orders   *OrderRepository
}

func seed(t *testing.T) (stores, product.Product) {
	t.Helper()
	ctx := context.Background()

	s := stores{
		products: NewProductRepository(testPool),
		promos:   NewPromoRepository(testPool),
		payments: NewPaymentRepository(testPool),
		orders:   NewOrderRepository(testPool),
	}

	p := product.Product{
		ID:            "p-" + uuid.NewString()[:8],
		Name:          "Craft kit",
		Price:         decimal.NewFromInt(100000),
		TaxPercentage: decimal.NewFromInt(11),
		Stock:         5,
		Category:      "crafts",
	}
	require.NoError(t, s.products.Upsert(ctx, p))
	require.NoError(t, s.payments.Upsert(ctx, payment.Method{ID: "bank", Name: "Bank transfer", Active: true}, 0))
	return s, p
}

func newOrder(p product.Product, qty int) *order.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	total := p.Price.Mul(decimal.NewFromInt(int64(qty)))
	return &order.Order{
		ID: uuid.NewString(),
		Customer: order.Customer{
			Name: "Sari", Email: "sari@example.com", Phone: "0811", Address: "Bandung",
		},
		PaymentMethodID: "bank",
		Status:          order.StatusPending,
		Subtotal:        total,
		TaxAmount:       decimal.Zero,
		DiscountAmount:  decimal.Zero,
		TotalAmount:     total,
		LookupTokenHash: order.HashToken("token"),
		Items: []order.Item{
			{ProductID: p.ID, ProductName: p.Name, UnitPrice: p.Price, Quantity: qty},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	s, p := seed(t)
	ctx := context.Background()

	o := newOrder(p, 2)
	require.NoError(t, s.orders.Create(ctx, o, ""))

	got, err := s.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.False(t, got.StockDeducted)
	assert.True(t, o.TotalAmount.Equal(got.TotalAmount))
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)

	_, err = s.orders.Get(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_CreateRejectsOutOfRangeAmount(t *testing.T) {
	s, p := seed(t)

	o := newOrder(p, 1)
	huge := decimal.RequireFromString("1000000000000000")
	o.Subtotal, o.TotalAmount = huge, huge

	err := s.orders.Create(context.Background(), o, "")
	require.ErrorIs(t, err, order.ErrRejected)

	_, err = s.orders.Get(context.Background(), o.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_PromoQuotaUnderConcurrency(t *testing.T) {
	s, p := seed(t)
	ctx := context.Background()

	code := "RACE" + uuid.NewString()[:6]
	pr := promo.Promo{
		ID: uuid.NewString(), Code: code, DiscountPercentage: decimal.NewFromInt(5),
		Active: true, UsageLimit: 3, Scope: promo.ScopeAll,
	}
	require.NoError(t, s.promos.Upsert(ctx, pr))

	const attempts = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, lost int
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.orders.Create(ctx, newOrder(p, 1), pr.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, promo.ErrQuotaExhausted):
				lost++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, attempts-3, lost)

	stored, err := s.promos.FindByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.UsageCount)
}

func TestOrderRepository_TransitionDeductsOnce(t *testing.T) {
	s, p := seed(t)
	ctx := context.Background()

	o := newOrder(p, 7) // more than the 5 in stock
	require.NoError(t, s.orders.Create(ctx, o, ""))

	res, err := s.orders.Transition(ctx, order.Transition{
		OrderID: o.ID, From: order.StatusPending, To: order.StatusProcessing, DeductStock: true,
	})
	require.NoError(t, err)
	assert.True(t, res.StockDeducted)
	assert.True(t, res.Order.StockDeducted)

	got, err := s.products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)

	require.NoError(t, s.products.Upsert(ctx, product.Product{
		ID: p.ID, Name: p.Name, Price: p.Price, TaxPercentage: p.TaxPercentage, Stock: 4, Category: p.Category,
	}))
	res, err = s.orders.Transition(ctx, order.Transition{
		OrderID: o.ID, From: order.StatusProcessing, To: order.StatusProcessing, DeductStock: true,
	})
	require.NoError(t, err)
	assert.False(t, res.StockDeducted)

	got, err = s.products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)
}

func TestOrderRepository_TransitionConflict(t *testing.T) {
	s, p := seed(t)
	ctx := context.Background()

	o := newOrder(p, 1)
	require.NoError(t, s.orders.Create(ctx, o, ""))

	_, err := s.orders.Transition(ctx, order.Transition{
		OrderID: o.ID, From: order.StatusShipped, To: order.StatusCompleted,
	})
	require.ErrorIs(t, err, order.ErrStatusConflict)

	_, err = s.orders.Transition(ctx, order.Transition{
		OrderID: "missing", From: order.StatusPending, To: order.StatusCancelled,
	})
	require.ErrorIs(t, err, order.ErrNotFound)
}
