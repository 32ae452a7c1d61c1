package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront-engine/internal/domain/auth"
	"github.com/xenking/storefront-engine/internal/domain/order"
	"github.com/xenking/storefront-engine/internal/domain/payment"
	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
	"github.com/xenking/storefront-engine/internal/storage/postgres"
	"github.com/xenking/storefront-engine/internal/storage/sqlite"
	"github.com/xenking/storefront-engine/pkg/health"
)

// store bundles the repositories of one storage backend.
type store struct {
	products product.Repository
	promos   promo.Repository
	payments payment.Repository
	orders   order.Repository
	apiKeys  auth.Repository
	ping     health.CheckFunc
	close    func()
}

func openStore(ctx context.Context, lg *zap.Logger, cfg StorageConfig) (*store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		lg.Info("Using postgres store")
		return &store{
			products: postgres.NewProductRepository(pool),
			promos:   postgres.NewPromoRepository(pool),
			payments: postgres.NewPaymentRepository(pool),
			orders:   postgres.NewOrderRepository(pool),
			apiKeys:  postgres.NewAPIKeyRepository(pool),
			ping:     health.PingCheck(pool),
			close:    pool.Close,
		}, nil
	case DriverSQLite:
		conn, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite")
		}
		lg.Info("Using sqlite store", zap.String("path", cfg.SQLitePath))
		return &store{
			products: sqlite.NewProductRepository(conn),
			promos:   sqlite.NewPromoRepository(conn),
			payments: sqlite.NewPaymentRepository(conn),
			orders:   sqlite.NewOrderRepository(conn),
			apiKeys:  sqlite.NewAPIKeyRepository(conn),
			ping:     health.SQLCheck(conn),
			close:    func() { _ = conn.Close() },
		}, nil
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
