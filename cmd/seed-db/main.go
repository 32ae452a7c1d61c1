// Command seed-db loads catalog, promo and payment fixtures and an operator
// API key into the configured store.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront-engine/internal/cache"
	"github.com/xenking/storefront-engine/internal/domain/auth"
	"github.com/xenking/storefront-engine/internal/domain/payment"
	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
	"github.com/xenking/storefront-engine/internal/storage/postgres"
	"github.com/xenking/storefront-engine/internal/storage/sqlite"
)

type options struct {
	driver       string
	databaseURL  string
	sqlitePath   string
	fixturesFile string
	apiKey       string
	apiKeyPepper string
	redisAddr    string
}

// seeder writes fixtures. Both storage backends implement it.
type seeder struct {
	products interface {
		Upsert(ctx context.Context, p product.Product) error
	}
	promos interface {
		Upsert(ctx context.Context, p promo.Promo) error
	}
	payments interface {
		Upsert(ctx context.Context, m payment.Method, sortOrder int) error
	}
	apiKeys interface {
		Upsert(ctx context.Context, info auth.APIKeyInfo) error
	}
	close func()
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.driver, "driver", "postgres", "storage driver: postgres or sqlite")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.sqlitePath, "sqlite-path", "storefront.db", "SQLite database file")
	flag.StringVar(&opts.fixturesFile, "fixtures", "db/seed/storefront.json", "path to fixtures JSON file")
	flag.StringVar(&opts.apiKey, "api-key", "", "operator API key to seed (or STOREFRONT_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STOREFRONT_API_KEY_PEPPER env)")
	flag.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address; seeded promo codes are evicted from the cache")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("STOREFRONT_SEED_API_KEY")
	}
	if opts.apiKeyPepper == "" {
		opts.apiKeyPepper = os.Getenv("STOREFRONT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func open(ctx context.Context, opts options) (*seeder, error) {
	switch opts.driver {
	case "postgres":
		if opts.databaseURL == "" {
			return nil, errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		pool, err := postgres.NewPool(ctx, opts.databaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "connect to database")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &seeder{
			products: postgres.NewProductRepository(pool),
			promos:   postgres.NewPromoRepository(pool),
			payments: postgres.NewPaymentRepository(pool),
			apiKeys:  postgres.NewAPIKeyRepository(pool),
			close:    pool.Close,
		}, nil
	case "sqlite":
		conn, err := sqlite.Open(ctx, opts.sqlitePath)
		if err != nil {
			return nil, err
		}
		return &seeder{
			products: sqlite.NewProductRepository(conn),
			promos:   sqlite.NewPromoRepository(conn),
			payments: sqlite.NewPaymentRepository(conn),
			apiKeys:  sqlite.NewAPIKeyRepository(conn),
			close:    func() { _ = conn.Close() },
		}, nil
	default:
		return nil, errors.Errorf("unknown driver %q", opts.driver)
	}
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	data, err := os.ReadFile(opts.fixturesFile)
	if err != nil {
		return errors.Wrap(err, "read fixtures")
	}
	fx, err := parseFixtures(data)
	if err != nil {
		return err
	}

	s, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer s.close()

	for i, m := range fx.Payments {
		if err := s.payments.Upsert(ctx, m, i); err != nil {
			return err
		}
	}
	lg.Info("Payment methods seeded", zap.Int("count", len(fx.Payments)))

	for _, p := range fx.Products {
		if err := s.products.Upsert(ctx, p); err != nil {
			return err
		}
	}
	lg.Info("Products seeded", zap.Int("count", len(fx.Products)))

	for _, p := range fx.Promos {
		if err := s.promos.Upsert(ctx, p); err != nil {
			return err
		}
	}
	lg.Info("Promos seeded", zap.Int("count", len(fx.Promos)))

	if opts.apiKey != "" {
		if opts.apiKeyPepper == "" {
			return errors.New("api key pepper is required to seed an api key")
		}
		if err := s.apiKeys.Upsert(ctx, auth.APIKeyInfo{
			ID:      "default",
			KeyHash: auth.HashKey([]byte(opts.apiKeyPepper), opts.apiKey),
			Name:    "Default operator key",
			Scopes:  []string{auth.ScopeOrdersAdmin},
		}); err != nil {
			return err
		}
		lg.Info("API key seeded", zap.String("id", "default"))
	}

	if opts.redisAddr != "" {
		return evictPromos(ctx, lg, opts.redisAddr, fx.Promos)
	}
	return nil
}

// evictPromos drops cached copies of the seeded codes so pricing picks up
// the new definitions immediately.
func evictPromos(ctx context.Context, lg *zap.Logger, addr string, promos []promo.Promo) error {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = rdb.Close() }()

	c := cache.NewPromoRepository(nil, rdb, 0)
	for _, p := range promos {
		if err := c.Invalidate(ctx, p.Code); err != nil {
			return errors.Wrap(err, "evict cached promo")
		}
	}
	lg.Info("Promo cache entries evicted", zap.Int("count", len(promos)))
	return nil
}
