// Command promo-import bulk-loads promo codes from gzip-compressed CSV files
// into PostgreSQL. Codes that already exist are left untouched.
//
// Each file starts with a header naming its columns: code and
// discount_percentage are required, scope, targets (| separated),
// valid_from, valid_until (RFC 3339), usage_limit and active are optional.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xenking/storefront-engine/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	var (
		databaseURL string
		expected    uint
		fpRate      float64
		batchSize   int
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&expected, "expected-codes", 10_000_000, "expected number of existing plus imported codes, sizes the bloom filter")
	flag.Float64Var(&fpRate, "false-positive-rate", 0.001, "bloom filter false positive rate")
	flag.IntVar(&batchSize, "batch-size", 5000, "rows per COPY or INSERT batch")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	files := flag.Args()
	if len(files) == 0 {
		lg.Fatal("No input files: pass one or more .csv.gz paths")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, files, expected, fpRate, batchSize); err != nil {
		lg.Error("Promo import failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, files []string, expected uint, fpRate float64, batchSize int) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	im := newImporter(postgres.NewPromoRepository(pool), lg, expected, fpRate, batchSize)

	existing, err := im.loadExisting(ctx)
	if err != nil {
		return errors.Wrap(err, "load existing codes")
	}
	lg.Info("Existing codes loaded", zap.Int("count", existing))

	st, err := im.Run(ctx, files)
	lg.Info("Import finished",
		zap.Int64("read", st.Read),
		zap.Int64("invalid", st.Invalid),
		zap.Int64("copied", st.Copied),
		zap.Int64("inserted", st.Inserted),
		zap.Int64("skipped_existing", st.Skipped),
	)
	return err
}
