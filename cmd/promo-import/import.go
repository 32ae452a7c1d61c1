package main

import (
	"context"
	"io"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-engine/internal/domain/promo"
)

// promoStore is implemented by *postgres.PromoRepository.
type promoStore interface {
	EachCode(ctx context.Context, fn func(code string)) error
	CopyNew(ctx context.Context, promos []promo.Promo) (int64, error)
	InsertMissing(ctx context.Context, promos []promo.Promo) (int64, error)
}

type stats struct {
	Read     int64
	Invalid  int64
	Copied   int64
	Inserted int64
	// Skipped counts rows whose code already existed.
	Skipped int64
}

// importer routes parsed promos to the store. Codes the bloom filter has
// never seen are definitely new and go through COPY. Possible duplicates go
// through INSERT ... ON CONFLICT DO NOTHING.
type importer struct {
	store     promoStore
	lg        *zap.Logger
	filter    *bloom.BloomFilter
	batchSize int
	newID     func() string
}

func newImporter(store promoStore, lg *zap.Logger, expected uint, fpRate float64, batchSize int) *importer {
	return &importer{
		store:     store,
		lg:        lg,
		filter:    bloom.NewWithEstimates(max(expected, 1), fpRate),
		batchSize: max(batchSize, 1),
		newID:     uuid.NewString,
	}
}

// loadExisting adds every stored code to the filter.
func (im *importer) loadExisting(ctx context.Context) (int, error) {
	var n int
	err := im.store.EachCode(ctx, func(code string) {
		im.filter.AddString(code)
		n++
	})
	return n, err
}

// Run reads all files concurrently and writes from a single goroutine, which
// also owns the filter.
func (im *importer) Run(ctx context.Context, files []string) (stats, error) {
	var st stats
	rows := make(chan promo.Promo, im.batchSize)
	invalid := make([]int64, len(files))

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)
	for i, path := range files {
		readers.Go(func() error {
			n, err := im.readFile(rctx, path, rows)
			invalid[i] = n
			return err
		})
	}
	g.Go(func() error {
		defer close(rows)
		return readers.Wait()
	})
	g.Go(func() error {
		return im.write(gctx, rows, &st)
	})

	err := g.Wait()
	for _, n := range invalid {
		st.Invalid += n
	}
	return st, err
}

func (im *importer) readFile(ctx context.Context, path string, out chan<- promo.Promo) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return im.readRows(ctx, path, gz, out)
}

func (im *importer) readRows(ctx context.Context, name string, r io.Reader, out chan<- promo.Promo) (int64, error) {
	rr, err := newRowReader(r)
	if err != nil {
		return 0, errors.Wrap(err, name)
	}

	var invalid int64
	for {
		p, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return invalid, nil
		}
		var rowErr *rowError
		if errors.As(err, &rowErr) {
			invalid++
			im.lg.Warn("Skipping invalid row", zap.String("file", name), zap.Int("line", rowErr.Line), zap.Error(rowErr.Err))
			continue
		}
		if err != nil {
			return invalid, errors.Wrap(err, name)
		}

		select {
		case out <- p:
		case <-ctx.Done():
			return invalid, ctx.Err()
		}
	}
}

func (im *importer) write(ctx context.Context, rows <-chan promo.Promo, st *stats) error {
	fresh := make([]promo.Promo, 0, im.batchSize)
	maybe := make([]promo.Promo, 0, im.batchSize)

	flushFresh := func() error {
		if len(fresh) == 0 {
			return nil
		}
		n, err := im.store.CopyNew(ctx, fresh)
		if err != nil {
			return err
		}
		st.Copied += n
		im.lg.Info("Copied promo batch", zap.Int64("rows", n), zap.Int64("read", st.Read))
		fresh = fresh[:0]
		return nil
	}
	// Codes queued for COPY must reach the table before the conflict check
	// can see them.
	flushMaybe := func() error {
		if len(maybe) == 0 {
			return nil
		}
		if err := flushFresh(); err != nil {
			return err
		}
		n, err := im.store.InsertMissing(ctx, maybe)
		if err != nil {
			return err
		}
		st.Inserted += n
		st.Skipped += int64(len(maybe)) - n
		maybe = maybe[:0]
		return nil
	}

	for p := range rows {
		st.Read++
		p.ID = im.newID()
		if im.filter.TestString(p.Code) {
			maybe = append(maybe, p)
			if len(maybe) >= im.batchSize {
				if err := flushMaybe(); err != nil {
					return err
				}
			}
			continue
		}
		im.filter.AddString(p.Code)
		fresh = append(fresh, p)
		if len(fresh) >= im.batchSize {
			if err := flushFresh(); err != nil {
				return err
			}
		}
	}
	if err := flushMaybe(); err != nil {
		return err
	}
	return flushFresh()
}
