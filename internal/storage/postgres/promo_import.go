package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-engine/internal/domain/promo"
)

const (
	listPromoCodesSQL = `SELECT code FROM promo_codes`

	insertPromoIgnoreSQL = `INSERT INTO promo_codes (id, code, discount_percentage, active, valid_from, valid_until,
			usage_limit, scope, product_ids, category_slugs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO NOTHING`
)

var promoCopyColumns = []string{
	"id", "code", "discount_percentage", "active", "valid_from", "valid_until",
	"usage_limit", "scope", "product_ids", "category_slugs",
}

// EachCode streams every stored promo code to fn.
func (r *PromoRepository) EachCode(ctx context.Context, fn func(code string)) error {
	rows, err := r.pool.Query(ctx, listPromoCodesSQL)
	if err != nil {
		return errors.Wrap(err, "list promo codes")
	}
	defer rows.Close()

	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "scan promo codes")
	}
	return nil
}

// CopyNew bulk-loads promos with COPY. Every code must be absent from the
// table; a duplicate aborts the whole batch.
func (r *PromoRepository) CopyNew(ctx context.Context, promos []promo.Promo) (int64, error) {
	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"promo_codes"}, promoCopyColumns,
		pgx.CopyFromSlice(len(promos), func(i int) ([]any, error) {
			return promoRow(promos[i]), nil
		}),
	)
	if err != nil {
		return n, errors.Wrap(err, "copy promo codes")
	}
	return n, nil
}

// InsertMissing inserts promos whose code is not stored yet and skips the
// rest. It returns the number of rows inserted.
func (r *PromoRepository) InsertMissing(ctx context.Context, promos []promo.Promo) (int64, error) {
	batch := &pgx.Batch{}
	for _, p := range promos {
		batch.Queue(insertPromoIgnoreSQL, promoRow(p)...)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	var inserted int64
	for range promos {
		tag, err := br.Exec()
		if err != nil {
			return inserted, errors.Wrap(err, "insert promo code")
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func promoRow(p promo.Promo) []any {
	return []any{
		p.ID, promo.NormalizeCode(p.Code), p.DiscountPercentage, p.Active, p.ValidFrom, p.ValidUntil,
		usageLimitArg(p.UsageLimit), string(p.Scope), nonNil(p.ProductIDs), nonNil(p.CategorySlugs),
	}
}
