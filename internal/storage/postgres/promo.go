package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-engine/internal/domain/promo"
)

const (
	getPromoByCodeSQL = `SELECT id, code, discount_percentage, active, valid_from, valid_until,
		usage_limit, usage_count, scope, product_ids, category_slugs
		FROM promo_codes WHERE code = $1`

	// incrementPromoUsageSQL re-applies every usability rule in the WHERE
	// clause so that a concurrent checkout cannot push usage past the limit.
	incrementPromoUsageSQL = `UPDATE promo_codes SET usage_count = usage_count + 1
		WHERE id = $1
			AND active
			AND (usage_limit IS NULL OR usage_count < usage_limit)
			AND (valid_from IS NULL OR valid_from <= $2)
			AND (valid_until IS NULL OR valid_until >= $2)`

	upsertPromoSQL = `INSERT INTO promo_codes (id, code, discount_percentage, active, valid_from, valid_until,
			usage_limit, scope, product_ids, category_slugs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO UPDATE SET
			discount_percentage = EXCLUDED.discount_percentage,
			active = EXCLUDED.active,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			usage_limit = EXCLUDED.usage_limit,
			scope = EXCLUDED.scope,
			product_ids = EXCLUDED.product_ids,
			category_slugs = EXCLUDED.category_slugs`
)

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL.
type PromoRepository struct {
	pool *pgxpool.Pool
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// FindByCode looks up a promo by its normalized code. Inactive promos are
// returned too; promo.Check decides what they mean.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Promo, error) {
	rows, err := r.pool.Query(ctx, getPromoByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find promo %q", code)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find promo %q", code)
	}
	return &p, nil
}

// Upsert inserts or replaces a promo keyed by code. The usage counter is
// never touched.
func (r *PromoRepository) Upsert(ctx context.Context, p promo.Promo) error {
	if _, err := r.pool.Exec(ctx, upsertPromoSQL, promoRow(p)...); err != nil {
		return errors.Wrapf(err, "upsert promo %q", p.Code)
	}
	return nil
}

// incrementPromoUsage runs inside the order transaction. Zero affected rows
// means the promo stopped being usable after it was validated.
func incrementPromoUsage(ctx context.Context, tx pgx.Tx, promoID string, now time.Time) error {
	tag, err := tx.Exec(ctx, incrementPromoUsageSQL, promoID, now)
	if err != nil {
		return errors.Wrap(err, "increment promo usage")
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrQuotaExhausted
	}
	return nil
}

func scanPromo(row pgx.CollectableRow) (promo.Promo, error) {
	var (
		p          promo.Promo
		usageLimit *int32
		usageCount int32
		scope      string
	)
	err := row.Scan(
		&p.ID, &p.Code, &p.DiscountPercentage, &p.Active, &p.ValidFrom, &p.ValidUntil,
		&usageLimit, &usageCount, &scope, &p.ProductIDs, &p.CategorySlugs,
	)
	if usageLimit != nil {
		p.UsageLimit = int(*usageLimit)
	}
	p.UsageCount = int(usageCount)
	p.Scope = promo.Scope(scope)
	return p, err
}

// usageLimitArg maps the domain's "zero means unlimited" to SQL NULL.
func usageLimitArg(limit int) *int32 {
	if limit <= 0 {
		return nil
	}
	v := int32(limit)
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
