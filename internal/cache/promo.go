// Package cache provides Redis read-through caches in front of the domain
// repositories.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-engine/internal/domain/promo"
)

const (
	keyPromo = "storefront:promo:"
	// notFound marks a cached miss.
	notFound = "-"
)

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository caches promo lookups in Redis for the cart pricing path.
//
// Usage counts go stale for up to TTL, so checkout must keep reading the
// database directly: the quota is enforced there by the conditional update.
// Redis failures fall through to the wrapped repository.
type PromoRepository struct {
	next        promo.Repository
	rdb         redis.Cmdable
	ttl         time.Duration
	notFoundTTL time.Duration
}

// NewPromoRepository wraps next. Misses are cached for a tenth of ttl.
func NewPromoRepository(next promo.Repository, rdb redis.Cmdable, ttl time.Duration) *PromoRepository {
	return &PromoRepository{
		next:        next,
		rdb:         rdb,
		ttl:         ttl,
		notFoundTTL: ttl / 10,
	}
}

func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Promo, error) {
	lg := zctx.From(ctx)
	key := keyPromo + code

	raw, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if string(raw) == notFound {
			return nil, promo.ErrNotFound
		}
		p, err := decodePromo(raw)
		if err == nil {
			return p, nil
		}
		lg.Warn("Dropping corrupt promo cache entry", zap.String("code", code), zap.Error(err))
	case errors.Is(err, redis.Nil):
	default:
		lg.Warn("Promo cache read failed", zap.String("code", code), zap.Error(err))
	}

	p, err := r.next.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, promo.ErrNotFound) && r.notFoundTTL > 0 {
			r.store(ctx, key, []byte(notFound), r.notFoundTTL)
		}
		return nil, err
	}
	r.store(ctx, key, encodePromo(p), r.ttl)
	return p, nil
}

// Invalidate drops the cached entry for code.
func (r *PromoRepository) Invalidate(ctx context.Context, code string) error {
	if err := r.rdb.Del(ctx, keyPromo+promo.NormalizeCode(code)).Err(); err != nil {
		return errors.Wrap(err, "invalidate promo")
	}
	return nil
}

func (r *PromoRepository) store(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		zctx.From(ctx).Warn("Promo cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func encodePromo(p *promo.Promo) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
	e.Field("code", func(e *jx.Encoder) { e.Str(p.Code) })
	e.Field("discount_percentage", func(e *jx.Encoder) { e.Str(p.DiscountPercentage.String()) })
	e.Field("active", func(e *jx.Encoder) { e.Bool(p.Active) })
	if p.ValidFrom != nil {
		e.Field("valid_from", func(e *jx.Encoder) { e.Int64(p.ValidFrom.UnixMicro()) })
	}
	if p.ValidUntil != nil {
		e.Field("valid_until", func(e *jx.Encoder) { e.Int64(p.ValidUntil.UnixMicro()) })
	}
	e.Field("usage_limit", func(e *jx.Encoder) { e.Int(p.UsageLimit) })
	e.Field("usage_count", func(e *jx.Encoder) { e.Int(p.UsageCount) })
	e.Field("scope", func(e *jx.Encoder) { e.Str(string(p.Scope)) })
	e.Field("product_ids", func(e *jx.Encoder) { encodeStrings(e, p.ProductIDs) })
	e.Field("category_slugs", func(e *jx.Encoder) { encodeStrings(e, p.CategorySlugs) })
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

func encodeStrings(e *jx.Encoder, list []string) {
	e.ArrStart()
	for _, s := range list {
		e.Str(s)
	}
	e.ArrEnd()
}

func decodePromo(raw []byte) (*promo.Promo, error) {
	var p promo.Promo
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "code":
			p.Code, err = d.Str()
		case "discount_percentage":
			var s string
			if s, err = d.Str(); err == nil {
				p.DiscountPercentage, err = decimal.NewFromString(s)
			}
		case "active":
			p.Active, err = d.Bool()
		case "valid_from":
			p.ValidFrom, err = decodeMicros(d)
		case "valid_until":
			p.ValidUntil, err = decodeMicros(d)
		case "usage_limit":
			p.UsageLimit, err = d.Int()
		case "usage_count":
			p.UsageCount, err = d.Int()
		case "scope":
			var s string
			s, err = d.Str()
			p.Scope = promo.Scope(s)
		case "product_ids":
			p.ProductIDs, err = decodeStrings(d)
		case "category_slugs":
			p.CategorySlugs, err = decodeStrings(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode promo")
	}
	return &p, nil
}

func decodeMicros(d *jx.Decoder) (*time.Time, error) {
	v, err := d.Int64()
	if err != nil {
		return nil, err
	}
	t := time.UnixMicro(v).UTC()
	return &t, nil
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	list := []string{}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		list = append(list, s)
		return nil
	})
	return list, err
}
