package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-engine/internal/domain/promo"
)

type countingRepo struct {
	promos map[string]*promo.Promo
	calls  atomic.Int32
}

func (r *countingRepo) FindByCode(_ context.Context, code string) (*promo.Promo, error) {
	r.calls.Add(1)
	p, ok := r.promos[code]
	if !ok {
		return nil, promo.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func samplePromo() *promo.Promo {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &promo.Promo{
		ID:                 "p1",
		Code:               "CRAFT15",
		DiscountPercentage: decimal.RequireFromString("15.5"),
		Active:             true,
		ValidFrom:          &from,
		UsageLimit:         100,
		UsageCount:         7,
		Scope:              promo.ScopeCategory,
		ProductIDs:         []string{},
		CategorySlugs:      []string{"crafts", "yarn"},
	}
}

func TestPromoCodec(t *testing.T) {
	p := samplePromo()

	got, err := decodePromo(encodePromo(p))
	require.NoError(t, err)
	assert.True(t, p.DiscountPercentage.Equal(got.DiscountPercentage))
	require.NotNil(t, got.ValidFrom)
	assert.True(t, p.ValidFrom.Equal(*got.ValidFrom))
	assert.Nil(t, got.ValidUntil)

	got.DiscountPercentage = p.DiscountPercentage
	got.ValidFrom = p.ValidFrom
	assert.Equal(t, p, got)
}

func TestDecodePromo_Corrupt(t *testing.T) {
	_, err := decodePromo([]byte(`{"usage_limit":"ten"}`))
	require.Error(t, err)
}

func TestPromoRepository_FallsThroughWhenRedisIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	next := &countingRepo{promos: map[string]*promo.Promo{"CRAFT15": samplePromo()}}
	r := NewPromoRepository(next, rdb, time.Minute)

	p, err := r.FindByCode(context.Background(), "CRAFT15")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)

	_, err = r.FindByCode(context.Background(), "NOPE")
	require.ErrorIs(t, err, promo.ErrNotFound)
	assert.Equal(t, int32(2), next.calls.Load())
}
