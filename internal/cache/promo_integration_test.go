//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront-engine/internal/domain/promo"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestPromoRepository_ReadThrough(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()

	next := &countingRepo{promos: map[string]*promo.Promo{"CRAFT15": samplePromo()}}
	r := NewPromoRepository(next, rdb, time.Minute)

	for range 3 {
		p, err := r.FindByCode(ctx, "CRAFT15")
		require.NoError(t, err)
		assert.Equal(t, []string{"crafts", "yarn"}, p.CategorySlugs)
	}
	assert.Equal(t, int32(1), next.calls.Load())

	for range 2 {
		_, err := r.FindByCode(ctx, "NOPE")
		require.ErrorIs(t, err, promo.ErrNotFound)
	}
	assert.Equal(t, int32(2), next.calls.Load(), "miss is cached")

	require.NoError(t, r.Invalidate(ctx, "craft15"))
	_, err := r.FindByCode(ctx, "CRAFT15")
	require.NoError(t, err)
	assert.Equal(t, int32(3), next.calls.Load())
}
