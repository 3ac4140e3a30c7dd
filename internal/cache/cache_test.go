package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shop struct {
	ID     string
	Domain string
	Active bool
}

func newTestCache(t *testing.T) *RedisCache {
	mr := miniredis.RunT(t)
	return NewCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, "integration:1", shop{ID: "1", Domain: "a.example.com", Active: true}, time.Minute))

	var got shop
	require.NoError(t, c.Get(ctx, "integration:1", &got))
	assert.Equal(t, shop{ID: "1", Domain: "a.example.com", Active: true}, got)
}

func TestGetMiss(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var got shop
	assert.ErrorIs(t, c.Get(ctx, "missing", &got), ErrMiss)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "never-set"))

	var got string
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)
}
