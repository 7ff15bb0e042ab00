package redis_test

import (
	"context"
	"sync"
	"testing"

	"instant-payout/internal/adapter/storage/redis"
	"instant-payout/internal/core/ports"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBalanceCache(t *testing.T) (*redis.BalanceCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redis.NewBalanceCache(client), mr
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBalanceCache_GetSet(t *testing.T) {
	cache, mr := newBalanceCache(t)
	ctx := context.Background()

	_, err := cache.Get(ctx, "user_001")
	assert.ErrorIs(t, err, ports.ErrBalanceNotFound, "cold cache")

	require.NoError(t, cache.Set(ctx, "user_001", dec("10000.00")))

	got, err := cache.Get(ctx, "user_001")
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("10000.00")))

	stored, _ := mr.Get("balance:user_001")
	assert.Equal(t, "10000.00", stored, "stored as 2dp decimal string")
}

func TestBalanceCache_Deduct(t *testing.T) {
	cache, mr := newBalanceCache(t)
	ctx := context.Background()

	t.Run("cold cache returns not found", func(t *testing.T) {
		_, err := cache.Deduct(ctx, "ghost", dec("5.00"))
		assert.ErrorIs(t, err, ports.ErrBalanceNotFound)
	})

	require.NoError(t, cache.Set(ctx, "user_001", dec("10000.00")))

	t.Run("deducts and returns new balance", func(t *testing.T) {
		nb, err := cache.Deduct(ctx, "user_001", dec("100.50"))
		require.NoError(t, err)
		assert.True(t, nb.Equal(dec("9899.50")), "got %s", nb)

		stored, _ := mr.Get("balance:user_001")
		assert.Equal(t, "9899.50", stored)
	})

	t.Run("refuses when balance is short", func(t *testing.T) {
		_, err := cache.Deduct(ctx, "user_001", dec("9899.51"))
		assert.ErrorIs(t, err, ports.ErrInsufficient)

		stored, _ := mr.Get("balance:user_001")
		assert.Equal(t, "9899.50", stored, "refused deduct must not write")
	})

	t.Run("deduct to exactly zero is allowed", func(t *testing.T) {
		nb, err := cache.Deduct(ctx, "user_001", dec("9899.50"))
		require.NoError(t, err)
		assert.True(t, nb.IsZero())
	})
}

func TestBalanceCache_Add(t *testing.T) {
	cache, _ := newBalanceCache(t)
	ctx := context.Background()

	_, err := cache.Add(ctx, "ghost", dec("5.00"))
	assert.ErrorIs(t, err, ports.ErrBalanceNotFound)

	require.NoError(t, cache.Set(ctx, "user_001", dec("50.00")))

	nb, err := cache.Add(ctx, "user_001", dec("12.34"))
	require.NoError(t, err)
	assert.True(t, nb.Equal(dec("62.34")))
}

func TestBalanceCache_DeductAddRoundTrip(t *testing.T) {
	cache, _ := newBalanceCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "user_001", dec("5000.00")))

	_, err := cache.Deduct(ctx, "user_001", dec("123.45"))
	require.NoError(t, err)

	nb, err := cache.Add(ctx, "user_001", dec("123.45"))
	require.NoError(t, err)
	assert.True(t, nb.Equal(dec("5000.00")), "rollback restores pre-deduction balance")
}

func TestBalanceCache_HasSufficient(t *testing.T) {
	cache, _ := newBalanceCache(t)
	ctx := context.Background()

	_, err := cache.HasSufficient(ctx, "ghost", dec("1.00"))
	assert.ErrorIs(t, err, ports.ErrBalanceNotFound)

	require.NoError(t, cache.Set(ctx, "user_001", dec("100.00")))

	ok, err := cache.HasSufficient(ctx, "user_001", dec("100.00"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.HasSufficient(ctx, "user_001", dec("100.01"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBalanceCache_ConcurrentDeducts(t *testing.T) {
	cache, _ := newBalanceCache(t)
	ctx := context.Background()

	// 20 workers race to deduct 10.00 from 100.00: exactly 10 may win and
	// the balance must end at zero, never negative.
	require.NoError(t, cache.Set(ctx, "user_001", dec("100.00")))

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Deduct(ctx, "user_001", dec("10.00"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, refusals int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, ports.ErrInsufficient):
			refusals++
		}
	}
	assert.Equal(t, 10, wins)
	assert.Equal(t, 10, refusals)

	final, err := cache.Get(ctx, "user_001")
	require.NoError(t, err)
	assert.True(t, final.IsZero(), "got %s", final)
}
