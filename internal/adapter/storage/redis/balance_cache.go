package redis

import (
	"context"
	"fmt"

	"instant-payout/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const balancePrefix = "balance:"

// Sentinel strings returned by the scripts. They can never collide with a
// balance because balances are formatted numbers.
const (
	sentinelNotFound     = "NOT_FOUND"
	sentinelInsufficient = "INSUFFICIENT"
)

// deductScript is the single atomic admission step: read, bound-check and
// write happen inside one script evaluation, so the balance can never go
// negative under concurrent callers.
var deductScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 'NOT_FOUND' end
local bal = tonumber(v)
local amt = tonumber(ARGV[1])
if bal < amt then return 'INSUFFICIENT' end
local nb = string.format('%.2f', bal - amt)
redis.call('SET', KEYS[1], nb)
return nb`)

// addScript is the compensating credit used by settlement rollback.
var addScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 'NOT_FOUND' end
local nb = string.format('%.2f', tonumber(v) + tonumber(ARGV[1]))
redis.call('SET', KEYS[1], nb)
return nb`)

// BalanceCache implements ports.BalanceCache: the authoritative pending
// balance, stored as a 2dp decimal string under balance:{user_id}.
type BalanceCache struct {
	client *goredis.Client
}

// NewBalanceCache creates a Redis-backed balance cache.
func NewBalanceCache(client *goredis.Client) *BalanceCache {
	return &BalanceCache{client: client}
}

// Get returns the cached pending balance, or ports.ErrBalanceNotFound when
// the cache is cold.
func (c *BalanceCache) Get(ctx context.Context, userID string) (decimal.Decimal, error) {
	val, err := c.client.Get(ctx, balancePrefix+userID).Result()
	if err != nil {
		if err == goredis.Nil {
			return decimal.Zero, ports.ErrBalanceNotFound
		}
		return decimal.Zero, fmt.Errorf("redis balance get: %w", err)
	}
	return parseBalance(val)
}

// Set seeds the cached balance unconditionally. Only used on cold-miss
// rehydration from the durable user record, under the user's lock.
func (c *BalanceCache) Set(ctx context.Context, userID string, value decimal.Decimal) error {
	if err := c.client.Set(ctx, balancePrefix+userID, value.StringFixed(2), 0).Err(); err != nil {
		return fmt.Errorf("redis balance set: %w", err)
	}
	return nil
}

// Deduct atomically subtracts amount and returns the new balance.
// Returns ports.ErrBalanceNotFound on a cold cache and
// ports.ErrInsufficient when balance < amount; in both cases nothing was
// written.
func (c *BalanceCache) Deduct(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	res, err := deductScript.Run(ctx, c.client, []string{balancePrefix + userID}, amount.StringFixed(2)).Text()
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis balance deduct: %w", err)
	}
	switch res {
	case sentinelNotFound:
		return decimal.Zero, ports.ErrBalanceNotFound
	case sentinelInsufficient:
		return decimal.Zero, ports.ErrInsufficient
	}
	return parseBalance(res)
}

// Add atomically credits amount back and returns the new balance. Used for
// compensating rollback after a failed settlement.
func (c *BalanceCache) Add(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	res, err := addScript.Run(ctx, c.client, []string{balancePrefix + userID}, amount.StringFixed(2)).Text()
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis balance add: %w", err)
	}
	if res == sentinelNotFound {
		return decimal.Zero, ports.ErrBalanceNotFound
	}
	return parseBalance(res)
}

// HasSufficient is a non-atomic advisory pre-check. Admission correctness
// rests on Deduct's internal check, never on this.
func (c *BalanceCache) HasSufficient(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	bal, err := c.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return bal.GreaterThanOrEqual(amount), nil
}

func parseBalance(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse cached balance %q: %w", s, err)
	}
	return d, nil
}
