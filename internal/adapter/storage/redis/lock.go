package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const lockPrefix = "lock:"

// releaseScript deletes the lock only when the caller still holds it.
// An expired holder whose resource was re-acquired must never delete the
// successor's lock.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0`)

// extendScript refreshes the TTL only for the current holder.
var extendScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)

// LockService implements ports.Lock over Redis SET NX PX with fencing
// tokens.
type LockService struct {
	client *goredis.Client
}

// NewLockService creates a Redis-backed lock service.
func NewLockService(client *goredis.Client) *LockService {
	return &LockService{client: client}
}

// newToken returns a 128-bit cryptographically random hex token.
func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Acquire installs lock:{resource}=token with a millisecond expiry if the
// key is absent. Returns ok=false on contention.
func (l *LockService) Acquire(ctx context.Context, resource string, ttl time.Duration) (string, bool, error) {
	token, err := newToken()
	if err != nil {
		return "", false, err
	}

	ok, err := l.client.SetNX(ctx, lockPrefix+resource, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis lock acquire: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// AcquireWithRetry retries Acquire with linear backoff
// (delay = baseDelay × attempt). Exhaustion returns ok=false; callers
// treat that as a concurrent request.
func (l *LockService) AcquireWithRetry(ctx context.Context, resource string, ttl time.Duration, attempts int, baseDelay time.Duration) (string, bool, error) {
	for attempt := 1; attempt <= attempts; attempt++ {
		token, ok, err := l.Acquire(ctx, resource, ttl)
		if err != nil {
			return "", false, err
		}
		if ok {
			return token, true, nil
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(baseDelay * time.Duration(attempt)):
		}
	}
	return "", false, nil
}

// Release deletes the lock only if its value equals token. Returns false
// when the lock was not held by this token (expired or stolen).
func (l *LockService) Release(ctx context.Context, resource, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{lockPrefix + resource}, token).Int()
	if err != nil {
		return false, fmt.Errorf("redis lock release: %w", err)
	}
	return n == 1, nil
}

// Extend refreshes the lock TTL only if its value equals token. Used by
// settlements that outlive the default TTL.
func (l *LockService) Extend(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{lockPrefix + resource}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis lock extend: %w", err)
	}
	return n == 1, nil
}
