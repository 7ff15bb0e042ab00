package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"instant-payout/config"
	httpHandler "instant-payout/internal/adapter/http/handler"
	redisStorage "instant-payout/internal/adapter/storage/redis"
	"instant-payout/internal/core/domain"
	"instant-payout/internal/service"
	"instant-payout/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentPayoutsSameUser fires parallel payouts for one user.
// The lock admits exactly one; the rest observe CONCURRENT_REQUEST.
func TestConcurrentPayoutsSameUser(t *testing.T) {
	app := newTestApp(t)
	app.seedUser(t, "user_001", "10000.00")

	const parallel = 8
	codes := make([]int, parallel)
	var wg sync.WaitGroup
	wg.Add(parallel)
	for i := 0; i < parallel; i++ {
		go func(i int) {
			defer wg.Done()
			raw, _ := json.Marshal(payoutRequestBody("user_001", "100.50"))
			resp, err := http.Post(app.server.URL+"/api/payout", "application/json", bytes.NewReader(raw))
			if err != nil {
				return
			}
			defer resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	accepted, conflicted := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusAccepted:
			accepted++
		case http.StatusConflict:
			conflicted++
		}
	}
	require.Equal(t, 1, accepted, "exactly one payout must win the lock")
	require.Equal(t, parallel-1, conflicted)
	require.Equal(t, 1, app.queue.depth())

	app.settle(t)

	_, balance := app.getJSON(t, "/api/payout/user/user_001/balance")
	assert.Equal(t, "9899.50", balance["balance"])
}

// TestConcurrentPayoutsDistinctUsers verifies per-user locks do not
// serialize unrelated users.
func TestConcurrentPayoutsDistinctUsers(t *testing.T) {
	app := newTestApp(t)
	const users = 6
	for i := 0; i < users; i++ {
		app.seedUser(t, fmt.Sprintf("user_%03d", i), "1000.00")
	}

	var wg sync.WaitGroup
	codes := make([]int, users)
	wg.Add(users)
	for i := 0; i < users; i++ {
		go func(i int) {
			defer wg.Done()
			raw, _ := json.Marshal(payoutRequestBody(fmt.Sprintf("user_%03d", i), "10.00"))
			resp, err := http.Post(app.server.URL+"/api/payout", "application/json", bytes.NewReader(raw))
			if err != nil {
				return
			}
			defer resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, http.StatusAccepted, code, "user %d", i)
	}
	require.Equal(t, users, app.queue.depth())

	app.settle(t)
	for i := 0; i < users; i++ {
		_, balance := app.getJSON(t, fmt.Sprintf("/api/payout/user/user_%03d/balance", i))
		assert.Equal(t, "990.00", balance["balance"])
	}
}

// TestCacheAdmissionNeverOversells drives settlements until the balance
// is exhausted; the cache deduct must refuse the payout that would go
// negative.
func TestCacheAdmissionNeverOversells(t *testing.T) {
	app := newTestApp(t)
	app.seedUser(t, "user_001", "25.00")

	var accepted, refused int
	for i := 0; i < 4; i++ {
		resp, _ := app.postPayout(t, payoutRequestBody("user_001", "10.00"))
		switch resp.StatusCode {
		case http.StatusAccepted:
			accepted++
			app.settle(t)
		case http.StatusBadRequest:
			refused++
		}
	}

	assert.Equal(t, 2, accepted)
	assert.Equal(t, 2, refused)

	_, balance := app.getJSON(t, "/api/payout/user/user_001/balance")
	assert.Equal(t, "5.00", balance["balance"])
}

// TestUserRateLimitEndToEnd exercises the fixed-window limiter through
// the full router.
func TestUserRateLimitEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.New("error", false)

	users := newInMemoryUserStore()
	users.put(&domain.User{
		UserID:   "user_001",
		Balance:  decimal.RequireFromString("10000.00"),
		Currency: "USD",
		Status:   domain.UserStatusActive,
	})
	txs := newInMemoryTransactionStore()
	audits := newInMemoryAuditStore()
	queue := newMemQueue()
	lock := redisStorage.NewLockService(rdb)
	cache := redisStorage.NewBalanceCache(rdb)
	eventBus := redisStorage.NewEventBus(rdb, log)
	settlement := service.NewSettlementService(users, txs, audits, lock, cache, eventBus, log)

	intake, err := service.NewIntakeService(users, txs, audits, lock, cache, queue, eventBus, payoutConfig(), log)
	require.NoError(t, err)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Intake:         intake,
		TokenSvc:       service.NewTokenService(config.JWTConfig{Secret: "integration-secret-32-bytes-long!!!!", Issuer: "instant-payout"}),
		RateLimitStore: redisStorage.NewRateLimitStore(rdb),
		RateLimit: config.RateLimitConfig{
			Window:          time.Minute,
			MaxRequests:     100,
			UserWindow:      time.Minute,
			UserMaxRequests: 3,
		},
		Logger: log,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	post := func() *http.Response {
		raw, _ := json.Marshal(payoutRequestBody("user_001", "10.00"))
		resp, err := http.Post(server.URL+"/api/payout", "application/json", bytes.NewReader(raw))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	for i := 0; i < 3; i++ {
		resp := post()
		require.Equal(t, http.StatusAccepted, resp.StatusCode, "request %d", i+1)
		for _, msg := range queue.drain() {
			require.NoError(t, settlement.ProcessPayout(context.Background(), msg))
		}
	}

	resp := post()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Health endpoints stay reachable under the global limiter.
	healthResp, err := http.Get(server.URL + "/api/health/live")
	require.NoError(t, err)
	defer healthResp.Body.Close()
	assert.Equal(t, http.StatusOK, healthResp.StatusCode)
}
