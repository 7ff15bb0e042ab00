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
	"instant-payout/internal/core/ports"
	"instant-payout/internal/service"
	"instant-payout/pkg/apperror"
	"instant-payout/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApp wires the full gateway and worker stacks against miniredis and
// in-memory durable stores. The HTTP layer, middleware, services, lock,
// balance cache and event bridge are all real; only Postgres and
// RabbitMQ are substituted.
type testApp struct {
	server *httptest.Server
	redis  *miniredis.Miniredis

	users      *inMemoryUserStore
	txs        *inMemoryTransactionStore
	audits     *inMemoryAuditStore
	queue      *memQueue
	lock       *redisStorage.LockService
	cache      *redisStorage.BalanceCache
	settlement ports.SettlementService

	mu     sync.Mutex
	events []domain.Event
}

func payoutConfig() config.PayoutConfig {
	return config.PayoutConfig{
		LockTTL:        5 * time.Second,
		LockRetryCount: 2,
		LockRetryDelay: 5 * time.Millisecond,
		MinAmount:      "0.01",
		MaxAmount:      "10000.00",
	}
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.New("error", false)

	app := &testApp{
		redis:  mr,
		users:  newInMemoryUserStore(),
		txs:    newInMemoryTransactionStore(),
		audits: newInMemoryAuditStore(),
		queue:  newMemQueue(),
		lock:   redisStorage.NewLockService(rdb),
		cache:  redisStorage.NewBalanceCache(rdb),
	}

	eventBus := redisStorage.NewEventBus(rdb, log)

	intake, err := service.NewIntakeService(
		app.users, app.txs, app.audits, app.lock, app.cache, app.queue, eventBus,
		payoutConfig(), log,
	)
	require.NoError(t, err)

	app.settlement = service.NewSettlementService(
		app.users, app.txs, app.audits, app.lock, app.cache, eventBus, log,
	)

	// Bridge events back like a gateway instance would, recording them
	// for assertions.
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	subscribed := make(chan struct{})
	go func() {
		close(subscribed)
		_ = eventBus.Subscribe(ctx, func(evt *domain.Event) {
			app.mu.Lock()
			app.events = append(app.events, *evt)
			app.mu.Unlock()
		})
	}()
	<-subscribed
	// Give the subscription a moment to be confirmed by the server.
	time.Sleep(20 * time.Millisecond)

	tokenSvc := service.NewTokenService(config.JWTConfig{
		Secret: "integration-secret-32-bytes-long!!!!",
		Issuer: "instant-payout",
	})

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Intake:   intake,
		TokenSvc: tokenSvc,
		Logger:   log,
	})

	app.server = httptest.NewServer(router)
	t.Cleanup(app.server.Close)

	return app
}

func (a *testApp) seedUser(t *testing.T, userID, balance string) {
	t.Helper()
	a.users.put(&domain.User{
		UserID:   userID,
		Name:     "Test User",
		Balance:  decimal.RequireFromString(balance),
		Currency: "USD",
		Status:   domain.UserStatusActive,
	})
}

// settle drains the queue through the settlement service, like the
// worker consuming the payout queue.
func (a *testApp) settle(t *testing.T) {
	t.Helper()
	for _, msg := range a.queue.drain() {
		require.NoError(t, a.settlement.ProcessPayout(context.Background(), msg))
	}
}

func (a *testApp) postPayout(t *testing.T, body map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(a.server.URL+"/api/payout", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (a *testApp) getJSON(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(a.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

// waitForEvents blocks until n events were bridged or the deadline hits.
func (a *testApp) waitForEvents(t *testing.T, n int) []domain.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		if len(a.events) >= n {
			out := make([]domain.Event, len(a.events))
			copy(out, a.events)
			a.mu.Unlock()
			return out
		}
		a.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	t.Fatalf("timed out waiting for %d events, got %d", n, len(a.events))
	return nil
}

func payoutRequestBody(userID, amount string) map[string]string {
	return map[string]string{
		"user_id":  userID,
		"amount":   amount,
		"currency": "USD",
		"source":   "api",
	}
}

func TestPayoutEndToEnd(t *testing.T) {
	app := newTestApp(t)
	app.seedUser(t, "user_001", "10000.00")

	resp, body := app.postPayout(t, payoutRequestBody("user_001", "100.50"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	txID := body["transaction_id"].(string)
	require.NotEmpty(t, txID)
	assert.Equal(t, "initiated", body["status"])

	// The lock is held from admission until settlement.
	assert.True(t, app.redis.Exists("lock:user_001"))
	require.Equal(t, 1, app.queue.depth())

	app.settle(t)

	// Settlement released the lock and settled the durable record.
	assert.False(t, app.redis.Exists("lock:user_001"))

	resp, body = app.getJSON(t, "/api/payout/"+txID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	txn, ok := body["transaction"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "completed", txn["status"])
	assert.Equal(t, "10000.00", txn["balance_before"])
	assert.Equal(t, "9899.50", txn["balance_after"])

	resp, body = app.getJSON(t, "/api/payout/user/user_001/balance")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "9899.50", body["balance"])

	events := app.waitForEvents(t, 3)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventPayoutInitiated, events[0].Event)
	assert.Equal(t, domain.EventPayoutProcessing, events[1].Event)
	assert.Equal(t, domain.EventPayoutCompleted, events[2].Event)
	for _, evt := range events {
		assert.Equal(t, "user_001", evt.UserID)
		assert.Equal(t, txID, evt.Data.TransactionID)
	}
	require.NotNil(t, events[2].Data.NewBalance)
	assert.Equal(t, "9899.50", *events[2].Data.NewBalance)
}

func TestPayoutInsufficientBalance(t *testing.T) {
	app := newTestApp(t)
	app.seedUser(t, "user_001", "50.00")

	resp, body := app.postPayout(t, payoutRequestBody("user_001", "100.50"))

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_BALANCE", body["code"])

	// Refusal releases the lock and queues nothing.
	assert.False(t, app.redis.Exists("lock:user_001"))
	assert.Equal(t, 0, app.queue.depth())
}

func TestPayoutUnknownUser(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.postPayout(t, payoutRequestBody("user_404", "100.50"))

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "USER_NOT_FOUND", body["code"])
	assert.False(t, app.redis.Exists("lock:user_404"))
}

func TestPayoutLockContention(t *testing.T) {
	app := newTestApp(t)
	app.seedUser(t, "user_001", "10000.00")

	// First payout holds the lock until the worker settles it.
	resp, _ := app.postPayout(t, payoutRequestBody("user_001", "100.50"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := app.postPayout(t, payoutRequestBody("user_001", "25.00"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONCURRENT_REQUEST", body["code"])

	// After settlement the user can pay out again.
	app.settle(t)
	resp, _ = app.postPayout(t, payoutRequestBody("user_001", "25.00"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	app.settle(t)

	_, balance := app.getJSON(t, "/api/payout/user/user_001/balance")
	assert.Equal(t, "9874.50", balance["balance"])
}

func TestPayoutRedeliveryIsIdempotent(t *testing.T) {
	app := newTestApp(t)
	app.seedUser(t, "user_001", "10000.00")

	resp, body := app.postPayout(t, payoutRequestBody("user_001", "100.50"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	txID := body["transaction_id"].(string)

	msgs := app.queue.drain()
	require.Len(t, msgs, 1)

	require.NoError(t, app.settlement.ProcessPayout(context.Background(), msgs[0]))
	// Broker redelivery of an already settled message must change nothing.
	require.NoError(t, app.settlement.ProcessPayout(context.Background(), msgs[0]))

	_, balance := app.getJSON(t, "/api/payout/user/user_001/balance")
	assert.Equal(t, "9899.50", balance["balance"])

	txn, err := app.txs.GetByID(context.Background(), txID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
}

func TestPayoutCrashRedeliveryDoesNotDoubleDeduct(t *testing.T) {
	app := newTestApp(t)
	app.seedUser(t, "user_001", "1000.00")
	ctx := context.Background()

	// A worker crashed after deducting 100.00 but before persisting: the
	// row is stuck in processing and the cache already carries the debit.
	amount := decimal.RequireFromString("100.00")
	require.NoError(t, app.txs.Create(ctx, &domain.Transaction{
		TransactionID: "TXN_CRASHED_1",
		UserID:        "user_001",
		Amount:        amount,
		Currency:      "USD",
		Status:        domain.TransactionStatusInitiated,
		Type:          domain.TransactionTypePayout,
		BalanceBefore: decimal.RequireFromString("1000.00"),
		BalanceAfter:  decimal.RequireFromString("900.00"),
		CreatedAt:     time.Now().UTC(),
	}))
	require.NoError(t, app.txs.MarkProcessing(ctx, "TXN_CRASHED_1"))
	require.NoError(t, app.cache.Set(ctx, "user_001", decimal.RequireFromString("900.00")))

	err := app.settlement.ProcessPayout(ctx, &domain.PayoutMessage{
		TransactionID: "TXN_CRASHED_1",
		UserID:        "user_001",
		Amount:        amount,
		Currency:      "USD",
		LockToken:     "tok_crashed",
		Timestamp:     time.Now().UTC(),
	})
	require.Error(t, err)
	assert.Equal(t, "ALREADY_PROCESSING", apperror.CodeOf(err))
	assert.False(t, apperror.IsRetryable(err))

	// Exactly one debit: the cache keeps the first deduction, the durable
	// balance is untouched and the row stays parked for reconciliation.
	cached, err := app.cache.Get(ctx, "user_001")
	require.NoError(t, err)
	assert.True(t, cached.Equal(decimal.RequireFromString("900.00")))

	user, err := app.users.GetByID(ctx, "user_001")
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(decimal.RequireFromString("1000.00")))

	txn, err := app.txs.GetByID(ctx, "TXN_CRASHED_1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusProcessing, txn.Status)
}

func TestPayoutValidation(t *testing.T) {
	app := newTestApp(t)
	app.seedUser(t, "user_001", "10000.00")

	cases := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"three decimal places", payoutRequestBody("user_001", "10.505"), http.StatusBadRequest},
		{"zero amount", payoutRequestBody("user_001", "0.00"), http.StatusBadRequest},
		{"above maximum", payoutRequestBody("user_001", "10000.01"), http.StatusBadRequest},
		{"unsupported currency", map[string]string{"user_id": "user_001", "amount": "10.00", "currency": "JPY", "source": "api"}, http.StatusBadRequest},
		{"missing amount", map[string]string{"user_id": "user_001", "currency": "USD", "source": "api"}, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := app.postPayout(t, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, "VALIDATION_ERROR", body["code"])
		})
	}

	// Nothing reached the queue.
	assert.Equal(t, 0, app.queue.depth())
}

func TestPayoutHistory(t *testing.T) {
	app := newTestApp(t)
	app.seedUser(t, "user_001", "10000.00")

	for i := 0; i < 3; i++ {
		resp, _ := app.postPayout(t, payoutRequestBody("user_001", fmt.Sprintf("%d.00", 10+i)))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		app.settle(t)
	}

	resp, body := app.getJSON(t, "/api/payout/user/user_001/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["count"])

	resp, body = app.getJSON(t, "/api/payout/user/user_001/history?status=failed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["count"])
}

func TestPayoutAuditTrail(t *testing.T) {
	app := newTestApp(t)
	app.seedUser(t, "user_001", "10000.00")

	resp, body := app.postPayout(t, payoutRequestBody("user_001", "100.50"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	txID := body["transaction_id"].(string)
	app.settle(t)

	actions := app.audits.actions(txID)
	assert.Equal(t, []domain.AuditAction{
		domain.AuditPayoutInitiated,
		domain.AuditLockAcquired,
		domain.AuditMessagePublished,
		domain.AuditMessageConsumed,
		domain.AuditPayoutProcessing,
		domain.AuditBalanceDeducted,
		domain.AuditPayoutCompleted,
		domain.AuditLockReleased,
	}, actions)
}
