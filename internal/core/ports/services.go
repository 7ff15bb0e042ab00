package ports

import (
	"context"
	"errors"
	"time"

	"instant-payout/internal/core/domain"

	"github.com/shopspring/decimal"
)

// Sentinel results of the balance cache's atomic scripts.
var (
	// ErrBalanceNotFound means the cache key is absent (cold cache).
	ErrBalanceNotFound = errors.New("balance not in cache")
	// ErrInsufficient means the scripted deduct refused: balance < amount.
	ErrInsufficient = errors.New("insufficient cached balance")
)

// Lock provides per-resource mutual exclusion with fencing tokens.
// A caller that fails to acquire never holds the lock; a caller that
// acquired must release on every exit path.
type Lock interface {
	// Acquire installs the lock if absent. ok=false means contention.
	Acquire(ctx context.Context, resource string, ttl time.Duration) (token string, ok bool, err error)
	// AcquireWithRetry retries with linear backoff (baseDelay × attempt).
	AcquireWithRetry(ctx context.Context, resource string, ttl time.Duration, attempts int, baseDelay time.Duration) (token string, ok bool, err error)
	// Release deletes the lock only if token matches the stored value.
	Release(ctx context.Context, resource, token string) (bool, error)
	// Extend refreshes the TTL only if token matches the stored value.
	Extend(ctx context.Context, resource, token string, ttl time.Duration) (bool, error)
}

// BalanceCache is the authoritative pending balance. Deduct and Add are
// single atomic steps against the cache; HasSufficient is the gateway's
// advisory pre-check, while Deduct's sentinel remains the settlement's
// only admission source of truth.
type BalanceCache interface {
	Get(ctx context.Context, userID string) (decimal.Decimal, error) // ErrBalanceNotFound when cold
	Set(ctx context.Context, userID string, value decimal.Decimal) error
	Deduct(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Add(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	HasSufficient(ctx context.Context, userID string, amount decimal.Decimal) (bool, error)
}

// Publisher enqueues settlement work items durably.
type Publisher interface {
	Publish(ctx context.Context, msg *domain.PayoutMessage) error
}

// EventBus fans status events out to every gateway instance.
type EventBus interface {
	Publish(ctx context.Context, evt *domain.Event) error
}

// EventHandler consumes relayed events on the gateway side.
type EventHandler func(evt *domain.Event)

// SessionRegistry delivers an event to the user's sessions on this
// instance, dropping it silently when the user is connected elsewhere.
type SessionRegistry interface {
	Deliver(evt *domain.Event)
}

// --- Service Ports (Business Logic) ---

// PayoutRequest holds validated input for payout initiation.
type PayoutRequest struct {
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Description string
	IP          string
	UserAgent   string
	Source      string
}

// PayoutReceipt is the gateway's immediate answer to an accepted payout.
type PayoutReceipt struct {
	TransactionID string
	Status        domain.TransactionStatus
	Amount        decimal.Decimal
	Currency      string
}

// IntakeService defines the gateway-side payout protocol.
type IntakeService interface {
	InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error)
	GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, string, error)
	GetHistory(ctx context.Context, userID string, status *domain.TransactionStatus, limit int) ([]domain.Transaction, error)
}

// SettlementService processes one dequeued payout end to end.
type SettlementService interface {
	ProcessPayout(ctx context.Context, msg *domain.PayoutMessage) error
}

// TokenService authenticates realtime subscriptions. Validate returns
// the user id the token was issued for.
type TokenService interface {
	Issue(userID string, ttl time.Duration) (string, error)
	Validate(token string) (string, error)
}
