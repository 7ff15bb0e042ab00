package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"instant-payout/config"
	"instant-payout/internal/core/domain"
	"instant-payout/internal/core/ports"
	"instant-payout/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// IntakeServiceImpl implements ports.IntakeService: the gateway-side
// admission protocol. A payout that is accepted here has passed
// validation, holds the user's settlement lock and is durably recorded
// and queued; everything after that belongs to the workers.
type IntakeServiceImpl struct {
	users  ports.UserStore
	txs    ports.TransactionStore
	audits ports.AuditStore
	lock   ports.Lock
	cache  ports.BalanceCache
	queue  ports.Publisher
	events ports.EventBus

	lockTTL        time.Duration
	lockRetryCount int
	lockRetryDelay time.Duration
	minAmount      decimal.Decimal
	maxAmount      decimal.Decimal

	log zerolog.Logger
}

// NewIntakeService creates a new IntakeServiceImpl. The amount bounds
// come from configuration as decimal strings and are parsed once here.
func NewIntakeService(
	users ports.UserStore,
	txs ports.TransactionStore,
	audits ports.AuditStore,
	lock ports.Lock,
	cache ports.BalanceCache,
	queue ports.Publisher,
	events ports.EventBus,
	cfg config.PayoutConfig,
	log zerolog.Logger,
) (*IntakeServiceImpl, error) {
	minAmount, err := decimal.NewFromString(cfg.MinAmount)
	if err != nil {
		return nil, fmt.Errorf("parse payout.min_amount: %w", err)
	}
	maxAmount, err := decimal.NewFromString(cfg.MaxAmount)
	if err != nil {
		return nil, fmt.Errorf("parse payout.max_amount: %w", err)
	}
	return &IntakeServiceImpl{
		users:          users,
		txs:            txs,
		audits:         audits,
		lock:           lock,
		cache:          cache,
		queue:          queue,
		events:         events,
		lockTTL:        cfg.LockTTL,
		lockRetryCount: cfg.LockRetryCount,
		lockRetryDelay: cfg.LockRetryDelay,
		minAmount:      minAmount,
		maxAmount:      maxAmount,
		log:            log,
	}, nil
}

// InitiatePayout validates, locks, records and queues one payout.
//
// On success the user's settlement lock is deliberately NOT released:
// its token rides in the queued message and the worker releases it once
// the settlement finishes. Every failure path after acquisition releases
// the lock before returning.
func (s *IntakeServiceImpl) InitiatePayout(ctx context.Context, req ports.PayoutRequest) (*ports.PayoutReceipt, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	token, ok, err := s.lock.AcquireWithRetry(ctx, req.UserID, s.lockTTL, s.lockRetryCount, s.lockRetryDelay)
	if err != nil {
		return nil, apperror.CacheError(fmt.Errorf("acquire settlement lock: %w", err))
	}
	if !ok {
		return nil, apperror.ErrConcurrentRequest()
	}

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		s.releaseLock(ctx, req.UserID, token)
		return nil, apperror.DatabaseError(fmt.Errorf("load user: %w", err))
	}
	if user == nil {
		s.releaseLock(ctx, req.UserID, token)
		return nil, apperror.ErrUserNotFound()
	}
	if !user.IsActive() {
		s.releaseLock(ctx, req.UserID, token)
		return nil, apperror.ErrUserNotActive()
	}
	if req.Currency == "" {
		req.Currency = user.Currency
	}

	balance, err := s.currentBalance(ctx, user)
	if err != nil {
		s.releaseLock(ctx, req.UserID, token)
		return nil, err
	}

	// Advisory only: the worker's atomic deduct is the admission truth.
	// The cache is warm here, currentBalance just seeded it.
	sufficient, err := s.cache.HasSufficient(ctx, req.UserID, req.Amount)
	if err != nil {
		s.releaseLock(ctx, req.UserID, token)
		return nil, apperror.CacheError(fmt.Errorf("check balance: %w", err))
	}
	if !sufficient {
		s.releaseLock(ctx, req.UserID, token)
		return nil, apperror.ErrInsufficientBalance()
	}

	txID, err := NewTransactionID()
	if err != nil {
		s.releaseLock(ctx, req.UserID, token)
		return nil, apperror.InternalError(err)
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		TransactionID: txID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        domain.TransactionStatusInitiated,
		Type:          domain.TransactionTypePayout,
		BalanceBefore: balance,
		BalanceAfter:  balance.Sub(req.Amount),
		Metadata: domain.RequestMetadata{
			IP:          req.IP,
			UserAgent:   req.UserAgent,
			Source:      req.Source,
			Description: req.Description,
		},
		LockAcquired: true,
		CreatedAt:    now,
	}
	if err := s.txs.Create(ctx, txn); err != nil {
		s.releaseLock(ctx, req.UserID, token)
		return nil, apperror.DatabaseError(fmt.Errorf("record transaction: %w", err))
	}

	s.audit(ctx, txID, req.UserID, domain.AuditPayoutInitiated,
		fmt.Sprintf("amount=%s %s", req.Amount.StringFixed(2), req.Currency))
	s.audit(ctx, txID, req.UserID, domain.AuditLockAcquired, "")

	msg := &domain.PayoutMessage{
		TransactionID: txID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		LockToken:     token,
		Metadata:      txn.Metadata,
		Timestamp:     now,
	}
	if err := s.queue.Publish(ctx, msg); err != nil {
		// The record exists but no worker will ever see it; fail it
		// now instead of leaving an initiated row that resolves never.
		if markErr := s.txs.MarkFailed(ctx, txID, apperror.CodeOf(err), "settlement queue unavailable"); markErr != nil {
			s.log.Error().Err(markErr).Str("transaction_id", txID).Msg("mark unqueued payout failed")
		}
		s.releaseLock(ctx, req.UserID, token)
		return nil, err
	}
	s.audit(ctx, txID, req.UserID, domain.AuditMessagePublished, "")

	s.emit(ctx, req.UserID, domain.EventPayoutInitiated, domain.EventData{
		Status:        string(domain.TransactionStatusInitiated),
		TransactionID: txID,
		Amount:        req.Amount.StringFixed(2),
		Currency:      req.Currency,
		Timestamp:     now.Format(time.RFC3339),
	})

	s.log.Info().
		Str("transaction_id", txID).
		Str("user_id", req.UserID).
		Str("amount", req.Amount.StringFixed(2)).
		Str("currency", req.Currency).
		Msg("payout accepted")

	return &ports.PayoutReceipt{
		TransactionID: txID,
		Status:        domain.TransactionStatusInitiated,
		Amount:        req.Amount,
		Currency:      req.Currency,
	}, nil
}

// GetTransaction looks up one payout by id.
func (s *IntakeServiceImpl) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	txn, err := s.txs.GetByID(ctx, transactionID)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("load transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrTransactionNotFound()
	}
	return txn, nil
}

// GetBalance returns the user's pending balance, rehydrating the cache
// from the durable record when cold.
func (s *IntakeServiceImpl) GetBalance(ctx context.Context, userID string) (decimal.Decimal, string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return decimal.Zero, "", apperror.DatabaseError(fmt.Errorf("load user: %w", err))
	}
	if user == nil {
		return decimal.Zero, "", apperror.ErrUserNotFound()
	}

	balance, err := s.currentBalance(ctx, user)
	if err != nil {
		return decimal.Zero, "", err
	}
	return balance, user.Currency, nil
}

// GetHistory lists the user's payouts, newest first.
func (s *IntakeServiceImpl) GetHistory(ctx context.Context, userID string, status *domain.TransactionStatus, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	txns, err := s.txs.ListByUser(ctx, userID, status, limit)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("list transactions: %w", err))
	}
	return txns, nil
}

func (s *IntakeServiceImpl) validate(req ports.PayoutRequest) error {
	if !userIDPattern.MatchString(req.UserID) {
		return apperror.ErrValidation("user_id must be 1-64 characters of [A-Za-z0-9_-]")
	}
	if req.Amount.Exponent() < -2 {
		return apperror.ErrValidation("amount must have at most 2 decimal places")
	}
	if req.Amount.LessThan(s.minAmount) {
		return apperror.ErrValidation(fmt.Sprintf("amount must be at least %s", s.minAmount.StringFixed(2)))
	}
	if req.Amount.GreaterThan(s.maxAmount) {
		return apperror.ErrValidation(fmt.Sprintf("amount must not exceed %s", s.maxAmount.StringFixed(2)))
	}
	// An empty currency is filled from the user's account later.
	if req.Currency != "" && !domain.IsSupportedCurrency(req.Currency) {
		return apperror.ErrValidation("unsupported currency")
	}
	return nil
}

// currentBalance reads the cached pending balance, seeding it from the
// durable record on a cold cache.
func (s *IntakeServiceImpl) currentBalance(ctx context.Context, user *domain.User) (decimal.Decimal, error) {
	balance, err := s.cache.Get(ctx, user.UserID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, ports.ErrBalanceNotFound) {
		return decimal.Zero, apperror.CacheError(fmt.Errorf("read balance cache: %w", err))
	}

	if err := s.cache.Set(ctx, user.UserID, user.Balance); err != nil {
		return decimal.Zero, apperror.CacheError(fmt.Errorf("seed balance cache: %w", err))
	}
	return user.Balance, nil
}

func (s *IntakeServiceImpl) releaseLock(ctx context.Context, userID, token string) {
	released, err := s.lock.Release(ctx, userID, token)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("release settlement lock")
		return
	}
	if !released {
		s.log.Warn().Str("user_id", userID).Msg("settlement lock expired before release")
	}
}

// audit appends a trail entry; failures are logged, never propagated.
func (s *IntakeServiceImpl) audit(ctx context.Context, txID, userID string, action domain.AuditAction, details string) {
	entry := &domain.AuditEntry{
		ID:            uuid.New(),
		TransactionID: txID,
		UserID:        userID,
		Action:        action,
		Details:       details,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.audits.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("transaction_id", txID).Str("action", string(action)).Msg("audit append failed")
	}
}

// emit publishes a status event; delivery is best effort.
func (s *IntakeServiceImpl) emit(ctx context.Context, userID string, event domain.EventType, data domain.EventData) {
	evt := &domain.Event{
		UserID:    userID,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("event", string(event)).Msg("event publish failed")
	}
}
