package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"instant-payout/internal/core/domain"
	"instant-payout/internal/core/ports"
	"instant-payout/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SettlementServiceImpl implements ports.SettlementService: the
// worker-side protocol that turns an accepted payout into a settled one.
//
// Redelivery safety rests on the transaction status: a terminal row is
// skipped, and a row still in processing aborts with ALREADY_PROCESSING
// because a crashed worker may already have deducted. Any failure after
// the row entered processing marks it failed, compensating the cache
// first when money moved, so the requeued message finds a terminal row
// and exits without a second deduction.
type SettlementServiceImpl struct {
	users  ports.UserStore
	txs    ports.TransactionStore
	audits ports.AuditStore
	lock   ports.Lock
	cache  ports.BalanceCache
	events ports.EventBus
	log    zerolog.Logger
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	users ports.UserStore,
	txs ports.TransactionStore,
	audits ports.AuditStore,
	lock ports.Lock,
	cache ports.BalanceCache,
	events ports.EventBus,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		users:  users,
		txs:    txs,
		audits: audits,
		lock:   lock,
		cache:  cache,
		events: events,
		log:    log,
	}
}

// ProcessPayout settles one dequeued payout.
func (s *SettlementServiceImpl) ProcessPayout(ctx context.Context, msg *domain.PayoutMessage) error {
	log := s.log.With().Str("transaction_id", msg.TransactionID).Str("user_id", msg.UserID).Logger()

	txn, err := s.txs.GetByID(ctx, msg.TransactionID)
	if err != nil {
		return apperror.DatabaseError(fmt.Errorf("load transaction: %w", err))
	}
	if txn == nil {
		// A message for a record that was never created cannot settle,
		// now or on any redelivery.
		log.Error().Msg("queued payout has no transaction record")
		return apperror.ErrTransactionNotFound()
	}

	// Redelivery of an already-settled payout: release the lock in case
	// the first pass died between settling and releasing, then ack.
	if txn.IsTerminal() {
		log.Info().Str("status", string(txn.Status)).Msg("payout already settled, skipping")
		s.releaseLock(ctx, msg.UserID, msg.LockToken)
		return nil
	}

	// A row still in processing belongs to another worker, or to one that
	// crashed after it may already have deducted. Touching the balance
	// here risks a double deduction, so abort without mutating anything;
	// operators reconcile the row via the audit trail.
	if txn.Status == domain.TransactionStatusProcessing {
		log.Warn().Msg("payout already in flight, refusing redelivery")
		return apperror.ErrAlreadyProcessing()
	}

	s.audit(ctx, msg.TransactionID, msg.UserID, domain.AuditMessageConsumed, "")

	if err := s.txs.MarkProcessing(ctx, msg.TransactionID); err != nil {
		return apperror.DatabaseError(fmt.Errorf("mark processing: %w", err))
	}
	s.audit(ctx, msg.TransactionID, msg.UserID, domain.AuditPayoutProcessing, "")
	s.emit(ctx, msg.UserID, domain.EventPayoutProcessing, domain.EventData{
		Status:        string(domain.TransactionStatusProcessing),
		TransactionID: msg.TransactionID,
		Amount:        msg.Amount.StringFixed(2),
		Currency:      msg.Currency,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})

	newBalance, err := s.deduct(ctx, msg)
	if err != nil {
		// Nothing was deducted, so no compensation; the row still moves
		// to failed. Leaving it in processing would turn every requeued
		// retry into an ALREADY_PROCESSING dead-letter.
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) {
			appErr = apperror.InternalError(err)
		}
		s.failPayout(ctx, msg, appErr, log)
		return err
	}
	s.audit(ctx, msg.TransactionID, msg.UserID, domain.AuditBalanceDeducted,
		fmt.Sprintf("new_balance=%s", newBalance.StringFixed(2)))

	if err := s.users.ApplyPayout(ctx, msg.UserID, newBalance, msg.Amount, time.Now().UTC()); err != nil {
		// The cache moved but the durable record did not; put the money
		// back, then fail the row so the requeued message exits early.
		if _, addErr := s.cache.Add(ctx, msg.UserID, msg.Amount); addErr != nil {
			log.Error().Err(addErr).Msg("balance rollback failed, cache diverges from durable record")
		} else {
			s.audit(ctx, msg.TransactionID, msg.UserID, domain.AuditBalanceRestored, "")
		}
		dbErr := apperror.DatabaseError(fmt.Errorf("apply payout: %w", err))
		s.failPayout(ctx, msg, dbErr, log)
		return dbErr
	}

	if err := s.txs.MarkCompleted(ctx, msg.TransactionID, newBalance); err != nil {
		// Money has durably moved; a redelivery would move it again.
		// Leave the row pinned in processing for operator triage rather
		// than risk a double settlement.
		log.Error().Err(err).Msg("settled payout could not be marked completed")
		s.releaseLock(ctx, msg.UserID, msg.LockToken)
		return apperror.InternalError(fmt.Errorf("mark completed: %w", err))
	}
	s.audit(ctx, msg.TransactionID, msg.UserID, domain.AuditPayoutCompleted, "")

	s.releaseLock(ctx, msg.UserID, msg.LockToken)
	s.audit(ctx, msg.TransactionID, msg.UserID, domain.AuditLockReleased, "")

	balStr := newBalance.StringFixed(2)
	s.emit(ctx, msg.UserID, domain.EventPayoutCompleted, domain.EventData{
		Status:        string(domain.TransactionStatusCompleted),
		TransactionID: msg.TransactionID,
		Amount:        msg.Amount.StringFixed(2),
		Currency:      msg.Currency,
		NewBalance:    &balStr,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})

	log.Info().Str("new_balance", balStr).Msg("payout settled")
	return nil
}

// deduct takes the amount from the cached balance, seeding the cache
// from the durable record when cold.
func (s *SettlementServiceImpl) deduct(ctx context.Context, msg *domain.PayoutMessage) (decimal.Decimal, error) {
	newBalance, err := s.cache.Deduct(ctx, msg.UserID, msg.Amount)
	if err == nil {
		return newBalance, nil
	}

	switch {
	case errors.Is(err, ports.ErrInsufficient):
		return decimal.Zero, apperror.ErrInsufficientBalance()

	case errors.Is(err, ports.ErrBalanceNotFound):
		user, uerr := s.users.GetByID(ctx, msg.UserID)
		if uerr != nil {
			return decimal.Zero, apperror.DatabaseError(fmt.Errorf("load user for rehydrate: %w", uerr))
		}
		if user == nil {
			return decimal.Zero, apperror.ErrUserNotFound()
		}
		if serr := s.cache.Set(ctx, msg.UserID, user.Balance); serr != nil {
			return decimal.Zero, apperror.CacheError(fmt.Errorf("seed balance cache: %w", serr))
		}

		newBalance, err = s.cache.Deduct(ctx, msg.UserID, msg.Amount)
		if err == nil {
			return newBalance, nil
		}
		if errors.Is(err, ports.ErrInsufficient) {
			return decimal.Zero, apperror.ErrInsufficientBalance()
		}
		return decimal.Zero, apperror.CacheError(fmt.Errorf("deduct after rehydrate: %w", err))

	default:
		return decimal.Zero, apperror.CacheError(fmt.Errorf("deduct balance: %w", err))
	}
}

// failPayout moves the row to failed, frees the lock and notifies the
// user. Failed is terminal; a requeued copy of the message skips the row
// instead of resurrecting it.
func (s *SettlementServiceImpl) failPayout(ctx context.Context, msg *domain.PayoutMessage, cause *apperror.AppError, log zerolog.Logger) {
	if err := s.txs.MarkFailed(ctx, msg.TransactionID, cause.Code, cause.Message); err != nil {
		log.Error().Err(err).Msg("mark payout failed")
	}
	s.audit(ctx, msg.TransactionID, msg.UserID, domain.AuditPayoutFailed, cause.Code)

	s.releaseLock(ctx, msg.UserID, msg.LockToken)

	errMsg := cause.Message
	s.emit(ctx, msg.UserID, domain.EventPayoutFailed, domain.EventData{
		Status:        string(domain.TransactionStatusFailed),
		TransactionID: msg.TransactionID,
		Amount:        msg.Amount.StringFixed(2),
		Currency:      msg.Currency,
		Error:         &errMsg,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})

	log.Warn().Str("code", cause.Code).Msg("payout failed")
}

// releaseLock frees the gateway-acquired lock with its fencing token.
// An expired lock is logged, not an error: the settlement outlived the
// TTL and the lock already let go on its own.
func (s *SettlementServiceImpl) releaseLock(ctx context.Context, userID, token string) {
	if token == "" {
		return
	}
	released, err := s.lock.Release(ctx, userID, token)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("release settlement lock")
		return
	}
	if !released {
		s.log.Warn().Str("user_id", userID).Msg("settlement lock expired before release")
	}
}

func (s *SettlementServiceImpl) audit(ctx context.Context, txID, userID string, action domain.AuditAction, details string) {
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

func (s *SettlementServiceImpl) emit(ctx context.Context, userID string, event domain.EventType, data domain.EventData) {
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
