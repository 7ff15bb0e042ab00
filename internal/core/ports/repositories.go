package ports

import (
	"context"
	"time"

	"instant-payout/internal/core/domain"

	"github.com/shopspring/decimal"
)

// UserStore defines persistence operations for user accounts.
type UserStore interface {
	GetByID(ctx context.Context, userID string) (*domain.User, error)
	// ApplyPayout reconciles the durable balance after a successful cache
	// deduction: sets balance, bumps the payout aggregates and stamps
	// last_payout_at in a single per-row atomic update.
	ApplyPayout(ctx context.Context, userID string, newBalance, amount decimal.Decimal, at time.Time) error
}

// TransactionStore defines persistence operations for payout transactions.
// Lookups return (nil, nil) when the record does not exist.
type TransactionStore interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, transactionID string) (*domain.Transaction, error)
	ListByUser(ctx context.Context, userID string, status *domain.TransactionStatus, limit int) ([]domain.Transaction, error)
	// ListByStatus supports operator triage of transactions pinned in a
	// non-terminal state past olderThan.
	ListByStatus(ctx context.Context, status domain.TransactionStatus, olderThan time.Time, limit int) ([]domain.Transaction, error)

	// State-transition helpers. Each is guarded so that repeated
	// application in the same target state is a no-op and transitions the
	// state machine forbids affect nothing.
	MarkProcessing(ctx context.Context, transactionID string) error
	MarkCompleted(ctx context.Context, transactionID string, balanceAfter decimal.Decimal) error
	MarkFailed(ctx context.Context, transactionID, code, message string) error
}

// AuditStore appends to the payout audit trail. Append failures must be
// swallowed by callers; the trail is diagnostic, not transactional.
type AuditStore interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	ListByTransaction(ctx context.Context, transactionID string) ([]domain.AuditEntry, error)
}
