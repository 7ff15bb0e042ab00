package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypePayout     TransactionType = "payout"
	TransactionTypeRefund     TransactionType = "refund"     // reserved
	TransactionTypeAdjustment TransactionType = "adjustment" // reserved
)

// TransactionStatus represents the lifecycle state of a payout.
// Transitions move forward only:
//
//	initiated -> processing -> completed
//	initiated -> failed
//	processing -> failed
//
// rolled_back is reserved for operator intervention and never produced by
// the pipeline itself.
type TransactionStatus string

const (
	TransactionStatusInitiated  TransactionStatus = "initiated"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusRolledBack TransactionStatus = "rolled_back"
)

// RequestMetadata captures where an initiation came from.
type RequestMetadata struct {
	IP          string `json:"ip,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	Source      string `json:"source,omitempty"`
	Description string `json:"description,omitempty"`
}

// Transaction is the durable record of one payout's lifecycle.
type Transaction struct {
	TransactionID string            `json:"transaction_id"`
	UserID        string            `json:"user_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	Type          TransactionType   `json:"type"`
	BalanceBefore decimal.Decimal   `json:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after"`
	Metadata      RequestMetadata   `json:"metadata"`
	LockAcquired  bool              `json:"lock_acquired"`

	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`

	CreatedAt            time.Time  `json:"created_at"`
	ProcessingAt         *time.Time `json:"processing_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	FailedAt             *time.Time `json:"failed_at,omitempty"`
	ProcessingDurationMS *int64     `json:"processing_duration_ms,omitempty"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted ||
		t.Status == TransactionStatusFailed ||
		t.Status == TransactionStatusRolledBack
}

// CanTransitionTo reports whether the forward-only state machine permits
// moving from the current status to target.
func (t *Transaction) CanTransitionTo(target TransactionStatus) bool {
	switch t.Status {
	case TransactionStatusInitiated:
		return target == TransactionStatusProcessing || target == TransactionStatusFailed
	case TransactionStatusProcessing:
		return target == TransactionStatusCompleted || target == TransactionStatusFailed
	default:
		return false
	}
}
