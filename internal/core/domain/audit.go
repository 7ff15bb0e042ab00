package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditPayoutInitiated  AuditAction = "PAYOUT_INITIATED"
	AuditPayoutProcessing AuditAction = "PAYOUT_PROCESSING"
	AuditPayoutCompleted  AuditAction = "PAYOUT_COMPLETED"
	AuditPayoutFailed     AuditAction = "PAYOUT_FAILED"
	AuditLockAcquired     AuditAction = "LOCK_ACQUIRED"
	AuditLockReleased     AuditAction = "LOCK_RELEASED"
	AuditBalanceDeducted  AuditAction = "BALANCE_DEDUCTED"
	AuditBalanceRestored  AuditAction = "BALANCE_RESTORED"
	AuditMessagePublished AuditAction = "MESSAGE_PUBLISHED"
	AuditMessageConsumed  AuditAction = "MESSAGE_CONSUMED"
	AuditMessageAcked     AuditAction = "MESSAGE_ACKED"
	AuditMessageNacked    AuditAction = "MESSAGE_NACKED"
)

// AuditEntry records a single step of a payout's trail. Entries are
// append-only; a failed audit write never aborts the containing operation.
type AuditEntry struct {
	ID            uuid.UUID   `json:"id"`
	TransactionID string      `json:"transaction_id"`
	UserID        string      `json:"user_id"`
	Action        AuditAction `json:"action"`
	Details       string      `json:"details,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
