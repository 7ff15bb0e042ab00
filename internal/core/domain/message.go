package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutMessage is the settlement work item carried by the broker.
// The broker-level message id is the transaction id so consumption is
// idempotent, and the gateway's lock token rides along so the worker can
// release exactly the lock that admission acquired.
type PayoutMessage struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	LockToken     string          `json:"lock_token"`
	Metadata      RequestMetadata `json:"metadata"`
	Timestamp     time.Time       `json:"timestamp"`
}
