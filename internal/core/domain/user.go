package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserStatus represents the lifecycle state of a user account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusClosed    UserStatus = "closed"
)

// User is the durable account record. Balance is the authoritative durable
// value; the cached pending balance in Redis reflects in-flight deductions
// and is reconciled back on completed settlements.
type User struct {
	UserID            string          `json:"user_id"`
	Name              string          `json:"name"`
	Email             string          `json:"email,omitempty"`
	Balance           decimal.Decimal `json:"balance"`
	Currency          string          `json:"currency"`
	Status            UserStatus      `json:"status"`
	TotalPayouts      int64           `json:"total_payouts"`
	TotalPayoutAmount decimal.Decimal `json:"total_payout_amount"`
	LastPayoutAt      *time.Time      `json:"last_payout_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsActive returns true if the user may initiate payouts.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// allowedCurrencies is the closed set of supported payout currencies.
var allowedCurrencies = map[string]bool{
	"USD": true,
	"EUR": true,
	"GBP": true,
	"INR": true,
}

// IsSupportedCurrency reports whether the currency code is accepted.
func IsSupportedCurrency(code string) bool {
	return allowedCurrencies[code]
}
