package dto

import (
	"fmt"
	"strconv"

	"instant-payout/internal/core/domain"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a wire amount. Scientific notation and more than
// two decimal places are rejected here so services only ever see clean
// 2dp decimals.
func ParseAmount(s string) (decimal.Decimal, error) {
	for _, r := range s {
		if r == 'e' || r == 'E' {
			return decimal.Zero, fmt.Errorf("amount must be a plain decimal")
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount is not a valid decimal")
	}
	if d.Exponent() < -2 {
		return decimal.Zero, fmt.Errorf("amount must have at most 2 decimal places")
	}
	return d, nil
}

// ParseStatus parses an optional status query parameter. Empty input
// returns nil (no filter).
func ParseStatus(s string) (*domain.TransactionStatus, error) {
	if s == "" {
		return nil, nil
	}
	switch st := domain.TransactionStatus(s); st {
	case domain.TransactionStatusInitiated,
		domain.TransactionStatusProcessing,
		domain.TransactionStatusCompleted,
		domain.TransactionStatusFailed,
		domain.TransactionStatusRolledBack:
		return &st, nil
	default:
		return nil, fmt.Errorf("unknown status %q", s)
	}
}

// ParseLimit parses an optional limit query parameter; 0 means default.
func ParseLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return n, nil
}
