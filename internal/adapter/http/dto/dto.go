// Package dto defines the HTTP request and response shapes. Amounts
// cross the wire as 2dp decimal strings, never floats.
package dto

import (
	"time"

	"instant-payout/internal/core/domain"
)

// PayoutRequest is the body of POST /api/payout. Currency may be
// omitted; the payout then settles in the user's account currency.
type PayoutRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

// PayoutAccepted is the 202 body returned on a queued payout.
type PayoutAccepted struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Message       string `json:"message"`
}

// TransactionResponse is the client view of one transaction.
type TransactionResponse struct {
	TransactionID        string     `json:"transaction_id"`
	UserID               string     `json:"user_id"`
	Amount               string     `json:"amount"`
	Currency             string     `json:"currency"`
	Status               string     `json:"status"`
	Type                 string     `json:"type"`
	BalanceBefore        string     `json:"balance_before"`
	BalanceAfter         string     `json:"balance_after"`
	Description          string     `json:"description,omitempty"`
	ErrorCode            *string    `json:"error_code,omitempty"`
	ErrorMessage         *string    `json:"error_message,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	ProcessingAt         *time.Time `json:"processing_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	FailedAt             *time.Time `json:"failed_at,omitempty"`
	ProcessingDurationMS *int64     `json:"processing_duration_ms,omitempty"`
}

// TransactionEnvelope is the body of GET /api/payout/:transaction_id.
type TransactionEnvelope struct {
	Success     bool                `json:"success"`
	Transaction TransactionResponse `json:"transaction"`
}

// BalanceResponse is the body of GET /api/payout/user/:user_id/balance.
type BalanceResponse struct {
	Success  bool   `json:"success"`
	UserID   string `json:"user_id"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

// HistoryResponse is the body of GET /api/payout/user/:user_id/history.
type HistoryResponse struct {
	Success      bool                  `json:"success"`
	UserID       string                `json:"user_id"`
	Count        int                   `json:"count"`
	Transactions []TransactionResponse `json:"transactions"`
}

// ToTransactionResponse converts a domain transaction to its wire form.
func ToTransactionResponse(t *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID:        t.TransactionID,
		UserID:               t.UserID,
		Amount:               t.Amount.StringFixed(2),
		Currency:             t.Currency,
		Status:               string(t.Status),
		Type:                 string(t.Type),
		BalanceBefore:        t.BalanceBefore.StringFixed(2),
		BalanceAfter:         t.BalanceAfter.StringFixed(2),
		Description:          t.Metadata.Description,
		ErrorCode:            t.ErrorCode,
		ErrorMessage:         t.ErrorMessage,
		CreatedAt:            t.CreatedAt,
		ProcessingAt:         t.ProcessingAt,
		CompletedAt:          t.CompletedAt,
		FailedAt:             t.FailedAt,
		ProcessingDurationMS: t.ProcessingDurationMS,
	}
}
