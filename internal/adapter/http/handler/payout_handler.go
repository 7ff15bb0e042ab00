package handler

import (
	"instant-payout/internal/adapter/http/dto"
	"instant-payout/internal/core/ports"
	"instant-payout/pkg/apperror"
	"instant-payout/pkg/response"

	"github.com/gin-gonic/gin"
)

// PayoutHandler serves the payout intake and query endpoints.
type PayoutHandler struct {
	intake ports.IntakeService
}

// NewPayoutHandler creates a new PayoutHandler.
func NewPayoutHandler(intake ports.IntakeService) *PayoutHandler {
	return &PayoutHandler{intake: intake}
}

// InitiatePayout handles POST /api/payout. A 202 means the payout is
// recorded and queued, not settled; clients observe settlement through
// the realtime channel or by polling the transaction.
func (h *PayoutHandler) InitiatePayout(c *gin.Context) {
	var req dto.PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrValidation(err.Error()))
		return
	}

	amount, err := dto.ParseAmount(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrValidation(err.Error()))
		return
	}

	receipt, err := h.intake.InitiatePayout(c.Request.Context(), ports.PayoutRequest{
		UserID:      req.UserID,
		Amount:      amount,
		Currency:    req.Currency,
		Description: req.Description,
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		Source:      req.Source,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, dto.PayoutAccepted{
		Success:       true,
		TransactionID: receipt.TransactionID,
		Status:        string(receipt.Status),
		Amount:        receipt.Amount.StringFixed(2),
		Currency:      receipt.Currency,
		Message:       "payout queued for settlement",
	})
}

// GetTransaction handles GET /api/payout/:transaction_id.
func (h *PayoutHandler) GetTransaction(c *gin.Context) {
	txn, err := h.intake.GetTransaction(c.Request.Context(), c.Param("transaction_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.TransactionEnvelope{
		Success:     true,
		Transaction: dto.ToTransactionResponse(txn),
	})
}

// GetBalance handles GET /api/payout/user/:user_id/balance.
func (h *PayoutHandler) GetBalance(c *gin.Context) {
	userID := c.Param("user_id")
	balance, currency, err := h.intake.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.BalanceResponse{
		Success:  true,
		UserID:   userID,
		Balance:  balance.StringFixed(2),
		Currency: currency,
	})
}

// GetHistory handles GET /api/payout/user/:user_id/history.
func (h *PayoutHandler) GetHistory(c *gin.Context) {
	userID := c.Param("user_id")

	status, err := dto.ParseStatus(c.Query("status"))
	if err != nil {
		response.Error(c, apperror.ErrValidation(err.Error()))
		return
	}
	limit, err := dto.ParseLimit(c.Query("limit"))
	if err != nil {
		response.Error(c, apperror.ErrValidation(err.Error()))
		return
	}

	txns, err := h.intake.GetHistory(c.Request.Context(), userID, status, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, dto.ToTransactionResponse(&txns[i]))
	}
	response.OK(c, dto.HistoryResponse{
		Success:      true,
		UserID:       userID,
		Count:        len(items),
		Transactions: items,
	})
}
