package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"instant-payout/internal/core/domain"
	"instant-payout/internal/core/ports"
	"instant-payout/internal/core/ports/mocks"
	"instant-payout/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *mocks.MockIntakeService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	intake := mocks.NewMockIntakeService(ctrl)

	r := SetupRouter(RouterDeps{
		Intake: intake,
		Logger: zerolog.Nop(),
	})
	return r, intake
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func payoutBody() map[string]string {
	return map[string]string{
		"user_id":  "user_001",
		"amount":   "100.50",
		"currency": "USD",
		"source":   "api",
	}
}

func TestInitiatePayout_Accepted(t *testing.T) {
	r, intake := setupTestRouter(t)

	intake.EXPECT().
		InitiatePayout(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, req ports.PayoutRequest) (*ports.PayoutReceipt, error) {
			assert.Equal(t, "user_001", req.UserID)
			assert.True(t, req.Amount.Equal(decimal.RequireFromString("100.50")))
			assert.Equal(t, "USD", req.Currency)
			return &ports.PayoutReceipt{
				TransactionID: "TXN_ABC_123",
				Status:        domain.TransactionStatusInitiated,
				Amount:        req.Amount,
				Currency:      req.Currency,
			}, nil
		})

	w := doJSON(t, r, http.MethodPost, "/api/payout", payoutBody())

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "TXN_ABC_123", resp["transaction_id"])
	assert.Equal(t, "initiated", resp["status"])
	assert.Equal(t, "100.50", resp["amount"])
	assert.Equal(t, "payout queued for settlement", resp["message"])
}

func TestInitiatePayout_CurrencyIsOptional(t *testing.T) {
	r, intake := setupTestRouter(t)

	intake.EXPECT().
		InitiatePayout(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, req ports.PayoutRequest) (*ports.PayoutReceipt, error) {
			assert.Empty(t, req.Currency, "the service fills the account currency in")
			return &ports.PayoutReceipt{
				TransactionID: "TXN_ABC_124",
				Status:        domain.TransactionStatusInitiated,
				Amount:        req.Amount,
				Currency:      "USD",
			}, nil
		})

	body := payoutBody()
	delete(body, "currency")
	w := doJSON(t, r, http.MethodPost, "/api/payout", body)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "USD", resp["currency"])
}

func TestInitiatePayout_MissingFields(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/payout", map[string]string{
		"user_id": "user_001",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "VALIDATION_ERROR", resp["code"])
}

func TestInitiatePayout_BadAmount(t *testing.T) {
	r, _ := setupTestRouter(t)

	body := payoutBody()
	body["amount"] = "100.505"
	w := doJSON(t, r, http.MethodPost, "/api/payout", body)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "VALIDATION_ERROR", resp["code"])
}

func TestInitiatePayout_Concurrent(t *testing.T) {
	r, intake := setupTestRouter(t)

	intake.EXPECT().
		InitiatePayout(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrConcurrentRequest())

	w := doJSON(t, r, http.MethodPost, "/api/payout", payoutBody())

	require.Equal(t, http.StatusConflict, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "CONCURRENT_REQUEST", resp["code"])
}

func TestInitiatePayout_InsufficientBalance(t *testing.T) {
	r, intake := setupTestRouter(t)

	intake.EXPECT().
		InitiatePayout(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrInsufficientBalance())

	w := doJSON(t, r, http.MethodPost, "/api/payout", payoutBody())

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTransaction(t *testing.T) {
	r, intake := setupTestRouter(t)

	now := time.Now().UTC()
	intake.EXPECT().
		GetTransaction(gomock.Any(), "TXN_ABC_123").
		Return(&domain.Transaction{
			TransactionID: "TXN_ABC_123",
			UserID:        "user_001",
			Amount:        decimal.RequireFromString("100.50"),
			Currency:      "USD",
			Status:        domain.TransactionStatusCompleted,
			Type:          domain.TransactionTypePayout,
			BalanceBefore: decimal.RequireFromString("10000.00"),
			BalanceAfter:  decimal.RequireFromString("9899.50"),
			CreatedAt:     now,
			CompletedAt:   &now,
		}, nil)

	w := doJSON(t, r, http.MethodGet, "/api/payout/TXN_ABC_123", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	txn, ok := resp["transaction"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "completed", txn["status"])
	assert.Equal(t, "9899.50", txn["balance_after"])
}

func TestGetTransaction_NotFound(t *testing.T) {
	r, intake := setupTestRouter(t)

	intake.EXPECT().
		GetTransaction(gomock.Any(), "TXN_MISSING").
		Return(nil, apperror.ErrTransactionNotFound())

	w := doJSON(t, r, http.MethodGet, "/api/payout/TXN_MISSING", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBalance(t *testing.T) {
	r, intake := setupTestRouter(t)

	intake.EXPECT().
		GetBalance(gomock.Any(), "user_001").
		Return(decimal.RequireFromString("9899.50"), "USD", nil)

	w := doJSON(t, r, http.MethodGet, "/api/payout/user/user_001/balance", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user_001", resp["user_id"])
	assert.Equal(t, "9899.50", resp["balance"])
	assert.Equal(t, "USD", resp["currency"])
}

func TestGetHistory_StatusFilter(t *testing.T) {
	r, intake := setupTestRouter(t)

	completed := domain.TransactionStatusCompleted
	intake.EXPECT().
		GetHistory(gomock.Any(), "user_001", &completed, 5).
		Return([]domain.Transaction{
			{
				TransactionID: "TXN_1",
				UserID:        "user_001",
				Amount:        decimal.RequireFromString("100.50"),
				Currency:      "USD",
				Status:        domain.TransactionStatusCompleted,
				Type:          domain.TransactionTypePayout,
			},
		}, nil)

	w := doJSON(t, r, http.MethodGet, "/api/payout/user/user_001/history?status=completed&limit=5", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["count"])
}

func TestGetHistory_BadStatus(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/payout/user/user_001/history?status=bogus", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthLive(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/health/live", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp["status"])
}
