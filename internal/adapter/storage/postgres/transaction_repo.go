package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"instant-payout/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransactionRepo implements ports.TransactionStore.
//
// Transition helpers carry the permitted source states in the WHERE
// clause: re-applying a transition in its own target state matches the
// row (idempotent no-op of the timestamp via COALESCE), while transitions
// the state machine forbids match nothing and error.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const txColumns = `transaction_id, user_id, amount::text, currency, status, type,
	balance_before::text, balance_after::text, ip, user_agent, source, description,
	lock_acquired, error_code, error_message,
	created_at, processing_at, completed_at, failed_at, processing_duration_ms`

// Create inserts a new transaction in its initiated state.
func (r *TransactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	query := `INSERT INTO transactions (transaction_id, user_id, amount, currency, status, type,
		balance_before, balance_after, ip, user_agent, source, description, lock_acquired, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		t.TransactionID, t.UserID, t.Amount.StringFixed(2), t.Currency, t.Status, t.Type,
		t.BalanceBefore.StringFixed(2), t.BalanceAfter.StringFixed(2),
		t.Metadata.IP, t.Metadata.UserAgent, t.Metadata.Source, t.Metadata.Description,
		t.LockAcquired, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by its id. Returns (nil, nil) when absent.
func (r *TransactionRepo) GetByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE transaction_id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, transactionID))
}

// ListByUser fetches a user's transactions, newest first, optionally
// filtered by status.
func (r *TransactionRepo) ListByUser(ctx context.Context, userID string, status *domain.TransactionStatus, limit int) ([]domain.Transaction, error) {
	var rows pgx.Rows
	var err error

	if status != nil {
		query := `SELECT ` + txColumns + ` FROM transactions
			WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3`
		rows, err = r.pool.Query(ctx, query, userID, *status, limit)
	} else {
		query := `SELECT ` + txColumns + ` FROM transactions
			WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
		rows, err = r.pool.Query(ctx, query, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list transactions by user: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// ListByStatus fetches transactions stuck in status since before
// olderThan, oldest first. Supports operator triage of pinned rows.
func (r *TransactionRepo) ListByStatus(ctx context.Context, status domain.TransactionStatus, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`

	rows, err := r.pool.Query(ctx, query, status, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions by status: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// MarkProcessing advances initiated -> processing.
func (r *TransactionRepo) MarkProcessing(ctx context.Context, transactionID string) error {
	query := `UPDATE transactions SET status = 'processing',
		processing_at = COALESCE(processing_at, NOW())
		WHERE transaction_id = $1 AND status IN ('initiated', 'processing')`

	tag, err := r.pool.Exec(ctx, query, transactionID)
	if err != nil {
		return fmt.Errorf("mark transaction processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s not in a state to process", transactionID)
	}
	return nil
}

// MarkCompleted advances processing -> completed, records the settled
// balance and computes the processing duration.
func (r *TransactionRepo) MarkCompleted(ctx context.Context, transactionID string, balanceAfter decimal.Decimal) error {
	query := `UPDATE transactions SET status = 'completed',
		balance_after = $2::numeric,
		completed_at = COALESCE(completed_at, NOW()),
		processing_duration_ms = COALESCE(processing_duration_ms,
			(EXTRACT(EPOCH FROM (NOW() - processing_at)) * 1000)::bigint)
		WHERE transaction_id = $1 AND status IN ('processing', 'completed')`

	tag, err := r.pool.Exec(ctx, query, transactionID, balanceAfter.StringFixed(2))
	if err != nil {
		return fmt.Errorf("mark transaction completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s not in a state to complete", transactionID)
	}
	return nil
}

// MarkFailed moves any non-terminal transaction to failed with error
// details.
func (r *TransactionRepo) MarkFailed(ctx context.Context, transactionID, code, message string) error {
	query := `UPDATE transactions SET status = 'failed',
		error_code = $2, error_message = $3,
		failed_at = COALESCE(failed_at, NOW())
		WHERE transaction_id = $1 AND status IN ('initiated', 'processing', 'failed')`

	tag, err := r.pool.Exec(ctx, query, transactionID, code, message)
	if err != nil {
		return fmt.Errorf("mark transaction failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s not in a state to fail", transactionID)
	}
	return nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var amount, before, after string
	err := row.Scan(
		&t.TransactionID, &t.UserID, &amount, &t.Currency, &t.Status, &t.Type,
		&before, &after, &t.Metadata.IP, &t.Metadata.UserAgent, &t.Metadata.Source,
		&t.Metadata.Description, &t.LockAcquired, &t.ErrorCode, &t.ErrorMessage,
		&t.CreatedAt, &t.ProcessingAt, &t.CompletedAt, &t.FailedAt, &t.ProcessingDurationMS,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	if err := parseAmounts(t, amount, before, after); err != nil {
		return nil, err
	}
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	for rows.Next() {
		t := domain.Transaction{}
		var amount, before, after string
		err := rows.Scan(
			&t.TransactionID, &t.UserID, &amount, &t.Currency, &t.Status, &t.Type,
			&before, &after, &t.Metadata.IP, &t.Metadata.UserAgent, &t.Metadata.Source,
			&t.Metadata.Description, &t.LockAcquired, &t.ErrorCode, &t.ErrorMessage,
			&t.CreatedAt, &t.ProcessingAt, &t.CompletedAt, &t.FailedAt, &t.ProcessingDurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		if err := parseAmounts(&t, amount, before, after); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

func parseAmounts(t *domain.Transaction, amount, before, after string) error {
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return fmt.Errorf("parse transaction amount: %w", err)
	}
	if t.BalanceBefore, err = decimal.NewFromString(before); err != nil {
		return fmt.Errorf("parse balance_before: %w", err)
	}
	if t.BalanceAfter, err = decimal.NewFromString(after); err != nil {
		return fmt.Errorf("parse balance_after: %w", err)
	}
	return nil
}
