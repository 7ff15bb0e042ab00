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

// UserRepo implements ports.UserStore.
type UserRepo struct {
	pool Pool
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(pool Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// GetByID fetches a user by its stable id. Returns (nil, nil) when absent.
func (r *UserRepo) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT user_id, name, email, balance::text, currency, status,
		total_payouts, total_payout_amount::text, last_payout_at, created_at, updated_at
		FROM users WHERE user_id = $1`

	u := &domain.User{}
	var balance, totalAmount string
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&u.UserID, &u.Name, &u.Email, &balance, &u.Currency, &u.Status,
		&u.TotalPayouts, &totalAmount, &u.LastPayoutAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	if u.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse user balance: %w", err)
	}
	if u.TotalPayoutAmount, err = decimal.NewFromString(totalAmount); err != nil {
		return nil, fmt.Errorf("parse user payout total: %w", err)
	}
	return u, nil
}

// ApplyPayout reconciles the durable balance after a successful cache
// deduction. The update is a single atomic row write; the durable
// balance is set to the already-deducted cache value, never decremented
// blindly.
func (r *UserRepo) ApplyPayout(ctx context.Context, userID string, newBalance, amount decimal.Decimal, at time.Time) error {
	query := `UPDATE users SET
		balance = $2::numeric,
		total_payouts = total_payouts + 1,
		total_payout_amount = total_payout_amount + $3::numeric,
		last_payout_at = $4,
		updated_at = NOW()
		WHERE user_id = $1`

	tag, err := r.pool.Exec(ctx, query, userID, newBalance.StringFixed(2), amount.StringFixed(2), at)
	if err != nil {
		return fmt.Errorf("apply payout to user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}
