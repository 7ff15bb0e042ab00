package postgres

import (
	"context"
	"fmt"

	"instant-payout/internal/core/domain"
)

// AuditRepo implements ports.AuditStore, an append-only trail.
type AuditRepo struct {
	pool Pool
}

// NewAuditRepo creates a PostgreSQL-backed audit store.
func NewAuditRepo(pool Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Append inserts one audit entry.
func (r *AuditRepo) Append(ctx context.Context, e *domain.AuditEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_log (id, transaction_id, user_id, action, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.TransactionID, e.UserID, string(e.Action), e.Details, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByTransaction returns a transaction's trail in insertion order.
func (r *AuditRepo) ListByTransaction(ctx context.Context, transactionID string) ([]domain.AuditEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, transaction_id, user_id, action, details, created_at
		 FROM audit_log WHERE transaction_id = $1 ORDER BY created_at ASC`,
		transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		e := domain.AuditEntry{}
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.UserID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
