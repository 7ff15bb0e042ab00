package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"instant-payout/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// In-memory implementations of the durable stores. They mirror the SQL
// repos' guarantees: (nil, nil) lookups on absence, and forward-only
// state transitions that treat re-application in the target state as a
// no-op and refuse anything else.

// --- User store ---

type inMemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

func newInMemoryUserStore() *inMemoryUserStore {
	return &inMemoryUserStore{users: make(map[string]*domain.User)}
}

func (s *inMemoryUserStore) put(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = u
}

func (s *inMemoryUserStore) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	clone := *u
	return &clone, nil
}

func (s *inMemoryUserStore) ApplyPayout(ctx context.Context, userID string, newBalance, amount decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s not found", userID)
	}
	u.Balance = newBalance
	u.TotalPayouts++
	u.TotalPayoutAmount = u.TotalPayoutAmount.Add(amount)
	u.LastPayoutAt = &at
	u.UpdatedAt = at
	return nil
}

// --- Transaction store ---

type inMemoryTransactionStore struct {
	mu  sync.RWMutex
	txs map[string]*domain.Transaction
}

func newInMemoryTransactionStore() *inMemoryTransactionStore {
	return &inMemoryTransactionStore{txs: make(map[string]*domain.Transaction)}
}

func (s *inMemoryTransactionStore) Create(ctx context.Context, t *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[t.TransactionID]; ok {
		return fmt.Errorf("duplicate transaction %s", t.TransactionID)
	}
	clone := *t
	s.txs[t.TransactionID] = &clone
	return nil
}

func (s *inMemoryTransactionStore) GetByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[transactionID]
	if !ok {
		return nil, nil
	}
	clone := *t
	return &clone, nil
}

func (s *inMemoryTransactionStore) ListByUser(ctx context.Context, userID string, status *domain.TransactionStatus, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range s.txs {
		if t.UserID != userID {
			continue
		}
		if status != nil && t.Status != *status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *inMemoryTransactionStore) ListByStatus(ctx context.Context, status domain.TransactionStatus, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range s.txs {
		if t.Status == status && t.CreatedAt.Before(olderThan) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *inMemoryTransactionStore) MarkProcessing(ctx context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[transactionID]
	if !ok || (t.Status != domain.TransactionStatusInitiated && t.Status != domain.TransactionStatusProcessing) {
		return fmt.Errorf("transaction %s not in a state to process", transactionID)
	}
	t.Status = domain.TransactionStatusProcessing
	if t.ProcessingAt == nil {
		now := time.Now()
		t.ProcessingAt = &now
	}
	return nil
}

func (s *inMemoryTransactionStore) MarkCompleted(ctx context.Context, transactionID string, balanceAfter decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[transactionID]
	if !ok || (t.Status != domain.TransactionStatusProcessing && t.Status != domain.TransactionStatusCompleted) {
		return fmt.Errorf("transaction %s not in a state to complete", transactionID)
	}
	t.Status = domain.TransactionStatusCompleted
	t.BalanceAfter = balanceAfter
	if t.CompletedAt == nil {
		now := time.Now()
		t.CompletedAt = &now
		if t.ProcessingAt != nil {
			ms := now.Sub(*t.ProcessingAt).Milliseconds()
			t.ProcessingDurationMS = &ms
		}
	}
	return nil
}

func (s *inMemoryTransactionStore) MarkFailed(ctx context.Context, transactionID, code, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[transactionID]
	if !ok || t.Status == domain.TransactionStatusCompleted || t.Status == domain.TransactionStatusRolledBack {
		return fmt.Errorf("transaction %s not in a state to fail", transactionID)
	}
	t.Status = domain.TransactionStatusFailed
	t.ErrorCode = &code
	t.ErrorMessage = &message
	if t.FailedAt == nil {
		now := time.Now()
		t.FailedAt = &now
	}
	return nil
}

// --- Audit store ---

type inMemoryAuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

func newInMemoryAuditStore() *inMemoryAuditStore {
	return &inMemoryAuditStore{}
}

func (s *inMemoryAuditStore) Append(ctx context.Context, entry *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *entry
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *inMemoryAuditStore) ListByTransaction(ctx context.Context, transactionID string) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// actions returns the audit trail of one transaction as an ordered list
// of action names.
func (s *inMemoryAuditStore) actions(transactionID string) []domain.AuditAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditAction
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			out = append(out, e.Action)
		}
	}
	return out
}

// --- Settlement queue ---

// memQueue implements ports.Publisher by parking messages in memory; the
// test drains it through the settlement service like the worker would.
type memQueue struct {
	mu       sync.Mutex
	messages []*domain.PayoutMessage
}

func newMemQueue() *memQueue {
	return &memQueue{}
}

func (q *memQueue) Publish(ctx context.Context, msg *domain.PayoutMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	clone := *msg
	q.messages = append(q.messages, &clone)
	return nil
}

func (q *memQueue) drain() []*domain.PayoutMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.messages
	q.messages = nil
	return out
}

func (q *memQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
