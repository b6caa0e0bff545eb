package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/takoyadon/loyalty-ledger/internal/model"
)

// MemoryLedger is a process-local ledger with the same contract as
// LedgerRepository. One mutex covers accounts, the log and the key index, so
// every Apply is atomic and serialized.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	log      map[string][]*model.Transaction
	byKey    map[string]*model.Transaction
	now      func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*model.Account),
		log:      make(map[string][]*model.Transaction),
		byKey:    make(map[string]*model.Transaction),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryLedger) Create(_ context.Context, acc *model.Account) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[acc.ID]; ok {
		return nil, ErrAccountExists
	}
	stored := *acc
	stored.Balance = 0
	stored.Active = true
	stored.CreatedAt = m.now()
	m.accounts[acc.ID] = &stored

	out := stored
	return &out, nil
}

func (m *MemoryLedger) Get(_ context.Context, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := *acc
	return &out, nil
}

func (m *MemoryLedger) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	acc.Active = false
	return nil
}

func (m *MemoryLedger) Apply(ctx context.Context, entry model.LedgerEntry) (*model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[entry.AccountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if !acc.Active {
		return nil, ErrAccountInactive
	}
	if _, dup := m.byKey[entry.IdempotencyKey]; dup {
		return nil, ErrDuplicateKey
	}

	newBalance := acc.Balance + entry.Delta
	if newBalance < 0 {
		return nil, ErrInsufficientBalance
	}

	txn := &model.Transaction{
		ID:             uuid.New(),
		AccountID:      entry.AccountID,
		Delta:          entry.Delta,
		Reason:         entry.Reason,
		IdempotencyKey: entry.IdempotencyKey,
		BalanceAfter:   newBalance,
		CreatedAt:      m.now(),
	}
	acc.Balance = newBalance
	m.log[entry.AccountID] = append(m.log[entry.AccountID], txn)
	m.byKey[entry.IdempotencyKey] = txn

	out := *txn
	return &out, nil
}

func (m *MemoryLedger) FindByKey(_ context.Context, key string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.byKey[key]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	out := *txn
	return &out, nil
}

func (m *MemoryLedger) Balance(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return acc.Balance, nil
}

func (m *MemoryLedger) ListTransactions(_ context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	f.Normalize()

	m.mu.Lock()
	entries := m.log[f.AccountID]
	sorted := make([]*model.Transaction, len(entries))
	for i, txn := range entries {
		c := *txn
		sorted[i] = &c
	}
	m.mu.Unlock()

	// The log is in commit order; newest first is its reverse.
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}

	total := int64(len(sorted))
	if f.Offset >= len(sorted) {
		return []*model.Transaction{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[f.Offset:end], total, nil
}

func (m *MemoryLedger) SumDeltas(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum int64
	for _, txn := range m.log[accountID] {
		sum += txn.Delta
	}
	return sum, nil
}
