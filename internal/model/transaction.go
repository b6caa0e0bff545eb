package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Transaction is one committed, immutable ledger entry.
type Transaction struct {
	ID             uuid.UUID `json:"id"`
	AccountID      string    `json:"account_id"`
	Delta          int64     `json:"delta"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"idempotency_key"`
	BalanceAfter   int64     `json:"balance_after"`
	CreatedAt      time.Time `json:"created_at"`
}

// LedgerEntry is a request to move points on an account.
type LedgerEntry struct {
	AccountID      string
	Delta          int64
	Reason         string
	IdempotencyKey string
}

func (e LedgerEntry) Validate() error {
	if e.AccountID == "" {
		return errors.New("account_id is required")
	}
	if e.Delta == 0 {
		return errors.New("delta must be non-zero")
	}
	if e.Reason == "" {
		return errors.New("reason is required")
	}
	if e.IdempotencyKey == "" {
		return errors.New("idempotency_key is required")
	}
	return nil
}

// Matches reports whether txn records the same logical event as e.
func (e LedgerEntry) Matches(txn *Transaction) bool {
	return txn.AccountID == e.AccountID && txn.Delta == e.Delta && txn.Reason == e.Reason
}

// LedgerResult is what the executor returns for an accepted entry. A replayed
// result carries the originally committed transaction and balance.
type LedgerResult struct {
	Transaction *Transaction `json:"transaction"`
	NewBalance  int64        `json:"new_balance"`
	Replayed    bool         `json:"replayed"`
}

type TransactionFilter struct {
	AccountID string
	Limit     int
	Offset    int
}

func (f *TransactionFilter) Normalize() {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
