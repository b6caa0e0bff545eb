package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/internal/repository"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/takoyadon/loyalty-ledger/pkg/prom"
)

// Store is the ledger's durable state. Apply must lock the account, insert the
// entry under a unique idempotency key and move the balance atomically.
type Store interface {
	KeyLookup
	Apply(ctx context.Context, entry model.LedgerEntry) (*model.Transaction, error)
}

// CommitPublisher is told about every newly committed transaction.
type CommitPublisher interface {
	Publish(ctx context.Context, txn *model.Transaction)
}

type Executor struct {
	store     Store
	guard     *Guard
	publisher CommitPublisher
}

type Option func(*Executor)

func WithPublisher(p CommitPublisher) Option {
	return func(e *Executor) { e.publisher = p }
}

func NewExecutor(store Store, guard *Guard, opts ...Option) *Executor {
	if guard == nil {
		guard = NewGuard(store, nil, 0)
	}
	e := &Executor{store: store, guard: guard}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies entry at most once. A key that was already committed returns
// the original result with Replayed set.
func (e *Executor) Execute(ctx context.Context, entry model.LedgerEntry) (*model.LedgerResult, error) {
	start := time.Now()
	kind := entryKind(entry.IdempotencyKey)

	res, err := e.execute(ctx, entry)

	outcome := "committed"
	switch {
	case err == nil && res.Replayed:
		outcome = "replayed"
		prom.IncReplay(kind)
	case err == nil:
		prom.IncTransaction(kind)
	case errors.Is(err, ErrIdempotencyConflict):
		outcome = "conflict"
	case IsTransient(err):
		outcome = "unavailable"
	default:
		outcome = "rejected"
	}
	prom.ObserveExecute(time.Since(start).Seconds(), outcome)

	return res, err
}

// Lookup returns the committed result stored under key, marked Replayed, or
// false when nothing was committed under it.
func (e *Executor) Lookup(ctx context.Context, key string) (*model.LedgerResult, bool, error) {
	prior, applied, err := e.guard.Check(ctx, key)
	if err != nil || !applied {
		return nil, false, err
	}
	return &model.LedgerResult{Transaction: prior, NewBalance: prior.BalanceAfter, Replayed: true}, true, nil
}

func (e *Executor) execute(ctx context.Context, entry model.LedgerEntry) (*model.LedgerResult, error) {
	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	prior, applied, err := e.guard.Check(ctx, entry.IdempotencyKey)
	if err != nil {
		logger.Warn("[ledger] idempotency check failed, rejecting", "key", entry.IdempotencyKey, "error", err)
		return nil, err
	}
	if applied {
		return e.replay(entry, prior)
	}

	txn, err := e.store.Apply(ctx, entry)
	if errors.Is(err, repository.ErrDuplicateKey) {
		// lost the race against a concurrent request with the same key
		prior, findErr := e.store.FindByKey(ctx, entry.IdempotencyKey)
		if findErr != nil {
			return nil, fmt.Errorf("%w: load replayed entry: %v", ErrStoreUnavailable, findErr)
		}
		e.guard.Remember(ctx, prior)
		return e.replay(entry, prior)
	}
	if err != nil {
		err = translate(err)
		if IsTransient(err) {
			logger.Error("[ledger] apply failed", "key", entry.IdempotencyKey, "account_id", entry.AccountID, "error", err)
		}
		return nil, err
	}

	logger.Info("[ledger] transaction committed",
		"transaction_id", txn.ID,
		"account_id", txn.AccountID,
		"delta", txn.Delta,
		"balance", txn.BalanceAfter,
		"key", txn.IdempotencyKey)

	e.guard.Remember(ctx, txn)
	if e.publisher != nil {
		e.publisher.Publish(ctx, txn)
	}

	return &model.LedgerResult{Transaction: txn, NewBalance: txn.BalanceAfter}, nil
}

func (e *Executor) replay(entry model.LedgerEntry, prior *model.Transaction) (*model.LedgerResult, error) {
	if !entry.Matches(prior) {
		logger.Error("[ledger] idempotency key reused for a different entry",
			"key", entry.IdempotencyKey,
			"stored_account_id", prior.AccountID,
			"stored_delta", prior.Delta,
			"stored_reason", prior.Reason,
			"account_id", entry.AccountID,
			"delta", entry.Delta,
			"reason", entry.Reason)
		prom.IncIdempotencyConflict()
		return nil, ErrIdempotencyConflict
	}

	logger.Info("[ledger] replaying committed transaction", "key", entry.IdempotencyKey, "transaction_id", prior.ID)
	return &model.LedgerResult{Transaction: prior, NewBalance: prior.BalanceAfter, Replayed: true}, nil
}

func entryKind(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}
