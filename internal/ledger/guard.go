package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/internal/repository"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/takoyadon/loyalty-ledger/pkg/redis"
)

const appliedKeyPrefix = "ledger:applied:"

// KeyLookup finds a committed transaction by idempotency key.
type KeyLookup interface {
	FindByKey(ctx context.Context, key string) (*model.Transaction, error)
}

// Guard answers whether an idempotency key was already applied. The store is
// the source of truth; redis only short-circuits repeated lookups of keys that
// are known to be committed.
type Guard struct {
	store KeyLookup
	cache redis.RedisAdapter
	ttl   time.Duration
}

// NewGuard builds a guard. cache may be nil.
func NewGuard(store KeyLookup, cache redis.RedisAdapter, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Guard{store: store, cache: cache, ttl: ttl}
}

// Check returns the prior transaction when key was applied. A store failure
// fails closed with ErrStoreUnavailable.
func (g *Guard) Check(ctx context.Context, key string) (*model.Transaction, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("%w: idempotency_key is required", ErrInvalidEntry)
	}

	if txn, ok := g.fromCache(ctx, key); ok {
		return txn, true, nil
	}

	txn, err := g.store.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: idempotency check: %v", ErrStoreUnavailable, err)
	}

	g.Remember(ctx, txn)
	return txn, true, nil
}

// Remember records a committed transaction in the cache. Failures only log.
func (g *Guard) Remember(ctx context.Context, txn *model.Transaction) {
	if g.cache == nil || txn == nil {
		return
	}
	payload, err := json.Marshal(txn)
	if err != nil {
		logger.Warn("[guard] encode transaction", "key", txn.IdempotencyKey, "error", err)
		return
	}
	if err := g.cache.Set(ctx, appliedKeyPrefix+txn.IdempotencyKey, payload, g.ttl); err != nil {
		logger.Warn("[guard] cache write failed", "key", txn.IdempotencyKey, "error", err)
	}
}

func (g *Guard) fromCache(ctx context.Context, key string) (*model.Transaction, bool) {
	if g.cache == nil {
		return nil, false
	}
	raw, err := g.cache.Get(ctx, appliedKeyPrefix+key)
	if err != nil {
		if !errors.Is(err, redis.NilError) {
			logger.Warn("[guard] cache read failed, falling back to store", "key", key, "error", err)
		}
		return nil, false
	}
	var txn model.Transaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		logger.Warn("[guard] corrupt cache entry", "key", key, "error", err)
		return nil, false
	}
	return &txn, true
}
