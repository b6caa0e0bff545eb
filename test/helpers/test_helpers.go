package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/internal/repository"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
	"github.com/takoyadon/loyalty-ledger/pkg/redis"
	"github.com/takoyadon/loyalty-ledger/test/fixtures"
)

func SetupTestDB(t *testing.T) *pg.DB {
	t.Helper()
	db, err := repository.OpenSQLite()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)

	// adapters are cached by connection name
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	return mr, adapter
}

// SeedCatalog stores the fixture rewards and activity rules.
func SeedCatalog(t *testing.T, db *pg.DB) {
	t.Helper()
	ctx := context.Background()
	rewards := repository.NewRewardRepository(db)
	for _, r := range fixtures.Rewards {
		r := r
		require.NoError(t, rewards.Upsert(ctx, &r))
	}
	rules := repository.NewActivityRuleRepository(db)
	for _, r := range fixtures.Rules {
		require.NoError(t, rules.Upsert(ctx, r))
	}
}

func CreateTestAccount(t *testing.T, db *pg.DB, req model.AccountCreateRequest) *model.Account {
	t.Helper()
	req.Normalize()
	acc, err := repository.NewAccountRepository(db).Create(context.Background(), &model.Account{
		ID:     req.ID,
		Email:  req.Email,
		Role:   req.Role,
		Active: true,
	})
	require.NoError(t, err)
	return acc
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
