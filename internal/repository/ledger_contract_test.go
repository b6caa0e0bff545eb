package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takoyadon/loyalty-ledger/internal/model"
)

type ledgerUnderTest interface {
	Create(ctx context.Context, acc *model.Account) (*model.Account, error)
	Deactivate(ctx context.Context, id string) error
	Apply(ctx context.Context, entry model.LedgerEntry) (*model.Transaction, error)
	FindByKey(ctx context.Context, key string) (*model.Transaction, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
	SumDeltas(ctx context.Context, accountID string) (int64, error)
}

type sqlLedger struct {
	*AccountRepository
	*LedgerRepository
}

func newSQLLedger(t *testing.T) ledgerUnderTest {
	db := setupTestDB(t).DB
	return sqlLedger{NewAccountRepository(db), NewLedgerRepository(db, DefaultRetryPolicy())}
}

func newMemLedger(*testing.T) ledgerUnderTest {
	return NewMemoryLedger()
}

func TestLedgerContract(t *testing.T) {
	impls := map[string]func(*testing.T) ledgerUnderTest{
		"sql":    newSQLLedger,
		"memory": newMemLedger,
	}
	for name, factory := range impls {
		t.Run(name, func(t *testing.T) {
			runLedgerContract(t, factory)
		})
	}
}

func fund(t *testing.T, l ledgerUnderTest, id string, points int64) {
	t.Helper()
	ctx := context.Background()
	_, err := l.Create(ctx, &model.Account{ID: id, Role: model.RoleCustomer})
	require.NoError(t, err)
	if points > 0 {
		_, err = l.Apply(ctx, model.LedgerEntry{
			AccountID:      id,
			Delta:          points,
			Reason:         "Opening balance",
			IdempotencyKey: "seed:" + id,
		})
		require.NoError(t, err)
	}
}

func runLedgerContract(t *testing.T, factory func(*testing.T) ledgerUnderTest) {
	ctx := context.Background()

	t.Run("credit then debit", func(t *testing.T) {
		l := factory(t)
		fund(t, l, "acc-1", 100)

		txn, err := l.Apply(ctx, model.LedgerEntry{
			AccountID:      "acc-1",
			Delta:          -50,
			Reason:         "Redeemed: Free Drink",
			IdempotencyKey: "redeem:acc-1:free_drink",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(-50), txn.Delta)
		assert.Equal(t, int64(50), txn.BalanceAfter)
		assert.Equal(t, "Redeemed: Free Drink", txn.Reason)
		assert.NotEmpty(t, txn.ID)

		balance, err := l.Balance(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(50), balance)
	})

	t.Run("insufficient balance leaves no trace", func(t *testing.T) {
		l := factory(t)
		fund(t, l, "acc-2", 50)

		_, err := l.Apply(ctx, model.LedgerEntry{
			AccountID:      "acc-2",
			Delta:          -60,
			Reason:         "Redeemed: Combo",
			IdempotencyKey: "redeem:acc-2:combo",
		})
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		balance, err := l.Balance(ctx, "acc-2")
		require.NoError(t, err)
		assert.Equal(t, int64(50), balance)

		_, err = l.FindByKey(ctx, "redeem:acc-2:combo")
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})

	t.Run("duplicate key is rejected without reapplying", func(t *testing.T) {
		l := factory(t)
		fund(t, l, "acc-3", 100)
		entry := model.LedgerEntry{
			AccountID:      "acc-3",
			Delta:          -30,
			Reason:         "Redeemed: Fries",
			IdempotencyKey: "redeem:acc-3:fries",
		}

		first, err := l.Apply(ctx, entry)
		require.NoError(t, err)

		_, err = l.Apply(ctx, entry)
		assert.ErrorIs(t, err, ErrDuplicateKey)

		stored, err := l.FindByKey(ctx, entry.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, first.ID, stored.ID)

		balance, err := l.Balance(ctx, "acc-3")
		require.NoError(t, err)
		assert.Equal(t, int64(70), balance)
	})

	t.Run("duplicate key wins over insufficient balance", func(t *testing.T) {
		l := factory(t)
		fund(t, l, "acc-4", 40)
		entry := model.LedgerEntry{AccountID: "acc-4", Delta: -40, Reason: "Redeemed: Cake", IdempotencyKey: "redeem:acc-4:cake"}

		_, err := l.Apply(ctx, entry)
		require.NoError(t, err)

		_, err = l.Apply(ctx, entry)
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("unknown and inactive accounts", func(t *testing.T) {
		l := factory(t)
		_, err := l.Apply(ctx, model.LedgerEntry{AccountID: "ghost", Delta: 10, Reason: "x", IdempotencyKey: "k-ghost"})
		assert.ErrorIs(t, err, ErrAccountNotFound)

		fund(t, l, "acc-5", 10)
		require.NoError(t, l.Deactivate(ctx, "acc-5"))
		_, err = l.Apply(ctx, model.LedgerEntry{AccountID: "acc-5", Delta: 10, Reason: "x", IdempotencyKey: "k-inactive"})
		assert.ErrorIs(t, err, ErrAccountInactive)

		assert.ErrorIs(t, l.Deactivate(ctx, "ghost"), ErrAccountNotFound)
	})

	t.Run("account ids are unique", func(t *testing.T) {
		l := factory(t)
		fund(t, l, "acc-6", 0)
		_, err := l.Create(ctx, &model.Account{ID: "acc-6", Role: model.RoleCustomer})
		assert.ErrorIs(t, err, ErrAccountExists)
	})

	t.Run("concurrent debits for the full balance", func(t *testing.T) {
		l := factory(t)
		fund(t, l, "acc-7", 50)

		var wg sync.WaitGroup
		var ok, insufficient atomic.Int32
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := l.Apply(ctx, model.LedgerEntry{
					AccountID:      "acc-7",
					Delta:          -50,
					Reason:         "Redeemed: Free Drink",
					IdempotencyKey: fmt.Sprintf("redeem:acc-7:free_drink:%d", i),
				})
				switch {
				case err == nil:
					ok.Add(1)
				case assert.ErrorIs(t, err, ErrInsufficientBalance):
					insufficient.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(1), insufficient.Load())

		balance, err := l.Balance(ctx, "acc-7")
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})

	t.Run("concurrent duplicates apply once", func(t *testing.T) {
		l := factory(t)
		fund(t, l, "acc-8", 100)

		var wg sync.WaitGroup
		var ok atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Apply(ctx, model.LedgerEntry{AccountID: "acc-8", Delta: -10, Reason: "Redeemed: Tea", IdempotencyKey: "redeem:acc-8:tea"})
				if err == nil {
					ok.Add(1)
					return
				}
				assert.ErrorIs(t, err, ErrDuplicateKey)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), ok.Load())
		balance, err := l.Balance(ctx, "acc-8")
		require.NoError(t, err)
		assert.Equal(t, int64(90), balance)
	})

	t.Run("balance equals sum of deltas", func(t *testing.T) {
		l := factory(t)
		fund(t, l, "acc-9", 0)

		deltas := []int64{40, -10, 10, -40, 100, -5, -200, 15}
		for i, d := range deltas {
			_, err := l.Apply(ctx, model.LedgerEntry{
				AccountID:      "acc-9",
				Delta:          d,
				Reason:         "step",
				IdempotencyKey: fmt.Sprintf("step:%d", i),
			})
			if err != nil {
				require.ErrorIs(t, err, ErrInsufficientBalance)
			}

			balance, err := l.Balance(ctx, "acc-9")
			require.NoError(t, err)
			sum, err := l.SumDeltas(ctx, "acc-9")
			require.NoError(t, err)
			assert.Equal(t, sum, balance)
			assert.GreaterOrEqual(t, balance, int64(0))
		}
	})

	t.Run("history is newest first and paged", func(t *testing.T) {
		l := factory(t)
		fund(t, l, "acc-10", 0)
		for i := 1; i <= 5; i++ {
			_, err := l.Apply(ctx, model.LedgerEntry{
				AccountID:      "acc-10",
				Delta:          int64(i),
				Reason:         fmt.Sprintf("credit %d", i),
				IdempotencyKey: fmt.Sprintf("credit:%d", i),
			})
			require.NoError(t, err)
		}

		page, total, err := l.ListTransactions(ctx, model.TransactionFilter{AccountID: "acc-10", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, page, 2)
		assert.Equal(t, int64(5), page[0].Delta)
		assert.Equal(t, int64(4), page[1].Delta)

		page, _, err = l.ListTransactions(ctx, model.TransactionFilter{AccountID: "acc-10", Limit: 2, Offset: 4})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, int64(1), page[0].Delta)
	})
}
