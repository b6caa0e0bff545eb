package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 2 * time.Millisecond}
}

// LedgerRepository owns account balances and the append-only transaction log.
type LedgerRepository struct {
	*pg.DB
	retry RetryPolicy
}

func NewLedgerRepository(db *pg.DB, retry RetryPolicy) *LedgerRepository {
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	return &LedgerRepository{DB: db, retry: retry}
}

// Apply appends entry and moves the balance in one transaction. Transient
// failures are retried with exponential backoff.
func (r *LedgerRepository) Apply(ctx context.Context, entry model.LedgerEntry) (*model.Transaction, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retry.MaxRetries; attempt++ {
		txn, err := r.applyAttempt(ctx, entry)
		if err == nil {
			return txn, nil
		}
		if isPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err

		if attempt < r.retry.MaxRetries {
			delay := r.retry.BaseDelay * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, fmt.Errorf("%w: failed after %d attempts: %v", ErrMaxRetriesExceeded, r.retry.MaxRetries+1, lastErr)
}

func (r *LedgerRepository) applyAttempt(ctx context.Context, entry model.LedgerEntry) (*model.Transaction, error) {
	var txn *model.Transaction

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		var account AccountEntity
		err := r.Write(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", entry.AccountID).
			First(&account).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		if !account.Active {
			return ErrAccountInactive
		}

		newBalance := account.Balance + entry.Delta
		entity := &TransactionEntity{
			Model:          pg.Model{CreatedAt: time.Now().UTC()},
			AccountID:      entry.AccountID,
			Delta:          entry.Delta,
			Reason:         entry.Reason,
			IdempotencyKey: entry.IdempotencyKey,
			BalanceAfter:   newBalance,
		}
		if err := r.Write(ctx).Create(entity).Error; err != nil {
			if isDuplicate(err) {
				return ErrDuplicateKey
			}
			return err
		}

		if newBalance < 0 {
			return ErrInsufficientBalance
		}

		result := r.Write(ctx).
			Model(&AccountEntity{}).
			Where("id = ?", entry.AccountID).
			Update("balance", gorm.Expr("balance + ?", entry.Delta))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAccountNotFound
		}

		txn = toTransactionModel(entity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *LedgerRepository) FindByKey(ctx context.Context, key string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).Where("idempotency_key = ?", key).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

func (r *LedgerRepository) Balance(ctx context.Context, accountID string) (int64, error) {
	var entity AccountEntity
	err := r.Read(ctx).
		Select("balance").
		Where("id = ?", accountID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return entity.Balance, nil
}

// ListTransactions returns the newest entries first together with the total count.
func (r *LedgerRepository) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	f.Normalize()
	q := r.Read(ctx).Model(&TransactionEntity{}).Where("account_id = ?", f.AccountID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entities []*TransactionEntity
	if err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}
	return toTransactionModels(entities), total, nil
}

// SumDeltas recomputes the balance from the log.
func (r *LedgerRepository) SumDeltas(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := r.Read(ctx).
		Model(&TransactionEntity{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&sum).
		Error
	return sum, err
}
