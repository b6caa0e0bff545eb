package repository

import (
	"context"
	"errors"

	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
	"gorm.io/gorm"
)

type AccountRepository struct {
	*pg.DB
}

func NewAccountRepository(db *pg.DB) *AccountRepository {
	return &AccountRepository{
		db,
	}
}

// Create registers an account with a zero balance. Balance changes only go
// through the ledger.
func (r *AccountRepository) Create(ctx context.Context, acc *model.Account) (*model.Account, error) {
	entity := toAccountEntity(acc)
	entity.Balance = 0
	entity.Active = true

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrAccountExists
		}
		return nil, err
	}
	return toAccountModel(entity), nil
}

func (r *AccountRepository) Get(ctx context.Context, id string) (*model.Account, error) {
	var entity AccountEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return toAccountModel(&entity), nil
}

func (r *AccountRepository) Deactivate(ctx context.Context, id string) error {
	result := r.Write(ctx).
		Model(&AccountEntity{}).
		Where("id = ?", id).
		Update("active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
