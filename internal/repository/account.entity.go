package repository

import (
	"time"

	"github.com/takoyadon/loyalty-ledger/internal/model"
)

type AccountEntity struct {
	ID        string    `db:"id"         gorm:"primaryKey;column:id;size:64"`
	Email     string    `db:"email"      gorm:"column:email;not null;default:''"`
	Role      string    `db:"role"       gorm:"column:role;not null;default:customer"`
	Balance   int64     `db:"balance"    gorm:"column:balance;not null;default:0;check:balance >= 0"`
	Active    bool      `db:"active"     gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (AccountEntity) TableName() string {
	return "account"
}

func toAccountEntity(m *model.Account) *AccountEntity {
	if m == nil {
		return nil
	}
	return &AccountEntity{
		ID:        m.ID,
		Email:     m.Email,
		Role:      string(m.Role),
		Balance:   m.Balance,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
	}
}

func toAccountModel(e *AccountEntity) *model.Account {
	if e == nil {
		return nil
	}
	return &model.Account{
		ID:        e.ID,
		Email:     e.Email,
		Role:      model.Role(e.Role),
		Balance:   e.Balance,
		Active:    e.Active,
		CreatedAt: e.CreatedAt,
	}
}
