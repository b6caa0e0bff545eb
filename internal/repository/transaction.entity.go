package repository

import (
	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
)

type TransactionEntity struct {
	pg.Model
	AccountID      string `db:"account_id"      gorm:"column:account_id;not null;index:ix_ledger_transaction_account_created,priority:1;size:64"`
	Delta          int64  `db:"delta"           gorm:"column:delta;not null"`
	Reason         string `db:"reason"          gorm:"column:reason;not null"`
	IdempotencyKey string `db:"idempotency_key" gorm:"column:idempotency_key;not null;uniqueIndex:ux_ledger_transaction_idempotency_key"`
	BalanceAfter   int64  `db:"balance_after"   gorm:"column:balance_after;not null"`
}

func (TransactionEntity) TableName() string {
	return "ledger_transaction"
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:             e.ID,
		AccountID:      e.AccountID,
		Delta:          e.Delta,
		Reason:         e.Reason,
		IdempotencyKey: e.IdempotencyKey,
		BalanceAfter:   e.BalanceAfter,
		CreatedAt:      e.CreatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
