package repository

import (
	"github.com/google/uuid"
	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
)

type NotificationEntity struct {
	pg.Model
	AccountID     string     `db:"account_id"     gorm:"column:account_id;not null;index;size:64"`
	TransactionID *uuid.UUID `db:"transaction_id" gorm:"column:transaction_id;type:uuid;uniqueIndex:ux_notification_transaction"`
	Message       string     `db:"message"        gorm:"column:message;not null"`
	IsRead        bool       `db:"is_read"        gorm:"column:is_read;not null"`
}

func (NotificationEntity) TableName() string {
	return "notification"
}

func toNotificationEntity(m *model.Notification) *NotificationEntity {
	if m == nil {
		return nil
	}
	return &NotificationEntity{
		Model:         pg.Model{ID: m.ID, CreatedAt: m.CreatedAt},
		AccountID:     m.AccountID,
		TransactionID: m.TransactionID,
		Message:       m.Message,
		IsRead:        m.IsRead,
	}
}

func toNotificationModel(e *NotificationEntity) *model.Notification {
	if e == nil {
		return nil
	}
	return &model.Notification{
		ID:            e.ID,
		AccountID:     e.AccountID,
		TransactionID: e.TransactionID,
		Message:       e.Message,
		IsRead:        e.IsRead,
		CreatedAt:     e.CreatedAt,
	}
}

func toNotificationModels(entities []*NotificationEntity) []*model.Notification {
	if entities == nil {
		return nil
	}
	models := make([]*model.Notification, len(entities))
	for i, e := range entities {
		models[i] = toNotificationModel(e)
	}
	return models
}
