package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
)

const defaultInboxSize = 20

type NotificationRepository struct {
	*pg.DB
}

func NewNotificationRepository(db *pg.DB) *NotificationRepository {
	return &NotificationRepository{
		db,
	}
}

// Create stores n. A second notification for the same transaction returns
// ErrDuplicateNotice.
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	entity := toNotificationEntity(n)
	entity.IsRead = false

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicateNotice
		}
		return nil, err
	}
	return toNotificationModel(entity), nil
}

func (r *NotificationRepository) List(ctx context.Context, accountID string, limit int) ([]*model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultInboxSize
	}

	var entities []*NotificationEntity
	err := r.Read(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toNotificationModels(entities), nil
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, accountID string) (int64, error) {
	var n int64
	err := r.Read(ctx).
		Model(&NotificationEntity{}).
		Where("account_id = ? AND is_read = ?", accountID, false).
		Count(&n).
		Error
	return n, err
}

// MarkRead flips the given notifications to read. Ids owned by another account
// are ignored.
func (r *NotificationRepository) MarkRead(ctx context.Context, accountID string, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.Write(ctx).
		Model(&NotificationEntity{}).
		Where("account_id = ? AND id IN ?", accountID, ids).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}
