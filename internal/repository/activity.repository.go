package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ActivityRepository struct {
	*pg.DB
}

func NewActivityRepository(db *pg.DB) *ActivityRepository {
	return &ActivityRepository{
		db,
	}
}

func (r *ActivityRepository) Create(ctx context.Context, a *model.Activity) (*model.Activity, error) {
	entity := &ActivityEntity{
		AccountID:   a.AccountID,
		Type:        a.Type,
		Description: a.Description,
		Status:      string(model.ActivityStatusPending),
	}
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toActivityModel(entity), nil
}

func (r *ActivityRepository) Get(ctx context.Context, id uuid.UUID) (*model.Activity, error) {
	var entity ActivityEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActivityNotFound
		}
		return nil, err
	}
	return toActivityModel(&entity), nil
}

// SetStatus moves an activity from one status to another. It fails with
// ErrActivityNotPending when the row is not in the expected status.
func (r *ActivityRepository) SetStatus(ctx context.Context, id uuid.UUID, from, to model.ActivityStatus, reviewer string) error {
	result := r.Write(ctx).
		Model(&ActivityEntity{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]interface{}{
			"status":      string(to),
			"reviewed_by": reviewer,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrActivityNotPending
	}
	return nil
}

func (r *ActivityRepository) ListPending(ctx context.Context, limit int) ([]*model.Activity, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entities []*ActivityEntity
	err := r.Read(ctx).
		Where("status = ?", string(model.ActivityStatusPending)).
		Order("created_at ASC").
		Limit(limit).
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.Activity, len(entities))
	for i, e := range entities {
		out[i] = toActivityModel(e)
	}
	return out, nil
}

type ActivityRuleRepository struct {
	*pg.DB
}

func NewActivityRuleRepository(db *pg.DB) *ActivityRuleRepository {
	return &ActivityRuleRepository{
		db,
	}
}

// PointsFor returns the award for an activity type or ErrUnknownActivityType.
func (r *ActivityRuleRepository) PointsFor(ctx context.Context, activityType string) (int64, error) {
	var entity ActivityRuleEntity
	err := r.Read(ctx).Where("activity_type = ?", activityType).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUnknownActivityType
		}
		return 0, err
	}
	return entity.PointsValue, nil
}

func (r *ActivityRuleRepository) Upsert(ctx context.Context, rule model.ActivityRule) error {
	return r.Write(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "activity_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"points_value"}),
		}).
		Create(&ActivityRuleEntity{ActivityType: rule.ActivityType, PointsValue: rule.PointsValue}).
		Error
}
