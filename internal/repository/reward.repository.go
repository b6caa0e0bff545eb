package repository

import (
	"context"
	"errors"

	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RewardRepository struct {
	*pg.DB
}

func NewRewardRepository(db *pg.DB) *RewardRepository {
	return &RewardRepository{
		db,
	}
}

// Get returns an active reward. Inactive rewards are reported as not found.
func (r *RewardRepository) Get(ctx context.Context, id string) (*model.Reward, error) {
	var entity RewardEntity
	err := r.Read(ctx).Where("id = ? AND active = ?", id, true).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRewardNotFound
		}
		return nil, err
	}
	return toRewardModel(&entity), nil
}

func (r *RewardRepository) List(ctx context.Context) ([]*model.Reward, error) {
	var entities []*RewardEntity
	if err := r.Read(ctx).Where("active = ?", true).Order("points_cost ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Reward, len(entities))
	for i, e := range entities {
		out[i] = toRewardModel(e)
	}
	return out, nil
}

// Upsert inserts or updates a catalog entry by id.
func (r *RewardRepository) Upsert(ctx context.Context, reward *model.Reward) error {
	entity := &RewardEntity{
		ID:         reward.ID,
		Name:       reward.Name,
		PointsCost: reward.PointsCost,
		Active:     reward.Active,
	}
	return r.Write(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "points_cost", "active"}),
		}).
		Create(entity).
		Error
}
