package repository

import (
	"time"

	"github.com/takoyadon/loyalty-ledger/internal/model"
)

type RewardEntity struct {
	ID         string    `db:"id"          gorm:"primaryKey;column:id;size:64"`
	Name       string    `db:"name"        gorm:"column:name;not null"`
	PointsCost int64     `db:"points_cost" gorm:"column:points_cost;not null;check:points_cost > 0"`
	Active     bool      `db:"active"      gorm:"column:active;not null"`
	CreatedAt  time.Time `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

func (RewardEntity) TableName() string {
	return "reward"
}

func toRewardModel(e *RewardEntity) *model.Reward {
	if e == nil {
		return nil
	}
	return &model.Reward{
		ID:         e.ID,
		Name:       e.Name,
		PointsCost: e.PointsCost,
		Active:     e.Active,
		CreatedAt:  e.CreatedAt,
	}
}
