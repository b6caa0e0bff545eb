package repository

import (
	"time"

	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
)

type ActivityEntity struct {
	pg.Model
	AccountID   string    `db:"account_id"  gorm:"column:account_id;not null;index;size:64"`
	Type        string    `db:"type"        gorm:"column:type;not null"`
	Description string    `db:"description" gorm:"column:description;not null"`
	Status      string    `db:"status"      gorm:"column:status;not null;index"`
	ReviewedBy  string    `db:"reviewed_by" gorm:"column:reviewed_by;not null"`
	UpdatedAt   time.Time `db:"updated_at"  gorm:"column:updated_at;autoUpdateTime"`
}

func (ActivityEntity) TableName() string {
	return "activity"
}

func toActivityModel(e *ActivityEntity) *model.Activity {
	if e == nil {
		return nil
	}
	return &model.Activity{
		ID:          e.ID,
		AccountID:   e.AccountID,
		Type:        e.Type,
		Description: e.Description,
		Status:      model.ActivityStatus(e.Status),
		ReviewedBy:  e.ReviewedBy,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

type ActivityRuleEntity struct {
	ActivityType string `db:"activity_type" gorm:"primaryKey;column:activity_type"`
	PointsValue  int64  `db:"points_value"  gorm:"column:points_value;not null;check:points_value > 0"`
}

func (ActivityRuleEntity) TableName() string {
	return "activity_rule"
}
