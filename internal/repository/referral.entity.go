package repository

import (
	"time"

	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
)

type ReferralEntity struct {
	pg.Model
	ReferrerID       string     `db:"referrer_id"       gorm:"column:referrer_id;not null;size:64;uniqueIndex:ux_referral_pair,priority:1"`
	ReferredIdentity string     `db:"referred_identity" gorm:"column:referred_identity;not null;uniqueIndex:ux_referral_pair,priority:2"`
	Status           string     `db:"status"            gorm:"column:status;not null"`
	CompletedAt      *time.Time `db:"completed_at"      gorm:"column:completed_at"`
}

func (ReferralEntity) TableName() string {
	return "referral"
}

func toReferralModel(e *ReferralEntity) *model.Referral {
	if e == nil {
		return nil
	}
	return &model.Referral{
		ID:               e.ID,
		ReferrerID:       e.ReferrerID,
		ReferredIdentity: e.ReferredIdentity,
		Status:           model.ReferralStatus(e.Status),
		CompletedAt:      e.CompletedAt,
		CreatedAt:        e.CreatedAt,
	}
}
