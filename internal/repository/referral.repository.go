package repository

import (
	"context"
	"errors"
	"time"

	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrReferralNotFound = errors.New("referral not found")

type ReferralRepository struct {
	*pg.DB
}

func NewReferralRepository(db *pg.DB) *ReferralRepository {
	return &ReferralRepository{
		db,
	}
}

// MarkCompleted records the referral pair as completed, creating it when the
// signup flow never stored a pending row.
func (r *ReferralRepository) MarkCompleted(ctx context.Context, referrerID, identity string, at time.Time) error {
	entity := &ReferralEntity{
		ReferrerID:       referrerID,
		ReferredIdentity: identity,
		Status:           string(model.ReferralStatusCompleted),
		CompletedAt:      &at,
	}
	return r.Write(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "referrer_id"}, {Name: "referred_identity"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "completed_at"}),
		}).
		Create(entity).
		Error
}

func (r *ReferralRepository) Get(ctx context.Context, referrerID, identity string) (*model.Referral, error) {
	var entity ReferralEntity
	err := r.Read(ctx).
		Where("referrer_id = ? AND referred_identity = ?", referrerID, identity).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReferralNotFound
		}
		return nil, err
	}
	return toReferralModel(&entity), nil
}
