package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/takoyadon/loyalty-ledger/internal/ledger"
	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/takoyadon/loyalty-ledger/pkg/prom"
)

const DefaultReferralPoints = 100

type Executor interface {
	Execute(ctx context.Context, entry model.LedgerEntry) (*model.LedgerResult, error)
	Lookup(ctx context.Context, key string) (*model.LedgerResult, bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, job model.NotificationJob)
}

type AccountReader interface {
	Get(ctx context.Context, id string) (*model.Account, error)
}

type LedgerReader interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
}

type RewardRepository interface {
	Get(ctx context.Context, id string) (*model.Reward, error)
	List(ctx context.Context) ([]*model.Reward, error)
}

type ActivityRepository interface {
	Create(ctx context.Context, a *model.Activity) (*model.Activity, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Activity, error)
	SetStatus(ctx context.Context, id uuid.UUID, from, to model.ActivityStatus, reviewer string) error
	ListPending(ctx context.Context, limit int) ([]*model.Activity, error)
}

type ActivityRuleRepository interface {
	PointsFor(ctx context.Context, activityType string) (int64, error)
}

type ReferralRepository interface {
	MarkCompleted(ctx context.Context, referrerID, identity string, at time.Time) error
}

type NotificationRepository interface {
	List(ctx context.Context, accountID string, limit int) ([]*model.Notification, error)
	UnreadCount(ctx context.Context, accountID string) (int64, error)
	MarkRead(ctx context.Context, accountID string, ids []uuid.UUID) (int64, error)
}

type LoyaltyDeps struct {
	Executor      Executor
	Notifier      Notifier
	Accounts      AccountReader
	Ledger        LedgerReader
	Rewards       RewardRepository
	Activities    ActivityRepository
	Rules         ActivityRuleRepository
	Referrals     ReferralRepository
	Notifications NotificationRepository
}

// LoyaltyService turns business events into ledger entries. Capability checks
// are done by the caller.
type LoyaltyService struct {
	deps           LoyaltyDeps
	referralPoints int64
}

func NewLoyaltyService(deps LoyaltyDeps, referralPoints int64) *LoyaltyService {
	if referralPoints <= 0 {
		referralPoints = DefaultReferralPoints
	}
	return &LoyaltyService{deps: deps, referralPoints: referralPoints}
}

func (s *LoyaltyService) Redeem(ctx context.Context, req model.RedeemRequest) (*model.LedgerResult, error) {
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.RewardID = strings.TrimSpace(req.RewardID)
	if req.AccountID == "" || req.RewardID == "" {
		return nil, invalid(errors.New("account_id and reward_id are required"))
	}

	reward, err := s.deps.Rewards.Get(ctx, req.RewardID)
	if err != nil {
		// a retry still replays after the reward left the catalog
		if res, ok, lookupErr := s.deps.Executor.Lookup(ctx, ledger.RedeemKey(req.AccountID, req.RewardID, req.RequestID)); lookupErr == nil && ok {
			return res, nil
		}
		return nil, storeErr(err)
	}

	res, err := s.deps.Executor.Execute(ctx, model.LedgerEntry{
		AccountID:      req.AccountID,
		Delta:          -reward.PointsCost,
		Reason:         "Redeemed: " + reward.Name,
		IdempotencyKey: ledger.RedeemKey(req.AccountID, reward.ID, req.RequestID),
	})
	if err != nil {
		return nil, err
	}

	if !res.Replayed {
		s.notify(ctx, res.Transaction, fmt.Sprintf("You successfully redeemed \"%s\" for %d points!", reward.Name, reward.PointsCost))
	}
	return res, nil
}

// ApproveActivity credits the submission and then marks it approved. The status
// write is a separate unit of work: when it fails the points stand and the
// failure is alerted on.
func (s *LoyaltyService) ApproveActivity(ctx context.Context, activityID uuid.UUID, reviewer string) (*model.ActivityReview, error) {
	activity, err := s.deps.Activities.Get(ctx, activityID)
	if err != nil {
		return nil, storeErr(err)
	}
	if activity.Status == model.ActivityStatusRejected {
		return nil, ErrActivityNotPending
	}

	points, err := s.deps.Rules.PointsFor(ctx, activity.Type)
	if err != nil {
		return nil, storeErr(err)
	}

	res, err := s.deps.Executor.Execute(ctx, model.LedgerEntry{
		AccountID:      activity.AccountID,
		Delta:          points,
		Reason:         "Approved: " + activity.Description,
		IdempotencyKey: ledger.ActivityKey(activity.ID),
	})
	if err != nil {
		return nil, err
	}

	// also repairs a status write that failed on an earlier attempt
	if activity.Status == model.ActivityStatusPending {
		s.markApproved(ctx, activity, reviewer)
	}

	if !res.Replayed {
		s.notify(ctx, res.Transaction, fmt.Sprintf("Your submission \"%s\" was approved, earning you %d points!", activity.Description, points))
	}
	return &model.ActivityReview{Activity: activity, Points: points, Result: *res}, nil
}

func (s *LoyaltyService) markApproved(ctx context.Context, activity *model.Activity, reviewer string) {
	err := s.deps.Activities.SetStatus(ctx, activity.ID, model.ActivityStatusPending, model.ActivityStatusApproved, reviewer)
	switch {
	case err == nil:
		activity.Status = model.ActivityStatusApproved
		activity.ReviewedBy = reviewer
	case errors.Is(storeErr(err), ErrActivityNotPending):
		current, getErr := s.deps.Activities.Get(ctx, activity.ID)
		if getErr == nil && current.Status == model.ActivityStatusApproved {
			// a concurrent approval already repaired it
			*activity = *current
			return
		}
		prom.IncSecondaryWriteFailure("activity_status")
		logger.Error("[loyalty] points credited but activity was rejected concurrently",
			"activity_id", activity.ID,
			"account_id", activity.AccountID,
			"reviewer", reviewer)
	default:
		prom.IncSecondaryWriteFailure("activity_status")
		logger.Error("[loyalty] points credited but activity status not updated",
			"activity_id", activity.ID,
			"account_id", activity.AccountID,
			"reviewer", reviewer,
			"error", err)
	}
}

// RejectActivity refuses an activity whose points are already in the ledger and
// repairs its status to approved instead.
func (s *LoyaltyService) RejectActivity(ctx context.Context, activityID uuid.UUID, reviewer string) (*model.Activity, error) {
	_, credited, err := s.deps.Executor.Lookup(ctx, ledger.ActivityKey(activityID))
	if err != nil {
		return nil, err
	}
	if credited {
		activity, err := s.deps.Activities.Get(ctx, activityID)
		if err != nil {
			return nil, storeErr(err)
		}
		if activity.Status == model.ActivityStatusPending {
			logger.Warn("[loyalty] reject of credited activity, repairing status", "activity_id", activityID, "reviewer", reviewer)
			s.markApproved(ctx, activity, reviewer)
		}
		return nil, ErrActivityNotPending
	}

	if err := s.deps.Activities.SetStatus(ctx, activityID, model.ActivityStatusPending, model.ActivityStatusRejected, reviewer); err != nil {
		return nil, storeErr(err)
	}
	activity, err := s.deps.Activities.Get(ctx, activityID)
	if err != nil {
		return nil, storeErr(err)
	}
	return activity, nil
}

func (s *LoyaltyService) SubmitActivity(ctx context.Context, req model.ActivitySubmitRequest) (*model.Activity, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	if _, err := s.deps.Rules.PointsFor(ctx, req.Type); err != nil {
		return nil, storeErr(err)
	}

	created, err := s.deps.Activities.Create(ctx, &model.Activity{
		AccountID:   req.AccountID,
		Type:        req.Type,
		Description: req.Description,
		Status:      model.ActivityStatusPending,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return created, nil
}

// CompleteReferral credits the referrer once per referred identity.
func (s *LoyaltyService) CompleteReferral(ctx context.Context, req model.ReferralCompleteRequest) (*model.LedgerResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}

	res, err := s.deps.Executor.Execute(ctx, model.LedgerEntry{
		AccountID:      req.ReferrerID,
		Delta:          s.referralPoints,
		Reason:         "Referral: " + req.ReferredIdentity,
		IdempotencyKey: ledger.ReferralKey(req.ReferrerID, req.ReferredIdentity),
	})
	if err != nil {
		return nil, err
	}

	if err := s.deps.Referrals.MarkCompleted(ctx, req.ReferrerID, req.ReferredIdentity, res.Transaction.CreatedAt); err != nil {
		prom.IncSecondaryWriteFailure("referral_status")
		logger.Error("[loyalty] referral credited but not marked completed",
			"referrer_id", req.ReferrerID,
			"referred_identity", req.ReferredIdentity,
			"error", err)
	}

	if !res.Replayed {
		s.notify(ctx, res.Transaction, fmt.Sprintf("Your friend %s joined Takoyadon, earning you %d points!", req.ReferredIdentity, s.referralPoints))
	}
	return res, nil
}

// notify runs after commit. Nothing it does can change the result.
func (s *LoyaltyService) notify(ctx context.Context, txn *model.Transaction, message string) {
	if s.deps.Notifier == nil || txn == nil {
		return
	}
	job := model.NotificationJob{
		AccountID:     txn.AccountID,
		TransactionID: txn.ID,
		Message:       message,
		CreatedAt:     time.Now().UTC(),
	}
	if s.deps.Accounts != nil {
		if acc, err := s.deps.Accounts.Get(ctx, txn.AccountID); err == nil {
			job.Email = acc.Email
		} else {
			logger.Warn("[loyalty] account lookup for notification failed", "account_id", txn.AccountID, "error", err)
		}
	}
	s.deps.Notifier.Notify(ctx, job)
}

func (s *LoyaltyService) Balance(ctx context.Context, accountID string) (int64, error) {
	balance, err := s.deps.Ledger.Balance(ctx, accountID)
	if err != nil {
		return 0, storeErr(err)
	}
	return balance, nil
}

func (s *LoyaltyService) History(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	if _, err := s.deps.Ledger.Balance(ctx, f.AccountID); err != nil {
		return nil, 0, storeErr(err)
	}
	items, total, err := s.deps.Ledger.ListTransactions(ctx, f)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	return items, total, nil
}

func (s *LoyaltyService) Rewards(ctx context.Context) ([]*model.Reward, error) {
	items, err := s.deps.Rewards.List(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return items, nil
}

func (s *LoyaltyService) PendingActivities(ctx context.Context, limit int) ([]*model.Activity, error) {
	items, err := s.deps.Activities.ListPending(ctx, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return items, nil
}

func (s *LoyaltyService) Notifications(ctx context.Context, accountID string, limit int) ([]*model.Notification, int64, error) {
	items, err := s.deps.Notifications.List(ctx, accountID, limit)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	unread, err := s.deps.Notifications.UnreadCount(ctx, accountID)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	return items, unread, nil
}

func (s *LoyaltyService) MarkNotificationsRead(ctx context.Context, accountID string, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, invalid(errors.New("ids are required"))
	}
	n, err := s.deps.Notifications.MarkRead(ctx, accountID, ids)
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}
