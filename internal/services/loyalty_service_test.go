package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/takoyadon/loyalty-ledger/internal/ledger"
	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/internal/notifier"
	"github.com/takoyadon/loyalty-ledger/internal/repository"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"go.uber.org/zap/zapcore"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, job model.NotificationJob) {
	m.Called(ctx, job)
}

type panicSink struct{}

func (panicSink) Name() string { return "panic" }

func (panicSink) Deliver(context.Context, model.NotificationJob) error { panic("sink exploded") }

type failingSink struct{}

func (failingSink) Name() string { return "failing" }

func (failingSink) Deliver(context.Context, model.NotificationJob) error {
	return errors.New("smtp unavailable")
}

// failingStatusWrites lets reads through and fails every status change.
type failingStatusWrites struct {
	ActivityRepository
}

func (f failingStatusWrites) SetStatus(context.Context, uuid.UUID, model.ActivityStatus, model.ActivityStatus, string) error {
	return errors.New("connection reset by peer")
}

type failingReferrals struct{}

func (failingReferrals) MarkCompleted(context.Context, string, string, time.Time) error {
	return errors.New("connection reset by peer")
}

type fixture struct {
	svc        *LoyaltyService
	accounts   *AccountService
	ledgerRepo *repository.LedgerRepository
	activities *repository.ActivityRepository
	referrals  *repository.ReferralRepository
	notifier   *MockNotifier
	deps       LoyaltyDeps
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.OpenSQLite()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	rewards := repository.NewRewardRepository(db)
	require.NoError(t, rewards.Upsert(ctx, &model.Reward{ID: "free_drink", Name: "Free Drink", PointsCost: 50, Active: true}))
	require.NoError(t, rewards.Upsert(ctx, &model.Reward{ID: "takoyaki_set", Name: "Takoyaki Set", PointsCost: 60, Active: true}))
	require.NoError(t, rewards.Upsert(ctx, &model.Reward{ID: "retired", Name: "Retired", PointsCost: 10, Active: false}))

	rules := repository.NewActivityRuleRepository(db)
	require.NoError(t, rules.Upsert(ctx, model.ActivityRule{ActivityType: "social_share", PointsValue: 40}))
	require.NoError(t, rules.Upsert(ctx, model.ActivityRule{ActivityType: "feedback_submission", PointsValue: 10}))

	accountRepo := repository.NewAccountRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db, repository.DefaultRetryPolicy())
	executor := ledger.NewExecutor(ledgerRepo, ledger.NewGuard(ledgerRepo, nil, time.Hour))

	mn := new(MockNotifier)
	mn.On("Notify", mock.Anything, mock.Anything).Maybe()

	f := &fixture{
		accounts:   NewAccountService(accountRepo),
		ledgerRepo: ledgerRepo,
		activities: repository.NewActivityRepository(db),
		referrals:  repository.NewReferralRepository(db),
		notifier:   mn,
	}
	f.deps = LoyaltyDeps{
		Executor:      executor,
		Notifier:      mn,
		Accounts:      accountRepo,
		Ledger:        ledgerRepo,
		Rewards:       rewards,
		Activities:    f.activities,
		Rules:         rules,
		Referrals:     f.referrals,
		Notifications: repository.NewNotificationRepository(db),
	}
	f.svc = NewLoyaltyService(f.deps, 100)
	return f
}

func (f *fixture) register(t *testing.T, id string, balance int64) {
	t.Helper()
	_, err := f.accounts.Register(context.Background(), model.AccountCreateRequest{ID: id, Email: id + "@example.com"})
	require.NoError(t, err)
	if balance > 0 {
		_, err = f.deps.Executor.Execute(context.Background(), model.LedgerEntry{
			AccountID: id, Delta: balance, Reason: "Opening balance", IdempotencyKey: "seed:" + id,
		})
		require.NoError(t, err)
	}
}

func (f *fixture) jobs() []model.NotificationJob {
	var out []model.NotificationJob
	for _, c := range f.notifier.Calls {
		out = append(out, c.Arguments.Get(1).(model.NotificationJob))
	}
	return out
}

func TestRedeem_Scenario(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 100)

	res, err := f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "free_drink"})
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.NewBalance)
	assert.False(t, res.Replayed)
	assert.Equal(t, "Redeemed: Free Drink", res.Transaction.Reason)
	assert.Equal(t, int64(-50), res.Transaction.Delta)

	again, err := f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "free_drink"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.Transaction.ID, again.Transaction.ID)
	assert.Equal(t, int64(50), again.NewBalance)

	_, err = f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "takoyaki_set"})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.True(t, IsRejection(err))
	assert.Equal(t, "insufficient_balance", ErrorCode(err))

	balance, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	sum, err := f.ledgerRepo.SumDeltas(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, balance, sum)

	jobs := f.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, `You successfully redeemed "Free Drink" for 50 points!`, jobs[0].Message)
	assert.Equal(t, "u1@example.com", jobs[0].Email)
	assert.Equal(t, res.Transaction.ID, jobs[0].TransactionID)
}

func TestRedeem_RequestIDAllowsRepeatPurchase(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 100)

	_, err := f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "free_drink", RequestID: "order-1"})
	require.NoError(t, err)
	res, err := f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "free_drink", RequestID: "order-2"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(0), res.NewBalance)
}

func TestRedeem_Rejections(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 100)

	_, err := f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "unknown"})
	assert.ErrorIs(t, err, ErrRewardNotFound)

	_, err = f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "retired"})
	assert.ErrorIs(t, err, ErrRewardNotFound)

	_, err = f.svc.Redeem(ctx, model.RedeemRequest{AccountID: " ", RewardID: "free_drink"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "ghost", RewardID: "free_drink"})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = f.accounts.Deactivate(ctx, "u1")
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "free_drink"})
	assert.ErrorIs(t, err, ledger.ErrAccountInactive)

	assert.Empty(t, f.jobs())
}

func TestRedeem_ReplaysAfterRewardRetired(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 100)

	res, err := f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "free_drink", RequestID: "order-7"})
	require.NoError(t, err)

	rewards := f.deps.Rewards.(*repository.RewardRepository)
	require.NoError(t, rewards.Upsert(ctx, &model.Reward{ID: "free_drink", Name: "Free Drink", PointsCost: 50, Active: false}))

	again, err := f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "free_drink", RequestID: "order-7"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.Transaction.ID, again.Transaction.ID)
	assert.Equal(t, int64(50), again.NewBalance)

	_, err = f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "free_drink", RequestID: "order-8"})
	assert.ErrorIs(t, err, ErrRewardNotFound)
	assert.Len(t, f.jobs(), 1)
}

func TestRedeem_ConcurrentDebitsExactlyOneWins(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 50)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "free_drink", RequestID: uuid.NewString()})
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrInsufficientBalance):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	balance, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestRedeem_NotifierFailureDoesNotAffectResult(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 100)

	deps := f.deps
	deps.Notifier = notifier.NewDispatcher(panicSink{}, failingSink{})
	deps.Accounts = nil
	svc := NewLoyaltyService(deps, 0)

	res, err := svc.Redeem(ctx, model.RedeemRequest{AccountID: "u1", RewardID: "free_drink"})
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.NewBalance)
}

func TestApproveActivity(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 0)

	act, err := f.svc.SubmitActivity(ctx, model.ActivitySubmitRequest{AccountID: "u1", Type: " Social_Share ", Description: "Posted on IG"})
	require.NoError(t, err)
	assert.Equal(t, model.ActivityStatusPending, act.Status)

	pending, err := f.svc.PendingActivities(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	review, err := f.svc.ApproveActivity(ctx, act.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), review.Points)
	assert.Equal(t, int64(40), review.Result.NewBalance)
	assert.Equal(t, "Approved: Posted on IG", review.Result.Transaction.Reason)
	assert.Equal(t, model.ActivityStatusApproved, review.Activity.Status)

	stored, err := f.activities.Get(ctx, act.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivityStatusApproved, stored.Status)
	assert.Equal(t, "staff-1", stored.ReviewedBy)

	again, err := f.svc.ApproveActivity(ctx, act.ID, "staff-2")
	require.NoError(t, err)
	assert.True(t, again.Result.Replayed)
	assert.Equal(t, int64(40), again.Result.NewBalance)

	jobs := f.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, `Your submission "Posted on IG" was approved, earning you 40 points!`, jobs[0].Message)
}

func TestApproveActivity_UnknownTypeCreatesNoTransaction(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 0)

	// bypass submission validation, as a row written before a rule was removed would
	act, err := f.activities.Create(ctx, &model.Activity{AccountID: "u1", Type: "dance_video", Description: "x", Status: model.ActivityStatusPending})
	require.NoError(t, err)

	_, err = f.svc.ApproveActivity(ctx, act.ID, "staff-1")
	assert.ErrorIs(t, err, ErrInvalidActivityType)
	assert.Equal(t, "invalid_activity_type", ErrorCode(err))

	items, total, err := f.svc.History(ctx, model.TransactionFilter{AccountID: "u1"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)

	_, err = f.svc.SubmitActivity(ctx, model.ActivitySubmitRequest{AccountID: "u1", Type: "dance_video", Description: "x"})
	assert.ErrorIs(t, err, ErrInvalidActivityType)
}

func TestApproveActivity_StatusWriteFailureKeepsPoints(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 0)

	act, err := f.svc.SubmitActivity(ctx, model.ActivitySubmitRequest{AccountID: "u1", Type: "feedback_submission", Description: "Great sauce"})
	require.NoError(t, err)

	deps := f.deps
	deps.Activities = failingStatusWrites{ActivityRepository: f.activities}
	svc := NewLoyaltyService(deps, 100)

	_, logs := logger.NewObserved(zapcore.ErrorLevel)
	defer logger.NewNop()

	review, err := svc.ApproveActivity(ctx, act.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), review.Result.NewBalance)
	assert.Equal(t, model.ActivityStatusPending, review.Activity.Status)

	alerts := logs.FilterMessage("[loyalty] points credited but activity status not updated").All()
	require.Len(t, alerts, 1)
	assert.Equal(t, "u1", alerts[0].ContextMap()["account_id"])

	// a later approval through a healthy store repairs the status without a second credit
	repaired, err := f.svc.ApproveActivity(ctx, act.ID, "staff-1")
	require.NoError(t, err)
	assert.True(t, repaired.Result.Replayed)
	assert.Equal(t, model.ActivityStatusApproved, repaired.Activity.Status)

	balance, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestRejectActivity(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 0)

	act, err := f.svc.SubmitActivity(ctx, model.ActivitySubmitRequest{AccountID: "u1", Type: "social_share", Description: "Story"})
	require.NoError(t, err)

	rejected, err := f.svc.RejectActivity(ctx, act.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActivityStatusRejected, rejected.Status)

	_, err = f.svc.RejectActivity(ctx, act.ID, "staff-1")
	assert.ErrorIs(t, err, ErrActivityNotPending)

	_, err = f.svc.ApproveActivity(ctx, act.ID, "staff-1")
	assert.ErrorIs(t, err, ErrActivityNotPending)

	_, err = f.svc.ApproveActivity(ctx, uuid.New(), "staff-1")
	assert.ErrorIs(t, err, ErrActivityNotFound)
	assert.Equal(t, "activity_not_found", ErrorCode(err))
}

func TestRejectActivity_AfterCreditRepairsStatus(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 0)

	act, err := f.svc.SubmitActivity(ctx, model.ActivitySubmitRequest{AccountID: "u1", Type: "feedback_submission", Description: "Great sauce"})
	require.NoError(t, err)

	deps := f.deps
	deps.Activities = failingStatusWrites{ActivityRepository: f.activities}
	broken := NewLoyaltyService(deps, 100)

	_, logs := logger.NewObserved(zapcore.ErrorLevel)
	defer logger.NewNop()

	_, err = broken.ApproveActivity(ctx, act.ID, "staff-1")
	require.NoError(t, err)

	// the status store is still failing: the reject is refused and the repair alerted
	_, err = broken.RejectActivity(ctx, act.ID, "staff-2")
	assert.ErrorIs(t, err, ErrActivityNotPending)
	assert.Equal(t, 2, logs.FilterMessage("[loyalty] points credited but activity status not updated").Len())

	_, err = f.svc.RejectActivity(ctx, act.ID, "staff-2")
	assert.ErrorIs(t, err, ErrActivityNotPending)

	stored, err := f.activities.Get(ctx, act.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivityStatusApproved, stored.Status)

	review, err := f.svc.ApproveActivity(ctx, act.ID, "staff-1")
	require.NoError(t, err)
	assert.True(t, review.Result.Replayed)

	balance, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

// rejectingFirst simulates a reviewer rejecting between the credit and the
// status write of an approval.
type rejectingFirst struct {
	ActivityRepository
}

func (r rejectingFirst) SetStatus(ctx context.Context, id uuid.UUID, from, to model.ActivityStatus, reviewer string) error {
	if err := r.ActivityRepository.SetStatus(ctx, id, model.ActivityStatusPending, model.ActivityStatusRejected, "staff-2"); err != nil {
		return err
	}
	return r.ActivityRepository.SetStatus(ctx, id, from, to, reviewer)
}

func TestApproveActivity_LosingRaceToRejectIsAlerted(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 0)

	act, err := f.svc.SubmitActivity(ctx, model.ActivitySubmitRequest{AccountID: "u1", Type: "social_share", Description: "Story"})
	require.NoError(t, err)

	deps := f.deps
	deps.Activities = rejectingFirst{ActivityRepository: f.activities}

	_, logs := logger.NewObserved(zapcore.ErrorLevel)
	defer logger.NewNop()

	review, err := NewLoyaltyService(deps, 100).ApproveActivity(ctx, act.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), review.Result.NewBalance)

	alerts := logs.FilterMessage("[loyalty] points credited but activity was rejected concurrently").All()
	require.Len(t, alerts, 1)
	assert.Equal(t, "u1", alerts[0].ContextMap()["account_id"])
}

func TestCompleteReferral(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 0)

	res, err := f.svc.CompleteReferral(ctx, model.ReferralCompleteRequest{ReferrerID: "u1", ReferredIdentity: " Aiko@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.NewBalance)
	assert.Equal(t, "Referral: aiko@example.com", res.Transaction.Reason)

	again, err := f.svc.CompleteReferral(ctx, model.ReferralCompleteRequest{ReferrerID: "u1", ReferredIdentity: "aiko@example.com"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(100), again.NewBalance)

	ref, err := f.referrals.Get(ctx, "u1", "aiko@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusCompleted, ref.Status)

	jobs := f.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "Your friend aiko@example.com joined Takoyadon, earning you 100 points!", jobs[0].Message)

	_, err = f.svc.CompleteReferral(ctx, model.ReferralCompleteRequest{ReferrerID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCompleteReferral_SecondaryWriteFailure(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.register(t, "u1", 0)

	deps := f.deps
	deps.Referrals = failingReferrals{}

	_, logs := logger.NewObserved(zapcore.ErrorLevel)
	defer logger.NewNop()

	res, err := NewLoyaltyService(deps, 25).CompleteReferral(ctx, model.ReferralCompleteRequest{ReferrerID: "u1", ReferredIdentity: "ken@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.NewBalance)
	assert.Equal(t, 1, logs.FilterMessage("[loyalty] referral credited but not marked completed").Len())
}

func TestNotifications(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	repo := f.deps.Notifications.(*repository.NotificationRepository)
	n1, err := repo.Create(ctx, &model.Notification{AccountID: "u1", Message: "one"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &model.Notification{AccountID: "u1", Message: "two"})
	require.NoError(t, err)

	items, unread, err := f.svc.Notifications(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, int64(2), unread)

	n, err := f.svc.MarkNotificationsRead(ctx, "u1", []uuid.UUID{n1.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// another account cannot mark u1's notifications
	n, err = f.svc.MarkNotificationsRead(ctx, "u2", []uuid.UUID{n1.ID})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.MarkNotificationsRead(ctx, "u1", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAccountService(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	acc, err := f.accounts.Register(ctx, model.AccountCreateRequest{ID: "u1", Email: " Kenji@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance)
	assert.Equal(t, model.RoleCustomer, acc.Role)
	assert.Equal(t, "kenji@example.com", acc.Email)

	_, err = f.accounts.Register(ctx, model.AccountCreateRequest{ID: "u1"})
	assert.ErrorIs(t, err, ErrAccountExists)

	_, err = f.accounts.Register(ctx, model.AccountCreateRequest{ID: "u2", Role: "wizard"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	acc, err = f.accounts.Deactivate(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, acc.Active)

	_, err = f.accounts.Deactivate(ctx, "ghost")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{ledger.ErrStoreUnavailable, "store_unavailable"},
		{ledger.ErrIdempotencyConflict, "idempotency_conflict"},
		{storeErr(errors.New("boom")), "store_unavailable"},
		{invalid(errors.New("x")), "invalid_request"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.code, ErrorCode(tt.err))
		})
	}
	assert.False(t, IsRejection(ledger.ErrStoreUnavailable))
	assert.True(t, IsRejection(ErrActivityNotPending))
}
