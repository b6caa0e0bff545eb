package fixtures

import (
	"github.com/takoyadon/loyalty-ledger/internal/model"
)

var (
	FreeDrink = model.Reward{
		ID:         "free_drink",
		Name:       "Free Drink",
		PointsCost: 50,
		Active:     true,
	}

	TakoyakiSet = model.Reward{
		ID:         "takoyaki_set",
		Name:       "Takoyaki Set",
		PointsCost: 60,
		Active:     true,
	}

	RetiredReward = model.Reward{
		ID:         "winter_ramen",
		Name:       "Winter Ramen",
		PointsCost: 30,
		Active:     false,
	}

	Rewards = []model.Reward{FreeDrink, TakoyakiSet, RetiredReward}
)

var (
	SocialShare        = model.ActivityRule{ActivityType: "social_share", PointsValue: 40}
	FeedbackSubmission = model.ActivityRule{ActivityType: "feedback_submission", PointsValue: 10}

	Rules = []model.ActivityRule{SocialShare, FeedbackSubmission}
)

var (
	Customer = model.AccountCreateRequest{
		ID:    "cust-aiko",
		Email: "aiko@example.com",
		Role:  model.RoleCustomer,
	}

	OtherCustomer = model.AccountCreateRequest{
		ID:    "cust-kenji",
		Email: "kenji@example.com",
		Role:  model.RoleCustomer,
	}

	Staff = model.AccountCreateRequest{
		ID:   "staff-shibuya",
		Role: model.RoleBranchStaff,
	}

	Admin = model.AccountCreateRequest{
		ID:   "admin-hq",
		Role: model.RoleFranchiseAdmin,
	}
)

func RedeemRequest(accountID, rewardID string) model.RedeemRequest {
	return model.RedeemRequest{AccountID: accountID, RewardID: rewardID}
}

func SocialShareSubmission(accountID string) model.ActivitySubmitRequest {
	return model.ActivitySubmitRequest{
		AccountID:   accountID,
		Type:        SocialShare.ActivityType,
		Description: "Shared our Shibuya opening on Instagram",
	}
}

func Referral(referrerID, identity string) model.ReferralCompleteRequest {
	return model.ReferralCompleteRequest{ReferrerID: referrerID, ReferredIdentity: identity}
}

// Opening is a seed credit that gives an account a starting balance.
func Opening(accountID string, points int64) model.LedgerEntry {
	return model.LedgerEntry{
		AccountID:      accountID,
		Delta:          points,
		Reason:         "Opening balance",
		IdempotencyKey: "opening:" + accountID,
	}
}
