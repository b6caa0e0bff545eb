package ledger

import (
	"strings"

	"github.com/google/uuid"
)

// RedeemKey keys a redemption on (account, reward). A caller supplied request
// id allows the same reward to be redeemed again as a distinct event.
func RedeemKey(accountID, rewardID, requestID string) string {
	key := "redeem:" + accountID + ":" + rewardID
	if requestID = strings.TrimSpace(requestID); requestID != "" {
		key += ":" + requestID
	}
	return key
}

func ActivityKey(activityID uuid.UUID) string {
	return "activity:" + activityID.String()
}

func ReferralKey(referrerID, referredIdentity string) string {
	return "referral:" + referrerID + ":" + strings.ToLower(strings.TrimSpace(referredIdentity))
}
