package model

import "time"

type Reward struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PointsCost int64     `json:"points_cost"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type RedeemRequest struct {
	AccountID string `json:"account_id"`
	RewardID  string `json:"reward_id"`
	RequestID string `json:"request_id,omitempty"`
}
