package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
)

type Referral struct {
	ID               uuid.UUID      `json:"id"`
	ReferrerID       string         `json:"referrer_id"`
	ReferredIdentity string         `json:"referred_identity"`
	Status           ReferralStatus `json:"status"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

type ReferralCompleteRequest struct {
	ReferrerID       string `json:"referrer_id"`
	ReferredIdentity string `json:"referred_identity"`
}

func (p *ReferralCompleteRequest) Normalize() {
	p.ReferrerID = strings.TrimSpace(p.ReferrerID)
	p.ReferredIdentity = strings.ToLower(strings.TrimSpace(p.ReferredIdentity))
}

func (p ReferralCompleteRequest) Validate() error {
	if p.ReferrerID == "" {
		return errors.New("referrer_id is required")
	}
	if p.ReferredIdentity == "" {
		return errors.New("referred_identity is required")
	}
	return nil
}
