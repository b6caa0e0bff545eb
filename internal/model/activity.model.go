package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ActivityStatus string

const (
	ActivityStatusPending  ActivityStatus = "pending"
	ActivityStatusApproved ActivityStatus = "approved"
	ActivityStatusRejected ActivityStatus = "rejected"
)

type Activity struct {
	ID          uuid.UUID      `json:"id"`
	AccountID   string         `json:"account_id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Status      ActivityStatus `json:"status"`
	ReviewedBy  string         `json:"reviewed_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type ActivityRule struct {
	ActivityType string `json:"activity_type"`
	PointsValue  int64  `json:"points_value"`
}

type ActivitySubmitRequest struct {
	AccountID   string `json:"account_id"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

func (p *ActivitySubmitRequest) Normalize() {
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	p.Description = strings.TrimSpace(p.Description)
}

func (p ActivitySubmitRequest) Validate() error {
	if p.AccountID == "" {
		return errors.New("account_id is required")
	}
	if p.Type == "" {
		return errors.New("type is required")
	}
	if p.Description == "" {
		return errors.New("description is required")
	}
	if len(p.Description) > 500 {
		return errors.New("description must be at most 500 characters")
	}
	return nil
}

// ActivityReview is the result of approving a submission.
type ActivityReview struct {
	Activity *Activity    `json:"activity"`
	Points   int64        `json:"points"`
	Result   LedgerResult `json:"result"`
}
