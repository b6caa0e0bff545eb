package model

import (
	"time"

	"github.com/google/uuid"
)

type Notification struct {
	ID            uuid.UUID  `json:"id"`
	AccountID     string     `json:"account_id"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Message       string     `json:"message"`
	IsRead        bool       `json:"is_read"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NotificationJob is the outbox payload emitted after a ledger commit.
type NotificationJob struct {
	AccountID     string    `json:"account_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Email         string    `json:"email,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

func (j NotificationJob) Notification() *Notification {
	txID := j.TransactionID
	n := &Notification{
		AccountID: j.AccountID,
		Message:   j.Message,
	}
	if txID != uuid.Nil {
		n.TransactionID = &txID
	}
	return n
}
