package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	gateway "github.com/takoyadon/loyalty-ledger/internal/gateways"
	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/internal/queue"
	"github.com/takoyadon/loyalty-ledger/internal/repository"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/takoyadon/loyalty-ledger/pkg/prom"
)

const DefaultSubject = "Your Takoyadon points"

type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) (*model.Notification, error)
}

type Mailer interface {
	Send(ctx context.Context, email *gateway.Email) (*gateway.SendResult, error)
}

// NotificationProcessor turns an outbox job into an inbox row and, when the
// account has an address, an email.
type NotificationProcessor struct {
	repo        NotificationRepository
	mailer      Mailer
	idempotency *IdempotencyService
}

// NewNotificationProcessor accepts a nil mailer, in which case only the inbox is written.
func NewNotificationProcessor(repo NotificationRepository, mailer Mailer, idempotency *IdempotencyService) *NotificationProcessor {
	return &NotificationProcessor{repo: repo, mailer: mailer, idempotency: idempotency}
}

func (p *NotificationProcessor) GetType() string {
	return "notification"
}

func (p *NotificationProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var job model.NotificationJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		prom.IncRelayJob("invalid")
		// left pending so the stream dead-letters it
		return fmt.Errorf("decode notification job %s: %w", msg.ID, err)
	}
	if job.AccountID == "" || job.Message == "" {
		prom.IncRelayJob("invalid")
		return fmt.Errorf("notification job %s is missing account or message", msg.ID)
	}

	jobID := msg.ID
	if job.TransactionID != uuid.Nil {
		jobID = job.TransactionID.String()
	}

	pc, err := p.idempotency.AcquireProcessingLock(ctx, jobID)
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		prom.IncRelayJob("duplicate")
		return nil
	case errors.Is(err, ErrMaxRetriesExceeded):
		prom.IncRelayJob("exhausted")
		logger.Error("[relay] giving up on notification", "job_id", jobID, "account_id", job.AccountID, "error", err)
		return nil
	case err != nil:
		return err
	}
	defer func() { _ = p.idempotency.ReleaseLock(ctx, pc) }()

	if _, err := p.repo.Create(ctx, job.Notification()); err != nil && !errors.Is(err, repository.ErrDuplicateNotice) {
		p.idempotency.MarkFailure(ctx, pc, err)
		prom.IncRelayJob("failed")
		return fmt.Errorf("insert inbox notification: %w", err)
	}

	if job.Email != "" && p.mailer != nil {
		if err := p.sendEmail(ctx, jobID, job); err != nil {
			p.idempotency.MarkFailure(ctx, pc, err)
			prom.IncRelayJob("failed")
			return err
		}
	}

	if err := p.idempotency.MarkSuccess(ctx, pc); err != nil {
		// the inbox insert is unique per transaction so a redelivery is harmless
		logger.Warn("[relay] failed to mark success", "job_id", jobID, "error", err)
	}
	prom.IncRelayJob("delivered")
	return nil
}

func (p *NotificationProcessor) sendEmail(ctx context.Context, jobID string, job model.NotificationJob) error {
	subject := job.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	res, err := p.mailer.Send(ctx, &gateway.Email{
		To:             []string{job.Email},
		Subject:        subject,
		Text:           job.Message,
		IdempotencyKey: jobID,
	})
	if errors.Is(err, gateway.ErrRejected) {
		logger.Error("[relay] email rejected by provider, inbox only", "job_id", jobID, "account_id", job.AccountID, "error", err)
		prom.IncRelayJob("email_rejected")
		return nil
	}
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	prom.IncEmailDelivered()
	logger.Info("[relay] email sent", "job_id", jobID, "account_id", job.AccountID, "email_id", res.ID, "provider", res.Provider)
	return nil
}
