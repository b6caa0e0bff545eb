package notifier

import (
	"context"
	"errors"

	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/internal/repository"
)

type NotificationCreator interface {
	Create(ctx context.Context, n *model.Notification) (*model.Notification, error)
}

// InboxSink writes the notification row directly.
type InboxSink struct {
	repo NotificationCreator
}

func NewInboxSink(repo NotificationCreator) *InboxSink {
	return &InboxSink{repo: repo}
}

func (s *InboxSink) Name() string { return "inbox" }

func (s *InboxSink) Deliver(ctx context.Context, job model.NotificationJob) error {
	_, err := s.repo.Create(ctx, job.Notification())
	if errors.Is(err, repository.ErrDuplicateNotice) {
		return nil
	}
	return err
}

type JSONPublisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// OutboxSink enqueues the job on the notification stream for the relay.
type OutboxSink struct {
	queue JSONPublisher
}

func NewOutboxSink(queue JSONPublisher) *OutboxSink {
	return &OutboxSink{queue: queue}
}

func (s *OutboxSink) Name() string { return "outbox" }

func (s *OutboxSink) Deliver(ctx context.Context, job model.NotificationJob) error {
	_, err := s.queue.PublishJSON(ctx, job, map[string]string{
		"account_id":     job.AccountID,
		"transaction_id": job.TransactionID.String(),
	})
	return err
}
