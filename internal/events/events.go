package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
)

const DefaultSubject = "ledger.transaction.committed"

// Bus is the subset of *nats.Conn the publisher needs.
type Bus interface {
	Publish(subject string, data []byte) error
}

// TransactionCommitted is the event body published for every new ledger entry.
type TransactionCommitted struct {
	TransactionID  uuid.UUID `json:"transaction_id"`
	AccountID      string    `json:"account_id"`
	Delta          int64     `json:"delta"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"idempotency_key"`
	BalanceAfter   int64     `json:"balance_after"`
	CommittedAt    time.Time `json:"committed_at"`
}

// Publisher emits committed transactions. Failures are logged and dropped.
type Publisher struct {
	bus     Bus
	subject string
}

func NewPublisher(bus Bus, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{bus: bus, subject: subject}
}

func (p *Publisher) Publish(_ context.Context, txn *model.Transaction) {
	if p == nil || p.bus == nil || txn == nil {
		return
	}
	body, err := json.Marshal(TransactionCommitted{
		TransactionID:  txn.ID,
		AccountID:      txn.AccountID,
		Delta:          txn.Delta,
		Reason:         txn.Reason,
		IdempotencyKey: txn.IdempotencyKey,
		BalanceAfter:   txn.BalanceAfter,
		CommittedAt:    txn.CreatedAt,
	})
	if err != nil {
		logger.Warn("[events] encode transaction", "transaction_id", txn.ID, "error", err)
		return
	}
	if err := p.bus.Publish(p.subject, body); err != nil {
		logger.Warn("[events] publish failed", "subject", p.subject, "transaction_id", txn.ID, "error", err)
	}
}

// Connect dials NATS. An empty url yields a nil connection and no error.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("[events] nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[events] nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
}
