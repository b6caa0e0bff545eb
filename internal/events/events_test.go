package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takoyadon/loyalty-ledger/internal/model"
)

type fakeBus struct {
	subjects []string
	bodies   [][]byte
	err      error
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	b.subjects = append(b.subjects, subject)
	b.bodies = append(b.bodies, data)
	return b.err
}

func TestPublisher_Publish(t *testing.T) {
	bus := &fakeBus{}
	p := NewPublisher(bus, "")
	txn := &model.Transaction{
		ID:             uuid.New(),
		AccountID:      "u1",
		Delta:          -50,
		Reason:         "Redeemed: Free Drink",
		IdempotencyKey: "redeem:u1:free_drink",
		BalanceAfter:   50,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}

	p.Publish(context.Background(), txn)

	require.Len(t, bus.bodies, 1)
	assert.Equal(t, DefaultSubject, bus.subjects[0])

	var evt TransactionCommitted
	require.NoError(t, json.Unmarshal(bus.bodies[0], &evt))
	assert.Equal(t, txn.ID, evt.TransactionID)
	assert.Equal(t, int64(50), evt.BalanceAfter)
	assert.True(t, txn.CreatedAt.Equal(evt.CommittedAt))
}

func TestPublisher_FailuresAreSwallowed(t *testing.T) {
	bus := &fakeBus{err: errors.New("nats: connection closed")}
	p := NewPublisher(bus, "custom.subject")

	assert.NotPanics(t, func() {
		p.Publish(context.Background(), &model.Transaction{ID: uuid.New()})
	})
	assert.Equal(t, []string{"custom.subject"}, bus.subjects)

	var nilPublisher *Publisher
	assert.NotPanics(t, func() { nilPublisher.Publish(context.Background(), &model.Transaction{}) })
}

func TestConnect_EmptyURL(t *testing.T) {
	nc, err := Connect("", "test")
	assert.NoError(t, err)
	assert.Nil(t, nc)
}
