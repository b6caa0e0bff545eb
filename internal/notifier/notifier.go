package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/takoyadon/loyalty-ledger/pkg/prom"
	"github.com/takoyadon/loyalty-ledger/pkg/worker"
)

const defaultDeliverTimeout = 5 * time.Second

// Sink is one destination for a user notification.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, job model.NotificationJob) error
}

// Dispatcher fans a notification out to its sinks after a ledger commit.
// Notify never reports failure to the caller: sink errors and panics are
// logged, counted and dropped.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	pool    *worker.WorkerManager[model.NotificationJob]
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, timeout: defaultDeliverTimeout}
}

// StartAsync moves delivery onto a worker pool so Notify returns immediately.
// Canceling ctx does not abort buffered jobs; Close drains them.
func (d *Dispatcher) StartAsync(ctx context.Context, buffer, workers int) {
	d.pool = worker.NewWorkerManager(buffer, workers, func(ctx context.Context, _ int, job model.NotificationJob) {
		d.deliver(ctx, job)
		prom.SetNotifierBacklog(d.pool.GetUnreadCount())
	})
	d.pool.Start(context.WithoutCancel(ctx))
}

// Close drains pending async deliveries.
func (d *Dispatcher) Close() {
	if d.pool != nil {
		d.pool.Exit()
	}
}

func (d *Dispatcher) Notify(ctx context.Context, job model.NotificationJob) {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	// the request context may be canceled as soon as the handler returns
	ctx = context.WithoutCancel(ctx)

	if d.pool != nil {
		if d.pool.TryEnqueue(job) {
			prom.SetNotifierBacklog(d.pool.GetUnreadCount())
			return
		}
		logger.Warn("[notifier] async buffer full, delivering inline", "account_id", job.AccountID, "transaction_id", job.TransactionID)
	}
	d.deliver(ctx, job)
}

func (d *Dispatcher) deliver(ctx context.Context, job model.NotificationJob) {
	for _, sink := range d.sinks {
		if err := d.deliverOne(ctx, sink, job); err != nil {
			prom.IncNotifierFailure(sink.Name())
			logger.Error("[notifier] delivery failed",
				"sink", sink.Name(),
				"account_id", job.AccountID,
				"transaction_id", job.TransactionID,
				"error", err)
		}
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, sink Sink, job model.NotificationJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return sink.Deliver(ctx, job)
}
