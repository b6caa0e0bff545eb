package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/takoyadon/loyalty-ledger/internal/queue"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/takoyadon/loyalty-ledger/pkg/prom"
	"github.com/takoyadon/loyalty-ledger/pkg/redis"
	"github.com/takoyadon/loyalty-ledger/pkg/worker"
)

const (
	ProcessingTimeout = 10 * time.Second
	ReportInterval    = 30 * time.Second
	ShutdownTimeout   = 30 * time.Second
	// HighLagThreshold is the pending count that makes the health check warn.
	HighLagThreshold = 10_000
)

// Processor handles one decoded stream entry.
type Processor interface {
	Process(ctx context.Context, msg *queue.Message) error
	GetType() string
}

type RelayConfig struct {
	Queue     queue.Config
	Consumers int
	Workers   int
	Buffer    int
}

// RelayService reads the notification stream and fans entries out to a worker
// pool running the registered processor.
type RelayService struct {
	adapter   redis.RedisAdapter
	config    RelayConfig
	processor Processor
	queue     *queue.Queue
	metrics   *ServiceMetrics
	workers   *worker.WorkerManager[*relayJob]

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type relayJob struct {
	ctx    context.Context
	msg    *queue.Message
	result chan error
}

func NewRelayService(adapter redis.RedisAdapter, processor Processor, config RelayConfig) *RelayService {
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	if config.Workers <= 0 {
		config.Workers = config.Consumers
	}
	if config.Buffer <= 0 {
		config.Buffer = config.Workers * 4
	}
	s := &RelayService{
		adapter:   adapter,
		config:    config,
		processor: processor,
		metrics:   NewServiceMetrics(),
	}
	s.workers = worker.NewWorkerManager(config.Buffer, config.Workers, s.work)
	return s
}

func (s *RelayService) Metrics() *ServiceMetrics { return s.metrics }

func (s *RelayService) Start(ctx context.Context) error {
	logger.Info("[relay] starting", "processor", s.processor.GetType(), "queue", s.config.Queue.Name)

	q, err := queue.NewQueue(ctx, s.adapter, s.config.Queue)
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}
	s.queue = q

	ctx, s.cancel = context.WithCancel(ctx)
	s.workers.Start(ctx)

	if err := q.Consume(s.handle, s.config.Consumers); err != nil {
		s.cancel()
		s.workers.Exit()
		return fmt.Errorf("failed to start consumers: %w", err)
	}

	s.wg.Add(1)
	go s.reporter(ctx)

	logger.Info("[relay] started", "consumers", s.config.Consumers, "workers", s.config.Workers)
	return nil
}

// handle runs on a stream consumer and blocks until a worker has a verdict.
func (s *RelayService) handle(ctx context.Context, msg *queue.Message) error {
	jobCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout)
	defer cancel()

	job := &relayJob{ctx: jobCtx, msg: msg, result: make(chan error, 1)}
	if err := s.workers.Enqueue(jobCtx, job); err != nil {
		return fmt.Errorf("enqueue relay job: %w", err)
	}

	select {
	case err := <-job.result:
		return err
	case <-jobCtx.Done():
		return fmt.Errorf("timeout waiting for worker: %w", jobCtx.Err())
	}
}

func (s *RelayService) work(_ context.Context, index int, job *relayJob) {
	if job.ctx.Err() != nil {
		logger.Warn("[relay] job expired before processing", "worker", index, "id", job.msg.ID)
		return
	}

	start := time.Now()
	err := s.processor.Process(job.ctx, job.msg)
	if err != nil {
		s.metrics.RecordFailure()
		logger.Error("[relay] failed to process entry", "worker", index, "id", job.msg.ID, "attempts", job.msg.Attempts, "error", err)
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}
	// buffered, never blocks
	job.result <- err
}

func (s *RelayService) reporter(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.report(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *RelayService) report(ctx context.Context) {
	m := s.metrics.Snapshot()
	logger.Info("[relay] metrics",
		"processed", m.Processed,
		"failed", m.Failed,
		"rate_per_second", m.RatePerSecond,
		"avg_duration_ms", m.AvgDuration.Milliseconds(),
		"uptime_seconds", int64(m.Uptime.Seconds()))

	if err := s.adapter.Ping(ctx); err != nil {
		logger.Error("[relay] health check failed: redis unreachable", "error", err)
		return
	}
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		logger.Warn("[relay] queue stats unavailable", "error", err)
		return
	}
	logger.Info("[relay] queue", "total", stats.TotalMessages, "pending", stats.PendingMessages, "dead_letters", stats.DeadLetters)
	prom.SetQueueDepth(stats.PendingMessages, stats.DeadLetters)
	if stats.PendingMessages > HighLagThreshold {
		logger.Warn("[relay] queue has high lag", "pending", stats.PendingMessages)
	}
}

// Stop drains consumers first so no handler is left waiting on a closed pool.
func (s *RelayService) Stop() {
	logger.Info("[relay] shutting down")

	if s.queue != nil {
		if err := s.queue.Stop(ShutdownTimeout); err != nil {
			logger.Error("[relay] error stopping queue", "error", err)
		}
	}
	s.workers.Exit()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	m := s.metrics.Snapshot()
	logger.Info("[relay] stopped", "processed", m.Processed, "failed", m.Failed)
}
