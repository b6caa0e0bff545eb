package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/takoyadon/loyalty-ledger/pkg/redis"
)

var (
	ErrAlreadyProcessed   = errors.New("job already processed")
	ErrLockAcquireFailed  = errors.New("failed to acquire processing lock")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

type IdempotencyConfig struct {
	LockTTL            time.Duration
	ProcessedTTL       time.Duration
	MaxRetries         int64
	RetryKeyPrefix     string
	LockKeyPrefix      string
	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       24 * time.Hour,
		MaxRetries:         5,
		RetryKeyPrefix:     "relay:retry:",
		LockKeyPrefix:      "relay:lock:",
		ProcessedKeyPrefix: "relay:processed:",
	}
}

// IdempotencyService makes relay side effects run once per transaction id,
// even when the stream hands the same job to two consumers.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(adapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{redis: adapter, config: config}
}

type ProcessingContext struct {
	JobID        string
	RetryCount   int64
	lockAcquired bool
}

func (pc *ProcessingContext) IsRetry() bool { return pc.RetryCount > 0 }

func (s *IdempotencyService) AcquireProcessingLock(ctx context.Context, jobID string) (*ProcessingContext, error) {
	exists, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+jobID)
	if err != nil {
		// inbox insert and mail idempotency key still dedupe downstream
		logger.Warn("[relay] processed check failed", "job_id", jobID, "error", err)
	} else if exists > 0 {
		return nil, ErrAlreadyProcessed
	}

	retryCount, err := s.GetRetryCount(ctx, jobID)
	if err != nil {
		logger.Warn("[relay] retry counter unavailable", "job_id", jobID, "error", err)
	}
	if retryCount >= s.config.MaxRetries {
		return nil, fmt.Errorf("%w: job_id=%s, retries=%d", ErrMaxRetriesExceeded, jobID, retryCount)
	}

	token := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	acquired, err := s.redis.SetNX(ctx, s.config.LockKeyPrefix+jobID, token, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("[relay] processing lock acquired", "job_id", jobID, "retry_count", retryCount)
	return &ProcessingContext{JobID: jobID, RetryCount: retryCount, lockAcquired: true}, nil
}

// MarkSuccess sets the processed marker and clears the lock and retry counter.
func (s *IdempotencyService) MarkSuccess(ctx context.Context, pc *ProcessingContext) error {
	if err := s.redis.Set(ctx, s.config.ProcessedKeyPrefix+pc.JobID, []byte("1"), s.config.ProcessedTTL); err != nil {
		return fmt.Errorf("failed to mark as processed: %w", err)
	}
	if err := s.redis.Del(ctx, s.config.LockKeyPrefix+pc.JobID, s.config.RetryKeyPrefix+pc.JobID); err != nil {
		logger.Warn("[relay] cleanup failed", "job_id", pc.JobID, "error", err)
	}
	pc.lockAcquired = false
	return nil
}

// MarkFailure counts the attempt and releases the lock for the next delivery.
func (s *IdempotencyService) MarkFailure(ctx context.Context, pc *ProcessingContext, reason error) {
	n, err := s.redis.Incr(ctx, s.config.RetryKeyPrefix+pc.JobID, s.config.ProcessedTTL)
	if err != nil {
		logger.Error("[relay] failed to increment retry counter", "job_id", pc.JobID, "error", err)
	}
	_ = s.ReleaseLock(ctx, pc)

	logger.Warn("[relay] job failed, will retry",
		"job_id", pc.JobID,
		"retry_count", n,
		"max_retries", s.config.MaxRetries,
		"reason", reason)
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}
	if err := s.redis.Del(ctx, s.config.LockKeyPrefix+pc.JobID); err != nil {
		logger.Warn("[relay] failed to release lock", "job_id", pc.JobID, "error", err)
		return err
	}
	pc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, jobID string) (int64, error) {
	raw, err := s.redis.Get(ctx, s.config.RetryKeyPrefix+jobID)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt retry counter %q: %w", raw, err)
	}
	return n, nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, jobID string) (bool, error) {
	exists, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+jobID)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
