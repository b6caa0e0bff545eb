package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/takoyadon/loyalty-ledger/pkg/redis"
)

const (
	fieldData        = "data"
	fieldPublishedAt = "published_at"
	fieldMetaPrefix  = "meta_"
)

var ErrStopped = errors.New("queue stopped")

type Message struct {
	ID          string
	Data        []byte
	Metadata    map[string]string
	PublishedAt time.Time
	// Attempts is the number of earlier deliveries of this entry.
	Attempts int64
}

// Handler processes one entry. A nil return acks it, an error leaves it
// pending until the visibility timeout hands it out again.
type Handler func(ctx context.Context, msg *Message) error

type Config struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int64
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

func (c *Config) normalize() error {
	if c.Name == "" {
		return fmt.Errorf("queue name is required")
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "default-group"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	return nil
}

// Queue is an at-least-once job stream on top of a redis consumer group.
type Queue struct {
	adapter redis.RedisAdapter
	config  Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

type Stats struct {
	TotalMessages   int64
	PendingMessages int64
	DeadLetters     int64
	ConsumerCount   int64
}

func NewQueue(ctx context.Context, adapter redis.RedisAdapter, config Config) (*Queue, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}
	if err := adapter.XGroupCreateMkStream(ctx, config.Name, config.ConsumerGroup, "0"); err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &Queue{adapter: adapter, config: config}, nil
}

func (q *Queue) Name() string { return q.config.Name }

func (q *Queue) DeadLetterName() string { return q.config.Name + ":dlq" }

func (q *Queue) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		fieldData:        string(data),
		fieldPublishedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range metadata {
		values[fieldMetaPrefix+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	if q.config.MaxLen > 0 {
		if err := q.adapter.XTrimApprox(ctx, q.config.Name, q.config.MaxLen); err != nil {
			logger.Warn("[queue] trim failed", "queue", q.config.Name, "error", err)
		}
	}
	return id, nil
}

func (q *Queue) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return q.Publish(ctx, body, metadata)
}

// Consume starts consumers polling loops. Only the first loop reclaims stale
// entries so a dead letter is never written twice.
func (q *Queue) Consume(handler Handler, consumers int) error {
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}
	if consumers <= 0 {
		consumers = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrStopped
	}
	if q.cancel != nil {
		return fmt.Errorf("queue %s is already consuming", q.config.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	for i := 0; i < consumers; i++ {
		name := q.config.ConsumerName
		if consumers > 1 {
			name = fmt.Sprintf("%s-%d", q.config.ConsumerName, i)
		}
		q.wg.Add(1)
		go q.consumeLoop(ctx, name, handler, i == 0)
	}
	return nil
}

func (q *Queue) consumeLoop(ctx context.Context, consumer string, handler Handler, reclaim bool) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.poll(ctx, consumer, handler)
			if reclaim {
				q.reclaim(ctx, consumer, handler)
			}
		}
	}
}

func (q *Queue) poll(ctx context.Context, consumer string, handler Handler) {
	entries, err := q.adapter.XReadGroup(ctx, q.config.ConsumerGroup, consumer, q.config.Name, ">", q.config.BatchSize, -1)
	if err != nil {
		if !errors.Is(err, redis.NilError) && ctx.Err() == nil {
			logger.Warn("[queue] read failed", "queue", q.config.Name, "consumer", consumer, "error", err)
		}
		return
	}
	for _, entry := range entries {
		q.handle(ctx, decode(entry), handler)
	}
}

func (q *Queue) reclaim(ctx context.Context, consumer string, handler Handler) {
	pending, err := q.adapter.XPendingExt(ctx, q.config.Name, q.config.ConsumerGroup, "-", "+", 100)
	if err != nil || len(pending) == 0 {
		return
	}

	attempts := make(map[string]int64)
	var ids []string
	for _, p := range pending {
		if p.Idle < q.config.VisibilityTimeout {
			continue
		}
		attempts[p.ID] = p.RetryCount
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return
	}

	entries, err := q.adapter.XClaim(ctx, q.config.Name, q.config.ConsumerGroup, consumer, q.config.VisibilityTimeout, ids...)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("[queue] claim failed", "queue", q.config.Name, "error", err)
		}
		return
	}

	for _, entry := range entries {
		msg := decode(entry)
		msg.Attempts = attempts[msg.ID]
		if msg.Attempts >= q.config.MaxRetries {
			q.deadLetter(ctx, msg)
			continue
		}
		q.handle(ctx, msg, handler)
	}
}

func (q *Queue) handle(ctx context.Context, msg *Message, handler Handler) {
	hctx, cancel := context.WithTimeout(ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.invoke(hctx, msg, handler); err != nil {
		logger.Warn("[queue] handler failed, entry stays pending",
			"queue", q.config.Name, "id", msg.ID, "attempts", msg.Attempts, "error", err)
		return
	}
	if err := q.ack(ctx, msg.ID); err != nil {
		logger.Warn("[queue] ack failed", "queue", q.config.Name, "id", msg.ID, "error", err)
	}
}

func (q *Queue) invoke(ctx context.Context, msg *Message, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

func (q *Queue) ack(ctx context.Context, id string) error {
	return q.adapter.XAck(ctx, q.config.Name, q.config.ConsumerGroup, id)
}

func (q *Queue) deadLetter(ctx context.Context, msg *Message) {
	if q.config.EnableDLQ {
		values := map[string]interface{}{
			fieldData:        string(msg.Data),
			"original_id":    msg.ID,
			"attempts":       msg.Attempts,
			"failed_at":      time.Now().UTC().Format(time.RFC3339Nano),
			"original_queue": q.config.Name,
		}
		for k, v := range msg.Metadata {
			values[fieldMetaPrefix+k] = v
		}
		if _, err := q.adapter.XAdd(ctx, q.DeadLetterName(), values); err != nil {
			logger.Error("[queue] dead letter write failed, entry kept pending", "queue", q.config.Name, "id", msg.ID, "error", err)
			return
		}
	}
	logger.Warn("[queue] entry exhausted retries", "queue", q.config.Name, "id", msg.ID, "attempts", msg.Attempts, "dlq", q.config.EnableDLQ)
	if err := q.ack(ctx, msg.ID); err != nil {
		logger.Warn("[queue] ack failed", "queue", q.config.Name, "id", msg.ID, "error", err)
	}
}

func decode(entry redis.StreamMessage) *Message {
	msg := &Message{
		ID:       entry.ID,
		Metadata: make(map[string]string),
	}

	for k, v := range entry.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch {
		case k == fieldData:
			msg.Data = []byte(s)
		case k == fieldPublishedAt:
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				msg.PublishedAt = ts
			}
		case k == "attempts":
			msg.Attempts, _ = strconv.ParseInt(s, 10, 64)
		case strings.HasPrefix(k, fieldMetaPrefix):
			msg.Metadata[strings.TrimPrefix(k, fieldMetaPrefix)] = s
		}
	}
	return msg
}

// Stop cancels the consumers and waits up to timeout for in-flight handlers.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	q.stopped = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for queue to stop")
	}
}

func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	total, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, err
	}
	stats := &Stats{TotalMessages: total}

	if pending, err := q.adapter.XPending(ctx, q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}
	if dead, err := q.adapter.XLen(ctx, q.DeadLetterName()); err == nil {
		stats.DeadLetters = dead
	}
	return stats, nil
}
