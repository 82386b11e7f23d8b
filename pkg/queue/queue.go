package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueJobs is the Redis list key for poll, rollup and backfill jobs.
	QueueJobs = "worker:jobs"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// DefaultBlockTimeout bounds one BLPOP so the worker loop notices shutdown.
	DefaultBlockTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypePollCycle JobType = "poll_cycle"
	JobTypeRollup    JobType = "rollup"
	JobTypeBackfill  JobType = "backfill"
)

// PollCyclePayload runs one cycle for each listed platform, or for all when empty.
type PollCyclePayload struct {
	Platforms []string `json:"platforms,omitempty"`
}

// RollupPayload recomputes the calendar days From..To inclusive (YYYY-MM-DD in the
// rollup timezone). An empty To means From only; an empty From means yesterday.
type RollupPayload struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// BackfillPayload repairs sentinel rows in [From, To).
type BackfillPayload struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", j.Type, err)
	}
	return nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client       *redis.Client
	logger       *zap.Logger
	blockTimeout time.Duration
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger, blockTimeout: DefaultBlockTimeout}
}

// EnqueuePollCycle enqueues a poll cycle job.
func (q *Queue) EnqueuePollCycle(ctx context.Context, payload PollCyclePayload) (*Job, error) {
	return q.enqueue(ctx, JobTypePollCycle, payload)
}

// EnqueueRollup enqueues a rollup job.
func (q *Queue) EnqueueRollup(ctx context.Context, payload RollupPayload) (*Job, error) {
	return q.enqueue(ctx, JobTypeRollup, payload)
}

// EnqueueBackfill enqueues a sentinel backfill job.
func (q *Queue) EnqueueBackfill(ctx context.Context, payload BackfillPayload) (*Job, error) {
	if !payload.To.After(payload.From) {
		return nil, errors.New("backfill window end must be after start")
	}
	return q.enqueue(ctx, JobTypeBackfill, payload)
}

func (q *Queue) enqueue(ctx context.Context, t JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueJobs, raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(t)))
	return job, nil
}

// Dequeue waits up to the block timeout for a job. A nil job with a nil error means
// nothing arrived or the entry was malformed.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, q.blockTimeout, QueueJobs).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueJobs, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Stats reports the pending and dead-lettered job counts.
type Stats struct {
	Pending int64 `json:"pending"`
	Dead    int64 `json:"dead"`
}

// Stats returns the current queue lengths.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, QueueJobs)
	dead := pipe.LLen(ctx, QueueDLQ)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Pending: pending.Val(), Dead: dead.Val()}, nil
}
