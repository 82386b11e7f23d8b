package quality

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	unknownKeyPrefix = "watchtime:unknown:"
	reviewSetKey     = "watchtime:review"
	streakTTL        = 7 * 24 * time.Hour

	// DefaultReviewThreshold is the consecutive Unknown count that flags a creator.
	DefaultReviewThreshold = 12
)

// ReviewTracker counts consecutive Unknown verdicts per creator in Redis and flags
// creators for manual review once the streak reaches the threshold. A definite verdict
// (live or not live) resets the streak and clears the flag.
type ReviewTracker struct {
	client    *redis.Client
	threshold int64
	logger    *zap.Logger
}

// NewReviewTracker creates a tracker. threshold <= 0 uses DefaultReviewThreshold.
func NewReviewTracker(client *redis.Client, threshold int, logger *zap.Logger) *ReviewTracker {
	if threshold <= 0 {
		threshold = DefaultReviewThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewTracker{client: client, threshold: int64(threshold), logger: logger}
}

// Observe records one verdict outcome and reports whether the creator is flagged afterwards.
func (r *ReviewTracker) Observe(ctx context.Context, creatorID uuid.UUID, unknown bool) (bool, error) {
	key := unknownKeyPrefix + creatorID.String()
	if !unknown {
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, key)
		pipe.SRem(ctx, reviewSetKey, creatorID.String())
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("reset unknown streak: %w", err)
		}
		return false, nil
	}

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, streakTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("count unknown streak: %w", err)
	}
	streak := incr.Val()
	if streak < r.threshold {
		return false, nil
	}
	added, err := r.client.SAdd(ctx, reviewSetKey, creatorID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("flag for review: %w", err)
	}
	if added > 0 {
		r.logger.Warn("creator flagged for review", zap.String("creator_id", creatorID.String()), zap.Int64("unknown_streak", streak))
	}
	return true, nil
}

// Streak returns the current consecutive Unknown count for a creator.
func (r *ReviewTracker) Streak(ctx context.Context, creatorID uuid.UUID) (int64, error) {
	n, err := r.client.Get(ctx, unknownKeyPrefix+creatorID.String()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Flagged returns the creators currently flagged for review, sorted.
func (r *ReviewTracker) Flagged(ctx context.Context) ([]uuid.UUID, error) {
	members, err := r.client.SMembers(ctx, reviewSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list review set: %w", err)
	}
	sort.Strings(members)
	out := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			r.logger.Warn("invalid member in review set", zap.String("member", m))
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
