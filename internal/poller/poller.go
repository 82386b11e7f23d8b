// Package poller resolves a live verdict for every tracked creator of one platform.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shinypull/backend/internal/jobs"
	"github.com/shinypull/backend/internal/platform"
)

// Defaults applied when Config fields are zero.
const (
	DefaultWorkers      = 4
	DefaultBatchTimeout = 15 * time.Second
	DefaultRetryBackoff = 2 * time.Second
)

// Target is one creator to look up.
type Target struct {
	CreatorID  uuid.UUID
	PlatformID string
}

// Config tunes batching and failure handling.
type Config struct {
	// BatchSize caps the batch below the client's maximum. Zero uses the client maximum.
	BatchSize int
	Workers   int
	// BatchTimeout bounds one batch end to end, including its retry and backoff.
	BatchTimeout time.Duration
	RetryBackoff time.Duration
}

type verdictMap = map[string]platform.Verdict

// Poller batches lookups against one platform client.
type Poller struct {
	client   platform.Client
	cfg      Config
	executor failsafe.Executor[verdictMap]
	logger   *zap.Logger
	metrics  *jobs.Metrics
}

// New creates a poller for client.
func New(client platform.Client, cfg Config, logger *zap.Logger, metrics *jobs.Metrics) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > client.MaxBatchSize() {
		cfg.BatchSize = client.MaxBatchSize()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	retry := retrypolicy.NewBuilder[verdictMap]().
		WithMaxRetries(1).
		WithBackoff(cfg.RetryBackoff, 2*cfg.RetryBackoff).
		WithJitterFactor(0.1).
		HandleIf(func(_ verdictMap, err error) bool {
			return shouldRetry(err)
		}).
		Build()
	return &Poller{
		client:   client,
		cfg:      cfg,
		executor: failsafe.With(retry),
		logger:   logger.With(zap.String("platform", client.Platform())),
		metrics:  metrics,
	}
}

// shouldRetry retries transport errors, malformed bodies and retryable statuses.
// Other client errors (400, 403) and an exhausted batch deadline fail the batch immediately.
func shouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *platform.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// Poll returns a verdict for every target. It never fails: a batch that cannot be
// resolved yields Unknown for each of its members and the remaining batches continue.
func (p *Poller) Poll(ctx context.Context, targets []Target) map[uuid.UUID]platform.Verdict {
	out := make(map[uuid.UUID]platform.Verdict, len(targets))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i, batch := range Batches(targets, p.cfg.BatchSize) {
		g.Go(func() error {
			verdicts := p.pollBatch(ctx, i, batch)
			mu.Lock()
			for id, v := range verdicts {
				out[id] = v
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, v := range out {
		p.metrics.IncVerdict(p.client.Platform(), v.Status.String())
	}
	return out
}

func (p *Poller) pollBatch(ctx context.Context, index int, batch []Target) map[uuid.UUID]platform.Verdict {
	ids := make([]string, len(batch))
	for i, t := range batch {
		ids[i] = t.PlatformID
	}

	batchCtx, cancel := context.WithTimeout(ctx, p.cfg.BatchTimeout)
	defer cancel()
	res, err := p.executor.WithContext(batchCtx).Get(func() (verdictMap, error) {
		return p.client.CheckLive(batchCtx, ids)
	})

	out := make(map[uuid.UUID]platform.Verdict, len(batch))
	if err != nil {
		p.logger.Warn("batch unresolved, marking unknown",
			zap.Int("batch", index), zap.Int("size", len(batch)), zap.Error(err))
		for _, t := range batch {
			out[t.CreatorID] = platform.Unknownf("batch failed: %v", err)
		}
		return out
	}
	for _, t := range batch {
		v, ok := res[t.PlatformID]
		if !ok {
			v = platform.Unknown("missing from response")
		}
		out[t.CreatorID] = v
	}
	return out
}

// Batches splits targets into consecutive slices of at most size elements.
func Batches(targets []Target, size int) [][]Target {
	if size <= 0 {
		panic(fmt.Sprintf("poller: invalid batch size %d", size))
	}
	var out [][]Target
	for start := 0; start < len(targets); start += size {
		end := min(start+size, len(targets))
		out = append(out, targets[start:end])
	}
	return out
}
