package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shinypull/backend/internal/jobs"
	"github.com/shinypull/backend/internal/quality"
	"github.com/shinypull/backend/internal/rollup"
	"github.com/shinypull/backend/internal/tracker"
	"github.com/shinypull/backend/pkg/queue"
)

// CycleRunner runs poll cycles.
type CycleRunner interface {
	Platforms() []string
	RunPlatforms(ctx context.Context, platforms []string) ([]tracker.CycleResult, error)
}

// Rollup recomputes daily stats.
type Rollup interface {
	Location() *time.Location
	RunRange(ctx context.Context, from, to time.Time) ([]rollup.Result, error)
}

// Backfill repairs sentinel rows.
type Backfill interface {
	Run(ctx context.Context, from, to time.Time) (quality.BackfillResult, error)
}

// JobQueue is the subset of the Redis queue the worker loop needs.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor executes poll, rollup and backfill work, either from the job queue or on a schedule.
type Processor struct {
	cycle    CycleRunner
	rollup   Rollup
	backfill Backfill
	queue    JobQueue
	logger   *zap.Logger
	metrics  *jobs.Metrics
	now      func() time.Time
	backoff  time.Duration
}

// NewProcessor creates a processor. q may be nil when only the scheduler is used.
func NewProcessor(cycle CycleRunner, agg Rollup, bf Backfill, q JobQueue, logger *zap.Logger, metrics *jobs.Metrics) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		cycle:    cycle,
		rollup:   agg,
		backfill: bf,
		queue:    q,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		backoff:  queue.RetryBackoff,
	}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypePollCycle:
		var payload queue.PollCyclePayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, err := p.PollCycle(ctx, payload.Platforms)
		return err
	case queue.JobTypeRollup:
		var payload queue.RollupPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, err := p.Rollup(ctx, payload)
		return err
	case queue.JobTypeBackfill:
		var payload queue.BackfillPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, err := p.Backfill(ctx, payload.From, payload.To)
		return err
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// PollCycle runs one cycle for each platform, or every configured platform when none are given.
func (p *Processor) PollCycle(ctx context.Context, platforms []string) ([]tracker.CycleResult, error) {
	if len(platforms) == 0 {
		platforms = p.cycle.Platforms()
	}
	start := time.Now()
	results, err := p.cycle.RunPlatforms(ctx, platforms)
	p.observe(jobs.JobTypePollCycle, start, err)
	return results, err
}

// Rollup recomputes the requested days. An empty From means yesterday in the rollup timezone.
func (p *Processor) Rollup(ctx context.Context, payload queue.RollupPayload) ([]rollup.Result, error) {
	from, to, err := p.rollupDays(payload)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	results, err := p.rollup.RunRange(ctx, from, to)
	p.observe(jobs.JobTypeRollup, start, err)
	return results, err
}

func (p *Processor) rollupDays(payload queue.RollupPayload) (time.Time, time.Time, error) {
	loc := p.rollup.Location()
	if payload.From == "" {
		y := rollup.DayStart(p.now(), loc).AddDate(0, 0, -1)
		return y, y, nil
	}
	from, err := time.ParseInLocation(time.DateOnly, payload.From, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("rollup from: %w", err)
	}
	if payload.To == "" {
		return from, from, nil
	}
	to, err := time.ParseInLocation(time.DateOnly, payload.To, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("rollup to: %w", err)
	}
	return from, to, nil
}

// Backfill repairs sentinel rows in [from, to).
func (p *Processor) Backfill(ctx context.Context, from, to time.Time) (quality.BackfillResult, error) {
	start := time.Now()
	res, err := p.backfill.Run(ctx, from, to)
	p.observe(jobs.JobTypeBackfill, start, err)
	return res, err
}

func (p *Processor) observe(jobType string, start time.Time, err error) {
	status := jobs.StatusSuccess
	if err != nil {
		status = jobs.StatusFailure
	}
	p.metrics.IncJobsTotal(jobType, status)
	p.metrics.ObserveJobDuration(jobType, time.Since(start).Seconds())
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("job worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
			if reErr := p.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
			continue
		}
		p.logger.Info("job completed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	}
}

// Schedule runs poll cycles every pollEvery and yesterday's rollup every rollupEvery until
// ctx is done. A zero interval disables that schedule. Cycles never overlap: a tick that
// arrives while one is running is dropped by the ticker.
func (p *Processor) Schedule(ctx context.Context, pollEvery, rollupEvery time.Duration) {
	var pollC, rollupC <-chan time.Time
	if pollEvery > 0 {
		t := time.NewTicker(pollEvery)
		defer t.Stop()
		pollC = t.C
	}
	if rollupEvery > 0 {
		t := time.NewTicker(rollupEvery)
		defer t.Stop()
		rollupC = t.C
	}
	if pollC == nil && rollupC == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("scheduler stopping")
			return
		case <-pollC:
			if _, err := p.PollCycle(ctx, nil); err != nil && ctx.Err() == nil {
				p.logger.Error("scheduled poll cycle failed", zap.Error(err))
			}
		case <-rollupC:
			if _, err := p.Rollup(ctx, queue.RollupPayload{}); err != nil && ctx.Err() == nil {
				p.logger.Error("scheduled rollup failed", zap.Error(err))
			}
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
