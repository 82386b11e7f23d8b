package tracker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shinypull/backend/internal/events"
	"github.com/shinypull/backend/internal/finalizer"
	"github.com/shinypull/backend/internal/jobs"
	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/platform"
	"github.com/shinypull/backend/internal/poller"
	"github.com/shinypull/backend/internal/quality"
	"github.com/shinypull/backend/internal/sampler"
)

// DefaultWorkers is the number of creator partitions processed in parallel.
const DefaultWorkers = 8

// CreatorSource lists the creators to poll.
type CreatorSource interface {
	ListByPlatform(ctx context.Context, platform string) ([]models.Creator, error)
}

// SessionStore is the session persistence used by the cycle.
type SessionStore interface {
	GetOpenByCreator(ctx context.Context, creatorID uuid.UUID) (*models.StreamSession, error)
	Open(ctx context.Context, s *models.StreamSession) (*models.StreamSession, error)
	RefreshMetadata(ctx context.Context, sessionID uuid.UUID, title, category string) error
	sampler.Store
	finalizer.Store
}

// Poller resolves verdicts for a list of targets.
type Poller interface {
	Poll(ctx context.Context, targets []poller.Target) map[uuid.UUID]platform.Verdict
}

// ReviewRecorder tracks consecutive Unknown verdicts.
type ReviewRecorder interface {
	Observe(ctx context.Context, creatorID uuid.UUID, unknown bool) (bool, error)
}

// CycleResult summarizes one poll cycle for one platform.
type CycleResult struct {
	Platform        string        `json:"platform"`
	At              time.Time     `json:"at"`
	Creators        int           `json:"creators"`
	Live            int           `json:"live"`
	NotLive         int           `json:"not_live"`
	Unknown         int           `json:"unknown"`
	Opened          int           `json:"opened"`
	Finalized       int           `json:"finalized"`
	Samples         int           `json:"samples"`
	RejectedSamples int           `json:"rejected_samples"`
	SkippedWrites   int           `json:"skipped_writes"`
	Flagged         int           `json:"flagged"`
	Duration        time.Duration `json:"duration"`
}

func (r *CycleResult) add(o CycleResult) {
	r.Opened += o.Opened
	r.Finalized += o.Finalized
	r.Samples += o.Samples
	r.RejectedSamples += o.RejectedSamples
	r.SkippedWrites += o.SkippedWrites
	r.Flagged += o.Flagged
}

// Config tunes the cycle runner.
type Config struct {
	Workers int
	// Now is the clock; one reading is taken per cycle and used for every write in it.
	Now func() time.Time
}

// Cycle runs poll → decide → sample/finalize for one platform at a time.
type Cycle struct {
	creators  CreatorSource
	sessions  SessionStore
	pollers   map[string]Poller
	sampler   *sampler.Sampler
	finalizer *finalizer.Finalizer
	events    events.Publisher
	review    ReviewRecorder
	cfg       Config
	logger    *zap.Logger
	metrics   *jobs.Metrics
}

// NewCycle creates a cycle runner. pollers is keyed by platform name.
func NewCycle(creators CreatorSource, sessions SessionStore, pollers map[string]Poller,
	smp *sampler.Sampler, fin *finalizer.Finalizer, cfg Config, logger *zap.Logger, metrics *jobs.Metrics) *Cycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cycle{
		creators:  creators,
		sessions:  sessions,
		pollers:   pollers,
		sampler:   smp,
		finalizer: fin,
		events:    events.Nop{},
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// WithEvents sets the session event publisher.
func (c *Cycle) WithEvents(p events.Publisher) *Cycle {
	if p != nil {
		c.events = p
	}
	return c
}

// WithReview sets the Unknown streak recorder.
func (c *Cycle) WithReview(r ReviewRecorder) *Cycle {
	c.review = r
	return c
}

// Platforms returns the platforms this runner can poll.
func (c *Cycle) Platforms() []string {
	names := make([]string, 0, len(c.pollers))
	for name := range c.pollers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunCycle polls every creator of platformName once. Only an unknown platform or a failed
// creator listing is returned as an error; per-creator failures are counted and logged.
func (c *Cycle) RunCycle(ctx context.Context, platformName string) (CycleResult, error) {
	start := time.Now()
	at := c.cfg.Now().UTC()
	res := CycleResult{Platform: platformName, At: at}

	p, ok := c.pollers[platformName]
	if !ok {
		return res, fmt.Errorf("%w: %s", platform.ErrUnsupportedPlatform, platformName)
	}
	list, err := c.creators.ListByPlatform(ctx, platformName)
	if err != nil {
		return res, fmt.Errorf("list creators: %w", err)
	}
	res.Creators = len(list)

	targets := make([]poller.Target, len(list))
	for i, cr := range list {
		targets[i] = poller.Target{CreatorID: cr.ID, PlatformID: cr.PlatformID}
	}
	verdicts := p.Poll(ctx, targets)
	for _, cr := range list {
		switch verdicts[cr.ID].Status {
		case platform.StatusLive:
			res.Live++
		case platform.StatusNotLive:
			res.NotLive++
		default:
			res.Unknown++
		}
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, part := range Partition(list, c.cfg.Workers) {
		if len(part) == 0 {
			continue
		}
		g.Go(func() error {
			var local CycleResult
			for _, cr := range part {
				if ctx.Err() != nil {
					return nil
				}
				local.add(c.processCreator(ctx, platformName, cr, verdicts[cr.ID], at))
			}
			mu.Lock()
			res.add(local)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = time.Since(start)
	c.logger.Info("poll cycle complete",
		zap.String("platform", platformName),
		zap.Int("creators", res.Creators),
		zap.Int("live", res.Live),
		zap.Int("not_live", res.NotLive),
		zap.Int("unknown", res.Unknown),
		zap.Int("opened", res.Opened),
		zap.Int("finalized", res.Finalized),
		zap.Int("samples", res.Samples),
		zap.Int("rejected_samples", res.RejectedSamples),
		zap.Int("skipped_writes", res.SkippedWrites),
		zap.Duration("duration", res.Duration))
	return res, ctx.Err()
}

// RunPlatforms runs one cycle per platform concurrently. Platforms are independent: a
// failure on one does not stop the others; the errors are joined.
func (c *Cycle) RunPlatforms(ctx context.Context, platforms []string) ([]CycleResult, error) {
	results := make([]CycleResult, len(platforms))
	errs := make([]error, len(platforms))
	var g errgroup.Group
	for i, name := range platforms {
		g.Go(func() error {
			results[i], errs[i] = c.RunCycle(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// Partition assigns each creator to bucket hash(id) % n so all of a creator's writes in a
// cycle run on one worker, in order. Creator order within a bucket is preserved.
func Partition(list []models.Creator, n int) [][]models.Creator {
	if n <= 0 {
		n = 1
	}
	parts := make([][]models.Creator, n)
	for _, cr := range list {
		h := fnv.New32a()
		_, _ = h.Write(cr.ID[:])
		i := h.Sum32() % uint32(n)
		parts[i] = append(parts[i], cr)
	}
	return parts
}

func (c *Cycle) processCreator(ctx context.Context, platformName string, cr models.Creator, v platform.Verdict, at time.Time) CycleResult {
	var out CycleResult
	log := c.logger.With(zap.String("platform", platformName), zap.String("creator_id", cr.ID.String()))

	if c.review != nil {
		flagged, err := c.review.Observe(ctx, cr.ID, v.Status == platform.StatusUnknown)
		if err != nil {
			log.Warn("review tracker update failed", zap.Error(err))
		} else if flagged {
			out.Flagged++
		}
	}
	if v.Status == platform.StatusUnknown {
		log.Debug("verdict unknown, session left as is", zap.String("reason", v.Reason))
		return out
	}

	open, err := c.sessions.GetOpenByCreator(ctx, cr.ID)
	if err != nil {
		log.Error("load open session failed", zap.Error(err))
		return c.skip(platformName, out)
	}

	switch Decide(open, v) {
	case ActionNone:
		return out
	case ActionClose:
		if !c.finalize(ctx, platformName, open, at, log) {
			return c.skip(platformName, out)
		}
		out.Finalized++
		return out
	case ActionRotate:
		if !c.finalize(ctx, platformName, open, at, log) {
			return c.skip(platformName, out)
		}
		out.Finalized++
		open = nil
	case ActionContinue:
		if open.Title != v.Stream.Title || open.Category != v.Stream.Category {
			if err := c.sessions.RefreshMetadata(ctx, open.ID, v.Stream.Title, v.Stream.Category); err != nil {
				log.Warn("refresh session metadata failed", zap.Error(err))
			}
		}
	}

	if open == nil {
		open, err = c.open(ctx, platformName, cr, v.Stream, at)
		if err != nil {
			log.Error("open session failed", zap.Error(err))
			return c.skip(platformName, out)
		}
		out.Opened++
	}

	if err := c.sampler.Record(ctx, platformName, open, v.Stream, at); err != nil {
		if errors.Is(err, quality.ErrRejectedViewerCount) {
			out.RejectedSamples++
			return out
		}
		if errors.Is(err, sampler.ErrPeakNotUpdated) {
			log.Warn("session peak not raised", zap.Error(err))
			out.Samples++
			return c.skip(platformName, out)
		}
		log.Error("record sample failed", zap.Error(err))
		return c.skip(platformName, out)
	}
	out.Samples++
	return out
}

func (c *Cycle) skip(platformName string, out CycleResult) CycleResult {
	out.SkippedWrites++
	c.metrics.IncSkippedWrites(platformName)
	return out
}

func (c *Cycle) open(ctx context.Context, platformName string, cr models.Creator, stream platform.Stream, at time.Time) (*models.StreamSession, error) {
	startedAt := stream.StartedAt
	if startedAt.IsZero() {
		startedAt = at
	}
	s, err := c.sessions.Open(ctx, &models.StreamSession{
		CreatorID:        cr.ID,
		ExternalStreamID: stream.ExternalStreamID,
		StartedAt:        startedAt,
		Title:            stream.Title,
		Category:         stream.Category,
	})
	if err != nil {
		return nil, err
	}
	c.metrics.IncSessionsOpened(platformName)
	c.logger.Info("session opened",
		zap.String("platform", platformName),
		zap.String("creator_id", cr.ID.String()),
		zap.String("session_id", s.ID.String()),
		zap.String("external_stream_id", s.ExternalStreamID))
	c.publish(ctx, events.SessionOpened, events.SessionEvent{
		SessionID:        s.ID,
		CreatorID:        cr.ID,
		Platform:         platformName,
		ExternalStreamID: s.ExternalStreamID,
		Title:            s.Title,
		Category:         s.Category,
	})
	return s, nil
}

func (c *Cycle) finalize(ctx context.Context, platformName string, s *models.StreamSession, at time.Time, log *zap.Logger) bool {
	sum, err := c.finalizer.Finalize(ctx, s, at)
	if err != nil {
		log.Error("finalize session failed", zap.String("session_id", s.ID.String()), zap.Error(err))
		return false
	}
	c.metrics.IncSessionsFinalized(platformName)
	c.publish(ctx, events.SessionClosed, events.SessionEvent{
		SessionID:        s.ID,
		CreatorID:        s.CreatorID,
		Platform:         platformName,
		ExternalStreamID: s.ExternalStreamID,
		HoursWatched:     sum.HoursWatched,
		PeakViewers:      sum.PeakViewers,
	})
	return true
}

func (c *Cycle) publish(ctx context.Context, event string, data events.SessionEvent) {
	if err := c.events.Publish(ctx, event, data); err != nil {
		c.logger.Warn("publish session event failed", zap.String("event", event), zap.Error(err))
	}
}
