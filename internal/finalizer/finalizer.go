// Package finalizer turns a closed session's samples into its summary metrics.
package finalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/quality"
)

// Store is the persistence the finalizer reads and writes.
type Store interface {
	ListSamples(ctx context.Context, sessionID uuid.UUID) ([]models.Sample, error)
	Finalize(ctx context.Context, sessionID uuid.UUID, sum models.SessionSummary) error
}

// Archiver receives the samples of a finalized session.
type Archiver interface {
	Archive(ctx context.Context, session *models.StreamSession, samples []models.Sample) error
}

// Finalizer computes and writes session summaries.
type Finalizer struct {
	store    Store
	archiver Archiver
	logger   *zap.Logger
}

// New creates a finalizer. archiver may be nil.
func New(store Store, archiver Archiver, logger *zap.Logger) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{store: store, archiver: archiver, logger: logger}
}

// Summarize computes the summary for samples ordered by recorded_at.
//
// With fewer than two samples there is no measurable duration: hours watched is 0 and the
// average is the last count (or 0). Otherwise the average is the plain mean of the counts
// and hours watched is average × (last − first) in hours.
func Summarize(samples []models.Sample, endedAt time.Time, peak int) models.SessionSummary {
	sum := models.SessionSummary{EndedAt: endedAt, PeakViewers: peak, SampleCount: len(samples)}
	for _, s := range samples {
		sum.PeakViewers = max(sum.PeakViewers, s.ViewerCount)
	}
	if len(samples) < 2 {
		if len(samples) == 1 {
			sum.AverageViewers = float64(samples[0].ViewerCount)
		}
		return sum
	}
	total := 0
	for _, s := range samples {
		total += s.ViewerCount
	}
	sum.AverageViewers = float64(total) / float64(len(samples))
	duration := samples[len(samples)-1].RecordedAt.Sub(samples[0].RecordedAt).Hours()
	sum.HoursWatched = sum.AverageViewers * duration
	return sum
}

// Finalize closes session at endedAt with metrics recomputed from its samples.
// Running it again on the same session overwrites the metrics with the same values.
func (f *Finalizer) Finalize(ctx context.Context, session *models.StreamSession, endedAt time.Time) (models.SessionSummary, error) {
	samples, err := f.store.ListSamples(ctx, session.ID)
	if err != nil {
		return models.SessionSummary{}, fmt.Errorf("list samples: %w", err)
	}
	samples, dropped := quality.FilterSamples(samples)
	if dropped > 0 {
		f.logger.Warn("invalid samples ignored", zap.String("session_id", session.ID.String()), zap.Int("dropped", dropped))
	}

	sum := Summarize(samples, endedAt, session.PeakViewers)
	if err := f.store.Finalize(ctx, session.ID, sum); err != nil {
		return models.SessionSummary{}, fmt.Errorf("write summary: %w", err)
	}
	f.logger.Info("session finalized",
		zap.String("session_id", session.ID.String()),
		zap.String("creator_id", session.CreatorID.String()),
		zap.Int("samples", sum.SampleCount),
		zap.Float64("hours_watched", sum.HoursWatched),
		zap.Int("peak_viewers", sum.PeakViewers))

	if f.archiver != nil {
		if err := f.archiver.Archive(ctx, session, samples); err != nil {
			f.logger.Warn("sample archive failed", zap.String("session_id", session.ID.String()), zap.Error(err))
		}
	}
	return sum, nil
}
