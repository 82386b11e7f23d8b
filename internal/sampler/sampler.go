// Package sampler records one viewer sample per live creator per poll cycle.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shinypull/backend/internal/jobs"
	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/platform"
	"github.com/shinypull/backend/internal/quality"
)

// ErrPeakNotUpdated means the sample was stored but the session peak could not be raised.
var ErrPeakNotUpdated = errors.New("sample stored, peak not updated")

// Store is the persistence the sampler writes to.
type Store interface {
	InsertSample(ctx context.Context, sample *models.Sample) error
	UpdatePeakViewers(ctx context.Context, sessionID uuid.UUID, peak int) error
}

// Sampler appends samples to open sessions.
type Sampler struct {
	store   Store
	logger  *zap.Logger
	metrics *jobs.Metrics
}

// New creates a sampler.
func New(store Store, logger *zap.Logger, metrics *jobs.Metrics) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{store: store, logger: logger, metrics: metrics}
}

// Record stores one sample for session at the cycle timestamp and raises the session peak.
// A count that fails the quality check is not stored and the returned error wraps
// quality.ErrRejectedViewerCount; the session stays open with a gap for this cycle.
func (s *Sampler) Record(ctx context.Context, platformName string, session *models.StreamSession, stream platform.Stream, at time.Time) error {
	count, err := quality.CheckViewerCount(stream.Viewers)
	if err != nil {
		s.metrics.IncSamples(platformName, jobs.SampleRejected)
		s.logger.Warn("viewer count rejected",
			zap.String("session_id", session.ID.String()), zap.String("creator_id", session.CreatorID.String()), zap.Error(err))
		return err
	}

	sample := &models.Sample{
		SessionID:   session.ID,
		ViewerCount: count,
		RecordedAt:  at,
		Category:    stream.Category,
	}
	if err := s.store.InsertSample(ctx, sample); err != nil {
		s.metrics.IncSamples(platformName, jobs.SampleFailed)
		return fmt.Errorf("insert sample: %w", err)
	}
	s.metrics.IncSamples(platformName, jobs.SampleStored)

	if count > session.PeakViewers {
		if err := s.store.UpdatePeakViewers(ctx, session.ID, count); err != nil {
			return fmt.Errorf("%w: %w", ErrPeakNotUpdated, err)
		}
		session.PeakViewers = count
	}
	return nil
}
