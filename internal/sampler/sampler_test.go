package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinypull/backend/internal/jobs"
	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/platform"
	"github.com/shinypull/backend/internal/quality"
	"github.com/shinypull/backend/internal/streams"
)

func openSession(t *testing.T, repo *streams.MemoryRepository) *models.StreamSession {
	t.Helper()
	s, err := repo.Open(context.Background(), &models.StreamSession{
		CreatorID: uuid.New(), ExternalStreamID: "A", StartedAt: time.Unix(0, 0),
	})
	require.NoError(t, err)
	return s
}

func TestRecord_StoresSampleAndRaisesPeak(t *testing.T) {
	repo := streams.NewMemoryRepository()
	s := New(repo, nil, jobs.NewMetrics())
	session := openSession(t, repo)
	t0 := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "twitch", session, platform.Stream{Viewers: platform.Observed(150), Category: "IRL"}, t0))
	require.NoError(t, s.Record(ctx, "twitch", session, platform.Stream{Viewers: platform.Observed(90)}, t0.Add(5*time.Minute)))

	samples, err := repo.ListSamples(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 150, samples[0].ViewerCount)
	assert.Equal(t, "IRL", samples[0].Category)
	assert.Equal(t, 90, samples[1].ViewerCount)

	stored, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 150, stored.PeakViewers, "peak never decreases")
}

func TestRecord_ObservedZeroIsStored(t *testing.T) {
	repo := streams.NewMemoryRepository()
	session := openSession(t, repo)
	require.NoError(t, New(repo, nil, nil).Record(context.Background(), "kick", session,
		platform.Stream{Viewers: platform.Observed(0)}, time.Now()))
	assert.Equal(t, 1, repo.SampleInserts)
}

func TestRecord_RejectsFailedCount(t *testing.T) {
	repo := streams.NewMemoryRepository()
	session := openSession(t, repo)
	err := New(repo, nil, nil).Record(context.Background(), "twitch", session,
		platform.Stream{Viewers: platform.FailedCount("null viewer_count")}, time.Now())

	assert.ErrorIs(t, err, quality.ErrSentinelViewerCount)
	assert.Equal(t, 0, repo.SampleInserts)
	stored, _ := repo.GetByID(context.Background(), session.ID)
	assert.Equal(t, 0, stored.PeakViewers)
}

type failingStore struct{}

func (failingStore) InsertSample(context.Context, *models.Sample) error { return errors.New("db down") }
func (failingStore) UpdatePeakViewers(context.Context, uuid.UUID, int) error {
	return nil
}

func TestRecord_StoreFailure(t *testing.T) {
	session := &models.StreamSession{ID: uuid.New()}
	err := New(failingStore{}, nil, nil).Record(context.Background(), "twitch", session,
		platform.Stream{Viewers: platform.Observed(10)}, time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, quality.ErrRejectedViewerCount)
	assert.Equal(t, 0, session.PeakViewers)
}

type peakFailStore struct {
	*streams.MemoryRepository
}

func (peakFailStore) UpdatePeakViewers(context.Context, uuid.UUID, int) error {
	return errors.New("deadlock detected")
}

func TestRecord_PeakFailureKeepsSample(t *testing.T) {
	repo := streams.NewMemoryRepository()
	session := openSession(t, repo)
	err := New(peakFailStore{repo}, nil, nil).Record(context.Background(), "twitch", session,
		platform.Stream{Viewers: platform.Observed(25)}, time.Now())

	assert.ErrorIs(t, err, ErrPeakNotUpdated)
	assert.Equal(t, 1, repo.SampleInserts)
	assert.Equal(t, 0, session.PeakViewers)
}
