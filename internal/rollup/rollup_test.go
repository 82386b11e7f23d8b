package rollup

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/stats"
	"github.com/shinypull/backend/internal/streams"
)

func ended(creator uuid.UUID, at time.Time, hours float64, peak int, avg float64) models.StreamSession {
	return models.StreamSession{
		ID:             uuid.New(),
		CreatorID:      creator,
		StartedAt:      at.Add(-time.Hour),
		EndedAt:        &at,
		HoursWatched:   hours,
		PeakViewers:    peak,
		AverageViewers: avg,
	}
}

func stripUpdated(rows []models.DailyStat) []models.DailyStat {
	out := make([]models.DailyStat, len(rows))
	for i, r := range rows {
		r.UpdatedAt = time.Time{}
		out[i] = r
	}
	return out
}

func TestRun_Windows(t *testing.T) {
	sessions := streams.NewMemoryRepository()
	statRepo := stats.NewMemoryRepository()
	c := uuid.New()
	day := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	sessions.Put(ended(c, time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC), 10, 500, 100))
	sessions.Put(ended(c, time.Date(2026, 10, 15, 23, 59, 0, 0, time.UTC), 5, 300, 50))
	sessions.Put(ended(c, time.Date(2026, 10, 10, 8, 0, 0, 0, time.UTC), 20, 900, 400)) // 7d
	sessions.Put(ended(c, time.Date(2026, 10, 8, 8, 0, 0, 0, time.UTC), 40, 900, 400))  // 30d only
	sessions.Put(ended(c, time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC), 80, 900, 400))  // first day of 30d
	sessions.Put(ended(c, time.Date(2026, 9, 15, 23, 0, 0, 0, time.UTC), 1000, 1, 1))   // outside
	sessions.Put(ended(c, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), 1000, 1, 1))   // next day
	sessions.Put(models.StreamSession{ID: uuid.New(), CreatorID: c, StartedAt: day, PeakViewers: 9999})

	res, err := New(sessions, statRepo, time.UTC, nil).Run(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), res.Day)

	row, err := statRepo.Get(context.Background(), c, res.Day)
	require.NoError(t, err)
	assert.Equal(t, 15.0, row.HoursWatchedDay)
	assert.Equal(t, 35.0, row.HoursWatched7d)
	assert.Equal(t, 155.0, row.HoursWatched30d)
	assert.Equal(t, 500, row.PeakViewers, "open session peak is ignored")
	assert.Equal(t, 75.0, row.AverageViewers)
	assert.Equal(t, 2, row.SessionsCount)
}

func TestRun_Idempotent(t *testing.T) {
	sessions := streams.NewMemoryRepository()
	statRepo := stats.NewMemoryRepository()
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		c := uuid.New()
		sessions.Put(ended(c, day.Add(time.Duration(i+1)*time.Hour), float64(i)+0.5, 10*i, float64(i)))
		sessions.Put(ended(c, day.AddDate(0, 0, -3), 2, 1, 1))
	}
	agg := New(sessions, statRepo, time.UTC, nil)
	ctx := context.Background()

	_, err := agg.Run(ctx, day)
	require.NoError(t, err)
	first, _ := statRepo.ListBetween(ctx, day, day)

	_, err = agg.Run(ctx, day)
	require.NoError(t, err)
	second, _ := statRepo.ListBetween(ctx, day, day)

	require.Len(t, first, 3)
	assert.Equal(t, stripUpdated(first), stripUpdated(second))
	assert.Equal(t, 3, statRepo.Len(), "upserts never duplicate rows")
}

func TestRun_SingleSampleSessionCounted(t *testing.T) {
	sessions := streams.NewMemoryRepository()
	statRepo := stats.NewMemoryRepository()
	c := uuid.New()
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	sessions.Put(ended(c, day.Add(2*time.Hour), 0, 40, 40))

	_, err := New(sessions, statRepo, nil, nil).Run(context.Background(), day)
	require.NoError(t, err)
	row, err := statRepo.Get(context.Background(), c, day)
	require.NoError(t, err)
	assert.Equal(t, 1, row.SessionsCount)
	assert.Zero(t, row.HoursWatchedDay)
}

func TestRun_ReferenceTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	sessions := streams.NewMemoryRepository()
	statRepo := stats.NewMemoryRepository()
	c := uuid.New()
	// 2026-10-16 02:00 UTC is 2026-10-15 22:00 in New York.
	sessions.Put(ended(c, time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC), 3, 1, 1))

	res, err := New(sessions, statRepo, loc, nil).Run(context.Background(), time.Date(2026, 10, 15, 12, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), res.Day)
	row, err := statRepo.Get(context.Background(), c, res.Day)
	require.NoError(t, err)
	assert.Equal(t, 3.0, row.HoursWatchedDay)
}

func TestRun_CreatorWithOnlyOlderSessionsKeepsRollingTotals(t *testing.T) {
	sessions := streams.NewMemoryRepository()
	statRepo := stats.NewMemoryRepository()
	c := uuid.New()
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	sessions.Put(ended(c, day.AddDate(0, 0, -2), 4, 10, 10))

	_, err := New(sessions, statRepo, time.UTC, nil).Run(context.Background(), day)
	require.NoError(t, err)
	row, err := statRepo.Get(context.Background(), c, day)
	require.NoError(t, err)
	assert.Zero(t, row.SessionsCount)
	assert.Zero(t, row.HoursWatchedDay)
	assert.Equal(t, 4.0, row.HoursWatched7d)
}

type failingStats struct{ calls int }

func (f *failingStats) Upsert(context.Context, *models.DailyStat) error {
	f.calls++
	return errors.New("deadlock detected")
}

func TestRun_UpsertFailureContinues(t *testing.T) {
	sessions := streams.NewMemoryRepository()
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	sessions.Put(ended(uuid.New(), day.Add(time.Hour), 1, 1, 1))
	sessions.Put(ended(uuid.New(), day.Add(time.Hour), 1, 1, 1))
	fs := &failingStats{}

	res, err := New(sessions, fs, time.UTC, nil).Run(context.Background(), day)
	require.Error(t, err)
	assert.Equal(t, 2, fs.calls)
	assert.Equal(t, 2, res.Failed)
}

func TestRunRange(t *testing.T) {
	agg := New(streams.NewMemoryRepository(), stats.NewMemoryRepository(), time.UTC, nil)
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	out, err := agg.RunRange(context.Background(), from, from.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, from.AddDate(0, 0, 2), out[2].Day)

	_, err = agg.RunRange(context.Background(), from, from.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, ErrInvalidWindow)
}
