package quality

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/rollup"
	"github.com/shinypull/backend/internal/stats"
	"github.com/shinypull/backend/internal/streams"
)

func good(peak int, avg float64) Reading { return Reading{Peak: peak, Average: avg, Good: true} }

var bad = Reading{Bad: true}

func TestCarryForward(t *testing.T) {
	tests := []struct {
		name   string
		series []Reading
		want   []Fix
	}{
		{
			name:   "preceding good value wins over following",
			series: []Reading{good(100, 100), bad, bad, good(400, 400)},
			want:   []Fix{{Index: 1, Source: 0}, {Index: 2, Source: 0}},
		},
		{
			name:   "leading bad rows take the nearest following value",
			series: []Reading{bad, bad, good(7, 7), bad},
			want:   []Fix{{Index: 0, Source: 2}, {Index: 1, Source: 2}, {Index: 3, Source: 2}},
		},
		{
			name:   "latest preceding good value is used",
			series: []Reading{good(1, 1), good(2, 2), bad},
			want:   []Fix{{Index: 2, Source: 1}},
		},
		{
			name:   "neutral rows are skipped as sources",
			series: []Reading{good(5, 5), {}, bad},
			want:   []Fix{{Index: 2, Source: 0}},
		},
		{
			name:   "no good rows, nothing invented",
			series: []Reading{bad, bad},
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CarryForward(tt.series))
		})
	}
}

var incidentStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func session(creator uuid.UUID, ended time.Time, peak int, avg float64) models.StreamSession {
	return models.StreamSession{ID: uuid.New(), CreatorID: creator, StartedAt: ended.Add(-time.Hour), EndedAt: &ended,
		PeakViewers: peak, AverageViewers: avg}
}

func TestBackfill_SessionsCarryForward(t *testing.T) {
	repo := streams.NewMemoryRepository()
	c := uuid.New()
	repo.Put(session(c, incidentStart.Add(-24*time.Hour), 100, 100))
	repo.Put(session(c, incidentStart.Add(2*time.Hour), 0, 0))
	repo.Put(session(c, incidentStart.Add(26*time.Hour), 0, 0))
	repo.Put(session(c, incidentStart.Add(72*time.Hour), 400, 400))
	other := uuid.New()
	repo.Put(session(other, incidentStart.Add(time.Hour), 30, 20))

	b := NewBackfiller(repo, stats.NewMemoryRepository(), nil)
	res, err := b.Run(context.Background(), incidentStart, incidentStart.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, res.SessionsBad)
	assert.Equal(t, 2, res.SessionsRepaired)

	history, err := repo.ListFinalizedByCreator(context.Background(), c)
	require.NoError(t, err)
	var peaks []int
	for _, s := range history {
		peaks = append(peaks, s.PeakViewers)
	}
	assert.Equal(t, []int{100, 100, 100, 400}, peaks)

	again, err := b.Run(context.Background(), incidentStart, incidentStart.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Zero(t, again.SessionsBad, "re-run finds nothing to repair")
}

func TestBackfill_SessionsOutsideWindowUntouched(t *testing.T) {
	repo := streams.NewMemoryRepository()
	c := uuid.New()
	repo.Put(session(c, incidentStart.Add(-48*time.Hour), 0, 0))
	repo.Put(session(c, incidentStart.Add(-24*time.Hour), 50, 50))
	repo.Put(session(c, incidentStart.Add(time.Hour), 0, 0))

	res, err := NewBackfiller(repo, stats.NewMemoryRepository(), nil).
		Run(context.Background(), incidentStart, incidentStart.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.SessionsRepaired)

	history, _ := repo.ListFinalizedByCreator(context.Background(), c)
	assert.Equal(t, 0, history[0].PeakViewers, "row before the window is not repaired")
	assert.Equal(t, 50, history[2].PeakViewers)
}

func TestBackfill_DailyStats(t *testing.T) {
	statRepo := stats.NewMemoryRepository()
	ctx := context.Background()
	c := uuid.New()
	rows := []models.DailyStat{
		{CreatorID: c, Day: incidentStart.AddDate(0, 0, -1), PeakViewers: 100, AverageViewers: 90, SessionsCount: 1},
		{CreatorID: c, Day: incidentStart, SessionsCount: 2},
		{CreatorID: c, Day: incidentStart.AddDate(0, 0, 1), SessionsCount: 1},
		{CreatorID: c, Day: incidentStart.AddDate(0, 0, 2), PeakViewers: 400, AverageViewers: 380, SessionsCount: 1},
		{CreatorID: c, Day: incidentStart.AddDate(0, 0, 3)},
	}
	for i := range rows {
		require.NoError(t, statRepo.Upsert(ctx, &rows[i]))
	}

	res, err := NewBackfiller(streams.NewMemoryRepository(), statRepo, nil).
		Run(ctx, incidentStart, incidentStart.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, res.StatsBad)
	assert.Equal(t, 2, res.StatsRepaired)

	for _, d := range []time.Time{incidentStart, incidentStart.AddDate(0, 0, 1)} {
		row, err := statRepo.Get(ctx, c, d)
		require.NoError(t, err)
		assert.Equal(t, 100, row.PeakViewers)
		assert.Equal(t, 90.0, row.AverageViewers)
	}
	quiet, err := statRepo.Get(ctx, c, incidentStart.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Zero(t, quiet.PeakViewers, "a day without sessions is not a sentinel")
}

func TestBackfill_NoGoodNeighbor(t *testing.T) {
	repo := streams.NewMemoryRepository()
	c := uuid.New()
	repo.Put(session(c, incidentStart.Add(time.Hour), 0, 0))

	res, err := NewBackfiller(repo, stats.NewMemoryRepository(), nil).
		Run(context.Background(), incidentStart, incidentStart.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unrepairable)
	assert.Zero(t, res.SessionsRepaired)
}

func TestBackfill_InvalidWindow(t *testing.T) {
	_, err := NewBackfiller(streams.NewMemoryRepository(), stats.NewMemoryRepository(), nil).
		Run(context.Background(), incidentStart, incidentStart)
	assert.Error(t, err)
}

func TestBackfill_RestoresHoursAndDailyRows(t *testing.T) {
	ctx := context.Background()
	repo := streams.NewMemoryRepository()
	statRepo := stats.NewMemoryRepository()
	c := uuid.New()
	healthy := session(c, incidentStart.Add(-22*time.Hour), 100, 100)
	healthy.HoursWatched = 100
	repo.Put(healthy)
	zeroed := session(c, incidentStart.Add(3*time.Hour), 0, 0)
	repo.Put(zeroed)
	// The daily row written during the incident carries the zeroed session.
	require.NoError(t, statRepo.Upsert(ctx, &models.DailyStat{CreatorID: c, Day: incidentStart, SessionsCount: 1}))

	agg := rollup.New(repo, statRepo, time.UTC, nil)
	var recomputed [2]time.Time
	b := NewBackfiller(repo, statRepo, nil).WithRecompute(func(ctx context.Context, from, to time.Time) error {
		recomputed = [2]time.Time{from, to}
		_, err := agg.RunRange(ctx, from, to)
		return err
	})
	b.now = func() time.Time { return incidentStart.AddDate(0, 0, 5) }

	res, err := b.Run(ctx, incidentStart, incidentStart.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.SessionsRepaired)
	assert.Equal(t, 6, res.DaysRecomputed)
	assert.True(t, recomputed[1].Equal(incidentStart.AddDate(0, 0, 5)), "recompute stops at now")
	assert.Zero(t, res.StatsBad, "recomputed rows are no longer zeroed")

	fixed, err := repo.GetByID(ctx, zeroed.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, fixed.PeakViewers)
	assert.InDelta(t, 100.0, fixed.HoursWatched, 1e-9, "hours = average × duration")

	row, err := statRepo.Get(ctx, c, incidentStart)
	require.NoError(t, err)
	assert.Equal(t, 100, row.PeakViewers)
	assert.InDelta(t, 100.0, row.HoursWatchedDay, 1e-9)
	assert.InDelta(t, 200.0, row.HoursWatched7d, 1e-9)

	later, err := statRepo.Get(ctx, c, incidentStart.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.InDelta(t, 200.0, later.HoursWatched7d, 1e-9, "later windows include the repaired session")
}

func TestSessionHours(t *testing.T) {
	s := session(uuid.New(), incidentStart, 0, 0)
	assert.Equal(t, 1.0, SessionHours(s))
	assert.Zero(t, SessionHours(models.StreamSession{StartedAt: incidentStart}))
}
