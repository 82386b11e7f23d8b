package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/rollup"
)

// Reading is one row of a creator's chronological series. Bad rows are repair targets;
// Good rows may serve as the source of a repair. A row can be neither, for example a
// zeroed row outside the repair window.
type Reading struct {
	Peak    int
	Average float64
	Bad     bool
	Good    bool
}

// Fix replaces the reading at Index with the values of the reading at Source.
type Fix struct {
	Index  int
	Source int
}

// CarryForward plans repairs for a chronologically ordered series. Each bad reading takes
// the nearest preceding good reading, or the nearest following one when none precedes it.
// Bad readings with no good reading on either side are left out. Nothing is interpolated.
func CarryForward(series []Reading) []Fix {
	var fixes []Fix
	lastGood := -1
	var pending []int
	for i, r := range series {
		switch {
		case r.Good:
			for _, p := range pending {
				fixes = append(fixes, Fix{Index: p, Source: i})
			}
			pending = nil
			lastGood = i
		case r.Bad:
			if lastGood >= 0 {
				fixes = append(fixes, Fix{Index: i, Source: lastGood})
			} else {
				pending = append(pending, i)
			}
		}
	}
	return fixes
}

// IsSentinelSession matches a finalized session whose viewer metrics were zeroed by a failed lookup.
func IsSentinelSession(s models.StreamSession) bool {
	return s.EndedAt != nil && s.PeakViewers == 0 && s.AverageViewers == 0
}

// IsSentinelStat matches a daily row that counts sessions but carries zero viewer metrics.
func IsSentinelStat(d models.DailyStat) bool {
	return d.SessionsCount > 0 && d.PeakViewers == 0 && d.AverageViewers == 0
}

// SessionHistory is the session store used by the backfill.
type SessionHistory interface {
	ListEndedBetween(ctx context.Context, from, to time.Time) ([]models.StreamSession, error)
	ListFinalizedByCreator(ctx context.Context, creatorID uuid.UUID) ([]models.StreamSession, error)
	UpdateViewerMetrics(ctx context.Context, sessionID uuid.UUID, peak int, average, hours float64) error
}

// StatHistory is the daily stat store used by the backfill.
type StatHistory interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]models.DailyStat, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID, from, to time.Time) ([]models.DailyStat, error)
	UpdateViewerMetrics(ctx context.Context, creatorID uuid.UUID, day time.Time, peak int, average float64) error
}

// BackfillResult counts what one pass found and repaired.
type BackfillResult struct {
	SessionsBad      int `json:"sessions_bad"`
	SessionsRepaired int `json:"sessions_repaired"`
	StatsBad         int `json:"stats_bad"`
	StatsRepaired    int `json:"stats_repaired"`
	DaysRecomputed   int `json:"days_recomputed"`
	Unrepairable     int `json:"unrepairable"`
}

// Recompute rebuilds the daily rows for every day from `from` through `to` inclusive.
type Recompute func(ctx context.Context, from, to time.Time) error

var (
	historyStart = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	historyEnd   = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// Backfiller repairs zeroed viewer metrics left by a historical incident.
type Backfiller struct {
	sessions  SessionHistory
	stats     StatHistory
	recompute Recompute
	now       func() time.Time
	logger    *zap.Logger
}

// NewBackfiller creates a backfiller.
func NewBackfiller(sessions SessionHistory, stats StatHistory, logger *zap.Logger) *Backfiller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backfiller{sessions: sessions, stats: stats, now: time.Now, logger: logger}
}

// WithRecompute makes Run rebuild the daily rows whose windows contain a repaired session,
// before daily rows are themselves repaired.
func (b *Backfiller) WithRecompute(fn Recompute) *Backfiller {
	b.recompute = fn
	return b
}

// Run repairs sentinel rows inside [from, to): sessions by ended_at, daily rows by day.
// Good rows anywhere in a creator's history can be sources. A repaired session also gets
// hours watched back as average × (ended_at − started_at). When sessions were repaired the
// daily rows covering them are recomputed, then any daily row still zeroed is carried
// forward. Repaired rows no longer match the sentinel pattern, so running it again changes nothing.
func (b *Backfiller) Run(ctx context.Context, from, to time.Time) (BackfillResult, error) {
	var res BackfillResult
	if !to.After(from) {
		return res, fmt.Errorf("backfill window: %s is not after %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	if err := b.repairSessions(ctx, from, to, &res); err != nil {
		return res, err
	}
	if res.SessionsRepaired > 0 && b.recompute != nil {
		if err := b.recomputeDays(ctx, from, to, &res); err != nil {
			return res, err
		}
	}
	if err := b.repairStats(ctx, from, to, &res); err != nil {
		return res, err
	}
	b.logger.Info("backfill complete",
		zap.Time("from", from), zap.Time("to", to),
		zap.Int("sessions_bad", res.SessionsBad), zap.Int("sessions_repaired", res.SessionsRepaired),
		zap.Int("stats_bad", res.StatsBad), zap.Int("stats_repaired", res.StatsRepaired),
		zap.Int("days_recomputed", res.DaysRecomputed),
		zap.Int("unrepairable", res.Unrepairable))
	return res, nil
}

func (b *Backfiller) repairSessions(ctx context.Context, from, to time.Time, res *BackfillResult) error {
	window, err := b.sessions.ListEndedBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list sessions in window: %w", err)
	}
	for _, creatorID := range creatorsWith(window, func(s models.StreamSession) (uuid.UUID, bool) {
		return s.CreatorID, IsSentinelSession(s)
	}) {
		history, err := b.sessions.ListFinalizedByCreator(ctx, creatorID)
		if err != nil {
			return fmt.Errorf("list sessions for %s: %w", creatorID, err)
		}
		series := make([]Reading, len(history))
		for i, s := range history {
			inWindow := !s.EndedAt.Before(from) && s.EndedAt.Before(to)
			bad := IsSentinelSession(s)
			series[i] = Reading{Peak: s.PeakViewers, Average: s.AverageViewers, Bad: bad && inWindow, Good: !bad}
			if bad && inWindow {
				res.SessionsBad++
			}
		}
		fixes := CarryForward(series)
		for _, f := range fixes {
			target, src := history[f.Index], series[f.Source]
			hours := src.Average * SessionHours(target)
			if err := b.sessions.UpdateViewerMetrics(ctx, target.ID, src.Peak, src.Average, hours); err != nil {
				return fmt.Errorf("repair session %s: %w", target.ID, err)
			}
			res.SessionsRepaired++
		}
		res.Unrepairable += countBad(series) - len(fixes)
	}
	return nil
}

// recomputeDays rebuilds the days in the window plus the days after it whose 7 and 30 day
// windows reach back into it, up to now.
func (b *Backfiller) recomputeDays(ctx context.Context, from, to time.Time, res *BackfillResult) error {
	first := from
	last := to.Add(-time.Nanosecond).AddDate(0, 0, rollup.MonthDays-1)
	if now := b.now(); last.After(now) {
		last = now
	}
	if last.Before(first) {
		return nil
	}
	if err := b.recompute(ctx, first, last); err != nil {
		return fmt.Errorf("recompute daily stats: %w", err)
	}
	res.DaysRecomputed = int(dateOnly(last).Sub(dateOnly(first)).Hours()/24) + 1
	return nil
}

// SessionHours is the wall-clock length of a finalized session in hours.
func SessionHours(s models.StreamSession) float64 {
	if s.EndedAt == nil || s.EndedAt.Before(s.StartedAt) {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt).Hours()
}

func (b *Backfiller) repairStats(ctx context.Context, from, to time.Time, res *BackfillResult) error {
	fromDay := dateOnly(from)
	lastDay := dateOnly(to.Add(-time.Nanosecond))
	window, err := b.stats.ListBetween(ctx, fromDay, lastDay)
	if err != nil {
		return fmt.Errorf("list daily stats in window: %w", err)
	}
	for _, creatorID := range creatorsWith(window, func(d models.DailyStat) (uuid.UUID, bool) {
		return d.CreatorID, IsSentinelStat(d)
	}) {
		history, err := b.stats.ListByCreator(ctx, creatorID, historyStart, historyEnd)
		if err != nil {
			return fmt.Errorf("list daily stats for %s: %w", creatorID, err)
		}
		series := make([]Reading, len(history))
		for i, d := range history {
			day := dateOnly(d.Day)
			inWindow := !day.Before(fromDay) && !day.After(lastDay)
			bad := IsSentinelStat(d)
			series[i] = Reading{Peak: d.PeakViewers, Average: d.AverageViewers, Bad: bad && inWindow, Good: !bad && d.SessionsCount > 0}
			if bad && inWindow {
				res.StatsBad++
			}
		}
		fixes := CarryForward(series)
		for _, f := range fixes {
			target, src := history[f.Index], series[f.Source]
			if err := b.stats.UpdateViewerMetrics(ctx, creatorID, target.Day, src.Peak, src.Average); err != nil {
				return fmt.Errorf("repair daily stat %s %s: %w", creatorID, target.Day.Format(time.DateOnly), err)
			}
			res.StatsRepaired++
		}
		res.Unrepairable += countBad(series) - len(fixes)
	}
	return nil
}

// creatorsWith returns, in first-seen order, the creators having at least one row matching bad.
func creatorsWith[T any](rows []T, key func(T) (uuid.UUID, bool)) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, r := range rows {
		id, bad := key(r)
		if bad && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func countBad(series []Reading) int {
	n := 0
	for _, r := range series {
		if r.Bad {
			n++
		}
	}
	return n
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
