// Package rollup materializes per-creator daily statistics from finalized sessions.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shinypull/backend/internal/models"
)

// ErrInvalidWindow is returned for a range whose end precedes its start.
var ErrInvalidWindow = errors.New("invalid rollup window")

// Window lengths in days, counting the rollup day itself.
const (
	WeekDays  = 7
	MonthDays = 30
)

// SessionSource lists finalized sessions by end time.
type SessionSource interface {
	ListEndedBetween(ctx context.Context, from, to time.Time) ([]models.StreamSession, error)
}

// StatStore persists daily rows.
type StatStore interface {
	Upsert(ctx context.Context, s *models.DailyStat) error
}

// Result summarizes one rollup day.
type Result struct {
	Day      time.Time `json:"day"`
	Creators int       `json:"creators"`
	Rows     int       `json:"rows"`
	Failed   int       `json:"failed"`
}

// Aggregator computes DailyStat rows. Day boundaries are taken in one fixed location.
type Aggregator struct {
	sessions SessionSource
	stats    StatStore
	loc      *time.Location
	logger   *zap.Logger
}

// New creates an aggregator using loc for calendar days (UTC when nil).
func New(sessions SessionSource, stats StatStore, loc *time.Location, logger *zap.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{sessions: sessions, stats: stats, loc: loc, logger: logger}
}

// Location returns the reference location.
func (a *Aggregator) Location() *time.Location { return a.loc }

// DayStart returns local midnight of t's calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DateOf returns the calendar date of a local midnight as a UTC midnight, the form stored in a DATE column.
func DateOf(dayStart time.Time) time.Time {
	return time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), 0, 0, 0, 0, time.UTC)
}

// Run recomputes the rows for the calendar day containing day. Running it again over the
// same sessions writes identical values.
//
// The day window is [midnight, next midnight); the 7 and 30 day windows end at the same
// instant and start 6 and 29 days earlier. A row is written for every creator with a
// session in the 30 day window. Open sessions are not read.
func (a *Aggregator) Run(ctx context.Context, day time.Time) (Result, error) {
	start := DayStart(day, a.loc)
	end := start.AddDate(0, 0, 1)
	weekStart := start.AddDate(0, 0, -(WeekDays - 1))
	monthStart := start.AddDate(0, 0, -(MonthDays - 1))
	res := Result{Day: DateOf(start)}

	sessions, err := a.sessions.ListEndedBetween(ctx, monthStart, end)
	if err != nil {
		return res, fmt.Errorf("list sessions: %w", err)
	}

	byCreator := map[uuid.UUID][]models.StreamSession{}
	for _, s := range sessions {
		byCreator[s.CreatorID] = append(byCreator[s.CreatorID], s)
	}
	ids := make([]uuid.UUID, 0, len(byCreator))
	for id := range byCreator {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	res.Creators = len(ids)

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row := Compute(id, res.Day, byCreator[id], start, end, weekStart)
		if err := a.stats.Upsert(ctx, &row); err != nil {
			res.Failed++
			a.logger.Error("upsert daily stat failed", zap.String("creator_id", id.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("creator %s: %w", id, err))
			continue
		}
		res.Rows++
	}
	a.logger.Info("rollup complete",
		zap.String("day", res.Day.Format(time.DateOnly)),
		zap.String("location", a.loc.String()),
		zap.Int("creators", res.Creators),
		zap.Int("rows", res.Rows),
		zap.Int("failed", res.Failed))
	return res, errors.Join(errs...)
}

// RunRange runs every day from `from` through `to` inclusive, oldest first. It is used to
// catch up after the rollup has not run for a while.
func (a *Aggregator) RunRange(ctx context.Context, from, to time.Time) ([]Result, error) {
	first, last := DayStart(from, a.loc), DayStart(to, a.loc)
	if last.Before(first) {
		return nil, fmt.Errorf("%w: %s after %s", ErrInvalidWindow, from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	var out []Result
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		res, err := a.Run(ctx, d)
		out = append(out, res)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Compute builds one creator's row from sessions that ended in [monthStart, end).
func Compute(creatorID uuid.UUID, date time.Time, sessions []models.StreamSession, dayStart, end, weekStart time.Time) models.DailyStat {
	row := models.DailyStat{CreatorID: creatorID, Day: date}
	var avgSum float64
	for _, s := range sessions {
		if s.EndedAt == nil || !s.EndedAt.Before(end) {
			continue
		}
		ended := *s.EndedAt
		row.HoursWatched30d += s.HoursWatched
		if !ended.Before(weekStart) {
			row.HoursWatched7d += s.HoursWatched
		}
		if !ended.Before(dayStart) {
			row.HoursWatchedDay += s.HoursWatched
			row.PeakViewers = max(row.PeakViewers, s.PeakViewers)
			avgSum += s.AverageViewers
			row.SessionsCount++
		}
	}
	if row.SessionsCount > 0 {
		row.AverageViewers = avgSum / float64(row.SessionsCount)
	}
	return row
}
