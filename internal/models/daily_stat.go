package models

import (
	"time"

	"github.com/google/uuid"
)

// DailyStat is the per-creator, per-day rollup row. Unique on (CreatorID, Day).
// It is a materialized view over finalized sessions and can always be recomputed.
type DailyStat struct {
	CreatorID       uuid.UUID `json:"creator_id"`
	Day             time.Time `json:"day"`
	HoursWatchedDay float64   `json:"hours_watched_day"`
	HoursWatched7d  float64   `json:"hours_watched_7d"`
	HoursWatched30d float64   `json:"hours_watched_30d"`
	PeakViewers     int       `json:"peak_viewers"`
	AverageViewers  float64   `json:"average_viewers"`
	SessionsCount   int       `json:"sessions_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}
