package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamSession is one broadcast by one creator, from first live poll to finalization.
// EndedAt is nil while the session is open; AverageViewers and HoursWatched are only
// meaningful once EndedAt is set.
type StreamSession struct {
	ID               uuid.UUID  `json:"id"`
	CreatorID        uuid.UUID  `json:"creator_id"`
	ExternalStreamID string     `json:"external_stream_id"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	Title            string     `json:"title"`
	Category         string     `json:"category"`
	PeakViewers      int        `json:"peak_viewers"`
	AverageViewers   float64    `json:"average_viewers"`
	HoursWatched     float64    `json:"hours_watched"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsOpen reports whether the session has not been finalized yet.
func (s *StreamSession) IsOpen() bool {
	return s.EndedAt == nil
}

// SessionSummary holds the metrics written onto a session at finalization.
type SessionSummary struct {
	EndedAt        time.Time `json:"ended_at"`
	PeakViewers    int       `json:"peak_viewers"`
	AverageViewers float64   `json:"average_viewers"`
	HoursWatched   float64   `json:"hours_watched"`
	SampleCount    int       `json:"sample_count"`
}
