package models

import (
	"time"

	"github.com/google/uuid"
)

// Sample is one viewer-count observation recorded against an open session.
type Sample struct {
	ID          int64     `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	ViewerCount int       `json:"viewer_count"`
	RecordedAt  time.Time `json:"recorded_at"`
	Category    string    `json:"category"`
}
