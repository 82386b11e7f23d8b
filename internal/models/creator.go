package models

import "github.com/google/uuid"

// Supported platforms.
const (
	PlatformTwitch = "twitch"
	PlatformKick   = "kick"
)

// Creator is a tracked streamer on one platform. Owned by the registry; read-only here.
type Creator struct {
	ID          uuid.UUID `json:"id"`
	Platform    string    `json:"platform"`
	PlatformID  string    `json:"platform_id"`
	DisplayName string    `json:"display_name"`
}
