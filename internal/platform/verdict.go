// Package platform defines the contract between streaming platforms and the tracking engine:
// live verdicts, tagged viewer counts, and the per-platform client interface.
package platform

import (
	"fmt"
	"time"
)

// Status is the outcome of one live lookup for one creator.
type Status int

const (
	// StatusUnknown means the lookup failed or was ambiguous; it must never end a session.
	StatusUnknown Status = iota
	// StatusNotLive means the platform explicitly reported the creator offline.
	StatusNotLive
	// StatusLive means the platform reported an active broadcast.
	StatusLive
)

func (s Status) String() string {
	switch s {
	case StatusLive:
		return "live"
	case StatusNotLive:
		return "not_live"
	default:
		return "unknown"
	}
}

// Stream is the metadata reported for a live creator.
type Stream struct {
	ExternalStreamID string
	Viewers          ViewerCount
	Title            string
	Category         string
	StartedAt        time.Time
}

// Verdict is a tagged live/not-live/unknown result. Stream is only set when Status is StatusLive.
type Verdict struct {
	Status Status
	Stream Stream
	Reason string
}

// Live builds a live verdict.
func Live(stream Stream) Verdict {
	return Verdict{Status: StatusLive, Stream: stream}
}

// NotLive builds an explicit offline verdict.
func NotLive() Verdict {
	return Verdict{Status: StatusNotLive}
}

// Unknown builds an ambiguous verdict carrying the reason for logs.
func Unknown(reason string) Verdict {
	return Verdict{Status: StatusUnknown, Reason: reason}
}

// Unknownf is Unknown with formatting.
func Unknownf(format string, args ...any) Verdict {
	return Unknown(fmt.Sprintf(format, args...))
}

// IsLive reports whether the verdict is StatusLive.
func (v Verdict) IsLive() bool { return v.Status == StatusLive }

// FillUnattributed gives every id without a verdict NotLive, or Unknown when the response
// held entries that could not be attributed to an owner and may have belonged to any of them.
func FillUnattributed(verdicts map[string]Verdict, ids []string, orphans bool) map[string]Verdict {
	fallback := NotLive()
	if orphans {
		fallback = Unknown("response entry without owner id")
	}
	for _, id := range ids {
		if _, ok := verdicts[id]; !ok {
			verdicts[id] = fallback
		}
	}
	return verdicts
}
