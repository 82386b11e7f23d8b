// Package tracker runs the per-creator session state machine once per poll cycle.
package tracker

import (
	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/platform"
)

// Action is the transition chosen for one creator in one cycle.
type Action int

const (
	// ActionNone leaves the store untouched.
	ActionNone Action = iota
	// ActionOpen opens a session and samples it.
	ActionOpen
	// ActionContinue refreshes metadata and samples the open session.
	ActionContinue
	// ActionRotate finalizes the open session and opens one for the new stream id.
	ActionRotate
	// ActionClose finalizes the open session.
	ActionClose
)

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "open"
	case ActionContinue:
		return "continue"
	case ActionRotate:
		return "rotate"
	case ActionClose:
		return "close"
	default:
		return "none"
	}
}

// Decide maps (open session, verdict) to an action. Only an explicit NotLive or a changed
// external stream id ends a session; Unknown never does.
func Decide(open *models.StreamSession, v platform.Verdict) Action {
	switch v.Status {
	case platform.StatusLive:
		if open == nil {
			return ActionOpen
		}
		if open.ExternalStreamID == v.Stream.ExternalStreamID {
			return ActionContinue
		}
		return ActionRotate
	case platform.StatusNotLive:
		if open == nil {
			return ActionNone
		}
		return ActionClose
	default:
		return ActionNone
	}
}
