package domain

import "errors"

// SessionStatus is the lifecycle state of a streaming session.
type SessionStatus string

const (
	SessionRequested   SessionStatus = "requested"
	SessionDownloading SessionStatus = "downloading"
	SessionAvailable   SessionStatus = "available"
	SessionFailed      SessionStatus = "failed"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// Requested is re-entered when an idle engine is torn down before the file
// completed; Failed and Available sessions may be restarted.
var validTransitions = map[SessionStatus][]SessionStatus{
	SessionRequested:   {SessionDownloading, SessionFailed},
	SessionDownloading: {SessionAvailable, SessionFailed, SessionRequested},
	SessionAvailable:   {SessionRequested},
	SessionFailed:      {SessionRequested},
}

// CanTransition reports whether a transition from one status to another is valid.
func CanTransition(from, to SessionStatus) bool {
	if from == to {
		return true
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
