package pollsync

import "time"

// Action is the outcome of comparing a remote file against its local copy.
type Action uint8

const (
	ActionTransfer Action = 0
	ActionSkip     Action = 1
)

func (a Action) String() string {
	switch a {
	case ActionTransfer:
		return "transfer"
	case ActionSkip:
		return "skip"
	}
	return "unknown"
}

// LocalState is a single probe of a local file. It is never cached between
// evaluations.
type LocalState struct {
	Exists  bool
	ModTime time.Time
}

// Decide returns ActionSkip when the local copy exists and is at least as new
// as the remote one. Ties keep the local copy.
func Decide(remoteModTime time.Time, local LocalState) Action {
	if !local.Exists {
		return ActionTransfer
	}
	if !local.ModTime.Before(remoteModTime) {
		return ActionSkip
	}
	return ActionTransfer
}
