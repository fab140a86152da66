package core

import "time"

// TurnState is the lifecycle state of a session's current turn.
type TurnState int

const (
	// TurnIdle means no turn is in flight.
	TurnIdle TurnState = iota
	// TurnSending means a turn was claimed and the prompt is being sent.
	TurnSending
	// TurnActive means the runtime accepted the prompt and is streaming events.
	TurnActive
)

// String returns the string representation of the turn state.
func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnSending:
		return "sending"
	case TurnActive:
		return "active"
	default:
		return "unknown"
	}
}

// TurnStatus is a point-in-time view of a session's turn machinery.
type TurnStatus struct {
	Session       string    `json:"session"`
	State         TurnState `json:"state"`
	Generation    uint64    `json:"generation"`
	Model         string    `json:"model"`
	InFlightTools int       `json:"in_flight_tools"`
	UsedTools     bool      `json:"used_tools"`
	LastEventAt   time.Time `json:"last_event_at,omitempty"`
	QueueLen      int       `json:"queue_len"`
}

// Processing reports whether a turn is currently claimed.
func (s TurnStatus) Processing() bool { return s.State != TurnIdle }

// Progress summarises a dispatch round across the members of a group.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Processing int `json:"processing"`
}
