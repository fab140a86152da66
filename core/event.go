package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the events a Runtime emits for a session turn.
type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	EventToolStart      EventType = "tool_start"
	EventToolComplete   EventType = "tool_complete"
	EventTurnStart      EventType = "turn_start"
	EventTurnEnd        EventType = "turn_end"
	EventIdle           EventType = "idle"
	EventError          EventType = "error"
)

// Event is a single runtime-emitted record for a session turn. Delivery is
// at-least-once: consumers must tolerate duplicates and treat EventIdle as
// the authoritative end-of-turn signal.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Text       string    `json:"text,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewEvent creates a bare event of the given type.
func NewEvent(t EventType) Event {
	return Event{
		ID:        NewID(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

// NewTextDeltaEvent creates a streamed text fragment.
func NewTextDeltaEvent(text string) Event {
	e := NewEvent(EventTextDelta)
	e.Text = text
	return e
}

// NewReasoningDeltaEvent creates a streamed reasoning fragment.
func NewReasoningDeltaEvent(text string) Event {
	e := NewEvent(EventReasoningDelta)
	e.Text = text
	return e
}

// NewToolStartEvent records the start of a tool call.
func NewToolStartEvent(callID, name string) Event {
	e := NewEvent(EventToolStart)
	e.ToolCallID = callID
	e.ToolName = name
	return e
}

// NewToolCompleteEvent records the completion of a tool call.
func NewToolCompleteEvent(callID, name string) Event {
	e := NewEvent(EventToolComplete)
	e.ToolCallID = callID
	e.ToolName = name
	return e
}

// NewIdleEvent creates the terminal end-of-turn signal.
func NewIdleEvent() Event { return NewEvent(EventIdle) }

// NewErrorEvent creates an error event carrying err's message.
func NewErrorEvent(err error) Event {
	e := NewEvent(EventError)
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// NewID generates a new unique identifier for events, handles and groups.
func NewID() string { return uuid.NewString() }

// IsTerminal reports whether the event ends the turn.
func (e Event) IsTerminal() bool { return e.Type == EventIdle }
