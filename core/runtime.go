package core

import "context"

// SessionSpec describes a session to create or resume.
type SessionSpec struct {
	Name         string `json:"name" yaml:"name"`
	Model        string `json:"model" yaml:"model"`
	WorkingDir   string `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	// Resume requests reattachment to ResumeID instead of a fresh session.
	Resume   bool   `json:"resume,omitempty" yaml:"resume,omitempty"`
	ResumeID string `json:"resume_id,omitempty" yaml:"resume_id,omitempty"`
}

// Handle identifies a runtime-side session.
type Handle struct {
	ID string `json:"id"`
	// TurnInFlight is set when a resumed session was mid-turn at the runtime.
	TurnInFlight bool `json:"turn_in_flight,omitempty"`
}

// Runtime is the opaque capability that executes prompts for sessions.
//
// Send returns a stream of events for one turn; the stream ends with an
// EventIdle (or is closed early on failure). Implementations may deliver
// events more than once. Send failures that can be healed by resuming the
// session must wrap ErrTransportFault.
type Runtime interface {
	CreateOrResume(ctx context.Context, spec SessionSpec) (Handle, error)
	Send(ctx context.Context, h Handle, prompt string) (<-chan Event, error)
	Abort(ctx context.Context, h Handle) error
	SwitchModel(ctx context.Context, h Handle, model string) error
}
