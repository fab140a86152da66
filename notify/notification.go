// Package notify provides the typed publish/subscribe surface through which
// the engine reports state to collaborators (UI bridges, persistence,
// metrics). Listeners subscribe explicitly and are invoked in registration
// order for every published notification of a kind they accept.
package notify

import (
	"time"

	"github.com/hupe1980/agentsquad/core"
)

// Kind identifies a notification category.
type Kind string

const (
	KindPhaseChanged       Kind = "phase_changed"
	KindStateChanged       Kind = "state_changed"
	KindTurnCompleted      Kind = "turn_completed"
	KindErrorNotice        Kind = "error_notice"
	KindReflectionProgress Kind = "reflection_progress"
)

// Notification is implemented by every payload published on a Bus.
type Notification interface {
	Kind() Kind
}

// PhaseChanged reports a dispatch round moving to a new phase.
type PhaseChanged struct {
	GroupID string
	Phase   core.Phase
	Detail  string
	At      time.Time
}

// Kind implements Notification.
func (PhaseChanged) Kind() Kind { return KindPhaseChanged }

// Scope names the kind of entity a StateChanged refers to.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeGroup   Scope = "group"
)

// StateChanged is the generic "something mutated" signal. Critical marks
// transitions that subscribers persisting state should flush immediately
// instead of debouncing.
type StateChanged struct {
	Scope    Scope
	ID       string
	Critical bool
	At       time.Time
}

// Kind implements Notification.
func (StateChanged) Kind() Kind { return KindStateChanged }

// TurnCompleted reports the end of a session turn.
type TurnCompleted struct {
	Session    string
	Generation uint64
	Duration   time.Duration
	UsedTools  bool
	Err        error
	At         time.Time
}

// Kind implements Notification.
func (TurnCompleted) Kind() Kind { return KindTurnCompleted }

// ErrorNotice is the structured counterpart of a user-visible failure notice.
type ErrorNotice struct {
	Session string
	GroupID string
	Message string
	Err     error
	At      time.Time
}

// Kind implements Notification.
func (ErrorNotice) Kind() Kind { return KindErrorNotice }

// ReflectionProgress is published once per evaluated reflection iteration
// and once more when the cycle terminates.
type ReflectionProgress struct {
	GroupID       string
	Iteration     int
	MaxIterations int
	Score         float64
	Similarity    float64
	Adjustments   []string
	Terminal      bool
	Outcome       string
	At            time.Time
}

// Kind implements Notification.
func (ReflectionProgress) Kind() Kind { return KindReflectionProgress }
