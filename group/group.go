package group

import (
	"time"

	"github.com/hupe1980/agentsquad/reflection"
)

// Mode selects how a prompt sent to a group reaches its members.
type Mode string

const (
	ModeBroadcast           Mode = "broadcast"
	ModeSequential          Mode = "sequential"
	ModeOrchestrator        Mode = "orchestrator"
	ModeOrchestratorReflect Mode = "orchestrator_reflect"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeBroadcast, ModeSequential, ModeOrchestrator, ModeOrchestratorReflect:
		return true
	}
	return false
}

// Role is the part a member plays in a multi-agent group.
type Role string

const (
	RoleWorker       Role = "worker"
	RoleOrchestrator Role = "orchestrator"
)

// Member binds a session to a group.
type Member struct {
	Session        string `json:"session" yaml:"session"`
	GroupID        string `json:"group_id" yaml:"group_id"`
	Role           Role   `json:"role" yaml:"role"`
	PreferredModel string `json:"preferred_model,omitempty" yaml:"preferred_model,omitempty"`
	// SystemPrompt is the fixed identity text prepended to delegated tasks.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	// Specialization describes the member's capabilities for planning.
	Specialization string `json:"specialization,omitempty" yaml:"specialization,omitempty"`
}

// Group is a named collection of sessions sharing a dispatch mode.
// Values returned by the Registry are copies; Reflection is shared.
type Group struct {
	ID             string
	Name           string
	Members        []string
	MultiAgent     bool
	Mode           Mode
	SharedContext  string
	RoutingContext string
	Reflection     *reflection.Cycle
	Created        time.Time
}

func (g *Group) clone() Group {
	c := *g
	c.Members = append([]string(nil), g.Members...)
	return c
}

func (g *Group) indexOf(session string) int {
	for i, m := range g.Members {
		if m == session {
			return i
		}
	}
	return -1
}
