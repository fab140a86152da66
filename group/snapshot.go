package group

import (
	"fmt"
	"time"

	"github.com/hupe1980/agentsquad/reflection"
)

// State is the persistable form of a group.
type State struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	MultiAgent     bool              `json:"multi_agent" yaml:"multi_agent"`
	Mode           Mode              `json:"mode" yaml:"mode"`
	SharedContext  string            `json:"shared_context,omitempty" yaml:"shared_context,omitempty"`
	RoutingContext string            `json:"routing_context,omitempty" yaml:"routing_context,omitempty"`
	Members        []Member          `json:"members" yaml:"members"`
	Reflection     *reflection.State `json:"reflection,omitempty" yaml:"reflection,omitempty"`
	Created        time.Time         `json:"created" yaml:"created"`
}

// Snapshot returns the persistable state of every group in creation order.
func (r *Registry) Snapshot() []State {
	groups := r.List()
	out := make([]State, 0, len(groups))
	for _, g := range groups {
		members, err := r.Members(g.ID)
		if err != nil {
			continue
		}
		s := State{
			ID:             g.ID,
			Name:           g.Name,
			MultiAgent:     g.MultiAgent,
			Mode:           g.Mode,
			SharedContext:  g.SharedContext,
			RoutingContext: g.RoutingContext,
			Members:        members,
			Created:        g.Created,
		}
		if g.Reflection != nil {
			rs := g.Reflection.Snapshot()
			s.Reflection = &rs
		}
		out = append(out, s)
	}
	return out
}

// Restore replaces the registry contents with states.
func (r *Registry) Restore(states []State) error {
	groups := make(map[string]*Group, len(states))
	members := make(map[string]*Member)

	for _, s := range states {
		if s.ID == "" {
			return fmt.Errorf("restore group %q: missing id", s.Name)
		}
		if !s.Mode.Valid() {
			return fmt.Errorf("restore group %s: unknown mode %q", s.ID, s.Mode)
		}
		g := &Group{
			ID:             s.ID,
			Name:           s.Name,
			MultiAgent:     s.MultiAgent,
			Mode:           s.Mode,
			SharedContext:  s.SharedContext,
			RoutingContext: s.RoutingContext,
			Created:        s.Created,
		}
		if s.Reflection != nil {
			g.Reflection = reflection.Restore(*s.Reflection)
		}
		for _, m := range s.Members {
			m := m
			m.GroupID = s.ID
			members[m.Session] = &m
			g.Members = append(g.Members, m.Session)
		}
		groups[s.ID] = g
	}

	r.mu.Lock()
	r.groups = groups
	r.members = members
	r.mu.Unlock()

	r.logger.Info("groups restored", "count", len(states))
	return nil
}
