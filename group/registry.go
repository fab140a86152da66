package group

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/logging"
	"github.com/hupe1980/agentsquad/notify"
	"github.com/hupe1980/agentsquad/reflection"
)

// ErrNotMember is returned for sessions that belong to no group.
var ErrNotMember = errors.New("session is not a group member")

// Options configures a Registry.
type Options struct {
	Bus    *notify.Bus
	Logger logging.Logger
	Now    func() time.Time
}

// Registry stores groups and memberships. A session belongs to at most one
// group; adding it to another group moves it.
type Registry struct {
	bus    *notify.Bus
	logger logging.Logger
	now    func() time.Time

	mu      sync.RWMutex
	groups  map[string]*Group
	members map[string]*Member
}

// NewRegistry creates an empty Registry.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		bus:     opts.Bus,
		logger:  opts.Logger,
		now:     opts.Now,
		groups:  make(map[string]*Group),
		members: make(map[string]*Member),
	}
}

// Create registers a new group. Creating a multi-agent group is published
// as a critical state change.
func (r *Registry) Create(name string, mode Mode, multiAgent bool) (Group, error) {
	return r.create(Group{Name: name, Mode: mode, MultiAgent: multiAgent}, nil)
}

// CreateWithMembers registers a group together with its context and
// members. Nothing is registered if validation fails. A group of more than
// one member is multi-agent, and its critical state change is published
// once every membership is in place.
func (r *Registry) CreateWithMembers(name string, mode Mode, shared, routing string, members []Member) (Group, error) {
	return r.create(Group{
		Name:           name,
		Mode:           mode,
		MultiAgent:     len(members) > 1,
		SharedContext:  shared,
		RoutingContext: routing,
	}, members)
}

func (r *Registry) create(g Group, members []Member) (Group, error) {
	if !g.Mode.Valid() {
		return Group{}, fmt.Errorf("create group %s: unknown mode %q", g.Name, g.Mode)
	}
	for _, m := range members {
		if m.Session == "" {
			return Group{}, fmt.Errorf("create group %s: member session is required", g.Name)
		}
	}

	g.ID = core.NewID()
	g.Created = r.now()
	g.Members = nil

	r.mu.Lock()
	r.groups[g.ID] = &g
	for _, m := range members {
		if m.Role == "" {
			m.Role = RoleWorker
		}
		r.detachLocked(m.Session)
		m.GroupID = g.ID
		r.members[m.Session] = &m
		g.Members = append(g.Members, m.Session)
		if m.Role == RoleOrchestrator {
			r.demoteOthersLocked(&g, m.Session)
		}
	}
	out := g.clone()
	r.mu.Unlock()

	r.logger.Info("group created", "group", out.ID, "name", out.Name, "mode", string(out.Mode), "multi_agent", out.MultiAgent, "members", len(members))
	r.publish(out.ID, out.MultiAgent)

	return out, nil
}

// Get returns a copy of the group.
func (r *Registry) Get(id string) (Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return Group{}, fmt.Errorf("%s: %w", id, core.ErrUnknownGroup)
	}
	return g.clone(), nil
}

// List returns all groups ordered by creation time.
func (r *Registry) List() []Group {
	r.mu.RLock()
	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].Name < out[j].Name
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// Delete removes a group and its memberships.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	g, ok := r.groups[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, core.ErrUnknownGroup)
	}
	for _, s := range g.Members {
		delete(r.members, s)
	}
	delete(r.groups, id)
	r.mu.Unlock()

	r.logger.Info("group deleted", "group", id)
	r.publish(id, false)
	return nil
}

// AddMember adds m to group groupID. An orchestrator member demotes any
// previous orchestrator of the group.
func (r *Registry) AddMember(groupID string, m Member) error {
	if m.Session == "" {
		return errors.New("member session is required")
	}
	if m.Role == "" {
		m.Role = RoleWorker
	}

	r.mu.Lock()
	g, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("add member to %s: %w", groupID, core.ErrUnknownGroup)
	}

	r.detachLocked(m.Session)

	m.GroupID = groupID
	r.members[m.Session] = &m
	g.Members = append(g.Members, m.Session)
	if m.Role == RoleOrchestrator {
		r.demoteOthersLocked(g, m.Session)
	}
	r.mu.Unlock()

	r.logger.Debug("member added", "group", groupID, "session", m.Session, "role", string(m.Role))
	r.publish(groupID, false)
	return nil
}

// RemoveMember removes a session from its group.
func (r *Registry) RemoveMember(session string) error {
	r.mu.Lock()
	m, ok := r.members[session]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("remove %s: %w", session, ErrNotMember)
	}
	groupID := m.GroupID
	r.detachLocked(session)
	r.mu.Unlock()

	r.publish(groupID, false)
	return nil
}

// SetRole changes a member's role. Promoting to orchestrator demotes the
// group's previous orchestrator.
func (r *Registry) SetRole(session string, role Role) error {
	r.mu.Lock()
	m, ok := r.members[session]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("set role of %s: %w", session, ErrNotMember)
	}
	m.Role = role
	if role == RoleOrchestrator {
		r.demoteOthersLocked(r.groups[m.GroupID], session)
	}
	groupID := m.GroupID
	r.mu.Unlock()

	r.logger.Info("member role changed", "group", groupID, "session", session, "role", string(role))
	r.publish(groupID, false)
	return nil
}

// SetPreferredModel sets the model a member should run.
func (r *Registry) SetPreferredModel(session, model string) error {
	return r.updateMember(session, func(m *Member) { m.PreferredModel = model })
}

// SetSystemPrompt sets a member's fixed identity text.
func (r *Registry) SetSystemPrompt(session, prompt string) error {
	return r.updateMember(session, func(m *Member) { m.SystemPrompt = prompt })
}

// SetSpecialization sets a member's declared capabilities.
func (r *Registry) SetSpecialization(session, text string) error {
	return r.updateMember(session, func(m *Member) { m.Specialization = text })
}

// SetMode changes the group's dispatch mode.
func (r *Registry) SetMode(groupID string, mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("set mode of %s: unknown mode %q", groupID, mode)
	}
	return r.updateGroup(groupID, func(g *Group) { g.Mode = mode })
}

// SetContext sets the shared context and routing hints of a group.
func (r *Registry) SetContext(groupID, shared, routing string) error {
	return r.updateGroup(groupID, func(g *Group) {
		g.SharedContext = shared
		g.RoutingContext = routing
	})
}

// Member returns the membership of a session.
func (r *Registry) Member(session string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[session]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Members returns the group's members in membership order.
func (r *Registry) Members(groupID string) ([]Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", groupID, core.ErrUnknownGroup)
	}
	out := make([]Member, 0, len(g.Members))
	for _, s := range g.Members {
		if m, ok := r.members[s]; ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

// Orchestrator returns the group's orchestrator member, if any.
func (r *Registry) Orchestrator(groupID string) (Member, bool) {
	members, err := r.Members(groupID)
	if err != nil {
		return Member{}, false
	}
	for _, m := range members {
		if m.Role == RoleOrchestrator {
			return m, true
		}
	}
	return Member{}, false
}

// Workers returns all non-orchestrator members of the group.
func (r *Registry) Workers(groupID string) []Member {
	members, err := r.Members(groupID)
	if err != nil {
		return nil
	}
	out := make([]Member, 0, len(members))
	for _, m := range members {
		if m.Role != RoleOrchestrator {
			out = append(out, m)
		}
	}
	return out
}

// GroupOf returns the group a session belongs to.
func (r *Registry) GroupOf(session string) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[session]
	if !ok {
		return Group{}, false
	}
	g, ok := r.groups[m.GroupID]
	if !ok {
		return Group{}, false
	}
	return g.clone(), true
}

// StartReflection attaches a new reflection cycle to the group and switches
// it to reflect mode. A previous cycle is replaced.
func (r *Registry) StartReflection(groupID, goal string, optFns ...func(o *reflection.Options)) (*reflection.Cycle, error) {
	cycle := reflection.New(goal, append([]func(o *reflection.Options){func(o *reflection.Options) { o.Now = r.now }}, optFns...)...)

	if err := r.updateGroup(groupID, func(g *Group) {
		g.Mode = ModeOrchestratorReflect
		g.Reflection = cycle
	}); err != nil {
		return nil, err
	}

	r.logger.Info("reflection started", "group", groupID, "max_iterations", cycle.Config().MaxIterations)
	return cycle, nil
}

// Reflection returns the group's reflection cycle, if any.
func (r *Registry) Reflection(groupID string) *reflection.Cycle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.groups[groupID]; ok {
		return g.Reflection
	}
	return nil
}

// Touch publishes a state change for the group without mutating it.
func (r *Registry) Touch(groupID string) { r.publish(groupID, false) }

func (r *Registry) updateMember(session string, fn func(m *Member)) error {
	r.mu.Lock()
	m, ok := r.members[session]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("update %s: %w", session, ErrNotMember)
	}
	fn(m)
	groupID := m.GroupID
	r.mu.Unlock()

	r.publish(groupID, false)
	return nil
}

func (r *Registry) updateGroup(groupID string, fn func(g *Group)) error {
	r.mu.Lock()
	g, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("update %s: %w", groupID, core.ErrUnknownGroup)
	}
	fn(g)
	r.mu.Unlock()

	r.publish(groupID, false)
	return nil
}

// detachLocked removes session from whatever group holds it.
func (r *Registry) detachLocked(session string) {
	m, ok := r.members[session]
	if !ok {
		return
	}
	if g, ok := r.groups[m.GroupID]; ok {
		if i := g.indexOf(session); i >= 0 {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
		}
	}
	delete(r.members, session)
}

func (r *Registry) demoteOthersLocked(g *Group, keep string) {
	if g == nil {
		return
	}
	for _, s := range g.Members {
		if s == keep {
			continue
		}
		if m, ok := r.members[s]; ok && m.Role == RoleOrchestrator {
			m.Role = RoleWorker
			r.logger.Info("orchestrator demoted", "group", g.ID, "session", s)
		}
	}
}

func (r *Registry) publish(groupID string, critical bool) {
	r.bus.Publish(notify.StateChanged{Scope: notify.ScopeGroup, ID: groupID, Critical: critical, At: r.now()})
}
