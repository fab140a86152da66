// Package agentsquad provides a high-level façade over the session manager,
// group registry and dispatcher. Most applications interact with this
// package by:
//  1. Creating a Squad via New() with a model factory or a custom runtime
//  2. Declaring groups of sessions with CreateGroup
//  3. Sending prompts to a group with Dispatch, or starting a reflection
//     cycle with StartReflection before dispatching a goal
//
// The façade wires the notification bus to the optional persistence store
// and Prometheus collectors. Defaults are safe for local development; a
// production deployment typically sets StorePath, a Registerer and a
// structured logger.
package agentsquad

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/dispatch"
	"github.com/hupe1980/agentsquad/group"
	"github.com/hupe1980/agentsquad/internal/render"
	"github.com/hupe1980/agentsquad/logging"
	"github.com/hupe1980/agentsquad/metrics"
	"github.com/hupe1980/agentsquad/model"
	"github.com/hupe1980/agentsquad/notify"
	"github.com/hupe1980/agentsquad/reflection"
	"github.com/hupe1980/agentsquad/runtime"
	"github.com/hupe1980/agentsquad/session"
	"github.com/hupe1980/agentsquad/store"
)

// Options configures a Squad.
type Options struct {
	// Runtime drives the sessions. When nil a model-backed runtime is built
	// from Factory.
	Runtime core.Runtime
	Factory model.Factory

	// Stream, MaxHistory and MaxCalls configure the model-backed runtime.
	Stream     bool
	MaxHistory int
	MaxCalls   int

	SessionConfig    session.Config
	DispatchConfig   dispatch.Config
	ReflectionConfig reflection.Config

	// EvaluatorModel requests a dedicated evaluator session for reflection
	// cycles. Empty means the orchestrator scores its own work.
	EvaluatorModel string

	// StorePath enables the YAML snapshot store. Empty disables it.
	StorePath  string
	StoreDelay time.Duration

	// Registerer enables the Prometheus collectors. Nil disables them.
	Registerer       prometheus.Registerer
	MetricsNamespace string

	Logger logging.Logger
	Now    func() time.Time
}

// MemberSpec declares one session of a group.
type MemberSpec struct {
	Session        core.SessionSpec
	Role           group.Role
	PreferredModel string
	// SystemPrompt is prepended to tasks delegated to this member.
	SystemPrompt   string
	Specialization string
}

// GroupSpec declares a group and the sessions it is made of.
type GroupSpec struct {
	Name           string
	Mode           group.Mode
	SharedContext  string
	RoutingContext string
	Members        []MemberSpec
}

// Squad aggregates the engine components behind one handle.
type Squad struct {
	opts       Options
	bus        *notify.Bus
	sessions   *session.Manager
	groups     *group.Registry
	dispatcher *dispatch.Dispatcher
	store      *store.Store
	metrics    *metrics.Metrics
	detach     []func()
}

// New creates a Squad.
func New(optFns ...func(o *Options)) (*Squad, error) {
	opts := Options{
		Stream:           true,
		SessionConfig:    session.DefaultConfig,
		DispatchConfig:   dispatch.DefaultConfig,
		ReflectionConfig: reflection.DefaultConfig,
		StoreDelay:       store.DefaultConfig.Delay,
		MetricsNamespace: "agentsquad",
		Logger:           logging.NoOpLogger{},
		Now:              time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	rt := opts.Runtime
	if rt == nil {
		if opts.Factory == nil {
			return nil, errors.New("agentsquad: a runtime or a model factory is required")
		}
		rt = runtime.New(opts.Factory, func(o *runtime.Options) {
			o.Logger = logging.ForComponent(opts.Logger, "runtime")
			o.Stream = opts.Stream
			o.MaxHistory = opts.MaxHistory
			o.MaxCalls = opts.MaxCalls
		})
	}

	bus := notify.NewBus(func(o *notify.Options) { o.Logger = logging.ForComponent(opts.Logger, "bus") })

	sessions := session.NewManager(rt, func(o *session.Options) {
		o.Config = opts.SessionConfig
		o.Bus = bus
		o.Logger = logging.ForComponent(opts.Logger, "session")
		o.Now = opts.Now
	})

	groups := group.NewRegistry(func(o *group.Options) {
		o.Bus = bus
		o.Logger = logging.ForComponent(opts.Logger, "group")
		o.Now = opts.Now
	})

	s := &Squad{
		opts:     opts,
		bus:      bus,
		sessions: sessions,
		groups:   groups,
		dispatcher: dispatch.New(sessions, groups, func(o *dispatch.Options) {
			o.Config = opts.DispatchConfig
			o.Bus = bus
			o.Logger = logging.ForComponent(opts.Logger, "dispatch")
			o.Now = opts.Now
		}),
	}

	if opts.Registerer != nil {
		s.metrics = metrics.New(func(o *metrics.Options) {
			o.Registerer = opts.Registerer
			o.Namespace = opts.MetricsNamespace
			o.Sessions = func() int { return len(sessions.List()) }
		})
		s.detach = append(s.detach, s.metrics.Attach(bus))
	}

	if opts.StorePath != "" {
		s.store = store.New(opts.StorePath, groups, sessions, func(o *store.Options) {
			o.Logger = logging.ForComponent(opts.Logger, "store")
			o.Delay = opts.StoreDelay
			o.Now = opts.Now
		})
		s.detach = append(s.detach, s.store.Attach(bus))
	}

	return s, nil
}

// Bus returns the notification bus.
func (s *Squad) Bus() *notify.Bus { return s.bus }

// Sessions returns the session manager.
func (s *Squad) Sessions() *session.Manager { return s.sessions }

// Groups returns the group registry.
func (s *Squad) Groups() *group.Registry { return s.groups }

// Dispatcher returns the dispatcher.
func (s *Squad) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Metrics returns the collectors, or nil when metrics are disabled.
func (s *Squad) Metrics() *metrics.Metrics { return s.metrics }

// Store returns the snapshot store, or nil when persistence is disabled.
func (s *Squad) Store() *store.Store { return s.store }

// promptData is the template context of member prompts.
type promptData struct {
	Session        string
	Group          string
	Role           string
	Model          string
	Specialization string
	Peers          []string
}

// renderPrompts expands templates in the session and member system prompts.
func renderPrompts(spec GroupSpec) (GroupSpec, error) {
	names := make([]string, 0, len(spec.Members))
	for _, m := range spec.Members {
		names = append(names, m.Session.Name)
	}

	out := spec
	out.Members = make([]MemberSpec, len(spec.Members))
	for i, m := range spec.Members {
		role := m.Role
		if role == "" {
			role = group.RoleWorker
		}
		data := promptData{
			Session:        m.Session.Name,
			Group:          spec.Name,
			Role:           string(role),
			Model:          m.Session.Model,
			Specialization: m.Specialization,
		}
		for _, n := range names {
			if n != m.Session.Name {
				data.Peers = append(data.Peers, n)
			}
		}

		var err error
		if m.Session.SystemPrompt, err = render.Prompt(m.Session.Name, m.Session.SystemPrompt, data); err != nil {
			return GroupSpec{}, err
		}
		if m.SystemPrompt, err = render.Prompt(m.Session.Name, m.SystemPrompt, data); err != nil {
			return GroupSpec{}, err
		}
		out.Members[i] = m
	}
	return out, nil
}

// CreateGroup creates the group's sessions and registers the group. System
// prompts may reference {{.Session}}, {{.Group}}, {{.Role}}, {{.Model}},
// {{.Specialization}} and {{.Peers}}. On failure the sessions created so
// far are closed again.
func (s *Squad) CreateGroup(ctx context.Context, spec GroupSpec) (group.Group, error) {
	if !spec.Mode.Valid() {
		return group.Group{}, fmt.Errorf("create group %s: unknown mode %q", spec.Name, spec.Mode)
	}

	rendered, err := renderPrompts(spec)
	if err != nil {
		return group.Group{}, fmt.Errorf("create group %s: %w", spec.Name, err)
	}
	spec = rendered

	var created []string
	rollback := func() {
		for _, name := range created {
			_ = s.sessions.Close(ctx, name)
		}
	}

	for _, m := range spec.Members {
		if _, err := s.sessions.Create(ctx, m.Session); err != nil {
			rollback()
			return group.Group{}, fmt.Errorf("create group %s: %w", spec.Name, err)
		}
		created = append(created, m.Session.Name)
	}

	members := make([]group.Member, 0, len(spec.Members))
	for _, m := range spec.Members {
		members = append(members, group.Member{
			Session:        m.Session.Name,
			Role:           m.Role,
			PreferredModel: m.PreferredModel,
			SystemPrompt:   m.SystemPrompt,
			Specialization: m.Specialization,
		})
	}

	g, err := s.groups.CreateWithMembers(spec.Name, spec.Mode, spec.SharedContext, spec.RoutingContext, members)
	if err != nil {
		rollback()
		return group.Group{}, err
	}

	s.opts.Logger.Info("group ready", "group", g.ID, "name", spec.Name, "members", len(spec.Members))
	return g, nil
}

// StartReflection attaches a reflection cycle for goal to the group using
// the squad's reflection settings.
func (s *Squad) StartReflection(groupID, goal string) (*reflection.Cycle, error) {
	return s.groups.StartReflection(groupID, goal, func(o *reflection.Options) {
		o.Config = s.opts.ReflectionConfig
		o.EvaluatorModel = s.opts.EvaluatorModel
	})
}

// Dispatch sends prompt to a group.
func (s *Squad) Dispatch(ctx context.Context, groupID, prompt string) (*dispatch.Report, error) {
	return s.dispatcher.Dispatch(ctx, groupID, prompt)
}

// Reflect starts a reflection cycle for goal and dispatches it in one step.
func (s *Squad) Reflect(ctx context.Context, groupID, goal string) (*dispatch.Report, error) {
	if _, err := s.StartReflection(groupID, goal); err != nil {
		return nil, err
	}
	return s.dispatcher.Dispatch(ctx, groupID, goal)
}

// Restore loads the store's snapshot, restores the groups and resumes
// every saved session. Sessions that fail to resume are reported together.
func (s *Squad) Restore(ctx context.Context) error {
	if s.store == nil {
		return errors.New("agentsquad: restore requires a store path")
	}

	snap, err := store.Load(s.store.Path())
	if err != nil {
		return err
	}

	if err := s.groups.Restore(snap.Groups); err != nil {
		return err
	}

	var errs []error
	for _, spec := range snap.ResumeSpecs() {
		if _, err := s.sessions.Create(ctx, spec); err != nil {
			errs = append(errs, fmt.Errorf("resume %s: %w", spec.Name, err))
		}
	}

	s.opts.Logger.Info("squad restored", "groups", len(snap.Groups), "sessions", len(snap.Sessions), "failed", len(errs))
	return errors.Join(errs...)
}

// Close detaches the subscribers, writes a final snapshot and stops the
// session machinery.
func (s *Squad) Close() error {
	for _, fn := range s.detach {
		fn()
	}

	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("flush snapshot: %w", err))
		}
		if err := s.store.Save(); err != nil {
			errs = append(errs, fmt.Errorf("final snapshot: %w", err))
		}
	}

	s.sessions.Shutdown()
	return errors.Join(errs...)
}
