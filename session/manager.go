package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/logging"
	"github.com/hupe1980/agentsquad/notify"
)

// Config defines the supervision parameters of the turn machinery.
type Config struct {
	// WatchdogInterval is the period of the stuck-turn check.
	WatchdogInterval time.Duration

	// StuckTimeout is the event silence after which a plain turn is
	// force-completed.
	StuckTimeout time.Duration

	// ToolStuckTimeout replaces StuckTimeout while a tool call is in flight,
	// after tools were used in the turn, or when the session was resumed
	// mid-turn. Those situations legitimately produce long gaps.
	ToolStuckTimeout time.Duration

	// SettleDelay is waited after a completion before the next queued
	// message is started.
	SettleDelay time.Duration
}

// DefaultConfig provides the production supervision values.
var DefaultConfig = Config{
	WatchdogInterval: 15 * time.Second,
	StuckTimeout:     120 * time.Second,
	ToolStuckTimeout: 600 * time.Second,
	SettleDelay:      250 * time.Millisecond,
}

// Options configures a Manager using the functional options pattern.
type Options struct {
	// Config contains supervision parameters. Defaults to DefaultConfig.
	Config Config

	// Bus receives turn, state and error notifications. May be nil.
	Bus *notify.Bus

	// Logger defaults to NoOp.
	Logger logging.Logger

	// Now is the time source used for liveness bookkeeping.
	Now func() time.Time
}

// Outcome reports what SendOrQueue did with a prompt.
type Outcome string

const (
	OutcomeBegun  Outcome = "begun"
	OutcomeQueued Outcome = "queued"
)

// entry is the registry record of one session. Turn buffers and queue are
// guarded by mu; processing is the atomic turn flag claimed by CAS.
type entry struct {
	sess *core.Session

	processing atomic.Bool
	fence      core.Fence
	switchMu   sync.Mutex

	mu             sync.Mutex
	spec           core.SessionSpec
	handle         core.Handle
	state          core.TurnState
	turn           *Turn
	queue          []string
	resumedMidTurn bool
}

// Manager owns the registry of live sessions and drives their turns.
// All public methods are safe for concurrent use.
type Manager struct {
	runtime core.Runtime
	bus     *notify.Bus
	logger  logging.Logger
	config  Config
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewManager creates a Manager bound to a runtime.
func NewManager(rt core.Runtime, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		runtime:  rt,
		bus:      opts.Bus,
		logger:   opts.Logger,
		config:   opts.Config,
		now:      opts.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*entry),
	}
}

// Create creates (or, with spec.Resume, resumes) a runtime session and
// registers it under spec.Name.
func (m *Manager) Create(ctx context.Context, spec core.SessionSpec) (*core.Session, error) {
	if spec.Name == "" {
		return nil, errors.New("session name is required")
	}

	m.mu.RLock()
	_, exists := m.sessions[spec.Name]
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("create %s: %w", spec.Name, core.ErrSessionExists)
	}

	h, err := m.runtime.CreateOrResume(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", spec.Name, err)
	}

	e := &entry{
		sess:           core.NewSession(spec),
		spec:           spec,
		handle:         h,
		resumedMidTurn: spec.Resume && h.TurnInFlight,
	}

	m.mu.Lock()
	if _, exists := m.sessions[spec.Name]; exists {
		m.mu.Unlock()
		_ = m.runtime.Abort(ctx, h)
		return nil, fmt.Errorf("create %s: %w", spec.Name, core.ErrSessionExists)
	}
	m.sessions[spec.Name] = e
	m.mu.Unlock()

	m.logger.Info("session registered", "session", spec.Name, "model", spec.Model, "resumed", spec.Resume)
	m.bus.Publish(notify.StateChanged{Scope: notify.ScopeSession, ID: spec.Name, At: m.now()})

	return e.sess, nil
}

// Close aborts any in-flight turn and removes the session.
func (m *Manager) Close(ctx context.Context, name string) error {
	if err := m.Abort(ctx, name); err != nil && !errors.Is(err, core.ErrUnknownSession) {
		m.logger.Warn("abort during close failed", "session", name, "error", err)
	}

	m.mu.Lock()
	_, ok := m.sessions[name]
	delete(m.sessions, name)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("close %s: %w", name, core.ErrUnknownSession)
	}

	m.logger.Info("session closed", "session", name)
	m.bus.Publish(notify.StateChanged{Scope: notify.ScopeSession, ID: name, At: m.now()})

	return nil
}

// Shutdown stops every watchdog and cancels in-flight streams.
func (m *Manager) Shutdown() { m.cancel() }

// Get returns the live session.
func (m *Manager) Get(name string) (*core.Session, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.sess, nil
}

// List returns the registered session names in lexical order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for n := range m.sessions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Specs returns resumable specs of all sessions, with ResumeID set to the
// current runtime handle.
func (m *Manager) Specs() []core.SessionSpec {
	names := m.List()
	specs := make([]core.SessionSpec, 0, len(names))
	for _, n := range names {
		e, err := m.lookup(n)
		if err != nil {
			continue
		}
		e.mu.Lock()
		spec := e.spec
		spec.ResumeID = e.handle.ID
		e.mu.Unlock()
		spec.Model = e.sess.CurrentModel()
		spec.Resume = false
		specs = append(specs, spec)
	}
	return specs
}

// Model returns the current model of a session.
func (m *Manager) Model(name string) (string, error) {
	e, err := m.lookup(name)
	if err != nil {
		return "", err
	}
	return e.sess.CurrentModel(), nil
}

// History returns a copy of the session's message history.
func (m *Manager) History(name string) ([]core.Message, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.sess.Messages(), nil
}

// AddNotice appends a user-visible system notice to the session history.
func (m *Manager) AddNotice(name, text string) error {
	e, err := m.lookup(name)
	if err != nil {
		return err
	}
	e.sess.AddMessage(core.NewNotice(text))
	m.bus.Publish(notify.StateChanged{Scope: notify.ScopeSession, ID: name, At: m.now()})
	return nil
}

// Status returns a snapshot of the session's turn machinery.
func (m *Manager) Status(name string) (core.TurnStatus, error) {
	e, err := m.lookup(name)
	if err != nil {
		return core.TurnStatus{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := core.TurnStatus{
		Session:    name,
		State:      e.state,
		Generation: e.fence.Current(),
		Model:      e.sess.CurrentModel(),
		QueueLen:   len(e.queue),
	}
	if t := e.turn; t != nil {
		st.InFlightTools = t.inFlightTools
		st.UsedTools = t.usedTools
		st.LastEventAt = t.lastEvent
	}
	return st, nil
}

// QueueLen returns the number of pending messages for a session.
func (m *Manager) QueueLen(name string) int {
	e, err := m.lookup(name)
	if err != nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// EnsureModel switches the session to preferred if it differs from the live
// model. Switches are serialised per session and re-checked under the lock,
// so concurrent callers trigger at most one switch.
func (m *Manager) EnsureModel(ctx context.Context, name, preferred string) (bool, error) {
	if preferred == "" {
		return false, nil
	}

	e, err := m.lookup(name)
	if err != nil {
		return false, err
	}

	if e.sess.CurrentModel() == preferred {
		return false, nil
	}

	e.switchMu.Lock()
	defer e.switchMu.Unlock()

	current := e.sess.CurrentModel()
	if current == preferred {
		return false, nil
	}

	e.mu.Lock()
	h := e.handle
	e.mu.Unlock()

	if err := m.runtime.SwitchModel(ctx, h, preferred); err != nil {
		return false, fmt.Errorf("switch %s to %s: %w", name, preferred, err)
	}
	e.sess.SetModel(preferred)

	m.logger.Info("model switched", "session", name, "from", current, "to", preferred)
	m.bus.Publish(notify.StateChanged{Scope: notify.ScopeSession, ID: name, At: m.now()})

	return true, nil
}

func (m *Manager) lookup(name string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, core.ErrUnknownSession)
	}
	return e, nil
}
