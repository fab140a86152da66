package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/logging"
	"github.com/hupe1980/agentsquad/model"
)

// Options configures a ModelRuntime.
type Options struct {
	Logger logging.Logger

	// Stream requests incremental deltas from the model. When false the
	// reply is delivered as a single text delta.
	Stream bool

	// MaxHistory bounds the messages replayed to the model per turn.
	// 0 keeps the full conversation.
	MaxHistory int

	// MaxCalls caps the model calls across all sessions. 0 is unlimited.
	MaxCalls int
}

type remote struct {
	spec    core.SessionSpec
	model   model.Model
	history []core.Message
	cancel  context.CancelFunc
	turn    uint64
}

// ModelRuntime is a core.Runtime backed by model.Model instances.
type ModelRuntime struct {
	factory model.Factory
	logger  logging.Logger
	opts    Options
	budget  *callBudget

	mu       sync.Mutex
	sessions map[string]*remote
}

var _ core.Runtime = (*ModelRuntime)(nil)

// New creates a ModelRuntime resolving model names through factory.
func New(factory model.Factory, optFns ...func(o *Options)) *ModelRuntime {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Stream: true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ModelRuntime{
		factory:  factory,
		logger:   opts.Logger,
		opts:     opts,
		budget:   newCallBudget(opts.MaxCalls),
		sessions: make(map[string]*remote),
	}
}

// CreateOrResume implements core.Runtime. Resuming a known handle keeps its
// conversation and reports whether a turn is still running; resuming an
// unknown one starts a fresh conversation under the same ID.
func (r *ModelRuntime) CreateOrResume(_ context.Context, spec core.SessionSpec) (core.Handle, error) {
	if spec.Name == "" {
		return core.Handle{}, errors.New("session name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if spec.Resume && spec.ResumeID != "" {
		if rs, ok := r.sessions[spec.ResumeID]; ok {
			r.logger.Debug("runtime session resumed", "session", spec.Name, "handle", spec.ResumeID)
			return core.Handle{ID: spec.ResumeID, TurnInFlight: rs.cancel != nil}, nil
		}
	}

	m, err := r.factory(spec.Model)
	if err != nil {
		return core.Handle{}, fmt.Errorf("create model %s for %s: %w", spec.Model, spec.Name, err)
	}

	id := spec.ResumeID
	if !spec.Resume || id == "" {
		id = core.NewID()
	}

	r.sessions[id] = &remote{spec: spec, model: m}
	r.logger.Debug("runtime session created", "session", spec.Name, "handle", id, "model", spec.Model)

	return core.Handle{ID: id}, nil
}

// Send implements core.Runtime.
func (r *ModelRuntime) Send(ctx context.Context, h core.Handle, prompt string) (<-chan core.Event, error) {
	r.mu.Lock()
	rs, ok := r.sessions[h.ID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("unknown handle %s: %w", h.ID, core.ErrTransportFault)
	}
	if err := r.budget.take(); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	if rs.cancel != nil {
		rs.cancel()
	}

	tctx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.turn++
	turn := rs.turn

	rs.history = append(rs.history, core.NewUserMessage(prompt))
	req := model.Request{
		Instructions: rs.spec.SystemPrompt,
		Messages:     r.window(rs.history),
		Stream:       r.opts.Stream,
	}
	m := rs.model
	r.mu.Unlock()

	out := make(chan core.Event, 64)
	go r.run(tctx, h.ID, turn, m, req, out)

	return out, nil
}

func (r *ModelRuntime) run(ctx context.Context, id string, turn uint64, m model.Model, req model.Request, out chan<- core.Event) {
	defer close(out)
	defer r.finish(id, turn)

	emit := func(e core.Event) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(core.NewEvent(core.EventTurnStart)) {
		return
	}

	respCh, errCh := m.Generate(ctx, req)

	var final string
	streamed := false
	for resp := range respCh {
		if resp.Partial {
			if resp.Reasoning != "" && !emit(core.NewReasoningDeltaEvent(resp.Reasoning)) {
				return
			}
			if resp.Text != "" {
				streamed = true
				if !emit(core.NewTextDeltaEvent(resp.Text)) {
					return
				}
			}
			continue
		}
		final = resp.Text
		if !streamed {
			if resp.Reasoning != "" && !emit(core.NewReasoningDeltaEvent(resp.Reasoning)) {
				return
			}
			if final != "" && !emit(core.NewTextDeltaEvent(final)) {
				return
			}
		}
	}

	if err := <-errCh; err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("model generation failed", "handle", id, "model", m.Info().Name, "error", err)
		if !emit(core.NewErrorEvent(err)) {
			return
		}
	} else if final != "" {
		r.record(id, turn, final)
	}

	if !emit(core.NewEvent(core.EventTurnEnd)) {
		return
	}
	emit(core.NewIdleEvent())
}

// record appends the assistant reply unless a newer turn superseded it.
func (r *ModelRuntime) record(id string, turn uint64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rs, ok := r.sessions[id]; ok && rs.turn == turn {
		rs.history = append(rs.history, core.NewAssistantMessage(text, turn))
	}
}

func (r *ModelRuntime) finish(id string, turn uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rs, ok := r.sessions[id]; ok && rs.turn == turn && rs.cancel != nil {
		rs.cancel()
		rs.cancel = nil
	}
}

// window returns the tail of history replayed to the model.
func (r *ModelRuntime) window(history []core.Message) []core.Message {
	start := 0
	if r.opts.MaxHistory > 0 && len(history) > r.opts.MaxHistory {
		start = len(history) - r.opts.MaxHistory
	}
	return append([]core.Message(nil), history[start:]...)
}

// Abort implements core.Runtime. The running turn's stream closes without
// an idle signal.
func (r *ModelRuntime) Abort(_ context.Context, h core.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.sessions[h.ID]
	if !ok {
		return nil
	}
	if rs.cancel != nil {
		rs.cancel()
		rs.cancel = nil
	}
	return nil
}

// SwitchModel implements core.Runtime. The conversation is kept.
func (r *ModelRuntime) SwitchModel(_ context.Context, h core.Handle, name string) error {
	m, err := r.factory(name)
	if err != nil {
		return fmt.Errorf("create model %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.sessions[h.ID]
	if !ok {
		return fmt.Errorf("unknown handle %s: %w", h.ID, core.ErrTransportFault)
	}
	rs.model = m
	rs.spec.Model = name

	r.logger.Debug("runtime model switched", "handle", h.ID, "model", name)
	return nil
}

// Len returns the number of live runtime sessions.
func (r *ModelRuntime) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Calls returns the number of model calls made and the calls left, which
// is -1 without a budget.
func (r *ModelRuntime) Calls() (used, remaining int) {
	return r.budget.used(), r.budget.remaining()
}
