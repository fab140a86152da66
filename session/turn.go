package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/logging"
	"github.com/hupe1980/agentsquad/notify"
)

// Result is the outcome of a completed turn.
type Result struct {
	Session    string
	Generation uint64
	Text       string
	Reasoning  string
	UsedTools  bool
	Duration   time.Duration
	Err        error
}

// Turn is one prompt→response cycle of a session. Buffers and liveness
// fields are guarded by the owning entry's mutex.
type Turn struct {
	session   string
	prompt    string
	startedAt time.Time

	gen atomic.Uint64

	streamCtx    context.Context
	streamCancel context.CancelFunc

	stopped  chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	result   Result

	text          strings.Builder
	reasoning     strings.Builder
	inFlightTools int
	usedTools     bool
	lastEvent     time.Time
	resumed       bool
	streamErr     string
}

// Session returns the name of the session the turn belongs to.
func (t *Turn) Session() string { return t.session }

// Prompt returns the prompt that started the turn.
func (t *Turn) Prompt() string { return t.prompt }

// Generation returns the generation currently stamped on the turn. It
// changes when the session is resumed after a transport fault.
func (t *Turn) Generation() uint64 { return t.gen.Load() }

// Done is closed once the turn completed, failed or was aborted.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn ends or ctx is done.
func (t *Turn) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, t.result.Err
	case <-ctx.Done():
		return Result{Session: t.session, Generation: t.Generation()}, ctx.Err()
	}
}

func (t *Turn) stopWatchdog() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// BeginTurn claims the session's turn flag and sends prompt to the runtime.
// It fails with core.ErrAlreadyProcessing if a turn is in progress. A
// transport fault on send is healed by resuming the same runtime session
// under a new generation and retrying once. When the send ultimately fails
// the turn is already closed and returned alongside the error.
func (m *Manager) BeginTurn(ctx context.Context, name, prompt string) (*Turn, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !e.processing.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("begin turn on %s: %w", name, core.ErrAlreadyProcessing)
	}

	return m.start(e, prompt)
}

// SendOrQueue begins a turn or, if the session is busy, enqueues prompt for
// later processing.
func (m *Manager) SendOrQueue(ctx context.Context, name, prompt string) (Outcome, *Turn, error) {
	t, err := m.BeginTurn(ctx, name, prompt)
	switch {
	case err == nil:
		return OutcomeBegun, t, nil
	case errors.Is(err, core.ErrAlreadyProcessing):
		if err := m.Enqueue(name, prompt); err != nil {
			return "", nil, err
		}
		return OutcomeQueued, nil, nil
	case t != nil:
		return OutcomeBegun, t, err
	default:
		return "", nil, err
	}
}

// SendAndWait begins a turn and blocks until its completion, returning the
// buffered assistant text.
func (m *Manager) SendAndWait(ctx context.Context, name, prompt string) (Result, error) {
	t, err := m.BeginTurn(ctx, name, prompt)
	if err != nil {
		if t != nil {
			return t.result, err
		}
		return Result{Session: name}, err
	}
	return t.Wait(ctx)
}

// CompleteTurn ends the active turn if expected matches the session's
// current generation. It reports whether the turn was closed; completions
// for superseded generations are ignored.
func (m *Manager) CompleteTurn(name string, expected uint64) (bool, error) {
	e, err := m.lookup(name)
	if err != nil {
		return false, err
	}
	return m.closeTurn(e, expected, "", nil, false), nil
}

// Enqueue appends prompt to the session queue. If the session is idle the
// queue is drained immediately.
func (m *Manager) Enqueue(name, prompt string) error {
	e, err := m.lookup(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.queue = append(e.queue, prompt)
	n := len(e.queue)
	e.mu.Unlock()

	m.logger.Debug("message queued", "session", name, "queue_len", n)

	if !e.processing.Load() {
		m.drain(e)
	}
	return nil
}

// Abort cancels the in-flight turn, clears the queue and aborts the runtime
// turn. Partial text is kept in the history.
func (m *Manager) Abort(ctx context.Context, name string) error {
	e, err := m.lookup(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.queue = nil
	t := e.turn
	if t == nil {
		e.mu.Unlock()
		return nil
	}
	h := e.handle
	snap := m.detach(e, t)
	e.mu.Unlock()

	m.release(e, t, snap, core.ErrCancelled)

	if err := m.runtime.Abort(ctx, h); err != nil {
		return fmt.Errorf("abort %s: %w", name, err)
	}
	return nil
}

func (m *Manager) start(e *entry, prompt string) (*Turn, error) {
	now := m.now()
	sctx, scancel := context.WithCancel(m.ctx)

	t := &Turn{
		session:      e.sess.Name,
		prompt:       prompt,
		startedAt:    now,
		streamCtx:    sctx,
		streamCancel: scancel,
		stopped:      make(chan struct{}),
		done:         make(chan struct{}),
	}

	e.mu.Lock()
	t.gen.Store(e.fence.Next())
	t.lastEvent = now
	t.resumed = e.resumedMidTurn
	e.turn = t
	e.state = core.TurnSending
	h := e.handle
	e.mu.Unlock()

	e.sess.AddMessage(core.NewUserMessage(prompt))
	m.logger.Debug("turn started", "session", t.session, "generation", t.Generation())

	go m.watch(e, t)

	if err := m.send(e, t, h); err != nil {
		return t, err
	}
	return t, nil
}

func (m *Manager) send(e *entry, t *Turn, h core.Handle) error {
	stream, err := m.runtime.Send(t.streamCtx, h, t.prompt)
	if err != nil && errors.Is(err, core.ErrTransportFault) {
		m.logger.Warn("send failed, resuming session", "session", t.session, "error", err)

		if h, err = m.reconnect(e, t); err == nil {
			stream, err = m.runtime.Send(t.streamCtx, h, t.prompt)
		}
	}

	gen := t.Generation()

	if err != nil {
		err = fmt.Errorf("send to %s: %w", t.session, err)
		m.closeTurn(e, gen, "", err, true)
		return err
	}

	e.mu.Lock()
	if e.turn == t && e.state == core.TurnSending {
		e.state = core.TurnActive
		t.lastEvent = m.now()
	}
	e.mu.Unlock()

	go m.pump(e, t, gen, stream)

	return nil
}

// reconnect resumes the runtime session against its existing handle and
// stamps a fresh generation onto the turn.
func (m *Manager) reconnect(e *entry, t *Turn) (core.Handle, error) {
	e.mu.Lock()
	spec := e.spec
	spec.Resume = true
	spec.ResumeID = e.handle.ID
	e.mu.Unlock()
	spec.Model = e.sess.CurrentModel()

	h, err := m.runtime.CreateOrResume(t.streamCtx, spec)
	if err != nil {
		return core.Handle{}, fmt.Errorf("resume %s: %w", t.session, err)
	}

	e.mu.Lock()
	e.handle = h
	if e.turn == t {
		t.gen.Store(e.fence.Next())
		t.resumed = true
	}
	e.mu.Unlock()

	m.logger.Info("session resumed", "session", t.session, "handle", h.ID, "generation", t.Generation())

	return h, nil
}

// pump consumes one runtime stream on behalf of generation gen. Content
// that arrives after gen was superseded is collected and flushed as stale
// history when the stream goes idle.
func (m *Manager) pump(e *entry, t *Turn, gen uint64, stream <-chan core.Event) {
	var orphan strings.Builder

	for ev := range stream {
		if ev.IsTerminal() {
			m.closeTurn(e, gen, orphan.String(), nil, false)
			return
		}
		if !m.apply(e, t, gen, ev) && ev.Type == core.EventTextDelta {
			orphan.WriteString(ev.Text)
		}
	}

	e.mu.Lock()
	current := e.turn == t && t.gen.Load() == gen
	e.mu.Unlock()

	if current {
		m.closeTurn(e, gen, "", fmt.Errorf("stream for %s closed before idle: %w", t.session, core.ErrTransportFault), true)
		return
	}
	m.flushStale(e, gen, orphan.String())
}

// apply folds an event into the turn buffers. It returns false when the
// event belongs to a superseded generation.
func (m *Manager) apply(e *entry, t *Turn, gen uint64, ev core.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.turn != t || e.state != core.TurnActive || t.gen.Load() != gen || !e.fence.Valid(gen) {
		return false
	}

	t.lastEvent = m.now()

	switch ev.Type {
	case core.EventTextDelta:
		t.text.WriteString(ev.Text)
	case core.EventReasoningDelta:
		t.reasoning.WriteString(ev.Text)
	case core.EventToolStart:
		t.inFlightTools++
		t.usedTools = true
	case core.EventToolComplete:
		if t.inFlightTools > 0 {
			t.inFlightTools--
		}
	case core.EventError:
		t.streamErr = ev.Error
	}

	return true
}

type turnSnapshot struct {
	gen       uint64
	text      string
	reasoning string
	usedTools bool
	streamErr string
	queued    bool
}

// detach clears the turn from the entry. Callers hold e.mu.
func (m *Manager) detach(e *entry, t *Turn) turnSnapshot {
	snap := turnSnapshot{
		gen:       t.gen.Load(),
		text:      t.text.String(),
		reasoning: t.reasoning.String(),
		usedTools: t.usedTools,
		streamErr: t.streamErr,
		queued:    len(e.queue) > 0,
	}
	t.text.Reset()
	t.reasoning.Reset()
	t.inFlightTools = 0

	e.turn = nil
	e.state = core.TurnIdle
	e.resumedMidTurn = false

	return snap
}

// closeTurn ends the turn stamped with gen. Unless force is set only an
// active turn is closed; force also closes a turn still sending. Stale
// calls flush staleText into history and return false.
func (m *Manager) closeTurn(e *entry, gen uint64, staleText string, cause error, force bool) bool {
	e.mu.Lock()
	t := e.turn
	valid := t != nil && t.gen.Load() == gen && e.fence.Valid(gen) &&
		(e.state == core.TurnActive || (force && e.state == core.TurnSending))
	if !valid {
		e.mu.Unlock()
		m.flushStale(e, gen, staleText)
		return false
	}
	snap := m.detach(e, t)
	e.mu.Unlock()

	if cause == nil && snap.streamErr != "" {
		cause = fmt.Errorf("runtime error: %s", snap.streamErr)
	}

	m.release(e, t, snap, cause)
	m.settle(e, snap.queued)

	return true
}

// settle schedules a drain after a released turn. The queue is re-read
// after the flag is cleared: an Enqueue that still saw the flag set
// skipped its own drain.
func (m *Manager) settle(e *entry, queued bool) {
	e.mu.Lock()
	pending := len(e.queue) > 0
	e.mu.Unlock()

	if queued || pending {
		time.AfterFunc(m.config.SettleDelay, func() { m.drain(e) })
	}
}

// release records the detached turn, resolves its waiter and frees the
// session's turn flag.
func (m *Manager) release(e *entry, t *Turn, snap turnSnapshot, cause error) {
	if snap.text != "" || snap.reasoning != "" {
		msg := core.NewAssistantMessage(snap.text, snap.gen)
		msg.Reasoning = snap.reasoning
		msg.UsedTools = snap.usedTools
		if cause != nil {
			msg.Error = cause.Error()
		}
		e.sess.AddMessage(msg)
	}

	switch {
	case errors.Is(cause, core.ErrStuckTurn):
		e.sess.AddMessage(core.NewNotice("Session appears stuck: no activity was observed, the turn was force-completed."))
	case errors.Is(cause, core.ErrCancelled):
		e.sess.AddMessage(core.NewNotice("Turn cancelled."))
	case cause != nil:
		e.sess.AddMessage(core.NewNotice(fmt.Sprintf("Turn failed: %v", cause)))
	}

	dur := m.now().Sub(t.startedAt)
	t.result = Result{
		Session:    t.session,
		Generation: snap.gen,
		Text:       snap.text,
		Reasoning:  snap.reasoning,
		UsedTools:  snap.usedTools,
		Duration:   dur,
		Err:        cause,
	}

	t.stopWatchdog()
	t.streamCancel()
	e.processing.Store(false)
	close(t.done)

	if l, ok := m.logger.(logging.TurnLogger); ok {
		l.LogTurn(t.session, snap.gen, dur, snap.usedTools, cause)
	} else {
		m.logger.Debug("turn completed", "session", t.session, "generation", snap.gen, "error", cause)
	}

	now := m.now()
	m.bus.Publish(notify.TurnCompleted{
		Session:    t.session,
		Generation: snap.gen,
		Duration:   dur,
		UsedTools:  snap.usedTools,
		Err:        cause,
		At:         now,
	})
	if cause != nil && !errors.Is(cause, core.ErrCancelled) {
		m.bus.Publish(notify.ErrorNotice{Session: t.session, Message: "turn failed", Err: cause, At: now})
	}
	m.bus.Publish(notify.StateChanged{Scope: notify.ScopeSession, ID: t.session, At: now})
}

func (m *Manager) flushStale(e *entry, gen uint64, text string) {
	if text == "" {
		m.logger.Debug("stale completion ignored", "session", e.sess.Name, "generation", gen)
		return
	}
	msg := core.NewAssistantMessage(text, gen)
	msg.Stale = true
	e.sess.AddMessage(msg)

	m.logger.Info("stale output flushed", "session", e.sess.Name, "generation", gen, "chars", len(text))
	m.bus.Publish(notify.StateChanged{Scope: notify.ScopeSession, ID: e.sess.Name, At: m.now()})
}

// drain starts the next queued prompt if the session is idle. A prompt
// enqueued concurrently with the flag release is picked up by the re-check.
func (m *Manager) drain(e *entry) {
	for {
		if m.ctx.Err() != nil {
			return
		}
		if _, err := m.lookup(e.sess.Name); err != nil {
			return
		}
		if !e.processing.CompareAndSwap(false, true) {
			return
		}

		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			e.processing.Store(false)

			e.mu.Lock()
			pending := len(e.queue)
			e.mu.Unlock()
			if pending == 0 {
				return
			}
			continue
		}
		prompt := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		if _, err := m.start(e, prompt); err != nil {
			m.logger.Warn("queued message failed", "session", e.sess.Name, "error", err)
		}
		return
	}
}
