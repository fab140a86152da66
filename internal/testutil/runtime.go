package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentsquad/core"
)

// Responder produces the full reply text for a prompt sent to a session.
type Responder func(session, prompt string) string

// Stream is a hand-driven event stream returned for held sessions.
type Stream struct {
	Session string
	Prompt  string
	ch      chan core.Event
	once    sync.Once
}

// Emit pushes an event onto the stream.
func (s *Stream) Emit(e core.Event) { s.ch <- e }

// Text pushes a text delta.
func (s *Stream) Text(text string) { s.Emit(core.NewTextDeltaEvent(text)) }

// Idle pushes the terminal idle signal.
func (s *Stream) Idle() { s.Emit(core.NewIdleEvent()) }

// Close closes the stream without an idle signal.
func (s *Stream) Close() { s.once.Do(func() { close(s.ch) }) }

// FakeRuntime is a scripted core.Runtime. By default every Send streams the
// Responder's reply in chunks followed by an idle signal. Sessions put on
// hold instead return hand-driven Streams, available through AwaitStream.
type FakeRuntime struct {
	// Respond builds replies; defaults to echoing the prompt.
	Respond Responder
	// ChunkSize splits replies into deltas; 0 sends one delta.
	ChunkSize int
	// Delay postpones the idle signal of automatic streams.
	Delay time.Duration

	mu           sync.Mutex
	handles      map[string]string // handle id -> session
	ids          map[string]string // session -> handle id
	held         map[string]bool
	streams      map[string]chan *Stream
	failures     map[string][]error
	inFlight     map[string]bool
	prompts      map[string][]string
	models       map[string]string
	switchCalls  map[string]int
	abortCalls   map[string]int
	createCalls  int
	resumeCalls  int
	failSwitchTo map[string]error
}

// NewFakeRuntime creates a FakeRuntime with an optional responder.
func NewFakeRuntime(respond Responder) *FakeRuntime {
	if respond == nil {
		respond = func(_ string, prompt string) string { return "ack: " + prompt }
	}
	return &FakeRuntime{
		Respond:      respond,
		handles:      map[string]string{},
		ids:          map[string]string{},
		held:         map[string]bool{},
		streams:      map[string]chan *Stream{},
		failures:     map[string][]error{},
		inFlight:     map[string]bool{},
		prompts:      map[string][]string{},
		models:       map[string]string{},
		switchCalls:  map[string]int{},
		abortCalls:   map[string]int{},
		failSwitchTo: map[string]error{},
	}
}

// Hold switches session to hand-driven streams.
func (f *FakeRuntime) Hold(session string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held[session] = true
	if _, ok := f.streams[session]; !ok {
		f.streams[session] = make(chan *Stream, 16)
	}
}

// FailSends makes the next len(errs) sends to session fail with errs in order.
func (f *FakeRuntime) FailSends(session string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[session] = append(f.failures[session], errs...)
}

// FailSwitch makes model switches for session fail with err.
func (f *FakeRuntime) FailSwitch(session string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSwitchTo[session] = err
}

// MarkTurnInFlight makes the next resume of session report a turn in flight.
func (f *FakeRuntime) MarkTurnInFlight(session string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight[session] = true
}

// AwaitStream waits for the next hand-driven stream of a held session.
func (f *FakeRuntime) AwaitStream(session string, timeout time.Duration) (*Stream, error) {
	f.mu.Lock()
	ch, ok := f.streams[session]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s is not held", session)
	}
	select {
	case s := <-ch:
		return s, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no stream for %s within %s", session, timeout)
	}
}

// CreateOrResume implements core.Runtime.
func (f *FakeRuntime) CreateOrResume(_ context.Context, spec core.SessionSpec) (core.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if spec.Resume && spec.ResumeID != "" {
		f.resumeCalls++
		f.handles[spec.ResumeID] = spec.Name
		f.ids[spec.Name] = spec.ResumeID
		h := core.Handle{ID: spec.ResumeID, TurnInFlight: f.inFlight[spec.Name]}
		delete(f.inFlight, spec.Name)
		return h, nil
	}
	f.createCalls++
	id := core.NewID()
	f.handles[id] = spec.Name
	f.ids[spec.Name] = id
	f.models[spec.Name] = spec.Model
	return core.Handle{ID: id}, nil
}

// Send implements core.Runtime.
func (f *FakeRuntime) Send(ctx context.Context, h core.Handle, prompt string) (<-chan core.Event, error) {
	f.mu.Lock()
	session, ok := f.handles[h.ID]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("unknown handle %s", h.ID)
	}
	if errs := f.failures[session]; len(errs) > 0 {
		f.failures[session] = errs[1:]
		f.mu.Unlock()
		return nil, errs[0]
	}
	f.prompts[session] = append(f.prompts[session], prompt)
	held := f.held[session]
	streamCh := f.streams[session]
	respond := f.Respond
	chunk := f.ChunkSize
	delay := f.Delay
	f.mu.Unlock()

	if held {
		s := &Stream{Session: session, Prompt: prompt, ch: make(chan core.Event, 64)}
		streamCh <- s
		return s.ch, nil
	}

	out := make(chan core.Event, 64)
	reply := respond(session, prompt)
	go func() {
		defer close(out)
		out <- core.NewEvent(core.EventTurnStart)
		for _, part := range split(reply, chunk) {
			out <- core.NewTextDeltaEvent(part)
		}
		out <- core.NewEvent(core.EventTurnEnd)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		out <- core.NewIdleEvent()
	}()
	return out, nil
}

// Abort implements core.Runtime.
func (f *FakeRuntime) Abort(_ context.Context, h core.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortCalls[f.handles[h.ID]]++
	return nil
}

// SwitchModel implements core.Runtime.
func (f *FakeRuntime) SwitchModel(_ context.Context, h core.Handle, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := f.handles[h.ID]
	if err := f.failSwitchTo[session]; err != nil {
		return err
	}
	f.switchCalls[session]++
	f.models[session] = model
	return nil
}

// Prompts returns the prompts accepted for session.
func (f *FakeRuntime) Prompts(session string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts[session]...)
}

// SwitchCalls returns the number of successful model switches for session.
func (f *FakeRuntime) SwitchCalls(session string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.switchCalls[session]
}

// AbortCalls returns the number of aborts for session.
func (f *FakeRuntime) AbortCalls(session string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.abortCalls[session]
}

// ResumeCalls returns the number of resume requests.
func (f *FakeRuntime) ResumeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumeCalls
}

// Model returns the runtime-side model of session.
func (f *FakeRuntime) Model(session string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.models[session]
}

func split(s string, size int) []string {
	if size <= 0 || len(s) <= size {
		return []string{s}
	}
	var parts []string
	for len(s) > size {
		parts = append(parts, s[:size])
		s = s[size:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

// PromptContains reports whether any prompt sent to session contains substr.
func (f *FakeRuntime) PromptContains(session, substr string) bool {
	for _, p := range f.Prompts(session) {
		if strings.Contains(p, substr) {
			return true
		}
	}
	return false
}
