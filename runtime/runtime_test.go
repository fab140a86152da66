package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/model"
	"github.com/hupe1980/agentsquad/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// blockingModel streams one delta and then waits for cancellation.
type blockingModel struct{ started chan struct{} }

func (b *blockingModel) Generate(ctx context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		out <- model.Response{Partial: true, Text: "thinking about it"}
		close(b.started)
		<-ctx.Done()
		errCh <- ctx.Err()
	}()
	return out, errCh
}

func (b *blockingModel) Info() model.Info { return model.Info{Name: "slow", Provider: "test"} }

type failingModel struct{}

func (failingModel) Generate(context.Context, model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response)
	errCh := make(chan error, 1)
	close(out)
	errCh <- errors.New("rate limited")
	close(errCh)
	return out, errCh
}

func (failingModel) Info() model.Info { return model.Info{Name: "broken", Provider: "test"} }

func collect(t *testing.T, ch <-chan core.Event) []core.Event {
	t.Helper()
	var events []core.Event
	timeout := time.After(waitFor)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not close within %s", waitFor)
		}
	}
}

func text(events []core.Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == core.EventTextDelta {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func TestModelRuntime_SendStreamsTurn(t *testing.T) {
	rt := New(model.MockFactory(nil))

	h, err := rt.CreateOrResume(context.Background(), core.SessionSpec{Name: "a", Model: "mock-1"})
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)

	ch, err := rt.Send(context.Background(), h, "hello there")
	require.NoError(t, err)

	events := collect(t, ch)
	require.NotEmpty(t, events)
	assert.Equal(t, core.EventTurnStart, events[0].Type)
	assert.Equal(t, core.EventTurnEnd, events[len(events)-2].Type)
	assert.True(t, events[len(events)-1].IsTerminal())
	assert.Equal(t, "Mock response to: hello there", text(events))
}

func TestModelRuntime_NonStreamingDeliversSingleDelta(t *testing.T) {
	rt := New(model.MockFactory(nil), func(o *Options) { o.Stream = false })

	h, err := rt.CreateOrResume(context.Background(), core.SessionSpec{Name: "a", Model: "mock-1"})
	require.NoError(t, err)

	ch, err := rt.Send(context.Background(), h, "hi")
	require.NoError(t, err)

	var deltas int
	for _, ev := range collect(t, ch) {
		if ev.Type == core.EventTextDelta {
			deltas++
		}
	}
	assert.Equal(t, 1, deltas)
}

func TestModelRuntime_KeepsConversation(t *testing.T) {
	rt := New(model.MockFactory(func(_ string, req model.Request) string {
		return fmt.Sprintf("%d messages, instructions %q", len(req.Messages), req.Instructions)
	}))

	h, err := rt.CreateOrResume(context.Background(), core.SessionSpec{Name: "a", Model: "mock-1", SystemPrompt: "be brief"})
	require.NoError(t, err)

	ch, err := rt.Send(context.Background(), h, "one")
	require.NoError(t, err)
	assert.Equal(t, `1 messages, instructions "be brief"`, text(collect(t, ch)))

	ch, err = rt.Send(context.Background(), h, "two")
	require.NoError(t, err)
	assert.Equal(t, `3 messages, instructions "be brief"`, text(collect(t, ch)))
}

func TestModelRuntime_MaxHistory(t *testing.T) {
	rt := New(model.MockFactory(func(_ string, req model.Request) string {
		return fmt.Sprint(len(req.Messages))
	}), func(o *Options) { o.MaxHistory = 2 })

	h, err := rt.CreateOrResume(context.Background(), core.SessionSpec{Name: "a", Model: "m"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ch, err := rt.Send(context.Background(), h, "again")
		require.NoError(t, err)
		collect(t, ch)
	}

	ch, err := rt.Send(context.Background(), h, "last")
	require.NoError(t, err)
	assert.Equal(t, "2", text(collect(t, ch)))
}

func TestModelRuntime_SwitchModel(t *testing.T) {
	rt := New(model.MockFactory(func(name string, _ model.Request) string { return "from " + name }))

	h, err := rt.CreateOrResume(context.Background(), core.SessionSpec{Name: "a", Model: "small"})
	require.NoError(t, err)

	require.NoError(t, rt.SwitchModel(context.Background(), h, "large"))

	ch, err := rt.Send(context.Background(), h, "hi")
	require.NoError(t, err)
	assert.Equal(t, "from large", text(collect(t, ch)))
}

func TestModelRuntime_UnknownHandleIsTransportFault(t *testing.T) {
	rt := New(model.MockFactory(nil))

	_, err := rt.Send(context.Background(), core.Handle{ID: "gone"}, "hi")
	assert.ErrorIs(t, err, core.ErrTransportFault)

	err = rt.SwitchModel(context.Background(), core.Handle{ID: "gone"}, "m")
	assert.ErrorIs(t, err, core.ErrTransportFault)
}

func TestModelRuntime_ResumeUnknownIDKeepsID(t *testing.T) {
	rt := New(model.MockFactory(nil))

	h, err := rt.CreateOrResume(context.Background(), core.SessionSpec{Name: "a", Model: "m", Resume: true, ResumeID: "saved-id"})
	require.NoError(t, err)
	assert.Equal(t, "saved-id", h.ID)
	assert.False(t, h.TurnInFlight)
	assert.Equal(t, 1, rt.Len())
}

func TestModelRuntime_AbortClosesStreamWithoutIdle(t *testing.T) {
	bm := &blockingModel{started: make(chan struct{})}
	rt := New(func(string) (model.Model, error) { return bm, nil })

	h, err := rt.CreateOrResume(context.Background(), core.SessionSpec{Name: "a", Model: "slow"})
	require.NoError(t, err)

	ch, err := rt.Send(context.Background(), h, "hi")
	require.NoError(t, err)

	select {
	case <-bm.started:
	case <-time.After(waitFor):
		t.Fatal("model did not start")
	}

	resumed, err := rt.CreateOrResume(context.Background(), core.SessionSpec{Name: "a", Resume: true, ResumeID: h.ID})
	require.NoError(t, err)
	assert.Equal(t, h.ID, resumed.ID)
	assert.True(t, resumed.TurnInFlight)

	require.NoError(t, rt.Abort(context.Background(), h))

	for _, ev := range collect(t, ch) {
		assert.NotEqual(t, core.EventIdle, ev.Type)
	}
}

func TestModelRuntime_GenerationErrorEmitsErrorEvent(t *testing.T) {
	rt := New(func(string) (model.Model, error) { return failingModel{}, nil })

	h, err := rt.CreateOrResume(context.Background(), core.SessionSpec{Name: "a", Model: "broken"})
	require.NoError(t, err)

	ch, err := rt.Send(context.Background(), h, "hi")
	require.NoError(t, err)

	events := collect(t, ch)
	var errEvent *core.Event
	for i := range events {
		if events[i].Type == core.EventError {
			errEvent = &events[i]
		}
	}
	require.NotNil(t, errEvent)
	assert.Equal(t, "rate limited", errEvent.Error)
	assert.True(t, events[len(events)-1].IsTerminal())
}

func TestModelRuntime_FactoryError(t *testing.T) {
	rt := New(func(name string) (model.Model, error) { return nil, fmt.Errorf("no such model %s", name) })

	_, err := rt.CreateOrResume(context.Background(), core.SessionSpec{Name: "a", Model: "ghost"})
	assert.ErrorContains(t, err, "no such model ghost")
}

func TestModelRuntime_DrivesSessionManager(t *testing.T) {
	rt := New(model.MockFactory(func(name string, req model.Request) string {
		return name + " says: " + req.LastUserText()
	}))
	m := session.NewManager(rt)
	t.Cleanup(m.Shutdown)

	_, err := m.Create(context.Background(), core.SessionSpec{Name: "a", Model: "mock-mini"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	res, err := m.SendAndWait(ctx, "a", "ping")
	require.NoError(t, err)
	assert.Equal(t, "mock-mini says: ping", res.Text)

	switched, err := m.EnsureModel(ctx, "a", "mock-large")
	require.NoError(t, err)
	assert.True(t, switched)

	res, err = m.SendAndWait(ctx, "a", "pong")
	require.NoError(t, err)
	assert.Equal(t, "mock-large says: pong", res.Text)
}

func TestModelRuntime_GenerationErrorFailsTurn(t *testing.T) {
	rt := New(func(string) (model.Model, error) { return failingModel{}, nil })
	m := session.NewManager(rt)
	t.Cleanup(m.Shutdown)

	_, err := m.Create(context.Background(), core.SessionSpec{Name: "a", Model: "broken"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	_, err = m.SendAndWait(ctx, "a", "ping")
	assert.ErrorContains(t, err, "rate limited")
}

func TestModelRuntime_CallBudget(t *testing.T) {
	rt := New(model.MockFactory(nil), func(o *Options) { o.MaxCalls = 1 })

	h, err := rt.CreateOrResume(context.Background(), core.SessionSpec{Name: "a", Model: "m"})
	require.NoError(t, err)

	ch, err := rt.Send(context.Background(), h, "first")
	require.NoError(t, err)
	collect(t, ch)

	_, err = rt.Send(context.Background(), h, "second")
	assert.ErrorIs(t, err, ErrBudgetExhausted)

	used, remaining := rt.Calls()
	assert.Equal(t, 1, used)
	assert.Equal(t, 0, remaining)
}

func TestModelRuntime_UnlimitedBudget(t *testing.T) {
	rt := New(model.MockFactory(nil))
	_, remaining := rt.Calls()
	assert.Equal(t, -1, remaining)
}
