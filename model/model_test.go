package model

import (
	"context"
	"strings"
	"testing"

	"github.com/hupe1980/agentsquad/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()
	var out []Response
	for r := range respCh {
		out = append(out, r)
	}
	return out, <-errCh
}

func TestMockModel_CannedResponse(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("ping", "pong")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("ping")},
	})
	out, err := drain(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].Partial)
	assert.Equal(t, "pong", out[0].Text)
	assert.Equal(t, "stop", out[0].FinishReason)
}

func TestMockModel_StreamsWords(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.SetResponder(func(req Request) string { return "one two three" })

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("count")},
		Stream:   true,
	})
	out, err := drain(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, out, 4)

	var b strings.Builder
	for _, r := range out[:3] {
		assert.True(t, r.Partial)
		b.WriteString(r.Text)
	}
	assert.Equal(t, "one two three", b.String())
	assert.Equal(t, "one two three", out[3].Text)
}

func TestMockModel_NoMessages(t *testing.T) {
	m := NewMockModel("mock", "test")

	respCh, errCh := m.Generate(context.Background(), Request{})
	_, err := drain(t, respCh, errCh)
	assert.Error(t, err)
}

func TestRequest_LastUserText(t *testing.T) {
	req := Request{Messages: []core.Message{
		core.NewUserMessage("first"),
		core.NewAssistantMessage("reply", 1),
		core.NewUserMessage("second"),
		core.NewNotice("note"),
	}}
	assert.Equal(t, "second", req.LastUserText())
	assert.Empty(t, Request{}.LastUserText())
}

func TestMockFactory(t *testing.T) {
	f := MockFactory(func(name string, req Request) string { return name + ":" + req.LastUserText() })

	m, err := f("mini")
	require.NoError(t, err)
	assert.Equal(t, Info{Name: "mini", Provider: "mock"}, m.Info())

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("hi")},
	})
	out, err := drain(t, respCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, "mini:hi", out[len(out)-1].Text)
}
