package openai

import (
	"testing"

	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/model"
	"github.com/stretchr/testify/assert"
)

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages(model.Request{
		Instructions: "be brief",
		Messages: []core.Message{
			core.NewUserMessage("hi"),
			core.NewNotice("model switched"),
			core.NewAssistantMessage("hello", 1),
			core.NewUserMessage(""),
		},
	})

	if assert.Len(t, msgs, 3) {
		assert.NotNil(t, msgs[0].OfSystem)
		assert.NotNil(t, msgs[1].OfUser)
		assert.NotNil(t, msgs[2].OfAssistant)
	}
}

func TestBuildMessages_InstructionsOnly(t *testing.T) {
	assert.Empty(t, buildMessages(model.Request{Instructions: "be brief"}))
}

func TestFactory(t *testing.T) {
	f := Factory(nil, func(o *Options) { o.Temperature = 0 })

	m, err := f("gpt-4o")
	assert.NoError(t, err)
	assert.Equal(t, model.Info{Name: "gpt-4o", Provider: "openai"}, m.Info())

	_, err = f("")
	assert.Error(t, err)
}
