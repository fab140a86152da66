package core

import "testing"

func TestSession_AddMessageAndClone(t *testing.T) {
	s := NewSession(SessionSpec{Name: "s1", Model: "gpt-4o"})
	s.AddMessage(NewUserMessage("hi"))
	s.AddMessage(NewAssistantMessage("hello", 1))

	clone := s.Clone()
	if clone == s {
		t.Error("Clone should be a different pointer")
	}

	clone.AddMessage(NewNotice("only in clone"))
	if len(s.Messages()) != 2 {
		t.Fatalf("original should not see clone's messages, got %d", len(s.Messages()))
	}
}

func TestSession_MessagesAreCopied(t *testing.T) {
	s := NewSession(SessionSpec{Name: "s2"})
	s.AddMessage(NewUserMessage("hi"))

	msgs := s.Messages()
	msgs[0].Text = "changed"
	if s.Messages()[0].Text != "hi" {
		t.Error("messages slice should be copied on read")
	}
}

func TestSession_LastAssistantTextSkipsStale(t *testing.T) {
	s := NewSession(SessionSpec{Name: "s3"})
	s.AddMessage(NewAssistantMessage("fresh", 1))
	stale := NewAssistantMessage("late", 0)
	stale.Stale = true
	s.AddMessage(stale)

	if got := s.LastAssistantText(); got != "fresh" {
		t.Fatalf("expected fresh, got %q", got)
	}
}

func TestSession_SetModel(t *testing.T) {
	s := NewSession(SessionSpec{Name: "s4", Model: "a"})
	before := s.Updated
	s.SetModel("b")
	if s.CurrentModel() != "b" {
		t.Fatalf("model not switched: %s", s.CurrentModel())
	}
	if s.Updated.Before(before) {
		t.Error("Updated should advance")
	}
}
