package core

import (
	"sync"
	"time"
)

// Role is the author category of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a session's ordered history.
type Message struct {
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Generation uint64    `json:"generation,omitempty"`
	UsedTools  bool      `json:"used_tools,omitempty"`
	// Stale marks text flushed from a superseded turn generation.
	Stale     bool      `json:"stale,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUserMessage creates a user-authored history entry.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage creates an assistant-authored history entry.
func NewAssistantMessage(text string, gen uint64) Message {
	return Message{Role: RoleAssistant, Text: text, Generation: gen, Timestamp: time.Now().UTC()}
}

// NewNotice creates a user-visible system notice.
func NewNotice(text string) Message {
	return Message{Role: RoleSystem, Text: text, Timestamp: time.Now().UTC()}
}

// Session represents a named conversational container tracking its current
// model, working context and ordered message history. It is safe for
// concurrent access.
//
// Contract:
//   - Mutations update the Updated timestamp
//   - Messages returns a copy of the history
//   - Clone performs deep copies of maps/slices for safe divergence.
type Session struct {
	Name       string            `json:"name"`
	Model      string            `json:"model"`
	WorkingDir string            `json:"working_dir,omitempty"`
	History    []Message         `json:"history"`
	Created    time.Time         `json:"created"`
	Updated    time.Time         `json:"updated"`
	Metadata   map[string]string `json:"metadata"`
	mu         sync.RWMutex
}

// NewSession creates a new session from a spec.
func NewSession(spec SessionSpec) *Session {
	now := time.Now()
	return &Session{
		Name:       spec.Name,
		Model:      spec.Model,
		WorkingDir: spec.WorkingDir,
		History:    []Message{},
		Created:    now,
		Updated:    now,
		Metadata:   map[string]string{},
	}
}

// CurrentModel returns the live model of the session.
func (s *Session) CurrentModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Model
}

// SetModel records a model switch.
func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Model = model
	s.Updated = time.Now()
}

// AddMessage appends a message to the history updating Updated timestamp.
func (s *Session) AddMessage(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, m)
	s.Updated = time.Now()
}

// Messages returns a copy of the full history.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]Message, len(s.History))
	copy(msgs, s.History)
	return msgs
}

// LastAssistantText returns the text of the most recent non-stale assistant message.
func (s *Session) LastAssistantText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.History) - 1; i >= 0; i-- {
		if m := s.History[i]; m.Role == RoleAssistant && !m.Stale {
			return m.Text
		}
	}
	return ""
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		Name:       s.Name,
		Model:      s.Model,
		WorkingDir: s.WorkingDir,
		History:    make([]Message, len(s.History)),
		Created:    s.Created,
		Updated:    s.Updated,
		Metadata:   make(map[string]string, len(s.Metadata)),
	}
	copy(clone.History, s.History)
	for k, v := range s.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}
