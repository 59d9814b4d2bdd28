package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/ragdesk/internal/backend"
)

var (
	// ErrTerminal is returned when resolving a message that is no longer loading.
	ErrTerminal = errors.New("chat message already resolved")
	// ErrNotFound is returned for an unknown message id.
	ErrNotFound = errors.New("chat message not found")
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
	Sources   []backend.Source
	Loading   bool
}

// Store is the ordered conversation history. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	messages []Message
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// Append adds a message with a fresh id and returns it.
func (s *Store) Append(role Role, content string, loading bool) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
		Loading:   loading,
	}
	s.messages = append(s.messages, m)
	return m
}

// Resolve applies fn to a loading message and clears its loading flag.
// Only that message is touched.
func (s *Store) Resolve(id string, fn func(m *Message)) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		if !s.messages[i].Loading {
			return s.messages[i].clone(), ErrTerminal
		}
		fn(&s.messages[i])
		s.messages[i].Loading = false
		s.messages[i] = s.messages[i].clone()
		return s.messages[i].clone(), nil
	}
	return Message{}, ErrNotFound
}

// clone copies m deeply enough that no source data is shared with the copy.
func (m Message) clone() Message {
	if m.Sources == nil {
		return m
	}
	sources := make([]backend.Source, len(m.Sources))
	for i, src := range m.Sources {
		if src.Page != nil {
			page := *src.Page
			src.Page = &page
		}
		if src.Score != nil {
			score := *src.Score
			src.Score = &score
		}
		sources[i] = src
	}
	m.Sources = sources
	return m
}

// Messages returns a snapshot of the conversation.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.clone()
	}
	return out
}

func (s *Store) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m.clone(), true
		}
	}
	return Message{}, false
}

// Clear drops the conversation. Pending responses for cleared messages are
// discarded when they arrive.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}
