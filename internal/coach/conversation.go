package coach

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/worldwidesoldier/sales-coach-ai/internal/agent"
	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

// DefaultContextMessages is the default recent-context window.
const DefaultContextMessages = 15

// ErrAlreadyExists is returned when starting a conversation that is still live.
var ErrAlreadyExists = errors.New("conversation already exists")

// Message is one finalized line in a conversation log.
type Message struct {
	Text      string         `json:"text"`
	Speaker   domain.Speaker `json:"speaker"`
	Timestamp time.Time      `json:"timestamp"`
}

type conversation struct {
	startedAt time.Time
	endedAt   *time.Time
	messages  []Message
}

// ConversationStore holds the ordered message log of every live session.
type ConversationStore struct {
	mu     sync.RWMutex
	convs  map[string]*conversation
	logger *slog.Logger
	now    func() time.Time
}

// NewConversationStore creates an empty store.
func NewConversationStore(logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationStore{
		convs:  make(map[string]*conversation),
		logger: logger,
		now:    time.Now,
	}
}

// Start creates an empty log. Starting a session that exists and has not
// ended fails with ErrAlreadyExists; an ended one is replaced.
func (s *ConversationStore) Start(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.convs[sessionID]; ok && c.endedAt == nil {
		return ErrAlreadyExists
	}
	s.convs[sessionID] = &conversation{startedAt: s.now()}
	return nil
}

// Append adds a finalized message. Unknown sessions are created on the fly.
func (s *ConversationStore) Append(sessionID, text string, speaker domain.Speaker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[sessionID]
	if !ok {
		s.logger.Warn("Appending to unknown conversation, creating it", "session_id", sessionID)
		c = &conversation{startedAt: s.now()}
		s.convs[sessionID] = c
	}
	c.messages = append(c.messages, Message{Text: text, Speaker: speaker, Timestamp: s.now()})
}

// RecentContext returns up to maxMessages of the latest messages in
// insertion order. Unknown sessions yield an empty slice.
func (s *ConversationStore) RecentContext(sessionID string, maxMessages int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[sessionID]
	if !ok || maxMessages <= 0 {
		return []Message{}
	}
	msgs := c.messages
	if len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	return append([]Message{}, msgs...)
}

// Full returns every message of the session.
func (s *ConversationStore) Full(sessionID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[sessionID]
	if !ok {
		return []Message{}
	}
	return append([]Message{}, c.messages...)
}

// End stamps the end time without dropping messages.
func (s *ConversationStore) End(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.convs[sessionID]; ok && c.endedAt == nil {
		ended := s.now()
		c.endedAt = &ended
	}
}

// Clear removes all data for the session.
func (s *ConversationStore) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, sessionID)
}

// MessageCount returns the number of messages stored for the session.
func (s *ConversationStore) MessageCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.convs[sessionID]; ok {
		return len(c.messages)
	}
	return 0
}

// ActiveSessions returns the ids of conversations that have not ended.
func (s *ConversationStore) ActiveSessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.convs))
	for id, c := range s.convs {
		if c.endedAt == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Turns converts messages into generator context turns.
func Turns(msgs []Message) []agent.Turn {
	out := make([]agent.Turn, len(msgs))
	for i, m := range msgs {
		out[i] = agent.Turn{Speaker: m.Speaker, Text: m.Text}
	}
	return out
}
