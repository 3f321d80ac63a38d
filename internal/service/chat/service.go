package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/gyb-chat/backend/internal/model/assistant"
	"github.com/zhouzirui/gyb-chat/backend/internal/model/chat"
)

var ErrSessionNotFound = errors.New("session not found")

type sessionEntry struct {
	session      chat.Session
	conversation *Conversation
}

// Service keeps the live sessions of this process. Ending a session drops
// its conversation for good.
type Service struct {
	mu       sync.RWMutex
	profiles assistant.Store
	ids      *IDClock
	sessions map[string]*sessionEntry
}

// NewService bootstraps the in-memory session registry.
func NewService(profiles assistant.Store) *Service {
	return &Service{
		profiles: profiles,
		ids:      NewIDClock(),
		sessions: make(map[string]*sessionEntry),
	}
}

// CreateSession opens a session whose conversation starts with the
// assistant greeting.
func (s *Service) CreateSession(_ context.Context) (chat.Session, error) {
	profile := s.profiles.Default()

	session := chat.Session{
		ID:        uuid.NewString(),
		ProfileID: profile.ID,
		CreatedAt: time.Now().UTC(),
	}

	conversation := NewConversation(s.ids)
	if profile.Greeting != "" {
		conversation.Append(chat.SenderBot, profile.Greeting)
	}

	s.mu.Lock()
	s.sessions[session.ID] = &sessionEntry{session: session, conversation: conversation}
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	entry, err := s.lookup(sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	return entry.session, nil
}

// Conversation returns the live conversation of a session.
func (s *Service) Conversation(_ context.Context, sessionID string) (*Conversation, error) {
	entry, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return entry.conversation, nil
}

// LoadTranscript returns a copy of the session messages.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	entry, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return entry.conversation.Messages(), nil
}

// EndSession forgets the session. Unknown IDs are ignored.
func (s *Service) EndSession(_ context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

func (s *Service) lookup(sessionID string) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}
