package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiquet-ai/casteller-assistant/internal/model"
)

// MemoryStore is an in-memory Store for tests and single-binary dev setups.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

type memorySession struct {
	session  model.ChatSession
	ownerID  string
	messages []model.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

// Load returns the stored history of a session.
func (s *MemoryStore) Load(ctx context.Context, userID, sessionID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.ownerID != userID {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	out := make([]model.Message, len(sess.messages))
	copy(out, sess.messages)
	return out, nil
}

// Save persists a batch of messages as a new session.
func (s *MemoryStore) Save(ctx context.Context, userID string, req *model.SaveSessionRequest) (*model.ChatSession, error) {
	now := time.Now()
	session := model.ChatSession{
		ID:           uuid.New().String(),
		Title:        req.Title,
		CreatedAt:    now,
		UpdatedAt:    now,
		MessageCount: len(req.Messages),
	}

	msgs := make([]model.Message, len(req.Messages))
	copy(msgs, req.Messages)

	s.mu.Lock()
	s.sessions[session.ID] = &memorySession{
		session:  session,
		ownerID:  userID,
		messages: msgs,
	}
	s.mu.Unlock()

	return &session, nil
}

// Seed installs a session with the given id and messages. Test helper.
func (s *MemoryStore) Seed(userID, sessionID, title string, msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = &memorySession{
		session: model.ChatSession{ID: sessionID, Title: title, MessageCount: len(msgs)},
		ownerID: userID,
		messages: append([]model.Message(nil), msgs...),
	}
}

// Messages returns the stored messages of a session. Test helper.
func (s *MemoryStore) Messages(sessionID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return append([]model.Message(nil), sess.messages...)
	}
	return nil
}
