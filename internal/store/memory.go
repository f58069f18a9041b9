// Package store provides storage backends for taxchat.
//
// This file implements an in-memory store used by tests and local
// experiments; it honors the same ownership and turn-counter semantics as
// the database-backed stores.
package store

import (
	"sync"
	"time"

	"github.com/northledger/taxchat/internal/models"
)

// InMemoryStore is a mutex-guarded map-backed Store implementation.
type InMemoryStore struct {
	mu            sync.Mutex
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	profiles      map[string]models.TaxProfile
	tokens        map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		profiles:      make(map[string]models.TaxProfile),
		tokens:        make(map[string]string),
	}
}

// CreateConversation inserts a new conversation.
func (s *InMemoryStore) CreateConversation(c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

// GetConversation retrieves a conversation matching both id and owner, or nil.
func (s *InMemoryStore) GetConversation(id, userID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return nil, nil
	}
	out := c
	normalizeConversation(&out)
	return &out, nil
}

// ListConversations returns the user's conversations.
func (s *InMemoryStore) ListConversations(userID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			cc := c
			normalizeConversation(&cc)
			out = append(out, cc)
		}
	}
	return out, nil
}

// DeleteConversation removes a conversation and its messages for the owner.
func (s *InMemoryStore) DeleteConversation(id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok && c.UserID == userID {
		delete(s.conversations, id)
		delete(s.messages, id)
	}
	return nil
}

// SaveConversationState persists post-turn state with the turn-counter
// compare-and-increment.
func (s *InMemoryStore) SaveConversationState(id, userID string, state models.ConversationState, data models.ExtractedData, expectedTurn int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return ErrConversationNotFound
	}
	if c.Turn != expectedTurn {
		return ErrTurnConflict
	}
	c.State = state
	c.ExtractedData = data.Clone()
	c.Turn++
	c.UpdatedAt = time.Now()
	s.conversations[id] = c
	return nil
}

// AddMessage appends a message.
func (s *InMemoryStore) AddMessage(m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return nil
}

// ListMessages returns a conversation's messages, scoped to the owner.
func (s *InMemoryStore) ListMessages(conversationID, userID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.UserID != userID {
		return nil, nil
	}
	return append([]models.Message(nil), s.messages[conversationID]...), nil
}

// SaveTaxProfile upserts the user's profile snapshot.
func (s *InMemoryStore) SaveTaxProfile(p models.TaxProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

// GetTaxProfile retrieves the user's profile snapshot, or nil.
func (s *InMemoryStore) GetTaxProfile(userID string) (*models.TaxProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// AddAuthToken registers a bearer token for a user.
func (s *InMemoryStore) AddAuthToken(token, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = userID
	return nil
}

// GetUserIDByToken resolves a bearer token, or "".
func (s *InMemoryStore) GetUserIDByToken(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[token], nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
