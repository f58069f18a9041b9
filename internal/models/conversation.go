// Package models defines persisted entities and HTTP payloads for taxchat.
package models

import "time"

// Conversation is a persisted interview session owned by a single user.
// Every store operation on it must match both the id and the owning user id;
// a mismatch is reported as not-found so foreign ids are indistinguishable
// from nonexistent ones.
type Conversation struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Title         string            `json:"title,omitempty"`
	State         ConversationState `json:"state"`
	ExtractedData ExtractedData     `json:"extracted_data,omitempty"`
	Turn          int               `json:"turn"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Message is one persisted turn half in a conversation.
type Message struct {
	ID               string      `json:"id"`
	ConversationID   string      `json:"conversation_id"`
	Role             MessageRole `json:"role"`
	Content          string      `json:"content"`
	PromptTokens     int64       `json:"prompt_tokens,omitempty"`
	CompletionTokens int64       `json:"completion_tokens,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Validate checks a message before persistence.
func (m *Message) Validate() error {
	if m.ConversationID == "" {
		return ErrEmptyConversation
	}
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return ErrInvalidRole
	}
	if m.Content == "" {
		return ErrEmptyMessage
	}
	if len(m.Content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// TaxProfile is the per-user snapshot of everything the interview has
// collected, upserted after each persisted turn.
type TaxProfile struct {
	UserID    string        `json:"user_id"`
	Data      ExtractedData `json:"data"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ChatMessage is one prior turn supplied as completion-service context.
type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// ChatRequest is the inbound payload for POST /api/tax-filing/chat.
//
// ConversationID is optional: when set (and the request is authenticated) the
// turn is persisted to that conversation; otherwise the turn is fully
// stateless and the caller keeps the state itself.
type ChatRequest struct {
	Message             string            `json:"message"`
	ConversationState   ConversationState `json:"conversationState"`
	ConversationHistory []ChatMessage     `json:"conversationHistory,omitempty"`
	ExtractedData       ExtractedData     `json:"extractedData,omitempty"`
	ConversationID      string            `json:"conversation_id,omitempty"`
}

// Validate checks the chat request payload.
func (r *ChatRequest) Validate() error {
	if r.Message == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ChatResponse is the successful result of one interview turn.
type ChatResponse struct {
	Message          string            `json:"message"`
	ExtractedData    ExtractedData     `json:"extractedData"`
	FieldsUpdated    []string          `json:"fieldsUpdated"`
	NewState         ConversationState `json:"newState"`
	AllExtractedData ExtractedData     `json:"allExtractedData"`
	Confidence       Confidence        `json:"confidence"`
}

// CreateConversationRequest is the payload for POST /api/conversations.
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// Validate checks the create-conversation payload.
func (r *CreateConversationRequest) Validate() error {
	if len(r.Title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	return nil
}
