// Package store provides storage backends for taxchat.
//
// It persists conversations, messages, tax profiles and auth tokens behind a
// common interface with SQLite and PostgreSQL implementations. Every
// conversation operation is scoped by both the conversation id and the owning
// user id: a mismatch behaves exactly like a missing row, so callers cannot
// distinguish foreign conversations from nonexistent ones.
package store

import (
	"errors"

	"github.com/northledger/taxchat/internal/models"
)

// Error variables for store failure classes.
var (
	// ErrConversationNotFound is returned by state saves against a row that
	// does not exist for the given user.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrTurnConflict is returned when a state save's expected turn does not
	// match the persisted row, i.e. a concurrent turn won the race.
	ErrTurnConflict = errors.New("conversation turn conflict")
)

// Store defines the persistence operations used across taxchat modules.
// Lookup methods return nil (not an error) when no row matches.
type Store interface {
	CreateConversation(c models.Conversation) error
	GetConversation(id, userID string) (*models.Conversation, error)
	ListConversations(userID string) ([]models.Conversation, error)
	DeleteConversation(id, userID string) error

	// SaveConversationState persists the post-turn cursor and accumulated
	// data, comparing and incrementing the row's turn counter atomically.
	// expectedTurn is the turn the caller's state was built from.
	SaveConversationState(id, userID string, state models.ConversationState, data models.ExtractedData, expectedTurn int) error

	AddMessage(m models.Message) error
	ListMessages(conversationID, userID string) ([]models.Message, error)

	SaveTaxProfile(p models.TaxProfile) error
	GetTaxProfile(userID string) (*models.TaxProfile, error)

	AddAuthToken(token, userID string) error
	// GetUserIDByToken resolves a bearer token to its user id, or "" when the
	// token is unknown.
	GetUserIDByToken(token string) (string, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database DSN: a file path for SQLite, a connection URL
// for PostgreSQL.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
