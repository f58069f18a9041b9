// Package store provides storage backends for taxchat.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/northledger/taxchat/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists taxchat data in a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// CreateConversation inserts a new conversation row.
func (s *SQLiteStore) CreateConversation(c models.Conversation) error {
	stateJSON, err := marshalState(c.State)
	if err != nil {
		return err
	}
	dataJSON, err := marshalData(c.ExtractedData)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO conversations (id, user_id, title, state, extracted_data, turn, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, stateJSON, dataJSON, c.Turn, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore CreateConversation succeeded", "id", c.ID)
	return nil
}

// GetConversation retrieves a conversation matching both id and owner.
// Returns nil when no row matches; a foreign id looks identical to a missing
// one.
func (s *SQLiteStore) GetConversation(id, userID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, user_id, title, state, extracted_data, turn, created_at, updated_at
		FROM conversations WHERE id = ? AND user_id = ?`, id, userID)

	var c models.Conversation
	var stateJSON, dataJSON string
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &stateJSON, &dataJSON, &c.Turn, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversation not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query conversation %s: %w", id, err)
	}
	c.State = unmarshalState(stateJSON)
	c.ExtractedData = unmarshalData(dataJSON)
	normalizeConversation(&c)
	return &c, nil
}

// ListConversations returns all conversations owned by the user, most
// recently updated first.
func (s *SQLiteStore) ListConversations(userID string) ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT id, user_id, title, state, extracted_data, turn, created_at, updated_at
		FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var stateJSON, dataJSON string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &stateJSON, &dataJSON, &c.Turn, &c.CreatedAt, &c.UpdatedAt); err != nil {
			slog.Error("SQLiteStore ListConversations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		c.State = unmarshalState(stateJSON)
		c.ExtractedData = unmarshalData(dataJSON)
		normalizeConversation(&c)
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	slog.Debug("SQLiteStore ListConversations succeeded", "count", len(conversations))
	return conversations, nil
}

// DeleteConversation removes a conversation and its messages for the owner.
// Both deletes run in one transaction so a failure cannot orphan message rows.
func (s *SQLiteStore) DeleteConversation(id, userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore DeleteConversation begin failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversation failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
			slog.Error("SQLiteStore DeleteConversation message cleanup failed", "error", err, "id", id)
			return fmt.Errorf("failed to delete messages for conversation %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	slog.Debug("SQLiteStore DeleteConversation succeeded", "id", id)
	return nil
}

// SaveConversationState persists the post-turn state with an optimistic
// compare-and-increment on the turn counter.
func (s *SQLiteStore) SaveConversationState(id, userID string, state models.ConversationState, data models.ExtractedData, expectedTurn int) error {
	stateJSON, err := marshalState(state)
	if err != nil {
		return err
	}
	dataJSON, err := marshalData(data)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`UPDATE conversations SET state = ?, extracted_data = ?, turn = turn + 1, updated_at = ?
		WHERE id = ? AND user_id = ? AND turn = ?`,
		stateJSON, dataJSON, time.Now(), id, userID, expectedTurn)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "id", id)
		return fmt.Errorf("failed to save state for conversation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		existing, getErr := s.GetConversation(id, userID)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return ErrConversationNotFound
		}
		slog.Warn("SQLiteStore SaveConversationState turn conflict", "id", id, "expectedTurn", expectedTurn, "actualTurn", existing.Turn)
		return ErrTurnConflict
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "id", id, "turn", expectedTurn+1)
	return nil
}

// AddMessage appends a message row. Ownership of the conversation is the
// caller's responsibility; handlers resolve the conversation first.
func (s *SQLiteStore) AddMessage(m models.Message) error {
	_, err := s.db.Exec(`INSERT INTO messages (id, conversation_id, role, content, prompt_tokens, completion_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.PromptTokens, m.CompletionTokens, m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to insert message for conversation %s: %w", m.ConversationID, err)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "conversationID", m.ConversationID, "role", m.Role)
	return nil
}

// ListMessages returns a conversation's messages in chronological order,
// scoped to the owning user through a join.
func (s *SQLiteStore) ListMessages(conversationID, userID string) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT m.id, m.conversation_id, m.role, m.content, m.prompt_tokens, m.completion_tokens, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.conversation_id = ? AND c.user_id = ?
		ORDER BY m.created_at ASC`, conversationID, userID)
	if err != nil {
		slog.Error("SQLiteStore ListMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.PromptTokens, &m.CompletionTokens, &m.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("SQLiteStore ListMessages succeeded", "conversationID", conversationID, "count", len(messages))
	return messages, nil
}

// SaveTaxProfile upserts the per-user extraction snapshot.
func (s *SQLiteStore) SaveTaxProfile(p models.TaxProfile) error {
	dataJSON, err := marshalData(p.Data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO tax_profiles (user_id, data, updated_at) VALUES (?, ?, ?)`,
		p.UserID, dataJSON, p.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveTaxProfile failed", "error", err, "userID", p.UserID)
		return fmt.Errorf("failed to upsert tax profile for %s: %w", p.UserID, err)
	}
	slog.Debug("SQLiteStore SaveTaxProfile succeeded", "userID", p.UserID)
	return nil
}

// GetTaxProfile retrieves the per-user extraction snapshot, or nil.
func (s *SQLiteStore) GetTaxProfile(userID string) (*models.TaxProfile, error) {
	var p models.TaxProfile
	var dataJSON string
	err := s.db.QueryRow(`SELECT user_id, data, updated_at FROM tax_profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &dataJSON, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTaxProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query tax profile for %s: %w", userID, err)
	}
	p.Data = unmarshalData(dataJSON)
	return &p, nil
}

// AddAuthToken registers a bearer token for a user.
func (s *SQLiteStore) AddAuthToken(token, userID string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO auth_tokens (token, user_id, created_at) VALUES (?, ?, ?)`,
		token, userID, time.Now())
	if err != nil {
		slog.Error("SQLiteStore AddAuthToken failed", "error", err)
		return fmt.Errorf("failed to insert auth token: %w", err)
	}
	return nil
}

// GetUserIDByToken resolves a bearer token, or "" when unknown.
func (s *SQLiteStore) GetUserIDByToken(token string) (string, error) {
	var userID string
	err := s.db.QueryRow(`SELECT user_id FROM auth_tokens WHERE token = ?`, token).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetUserIDByToken failed", "error", err)
		return "", fmt.Errorf("failed to query auth token: %w", err)
	}
	return userID, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
