// Package store provides storage backends for taxchat.
//
// This file implements the PostgreSQL-backed store used in hosted
// deployments.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/northledger/taxchat/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists taxchat data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN and
// runs migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// CreateConversation inserts a new conversation row.
func (s *PostgresStore) CreateConversation(c models.Conversation) error {
	stateJSON, err := marshalState(c.State)
	if err != nil {
		return err
	}
	dataJSON, err := marshalData(c.ExtractedData)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO conversations (id, user_id, title, state, extracted_data, turn, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.UserID, c.Title, stateJSON, dataJSON, c.Turn, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
	}
	return nil
}

// GetConversation retrieves a conversation matching both id and owner, or
// nil when no row matches.
func (s *PostgresStore) GetConversation(id, userID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, user_id, title, state, extracted_data, turn, created_at, updated_at
		FROM conversations WHERE id = $1 AND user_id = $2`, id, userID)

	var c models.Conversation
	var stateJSON, dataJSON string
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &stateJSON, &dataJSON, &c.Turn, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query conversation %s: %w", id, err)
	}
	c.State = unmarshalState(stateJSON)
	c.ExtractedData = unmarshalData(dataJSON)
	normalizeConversation(&c)
	return &c, nil
}

// ListConversations returns all conversations owned by the user, most
// recently updated first.
func (s *PostgresStore) ListConversations(userID string) ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT id, user_id, title, state, extracted_data, turn, created_at, updated_at
		FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		slog.Error("PostgresStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var stateJSON, dataJSON string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &stateJSON, &dataJSON, &c.Turn, &c.CreatedAt, &c.UpdatedAt); err != nil {
			slog.Error("PostgresStore ListConversations scan failed", "error", err)
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
	return conversations, nil
}

// DeleteConversation removes a conversation and its messages for the owner.
// Both deletes run in one transaction so a failure cannot orphan message rows.
func (s *PostgresStore) DeleteConversation(id, userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore DeleteConversation begin failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM conversations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteConversation failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
			slog.Error("PostgresStore DeleteConversation message cleanup failed", "error", err, "id", id)
			return fmt.Errorf("failed to delete messages for conversation %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// SaveConversationState persists the post-turn state with an optimistic
// compare-and-increment on the turn counter.
func (s *PostgresStore) SaveConversationState(id, userID string, state models.ConversationState, data models.ExtractedData, expectedTurn int) error {
	stateJSON, err := marshalState(state)
	if err != nil {
		return err
	}
	dataJSON, err := marshalData(data)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`UPDATE conversations SET state = $1, extracted_data = $2, turn = turn + 1, updated_at = $3
		WHERE id = $4 AND user_id = $5 AND turn = $6`,
		stateJSON, dataJSON, time.Now(), id, userID, expectedTurn)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "id", id)
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
		slog.Warn("PostgresStore SaveConversationState turn conflict", "id", id, "expectedTurn", expectedTurn, "actualTurn", existing.Turn)
		return ErrTurnConflict
	}
	return nil
}

// AddMessage appends a message row.
func (s *PostgresStore) AddMessage(m models.Message) error {
	_, err := s.db.Exec(`INSERT INTO messages (id, conversation_id, role, content, prompt_tokens, completion_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.PromptTokens, m.CompletionTokens, m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to insert message for conversation %s: %w", m.ConversationID, err)
	}
	return nil
}

// ListMessages returns a conversation's messages in chronological order,
// scoped to the owning user through a join.
func (s *PostgresStore) ListMessages(conversationID, userID string) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT m.id, m.conversation_id, m.role, m.content, m.prompt_tokens, m.completion_tokens, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.conversation_id = $1 AND c.user_id = $2
		ORDER BY m.created_at ASC`, conversationID, userID)
	if err != nil {
		slog.Error("PostgresStore ListMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.PromptTokens, &m.CompletionTokens, &m.CreatedAt); err != nil {
			slog.Error("PostgresStore ListMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return messages, nil
}

// SaveTaxProfile upserts the per-user extraction snapshot.
func (s *PostgresStore) SaveTaxProfile(p models.TaxProfile) error {
	dataJSON, err := marshalData(p.Data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO tax_profiles (user_id, data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		p.UserID, dataJSON, p.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveTaxProfile failed", "error", err, "userID", p.UserID)
		return fmt.Errorf("failed to upsert tax profile for %s: %w", p.UserID, err)
	}
	return nil
}

// GetTaxProfile retrieves the per-user extraction snapshot, or nil.
func (s *PostgresStore) GetTaxProfile(userID string) (*models.TaxProfile, error) {
	var p models.TaxProfile
	var dataJSON string
	err := s.db.QueryRow(`SELECT user_id, data, updated_at FROM tax_profiles WHERE user_id = $1`, userID).
		Scan(&p.UserID, &dataJSON, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTaxProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query tax profile for %s: %w", userID, err)
	}
	p.Data = unmarshalData(dataJSON)
	return &p, nil
}

// AddAuthToken registers a bearer token for a user.
func (s *PostgresStore) AddAuthToken(token, userID string) error {
	_, err := s.db.Exec(`INSERT INTO auth_tokens (token, user_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id`,
		token, userID, time.Now())
	if err != nil {
		slog.Error("PostgresStore AddAuthToken failed", "error", err)
		return fmt.Errorf("failed to insert auth token: %w", err)
	}
	return nil
}

// GetUserIDByToken resolves a bearer token, or "" when unknown.
func (s *PostgresStore) GetUserIDByToken(token string) (string, error) {
	var userID string
	err := s.db.QueryRow(`SELECT user_id FROM auth_tokens WHERE token = $1`, token).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetUserIDByToken failed", "error", err)
		return "", fmt.Errorf("failed to query auth token: %w", err)
	}
	return userID, nil
}

// Close closes the PostgreSQL connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
