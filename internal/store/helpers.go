package store

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/northledger/taxchat/internal/models"
)

// marshalState serializes the conversation cursor for a TEXT column.
func marshalState(state models.ConversationState) (string, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal conversation state: %w", err)
	}
	return string(b), nil
}

// unmarshalState deserializes a cursor column, tolerating empty rows from
// freshly created conversations.
func unmarshalState(raw string) models.ConversationState {
	var state models.ConversationState
	if raw == "" {
		return state
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		slog.Error("store.unmarshalState: invalid state JSON, returning zero state", "error", err)
	}
	return state
}

// marshalData serializes accumulated extraction data for a TEXT column.
func marshalData(data models.ExtractedData) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal extracted data: %w", err)
	}
	return string(b), nil
}

// unmarshalData deserializes an extraction data column.
func unmarshalData(raw string) models.ExtractedData {
	data := models.ExtractedData{}
	if raw == "" {
		return data
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		slog.Error("store.unmarshalData: invalid data JSON, returning empty data", "error", err)
		return models.ExtractedData{}
	}
	return data
}

// normalizeConversation reconciles the row-level turn counter with the
// serialized cursor. The column is authoritative.
func normalizeConversation(c *models.Conversation) {
	c.State.Turn = c.Turn
}
