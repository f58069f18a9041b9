// Package api provides the tax-filing chat handler.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/northledger/taxchat/internal/flow"
	"github.com/northledger/taxchat/internal/genai"
	"github.com/northledger/taxchat/internal/models"
	"github.com/northledger/taxchat/internal/store"
)

// chatError is the error body of the chat endpoint. The chat route predates
// the envelope used by the CRUD handlers and its wire shape is kept as-is
// for existing clients.
type chatError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// chatHandler handles POST /api/tax-filing/chat: one interview turn.
//
// The turn itself is stateless; the caller resends the state exactly as last
// returned. When the request names a conversation id and carries a valid
// bearer token, the turn is additionally persisted to that conversation.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatHandler: processing chat request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.chatHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, chatError{Error: "Invalid JSON format"})
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, chatError{Error: err.Error()})
		return
	}

	result, err := s.engine.ProcessTurn(r.Context(), flow.TurnRequest{
		Message: req.Message,
		State:   req.ConversationState,
		History: req.ConversationHistory,
		Data:    req.ExtractedData,
	})
	if err != nil {
		switch {
		case errors.Is(err, flow.ErrInvalidState):
			slog.Warn("Server.chatHandler: invalid conversation state",
				"phase", req.ConversationState.Phase, "subStep", req.ConversationState.SubStep)
			writeJSONResponse(w, http.StatusBadRequest, chatError{Error: "Invalid conversation state"})
		case errors.Is(err, genai.ErrNotConfigured):
			slog.Error("Server.chatHandler: completion service not configured")
			writeJSONResponse(w, http.StatusServiceUnavailable, chatError{Error: "AI service not configured"})
		case errors.Is(err, flow.ErrUpstream):
			slog.Error("Server.chatHandler: completion service failed", "error", err)
			writeJSONResponse(w, http.StatusServiceUnavailable, chatError{Error: "AI service unavailable", Details: "Please retry this turn"})
		default:
			slog.Error("Server.chatHandler: turn processing failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, chatError{Error: "Failed to process message"})
		}
		return
	}

	if req.ConversationID != "" {
		if status, msg := s.persistTurn(r, &req, result); status != 0 {
			writeJSONResponse(w, status, chatError{Error: msg})
			return
		}
	}

	fieldsUpdated := make([]string, 0, len(result.FieldsUpdated))
	for _, f := range result.FieldsUpdated {
		fieldsUpdated = append(fieldsUpdated, string(f))
	}

	slog.Info("Server.chatHandler: turn processed",
		"fieldsUpdated", len(fieldsUpdated),
		"phase", result.NewState.Phase,
		"confidence", result.Confidence)
	writeJSONResponse(w, http.StatusOK, models.ChatResponse{
		Message:          result.Reply,
		ExtractedData:    result.Extracted,
		FieldsUpdated:    fieldsUpdated,
		NewState:         result.NewState,
		AllExtractedData: result.AllData,
		Confidence:       result.Confidence,
	})
}

// persistTurn stores the processed turn on its conversation: state first
// (so a lost turn race aborts before any message is written), then both
// message halves, then the profile snapshot. Returns a non-zero HTTP status
// and message on failure.
func (s *Server) persistTurn(r *http.Request, req *models.ChatRequest, result *flow.TurnResult) (int, string) {
	userID, err := s.authenticate(r)
	if err != nil {
		slog.Warn("Server.persistTurn: authentication failed", "error", err)
		return http.StatusUnauthorized, "Missing or invalid authorization token"
	}

	err = s.st.SaveConversationState(req.ConversationID, userID, result.NewState, result.AllData, req.ConversationState.Turn)
	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		slog.Debug("Server.persistTurn: conversation not found", "conversationID", req.ConversationID)
		return http.StatusNotFound, "Conversation not found"
	case errors.Is(err, store.ErrTurnConflict):
		slog.Warn("Server.persistTurn: turn conflict", "conversationID", req.ConversationID, "turn", req.ConversationState.Turn)
		return http.StatusConflict, "Conversation was updated by another request"
	case err != nil:
		slog.Error("Server.persistTurn: failed to save state", "error", err)
		return http.StatusInternalServerError, "Failed to save conversation"
	}

	now := time.Now()
	userMsg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		Role:           models.RoleUser,
		Content:        req.Message,
		CreatedAt:      now,
	}
	assistantMsg := models.Message{
		ID:               uuid.NewString(),
		ConversationID:   req.ConversationID,
		Role:             models.RoleAssistant,
		Content:          result.Reply,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		CreatedAt:        now.Add(time.Millisecond),
	}
	if err := s.st.AddMessage(userMsg); err != nil {
		slog.Error("Server.persistTurn: failed to store user message", "error", err)
		return http.StatusInternalServerError, "Failed to store message"
	}
	if err := s.st.AddMessage(assistantMsg); err != nil {
		slog.Error("Server.persistTurn: failed to store assistant message", "error", err)
		return http.StatusInternalServerError, "Failed to store message"
	}

	if err := s.st.SaveTaxProfile(models.TaxProfile{UserID: userID, Data: result.AllData, UpdatedAt: now}); err != nil {
		// The turn already persisted; a stale profile snapshot is recoverable
		// on the next turn, so log and continue.
		slog.Warn("Server.persistTurn: failed to upsert tax profile", "error", err, "userID", userID)
	}

	return 0, ""
}
