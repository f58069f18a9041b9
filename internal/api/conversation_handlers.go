package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/northledger/taxchat/internal/flow"
	"github.com/northledger/taxchat/internal/models"
)

// conversationsHandler handles the collection route /api/conversations:
// POST creates a conversation, GET lists the caller's conversations.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	userID, err := s.authenticate(r)
	if err != nil {
		slog.Warn("Server.conversationsHandler: authentication failed", "error", err)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing or invalid authorization token"))
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.createConversation(w, r, userID)
	case http.MethodGet:
		s.listConversations(w, userID)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.conversationsHandler: method not allowed", "method", r.Method)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	}
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request, userID string) {
	var req models.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Server.createConversation: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.createConversation: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	now := time.Now()
	conv := models.Conversation{
		ID:            uuid.NewString(),
		UserID:        userID,
		Title:         req.Title,
		State:         flow.InitialState(),
		ExtractedData: models.ExtractedData{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.st.CreateConversation(conv); err != nil {
		slog.Error("Server.createConversation: failed to create conversation", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create conversation"))
		return
	}

	slog.Info("Server.createConversation: conversation created", "conversationID", conv.ID, "userID", userID)
	writeJSONResponse(w, http.StatusCreated, models.Success(conv))
}

func (s *Server) listConversations(w http.ResponseWriter, userID string) {
	conversations, err := s.st.ListConversations(userID)
	if err != nil {
		slog.Error("Server.listConversations: failed to list conversations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversations"))
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conversations))
}

// conversationHandler handles the item routes under /api/conversations/:
// GET and DELETE on /api/conversations/{id}, and GET on
// /api/conversations/{id}/messages. Conversations belonging to another user
// are reported as not found.
func (s *Server) conversationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	userID, err := s.authenticate(r)
	if err != nil {
		slog.Warn("Server.conversationHandler: authentication failed", "error", err)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing or invalid authorization token"))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.getConversation(w, id, userID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.deleteConversation(w, id, userID)
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		s.listConversationMessages(w, id, userID)
	case len(parts) == 1 || (len(parts) == 2 && parts[1] == "messages"):
		w.Header().Set("Allow", "GET, DELETE")
		slog.Warn("Server.conversationHandler: method not allowed", "method", r.Method, "path", r.URL.Path)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
	}
}

func (s *Server) getConversation(w http.ResponseWriter, id, userID string) {
	conv, err := s.st.GetConversation(id, userID)
	if err != nil {
		slog.Error("Server.getConversation: failed to get conversation", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

func (s *Server) deleteConversation(w http.ResponseWriter, id, userID string) {
	conv, err := s.st.GetConversation(id, userID)
	if err != nil {
		slog.Error("Server.deleteConversation: failed to get conversation", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	if err := s.st.DeleteConversation(id, userID); err != nil {
		slog.Error("Server.deleteConversation: failed to delete conversation", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete conversation"))
		return
	}
	slog.Info("Server.deleteConversation: conversation deleted", "conversationID", id, "userID", userID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation deleted", nil))
}

func (s *Server) listConversationMessages(w http.ResponseWriter, id, userID string) {
	conv, err := s.st.GetConversation(id, userID)
	if err != nil {
		slog.Error("Server.listConversationMessages: failed to get conversation", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	messages, err := s.st.ListMessages(id, userID)
	if err != nil {
		slog.Error("Server.listConversationMessages: failed to list messages", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

// profileHandler handles GET /api/profile: the caller's accumulated tax
// profile. A user with no persisted turns yet gets an empty profile rather
// than an error.
func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		slog.Warn("Server.profileHandler: authentication failed", "error", err)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing or invalid authorization token"))
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.profileHandler: method not allowed", "method", r.Method)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	profile, err := s.st.GetTaxProfile(userID)
	if err != nil {
		slog.Error("Server.profileHandler: failed to get profile", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get profile"))
		return
	}
	if profile == nil {
		profile = &models.TaxProfile{UserID: userID, Data: models.ExtractedData{}}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(profile))
}
