package api_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/northledger/taxchat/internal/api"
	"github.com/northledger/taxchat/internal/flow"
	"github.com/northledger/taxchat/internal/genai"
	"github.com/northledger/taxchat/internal/models"
	"github.com/northledger/taxchat/internal/store"
	"github.com/northledger/taxchat/internal/testutil"
)

const chatPath = "/api/tax-filing/chat"

func freshChatRequest(message string) models.ChatRequest {
	return models.ChatRequest{
		Message:           message,
		ConversationState: flow.InitialState(),
		ExtractedData:     models.ExtractedData{},
	}
}

func TestChatMethodNotAllowed(t *testing.T) {
	server, _, _ := testutil.NewTestServer()
	req := testutil.CreateHTTPRequest(t, http.MethodGet, chatPath, nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET chat")
}

func TestChatInvalidJSON(t *testing.T) {
	server, _, _ := testutil.NewTestServer()
	req := testutil.CreateHTTPRequest(t, http.MethodPost, chatPath, nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty body chat")

	var body map[string]any
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &body)
	if body["error"] == "" || body["error"] == nil {
		t.Error("expected an error field in the response body")
	}
}

func TestChatEmptyMessage(t *testing.T) {
	server, _, _ := testutil.NewTestServer()
	req := testutil.CreateHTTPRequest(t, http.MethodPost, chatPath, freshChatRequest(""))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty message chat")
}

func TestChatInvalidState(t *testing.T) {
	server, _, client := testutil.NewTestServer()

	payload := freshChatRequest("hello")
	payload.ConversationState.Phase = "bogus"
	req := testutil.CreateHTTPRequest(t, http.MethodPost, chatPath, payload)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid state chat")
	if len(client.Calls) != 0 {
		t.Error("invalid state must not reach the completion service")
	}
}

func TestChatServiceNotConfigured(t *testing.T) {
	// A deployment without an API key runs the engine over a nil client.
	server := api.NewServer(store.NewInMemoryStore(), flow.NewEngine(nil))

	req := testutil.CreateHTTPRequest(t, http.MethodPost, chatPath, freshChatRequest("hello"))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "unconfigured chat")
}

func TestChatUpstreamFailure(t *testing.T) {
	server, _, client := testutil.NewTestServer()
	client.Err = errors.New("connection refused")

	req := testutil.CreateHTTPRequest(t, http.MethodPost, chatPath, freshChatRequest("hello"))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "upstream failure chat")
}

func TestChatStatelessTurn(t *testing.T) {
	server, _, client := testutil.NewTestServer()
	client.ScriptExtraction(t, map[string]any{"firstName": "John"}, "Nice to meet you, John! And your last name?", models.ConfidenceHigh)

	req := testutil.CreateHTTPRequest(t, http.MethodPost, chatPath, freshChatRequest("Hi, I'm John"))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "stateless chat")

	var resp models.ChatResponse
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)

	if len(resp.FieldsUpdated) != 1 || resp.FieldsUpdated[0] != "firstName" {
		t.Errorf("expected fieldsUpdated [firstName], got %v", resp.FieldsUpdated)
	}
	if resp.NewState.Phase != "identity" || resp.NewState.SubStep != 1 {
		t.Errorf("expected advance to identity/1, got %s/%d", resp.NewState.Phase, resp.NewState.SubStep)
	}
	if resp.NewState.Turn != 1 {
		t.Errorf("expected turn 1, got %d", resp.NewState.Turn)
	}
	if resp.AllExtractedData.String(models.FieldFirstName) != "John" {
		t.Errorf("expected merged firstName, got %v", resp.AllExtractedData)
	}
	if resp.Confidence != models.ConfidenceHigh {
		t.Errorf("expected high confidence, got %q", resp.Confidence)
	}
}

func TestChatDegradedTurn(t *testing.T) {
	server, _, client := testutil.NewTestServer()
	client.Completions = append(client.Completions, &genai.Completion{Content: "your name is John"})

	req := testutil.CreateHTTPRequest(t, http.MethodPost, chatPath, freshChatRequest("Hi, I'm John"))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "degraded chat")

	var resp models.ChatResponse
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)

	if resp.Confidence != models.ConfidenceLow {
		t.Errorf("expected low confidence, got %q", resp.Confidence)
	}
	if len(resp.FieldsUpdated) != 0 {
		t.Errorf("degraded turn must update nothing, got %v", resp.FieldsUpdated)
	}
	if resp.NewState.Phase != "identity" || resp.NewState.SubStep != 0 {
		t.Errorf("degraded turn must not advance, got %s/%d", resp.NewState.Phase, resp.NewState.SubStep)
	}
	if resp.NewState.Turn != 1 {
		t.Errorf("turn must still increment on a degraded turn, got %d", resp.NewState.Turn)
	}
}

func TestChatPersistedTurn(t *testing.T) {
	server, st, client := testutil.NewTestServer()
	token := testutil.SeedAuthToken(t, st, "u1")
	conv := testutil.SeedConversation(t, st, "u1")
	client.ScriptExtraction(t, map[string]any{"firstName": "John"}, "Thanks John! And your last name?", models.ConfidenceHigh)

	payload := freshChatRequest("Hi, I'm John")
	payload.ConversationID = conv.ID
	req := testutil.CreateHTTPRequest(t, http.MethodPost, chatPath, payload)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "persisted chat")

	saved, err := st.GetConversation(conv.ID, "u1")
	if err != nil || saved == nil {
		t.Fatalf("conversation lookup failed: %v, %v", saved, err)
	}
	if saved.Turn != 1 {
		t.Errorf("expected persisted turn 1, got %d", saved.Turn)
	}
	if saved.ExtractedData.String(models.FieldFirstName) != "John" {
		t.Errorf("extracted data not persisted: %v", saved.ExtractedData)
	}

	messages, err := st.ListMessages(conv.ID, "u1")
	if err != nil {
		t.Fatalf("message listing failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected both turn halves persisted, got %d messages", len(messages))
	}
	if messages[0].Role != models.RoleUser || messages[1].Role != models.RoleAssistant {
		t.Errorf("unexpected message roles: %q, %q", messages[0].Role, messages[1].Role)
	}
	if messages[1].CompletionTokens == 0 {
		t.Error("assistant message should carry token accounting")
	}

	profile, err := st.GetTaxProfile("u1")
	if err != nil || profile == nil {
		t.Fatalf("profile lookup failed: %v, %v", profile, err)
	}
	if profile.Data.String(models.FieldFirstName) != "John" {
		t.Errorf("profile snapshot missing data: %v", profile.Data)
	}
}

func TestChatPersistedUnauthorized(t *testing.T) {
	server, st, client := testutil.NewTestServer()
	conv := testutil.SeedConversation(t, st, "u1")
	client.ScriptExtraction(t, map[string]any{"firstName": "John"}, "Thanks!", models.ConfidenceHigh)

	payload := freshChatRequest("Hi, I'm John")
	payload.ConversationID = conv.ID
	req := testutil.CreateHTTPRequest(t, http.MethodPost, chatPath, payload)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "unauthenticated persisted chat")
}

func TestChatPersistedForeignConversation(t *testing.T) {
	server, st, client := testutil.NewTestServer()
	token := testutil.SeedAuthToken(t, st, "u2")
	conv := testutil.SeedConversation(t, st, "u1")
	client.ScriptExtraction(t, map[string]any{"firstName": "John"}, "Thanks!", models.ConfidenceHigh)

	payload := freshChatRequest("Hi, I'm John")
	payload.ConversationID = conv.ID
	req := testutil.CreateHTTPRequest(t, http.MethodPost, chatPath, payload)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "foreign persisted chat")
}

func TestChatPersistedTurnConflict(t *testing.T) {
	server, st, client := testutil.NewTestServer()
	token := testutil.SeedAuthToken(t, st, "u1")
	conv := testutil.SeedConversation(t, st, "u1")

	// Another request already advanced the row past the caller's state.
	advanced := flow.InitialState()
	advanced.Turn = 1
	if err := st.SaveConversationState(conv.ID, "u1", advanced, models.ExtractedData{}, 0); err != nil {
		t.Fatalf("failed to advance conversation: %v", err)
	}

	client.ScriptExtraction(t, map[string]any{"firstName": "John"}, "Thanks!", models.ConfidenceHigh)

	payload := freshChatRequest("Hi, I'm John")
	payload.ConversationID = conv.ID
	req := testutil.CreateHTTPRequest(t, http.MethodPost, chatPath, payload)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "stale turn chat")

	// The losing turn must not leave message halves behind.
	messages, _ := st.ListMessages(conv.ID, "u1")
	if len(messages) != 0 {
		t.Errorf("losing turn must not persist messages, got %d", len(messages))
	}
}
