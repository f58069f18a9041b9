// Package testutil provides common test utilities and helpers for taxchat tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/northledger/taxchat/internal/api"
	"github.com/northledger/taxchat/internal/flow"
	"github.com/northledger/taxchat/internal/genai"
	"github.com/northledger/taxchat/internal/models"
	"github.com/northledger/taxchat/internal/store"
)

// ScriptedCompletionClient implements genai.ClientInterface with canned
// completions, returned in order. It records every call for assertions.
type ScriptedCompletionClient struct {
	Completions []*genai.Completion
	Err         error
	Calls       [][]openai.ChatCompletionMessageParamUnion
}

// GenerateWithMessages returns the next scripted completion, or Err if set.
// The last completion repeats once the script is exhausted.
func (c *ScriptedCompletionClient) GenerateWithMessages(_ context.Context, messages []openai.ChatCompletionMessageParamUnion) (*genai.Completion, error) {
	c.Calls = append(c.Calls, messages)
	if c.Err != nil {
		return nil, c.Err
	}
	if len(c.Completions) == 0 {
		return &genai.Completion{Content: `{"extractedData":{},"message":"ok","confidence":"high"}`}, nil
	}
	next := c.Completions[0]
	if len(c.Completions) > 1 {
		c.Completions = c.Completions[1:]
	}
	return next, nil
}

// ScriptExtraction queues a well-formed extraction completion.
func (c *ScriptedCompletionClient) ScriptExtraction(t *testing.T, data map[string]any, message string, confidence models.Confidence) {
	t.Helper()
	payload := map[string]any{
		"extractedData": data,
		"message":       message,
		"confidence":    confidence,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal scripted extraction: %v", err)
	}
	c.Completions = append(c.Completions, &genai.Completion{Content: string(raw), PromptTokens: 40, CompletionTokens: 20})
}

// NewTestServer creates a test API server backed by an in-memory store and a
// scripted completion client. This centralizes the test server creation logic
// used across multiple test files.
func NewTestServer() (*api.Server, *store.InMemoryStore, *ScriptedCompletionClient) {
	st := store.NewInMemoryStore()
	client := &ScriptedCompletionClient{}
	engine := flow.NewEngine(client)
	return api.NewServer(st, engine), st, client
}

// SeedAuthToken registers a bearer token for userID and returns the token.
func SeedAuthToken(t *testing.T, st store.Store, userID string) string {
	t.Helper()
	token := "tk_test_" + userID
	if err := st.AddAuthToken(token, userID); err != nil {
		t.Fatalf("failed to seed auth token: %v", err)
	}
	return token
}

// SeedConversation creates a fresh conversation for userID and returns it.
func SeedConversation(t *testing.T, st store.Store, userID string) models.Conversation {
	t.Helper()
	now := time.Now()
	conv := models.Conversation{
		ID:            "conv_" + userID,
		UserID:        userID,
		Title:         "Test return",
		State:         flow.InitialState(),
		ExtractedData: models.ExtractedData{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := st.CreateConversation(conv); err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
	return conv
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
