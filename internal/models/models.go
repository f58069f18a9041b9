// Package models defines the core data structures for taxchat.
//
// It includes the interview field schema, conversation state, persisted
// entities, and the API response envelope shared across modules.
package models

import "errors"

// Confidence labels how certain the completion service was about a turn's
// extraction.
type Confidence string

const (
	// ConfidenceHigh indicates the extraction is very likely correct.
	ConfidenceHigh Confidence = "high"
	// ConfidenceMedium indicates the extraction is plausible but unverified.
	ConfidenceMedium Confidence = "medium"
	// ConfidenceLow indicates the service could not extract reliably.
	ConfidenceLow Confidence = "low"
)

// IsValidConfidence checks if the given confidence label is supported.
func IsValidConfidence(c Confidence) bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	default:
		return false
	}
}

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	// RoleUser marks a message written by the participant.
	RoleUser MessageRole = "user"
	// RoleAssistant marks a message produced by the interview engine.
	RoleAssistant MessageRole = "assistant"
)

// Error variables for better error handling and testability
var (
	ErrEmptyMessage      = errors.New("message cannot be empty")
	ErrMessageTooLong    = errors.New("message exceeds maximum length")
	ErrInvalidRole       = errors.New("invalid message role")
	ErrEmptyConversation = errors.New("conversation id cannot be empty")
	ErrEmptyUser         = errors.New("user id cannot be empty")
	ErrTitleTooLong      = errors.New("conversation title exceeds maximum length")
	ErrInvalidProvince   = errors.New("invalid province code")
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for a chat message.
	MaxMessageLength = 4096
	// MaxTitleLength defines the maximum allowed length for a conversation title.
	MaxTitleLength = 200
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// ErrorWithDetails creates an error API response with a message and detail text.
func ErrorWithDetails(message, details string) APIResponse {
	if details == "" {
		return Error(message)
	}
	return APIResponse{Status: string(APIStatusError), Message: message, Result: map[string]string{"details": details}}
}
