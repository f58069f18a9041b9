package genai

import (
	"errors"
	"testing"
	"time"
)

func TestNewClientWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNewClientFromEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	client, err := NewClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.model != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, client.model)
	}
	if client.timeout != DefaultTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultTimeout, client.timeout)
	}
}

func TestNewClientOptions(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	client, err := NewClient(
		WithAPIKey("sk-test"),
		WithModel("gpt-4o"),
		WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.model != "gpt-4o" {
		t.Errorf("expected model override, got %q", client.model)
	}
	if client.timeout != 5*time.Second {
		t.Errorf("expected timeout override, got %v", client.timeout)
	}
}
