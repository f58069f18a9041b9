// Package genai wraps the OpenAI chat completion API behind a small
// interface so the interview engine can be tested without network access.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// ErrNotConfigured indicates no API credential is available. It is a
// permanent condition: callers surface it immediately without attempting or
// retrying the upstream call.
var ErrNotConfigured = errors.New("completion service not configured")

// Default client configuration
const (
	// DefaultModel is the completion model used when none is configured.
	DefaultModel = "gpt-4o-mini"
	// DefaultTimeout bounds one completion call end to end.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxTokens caps the completion length; turn replies are short.
	DefaultMaxTokens = 600
	// DefaultTemperature keeps extraction output stable.
	DefaultTemperature = 0.2
)

// Completion is one completion-service reply plus its token accounting.
type Completion struct {
	Content          string
	PromptTokens     int64
	CompletionTokens int64
}

// ClientInterface is the seam the flow engine depends on. Tests substitute a
// deterministic implementation.
type ClientInterface interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (*Completion, error)
}

// Opts holds configuration for the client.
type Opts struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int64
	Temperature float64
}

// Option configures the client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding $OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the completion model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client calls the OpenAI chat completions endpoint with a JSON-object
// response format, so replies can be parsed against the turn schema.
type Client struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	maxTokens   int64
	temperature float64
}

// NewClient initializes a completion client. The API key comes from options
// or the OPENAI_API_KEY environment variable; without one, ErrNotConfigured
// is returned.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Timeout:     DefaultTimeout,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	slog.Debug("genai.NewClient: client configured", "model", cfg.Model, "timeout", cfg.Timeout)
	return &Client{
		client:      openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// GenerateWithMessages runs one chat completion over the given messages and
// returns the first choice. The call is bounded by the configured timeout.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(c.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		slog.Error("genai.GenerateWithMessages: completion request failed", "error", err)
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.GenerateWithMessages: no choices returned")
		return nil, fmt.Errorf("no choices returned")
	}

	slog.Debug("genai.GenerateWithMessages: completion succeeded",
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return &Completion{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
