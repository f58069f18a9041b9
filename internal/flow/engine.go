// Package flow provides the per-turn orchestration engine for the tax
// interview.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/northledger/taxchat/internal/genai"
	"github.com/northledger/taxchat/internal/models"
	"github.com/openai/openai-go"
)

// Error variables for turn processing failure classes.
var (
	// ErrInvalidState is returned when the caller supplies a state that
	// references no defined question node and is not terminal. The caller is
	// responsible for only resending state exactly as previously returned.
	ErrInvalidState = errors.New("invalid conversation state")
	// ErrUpstream wraps completion-service transport failures. No state is
	// mutated; the caller retries the same turn with identical state.
	ErrUpstream = errors.New("completion service unavailable")
)

const (
	// DefaultHistoryLimit bounds how many trailing history messages are sent
	// to the completion service each turn.
	DefaultHistoryLimit = 10

	// clarificationReply is the degraded turn sent when the completion
	// service returns a malformed payload. No fields update and the state
	// does not advance, so the same question is still pending.
	clarificationReply = "I didn't quite catch that. Could you say it again a different way?"
)

// extractionSystemPrompt is the fixed system instruction for every turn.
const extractionSystemPrompt = `You are the interview assistant for a Canadian personal tax filing service. ` +
	`On each turn you receive the conversation so far plus a context note naming the single field the interview is waiting for. ` +
	`Extract that field from the user's reply when it is present. Canonical formats: dates as YYYY-MM-DD; ` +
	`social insurance numbers as three groups of three digits separated by hyphens (123-456-789); ` +
	`currency amounts as bare numbers with no symbol or thousands separators; ` +
	`provinces as one of the thirteen two-letter codes; yes/no answers as JSON booleans. ` +
	`Keep replies short and friendly: acknowledge what the user said and ask the next question given in the context note. ` +
	`Never invent values the user did not state. ` +
	`Respond with only a JSON object with exactly three keys: ` +
	`"extractedData" (object of field names to canonical values, empty if nothing was extractable), ` +
	`"message" (your reply to the user) and "confidence" ("high", "medium" or "low").`

// Engine processes interview turns. It is stateless: everything a turn needs
// arrives in the request and everything it produces is returned, so
// concurrent turns share nothing.
type Engine struct {
	client       genai.ClientInterface
	historyLimit int
}

// NewEngine creates a turn engine over the given completion client. A nil
// client is permitted and makes every turn fail fast with ErrNotConfigured.
func NewEngine(client genai.ClientInterface) *Engine {
	return &Engine{client: client, historyLimit: DefaultHistoryLimit}
}

// TurnRequest carries one user message against the caller-held state.
type TurnRequest struct {
	Message string
	State   models.ConversationState
	History []models.ChatMessage
	Data    models.ExtractedData
}

// TurnResult is the outcome of one processed turn.
type TurnResult struct {
	Reply            string
	Extracted        models.ExtractedData
	FieldsUpdated    []models.Field
	NewState         models.ConversationState
	AllData          models.ExtractedData
	Confidence       models.Confidence
	PromptTokens     int64
	CompletionTokens int64
}

// extractionPayload is the three-key document the completion service must
// return. Anything that does not parse and validate against this shape is
// routed through the degraded clarification path.
type extractionPayload struct {
	ExtractedData map[string]any `json:"extractedData"`
	Message       string         `json:"message"`
	Confidence    string         `json:"confidence"`
}

// ProcessTurn runs one interview turn: resolve the current node, call the
// completion service, merge the extraction, re-infer flags and advance the
// cursor when a field was collected.
func (e *Engine) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	node := GetCurrentQuestion(req.State)
	terminal := node == nil && req.State.Phase == PhaseComplete
	if node == nil && !terminal {
		slog.Warn("Engine.ProcessTurn: state references no question node",
			"phase", req.State.Phase, "subStep", req.State.SubStep)
		return nil, ErrInvalidState
	}

	if e.client == nil {
		slog.Error("Engine.ProcessTurn: completion client not configured")
		return nil, genai.ErrNotConfigured
	}

	messages := e.buildMessages(req, node, terminal)

	completion, err := e.client.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Error("Engine.ProcessTurn: completion call failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	payload, parseErr := parseExtraction(completion.Content)
	if parseErr != nil {
		slog.Warn("Engine.ProcessTurn: malformed completion payload, degrading to clarification",
			"error", parseErr)
		return e.degradedResult(req, completion), nil
	}

	extracted := filterKnownFields(payload.ExtractedData)
	merged, updated := req.Data.Merge(extracted)
	newFlags := InferFlags(req.State.Flags, extracted, req.Message)

	newState := req.State
	newState.Flags = newFlags
	newState.Turn = req.State.Turn + 1
	if !terminal && len(updated) > 0 {
		next := node.Next(merged, newFlags)
		newState.Phase = next.Phase
		newState.SubStep = next.SubStep
		if nextNode := NodeAt(next); nextNode != nil {
			newState.WaitingFor = nextNode.WaitingFor
		} else {
			newState.WaitingFor = ""
		}
	}

	slog.Debug("Engine.ProcessTurn: turn processed",
		"fieldsUpdated", len(updated),
		"phase", newState.Phase, "subStep", newState.SubStep,
		"confidence", payload.Confidence)

	return &TurnResult{
		Reply:            payload.Message,
		Extracted:        extracted,
		FieldsUpdated:    updated,
		NewState:         newState,
		AllData:          merged,
		Confidence:       models.Confidence(payload.Confidence),
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
	}, nil
}

// buildMessages assembles the system instruction, the trailing conversation
// history and the synthesized context message for one turn.
func (e *Engine) buildMessages(req TurnRequest, node *QuestionNode, terminal bool) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(extractionSystemPrompt),
	}

	history := req.History
	if e.historyLimit >= 0 && len(history) > e.historyLimit {
		history = history[len(history)-e.historyLimit:]
	}
	for _, m := range history {
		switch m.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	messages = append(messages, openai.UserMessage(e.buildContextMessage(req, node, terminal)))
	return messages
}

// buildContextMessage describes the field being sought, its format hints and
// a forward-looking hint at the next question so the service can phrase a
// combined acknowledgment and follow-up in one short reply.
func (e *Engine) buildContextMessage(req TurnRequest, node *QuestionNode, terminal bool) string {
	var b strings.Builder

	if terminal {
		b.WriteString("The interview is complete; every step has been answered. ")
		b.WriteString("Thank the user, briefly summarize what was collected, and leave extractedData empty.\n")
	} else {
		fmt.Fprintf(&b, "The interview is waiting for the field %q.\n", node.WaitingFor)
		if node.ExtractionHints != "" {
			fmt.Fprintf(&b, "Acceptable format: %s\n", node.ExtractionHints)
		}
		next := node.Next(req.Data, req.State.Flags)
		if nextNode := NodeAt(next); nextNode != nil {
			fmt.Fprintf(&b, "If the reply answers it, your message should acknowledge and then ask: %q\n",
				FormatQuestion(nextNode.Question, req.Data))
		} else {
			b.WriteString("This is the final question. If the reply answers it, thank the user and summarize what was collected.\n")
		}
		b.WriteString("If the reply does not answer it, ask again in different words and extract nothing.\n")
	}

	fmt.Fprintf(&b, "User's reply: %q", req.Message)
	return b.String()
}

// degradedResult builds the no-extraction clarification turn used when the
// service reply failed validation. The cursor does not advance; the same
// question remains pending.
func (e *Engine) degradedResult(req TurnRequest, completion *genai.Completion) *TurnResult {
	newState := req.State
	newState.Turn = req.State.Turn + 1
	return &TurnResult{
		Reply:            clarificationReply,
		Extracted:        models.ExtractedData{},
		FieldsUpdated:    nil,
		NewState:         newState,
		AllData:          req.Data.Clone(),
		Confidence:       models.ConfidenceLow,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
	}
}

// parseExtraction validates the service reply against the three-key schema.
func parseExtraction(content string) (*extractionPayload, error) {
	var payload extractionPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &payload); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if payload.Message == "" {
		return nil, errors.New("payload missing message")
	}
	if !models.IsValidConfidence(models.Confidence(payload.Confidence)) {
		return nil, fmt.Errorf("payload has invalid confidence %q", payload.Confidence)
	}
	return &payload, nil
}

// filterKnownFields drops extraction entries whose names are not part of the
// interview schema. The completion service is untrusted input.
func filterKnownFields(raw map[string]any) models.ExtractedData {
	out := models.ExtractedData{}
	for name, value := range raw {
		field := models.Field(name)
		if !models.IsKnownField(field) {
			slog.Debug("Engine.filterKnownFields: dropping unknown field", "field", name)
			continue
		}
		if value == nil {
			continue
		}
		out[field] = value
	}
	return out
}
