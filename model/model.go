// Package model defines the provider-neutral completion service boundary.
// Adapters translate the normalized Request into vendor wire formats and
// stream normalized Response chunks back, so orchestration logic never
// branches per provider.
package model

import (
	"context"

	"github.com/hupe1980/agencykit/core"
)

// ToolChoice directives passed through to providers.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// Response format constraints passed through to providers.
const (
	ResponseFormatText = "text"
	ResponseFormatJSON = "json_object"
)

// Truncation strategy types.
const (
	TruncationAuto         = "auto"
	TruncationLastMessages = "last_messages"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON Schema object (draft agnostic, minimal subset).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict,omitempty"`
}

// TruncationStrategy controls how much conversation history is sent to the
// provider. TruncationAuto sends everything; TruncationLastMessages keeps
// only the most recent LastMessages entries.
type TruncationStrategy struct {
	Type         string `json:"type"`
	LastMessages int    `json:"last_messages,omitempty"`
}

// Request captures the normalized model input produced by agents: ordered
// history, instructions, tool schemas and call configuration. Nil pointer
// fields mean "provider default".
type Request struct {
	Instructions        string             `json:"instructions"`
	Messages            []core.Message     `json:"messages"`
	Tools               []ToolDefinition   `json:"tools,omitempty"`
	ToolChoice          string             `json:"tool_choice,omitempty"`
	ResponseFormat      string             `json:"response_format,omitempty"`
	Temperature         *float64           `json:"temperature,omitempty"`
	TopP                *float64           `json:"top_p,omitempty"`
	MaxPromptTokens     int64              `json:"max_prompt_tokens,omitempty"`
	MaxCompletionTokens int64              `json:"max_completion_tokens,omitempty"`
	Truncation          TruncationStrategy `json:"truncation,omitempty"`
	Stream              bool               `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Partial chunks
// carry an incremental text Delta; the terminal chunk carries the fully
// assembled Message including any tool calls.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Delta        string       `json:"delta,omitempty"`
	Message      core.Message `json:"message"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", ...
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required to drive generation. Generate
// returns a response channel and an error channel; both are closed when the
// call finishes. In non-streaming mode exactly one terminal Response is
// emitted; in streaming mode partial chunks precede it.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// TruncateHistory applies a truncation strategy to a message history. Used
// by adapters before building provider payloads.
func TruncateHistory(msgs []core.Message, ts TruncationStrategy) []core.Message {
	if ts.Type != TruncationLastMessages || ts.LastMessages <= 0 || len(msgs) <= ts.LastMessages {
		return msgs
	}
	return msgs[len(msgs)-ts.LastMessages:]
}
