// Package providers holds the LLM wire clients. Each provider speaks its
// vendor's HTTP API directly; callers only see the neutral request and
// response types defined here.
package providers

import (
	"context"
	"encoding/json"
)

// Message roles on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ImagePart is one inline image attached to a user message.
type ImagePart struct {
	MimeType string
	Data     []byte
}

// ChatMessage is one turn of neutral conversation history.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string // set on tool result messages
	ToolName   string
	Images     []ImagePart
}

// ToolCall is one function invocation requested by the model. Arguments is
// the raw JSON object string as the model produced it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec describes one callable tool in the request.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// GenParams are optional sampling knobs. Nil pointers mean "provider
// default". ThinkingBudget follows the convention: nil or 0 disables
// extended thinking, -1 asks for dynamic budget, positive values are a
// token budget.
type GenParams struct {
	Temperature      *float64
	MaxTokens        int
	TopP             *float64
	TopK             *int
	FrequencyPenalty *float64
	PresencePenalty  *float64
	StopSequences    []string
	ThinkingBudget   *int
}

// ChatRequest is a neutral completion request.
type ChatRequest struct {
	Model    string
	System   string
	Messages []ChatMessage
	Tools    []ToolSpec
	Params   GenParams
}

// Usage counts tokens for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatResponse is a neutral completion result. When the model requested
// tools, ToolCalls is non-empty and Content may still carry interim text.
type ChatResponse struct {
	Content    string
	Thinking   string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// HasToolCalls reports whether the model asked to run tools.
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Provider produces chat completions. ChatStream invokes onChunk with each
// text delta as it arrives and still returns the assembled response;
// implementations fall back to non-streaming internally when the vendor cannot
// stream tool calls.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req *ChatRequest, onChunk func(string)) (*ChatResponse, error)
}

// Embedder produces embedding vectors. Dim is the output dimension for the
// configured model and must be stable across calls.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// RawArguments parses a tool call's argument JSON into a map, tolerating an
// empty string.
func (c ToolCall) RawArguments() (map[string]any, error) {
	if c.Arguments == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(c.Arguments), &m); err != nil {
		return nil, err
	}
	return m, nil
}
