// Package llm defines the contracts the context-management core consumes
// from the surrounding agent runtime: a streaming chat driver, a
// summarizer, and an embedding provider (spec §6.1-6.3). The core never
// owns a provider's wire protocol; adapters in the sibling anthropic,
// openai, and google packages are thin pass-throughs over the respective
// SDKs.
package llm

import (
	"context"
	"encoding/json"
)

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolSchema describes a callable tool offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Message is the wire-agnostic chat message shape threaded through the
// core. Role is one of "system", "user", "assistant", "tool", "memory".
type Message struct {
	Role       string
	Content    string
	From       string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
	Importance *float64
	Metadata   map[string]any
}

// Usage reports token accounting for a single chat call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Options configures a single ChatDriver call (spec §6.1).
type Options struct {
	Model          string
	Tools          []ToolSchema
	ThinkingBudget *float64 // in [0,1], nil means provider default
	Temperature    *float64
	TopK           *int
	TopP           *float64
	Logprobs       bool
	Signal         context.Context // cancelled to abort mid-stream
}

// Response is the result of a non-streaming Chat call.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// StreamCallbacks receives incremental output during ChatStream.
type StreamCallbacks struct {
	OnToken         func(chunk string)
	OnReasoningToken func(chunk string)
}

// ChatDriver is the external collaborator the core drives each turn
// (spec §6.1). Implementations live in the anthropic/openai/google
// subpackages; this package only defines the contract.
type ChatDriver interface {
	Chat(ctx context.Context, messages []Message, opts Options) (Response, error)
	ChatStream(ctx context.Context, messages []Message, opts Options, cb StreamCallbacks) (Response, error)
}

// Summarizer is the capability the store consumes for compaction (spec
// §4.2, §6.2). Implementations must return within a bounded time and
// never propagate an error into the caller's control flow expectations
// beyond a returned error value — callers are expected to fall back to a
// fixed string on error, never to panic.
type Summarizer interface {
	Summarize(ctx context.Context, text, label string) (string, error)
}

// EmbeddingProvider is consumed by the semantic retrieval subsystem (spec
// §4.4, §6.3). Dimension/Model/Provider together form the embedder
// fingerprint (spec §3.4) used to detect incompatible indexes.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
	Provider() string
}
