// Package gateway defines the external LLM and embedding capability
// contracts the engine consumes (spec §6). Raw HTTP transport and
// provider auth are explicitly out of scope for this engine (spec §1);
// the concrete clients here are thin reference adapters behind the
// contracts, not a vendored SDK.
package gateway

import (
	"context"
	"time"
)

// Message is one turn of an LLM chat-style call.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ResponseFormat hints the provider to return JSON-only output. Callers
// must still validate — a hint is not a contract (spec §6).
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = ""
	ResponseFormatJSON ResponseFormat = "json"
)

// ChatResult is the gateway's response envelope.
type ChatResult struct {
	Text    string
	Usage   Usage
	Latency time.Duration
}

// Usage reports token accounting for a call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// LLMGateway is the single required LLM capability (spec §6). Errors
// are one of RateLimited, Timeout, InvalidOutput, or TransportError —
// see errors.go.
type LLMGateway interface {
	Chat(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int, format ResponseFormat) (ChatResult, error)
}

// EmbeddingGateway produces fixed-dimension embeddings for a model
// (spec §6). Input is truncated at 2000 chars by the gateway, not the
// caller.
type EmbeddingGateway interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
	Dimension(model string) int
}
