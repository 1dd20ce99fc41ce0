package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// AnthropicGateway implements LLMGateway against the Anthropic Messages
// API. It is a thin reference transport — the engine's contract is
// LLMGateway, not this client; callers that need a different provider
// implement the same interface.
type AnthropicGateway struct {
	apiKey     string
	httpClient *http.Client
}

// NewAnthropicGateway builds a gateway from ANTHROPIC_API_KEY.
func NewAnthropicGateway() (*AnthropicGateway, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("gateway: ANTHROPIC_API_KEY environment variable is required")
	}
	return &AnthropicGateway{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Chat implements LLMGateway.
func (a *AnthropicGateway) Chat(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int, format ResponseFormat) (ChatResult, error) {
	start := time.Now()

	var system string
	msgs := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		msgs = append(msgs, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	if format == ResponseFormatJSON {
		system += "\n\nRespond with JSON only, no surrounding prose."
	}

	reqBody := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      system,
		Messages:    msgs,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return ChatResult{}, fmt.Errorf("%w: marshal request: %v", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return ChatResult{}, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ChatResult{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return ChatResult{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResult{}, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return ChatResult{}, &RateLimitError{}
	}
	if resp.StatusCode != http.StatusOK {
		var errBody anthropicErrorBody
		_ = json.Unmarshal(respBody, &errBody)
		return ChatResult{}, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, errBody.Error.Message)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return ChatResult{}, fmt.Errorf("%w: parse response: %v", ErrInvalidOutput, err)
	}
	if len(parsed.Content) == 0 {
		return ChatResult{}, fmt.Errorf("%w: empty content", ErrInvalidOutput)
	}

	return ChatResult{
		Text: parsed.Content[0].Text,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}
