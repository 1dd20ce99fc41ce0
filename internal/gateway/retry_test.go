package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyLLM struct {
	failures int
	calls    int
}

func (f *flakyLLM) Chat(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int, format ResponseFormat) (ChatResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return ChatResult{}, &RateLimitError{}
	}
	return ChatResult{Text: "ok"}, nil
}

func TestRetryingLLMGateway_RecoversWithinBudget(t *testing.T) {
	inner := &flakyLLM{failures: 2}
	g := NewRetryingLLMGateway(inner, RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond})

	res, err := g.Chat(context.Background(), nil, "m", 0, 100, ResponseFormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingLLMGateway_FailsAfterBudgetExhausted(t *testing.T) {
	inner := &flakyLLM{failures: 10}
	g := NewRetryingLLMGateway(inner, RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond})

	_, err := g.Chat(context.Background(), nil, "m", 0, 100, ResponseFormatJSON)
	require.Error(t, err)
	var rle *RateLimitError
	assert.True(t, errors.As(err, &rle))
}

func TestMockEmbeddingGateway_DeterministicUnitVectors(t *testing.T) {
	g := NewMockEmbeddingGateway(16)
	a, err := g.Embed(context.Background(), []string{"hello world"}, "m")
	require.NoError(t, err)
	b, err := g.Embed(context.Background(), []string{"hello world"}, "m")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var norm float64
	for _, x := range a[0] {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)
}

func TestMockLLMGateway_QueuedResponses(t *testing.T) {
	g := NewMockLLMGateway()
	g.Responses["m"] = []string{"first", "second"}

	r1, _ := g.Chat(context.Background(), nil, "m", 0, 0, "")
	r2, _ := g.Chat(context.Background(), nil, "m", 0, 0, "")
	r3, _ := g.Chat(context.Background(), nil, "m", 0, 0, "")

	assert.Equal(t, "first", r1.Text)
	assert.Equal(t, "second", r2.Text)
	assert.Equal(t, "second", r3.Text) // repeats last when exhausted
}
