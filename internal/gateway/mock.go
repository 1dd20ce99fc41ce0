package gateway

import (
	"context"
	"math"
	"math/rand"
	"sync"
)

// MockLLMGateway provides deterministic, canned responses for testing
// the pipeline without a live provider. Responses are consumed in
// order per-model; when exhausted the last response repeats. Safe for
// concurrent use — the critic's three per-role calls (spec.md §5) run
// concurrently via errgroup even in tests.
type MockLLMGateway struct {
	Responses map[string][]string // model -> queued responses
	FailAfter int                 // 0 = never fail

	mu        sync.Mutex
	calls     map[string]int
	callCount int
}

// NewMockLLMGateway creates an empty mock; configure Responses before use.
func NewMockLLMGateway() *MockLLMGateway {
	return &MockLLMGateway{Responses: map[string][]string{}, calls: map[string]int{}}
}

// Chat implements LLMGateway.
func (m *MockLLMGateway) Chat(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int, format ResponseFormat) (ChatResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	if m.FailAfter > 0 && m.callCount > m.FailAfter {
		return ChatResult{}, ErrTransport
	}

	queue := m.Responses[model]
	if len(queue) == 0 {
		return ChatResult{Text: "{}"}, nil
	}
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	idx := m.calls[model]
	if idx >= len(queue) {
		idx = len(queue) - 1
	}
	m.calls[model] = idx + 1
	return ChatResult{Text: queue[idx]}, nil
}

// MockEmbeddingGateway generates deterministic unit-vector embeddings
// seeded from text content, so cosine similarity tests are reproducible
// without a live embedding API.
type MockEmbeddingGateway struct {
	Dim int
}

// NewMockEmbeddingGateway creates a mock embedder of the given dimension.
func NewMockEmbeddingGateway(dim int) *MockEmbeddingGateway {
	return &MockEmbeddingGateway{Dim: dim}
}

// Dimension implements EmbeddingGateway.
func (m *MockEmbeddingGateway) Dimension(model string) int { return m.Dim }

// Embed implements EmbeddingGateway.
func (m *MockEmbeddingGateway) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = deterministicUnitVector(text, m.Dim)
	}
	return out, nil
}

func deterministicUnitVector(text string, dim int) []float32 {
	var seed int64
	for _, c := range text {
		seed = seed*31 + int64(c)
	}
	rng := rand.New(rand.NewSource(seed))

	v := make([]float32, dim)
	var sumSquares float64
	for i := 0; i < dim; i++ {
		v[i] = float32(rng.NormFloat64())
		sumSquares += float64(v[i]) * float64(v[i])
	}
	if sumSquares > 0 {
		mag := float32(math.Sqrt(sumSquares))
		for i := range v {
			v[i] /= mag
		}
	}
	return v
}
