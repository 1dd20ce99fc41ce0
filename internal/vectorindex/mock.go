package vectorindex

import (
	"context"
	"math"
	"sort"

	"idea2paper/internal/gateway"
)

// MockIndex is a brute-force, in-memory VectorIndex used in tests in
// place of chromem-go/Qdrant. It stores embeddings exactly as Build
// computed them and scores Search by plain cosine similarity.
type MockIndex struct {
	embedder    gateway.EmbeddingGateway
	collections map[string][]storedItem
}

type storedItem struct {
	Item
	vec []float32
}

// NewMockIndex creates an empty mock index backed by embedder.
func NewMockIndex(embedder gateway.EmbeddingGateway) *MockIndex {
	return &MockIndex{embedder: embedder, collections: map[string][]storedItem{}}
}

// HasCollection implements VectorIndex.
func (m *MockIndex) HasCollection(collection string) bool {
	_, ok := m.collections[collection]
	return ok
}

// Build implements VectorIndex.
func (m *MockIndex) Build(ctx context.Context, collection string, items []Item, model string) error {
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	embeddings, err := m.embedder.Embed(ctx, texts, model)
	if err != nil {
		return err
	}

	stored := make([]storedItem, len(items))
	for i, it := range items {
		stored[i] = storedItem{Item: it, vec: embeddings[i]}
	}
	m.collections[collection] = append(m.collections[collection], stored...)
	return nil
}

// Search implements VectorIndex.
func (m *MockIndex) Search(ctx context.Context, collection string, queryVec []float32, k int) ([]SearchResult, error) {
	items := m.collections[collection]
	results := make([]SearchResult, len(items))
	for i, it := range items {
		results[i] = SearchResult{ID: it.ID, Similarity: cosine(queryVec, it.vec), Metadata: it.Metadata}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ VectorIndex = (*MockIndex)(nil)
var _ VectorIndex = (*ChromemIndex)(nil)
var _ VectorIndex = (*QdrantIndex)(nil)
