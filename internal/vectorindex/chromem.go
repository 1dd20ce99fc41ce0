package vectorindex

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"idea2paper/internal/gateway"
)

// ChromemIndex is the primary VectorIndex backend, grounded on the
// teacher's VectorStore (internal/knowledge/vector_store.go): same
// chromem-go DB/collection shape, generalized from a single-embedder
// field to the engine's EmbeddingGateway contract and from one
// implicit collection to the named Ideas/Papers/Novelty collections.
type ChromemIndex struct {
	db       *chromem.DB
	embedder gateway.EmbeddingGateway
}

// NewChromemIndex opens an index at dir (persistent) or in-memory if
// dir is empty.
func NewChromemIndex(dir string, embedder gateway.EmbeddingGateway) (*ChromemIndex, error) {
	var db *chromem.DB
	var err error
	if dir != "" {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: opening persistent chromem db at %s: %w", dir, err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &ChromemIndex{db: db, embedder: embedder}, nil
}

// HasCollection implements VectorIndex.
func (c *ChromemIndex) HasCollection(collection string) bool {
	return c.db.GetCollection(collection, nil) != nil
}

// Build implements VectorIndex.
func (c *ChromemIndex) Build(ctx context.Context, collection string, items []Item, model string) error {
	coll, err := c.db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return fmt.Errorf("vectorindex: creating collection %s: %w", collection, err)
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	embeddings, err := c.embedder.Embed(ctx, texts, model)
	if err != nil {
		return fmt.Errorf("vectorindex: embedding %s items: %w", collection, err)
	}

	docs := make([]chromem.Document, len(items))
	for i, it := range items {
		docs[i] = chromem.Document{
			ID:        it.ID,
			Content:   it.Text,
			Metadata:  it.Metadata,
			Embedding: embeddings[i],
		}
	}
	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("vectorindex: adding documents to %s: %w", collection, err)
	}
	return nil
}

// Search implements VectorIndex.
func (c *ChromemIndex) Search(ctx context.Context, collection string, queryVec []float32, k int) ([]SearchResult, error) {
	coll := c.db.GetCollection(collection, nil)
	if coll == nil {
		return nil, fmt.Errorf("vectorindex: collection not found: %s", collection)
	}
	if k <= 0 {
		k = 10
	}
	n := k
	if count := coll.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := coll.QueryEmbedding(ctx, queryVec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: querying %s: %w", collection, err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{ID: r.ID, Similarity: float64(r.Similarity), Metadata: r.Metadata}
	}
	return out, nil
}
