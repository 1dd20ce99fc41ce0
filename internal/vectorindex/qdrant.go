package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"idea2paper/internal/gateway"
)

// QdrantIndex is the alternate VectorIndex backend, grounded on
// TheFozid-go-llama's internal/memory/storage.go (qdrant.NewClient,
// CreateCollection/Upsert/Query shape), adapted from its fixed
// 384-dim single-collection memory store to the engine's multi-
// collection, caller-chosen-dimension VectorIndex contract. Selected
// via IndexConfig.Backend = "qdrant".
type QdrantIndex struct {
	client   *qdrant.Client
	embedder gateway.EmbeddingGateway

	mu      sync.Mutex
	ensured map[string]bool
}

// NewQdrantIndex connects to a Qdrant instance at addr (host:port, gRPC).
func NewQdrantIndex(addr string, embedder gateway.EmbeddingGateway) (*QdrantIndex, error) {
	host, port := splitHostPort(addr)
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port, UseTLS: false})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: creating qdrant client: %w", err)
	}
	return &QdrantIndex{client: client, embedder: embedder, ensured: map[string]bool{}}, nil
}

func splitHostPort(addr string) (string, int) {
	host, portStr := addr, "6334"
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			host, portStr = addr[:i], addr[i+1:]
			break
		}
	}
	port := 6334
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

// HasCollection implements VectorIndex.
func (q *QdrantIndex) HasCollection(collection string) bool {
	exists, err := q.client.CollectionExists(context.Background(), collection)
	return err == nil && exists
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, collection string, dim int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured[collection] {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("checking collection existence: %w", err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
	}
	q.ensured[collection] = true
	return nil
}

// Build implements VectorIndex.
func (q *QdrantIndex) Build(ctx context.Context, collection string, items []Item, model string) error {
	if len(items) == 0 {
		return nil
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	embeddings, err := q.embedder.Embed(ctx, texts, model)
	if err != nil {
		return fmt.Errorf("vectorindex: embedding %s items: %w", collection, err)
	}

	if err := q.ensureCollection(ctx, collection, q.embedder.Dimension(model)); err != nil {
		return fmt.Errorf("vectorindex: %w", err)
	}

	points := make([]*qdrant.PointStruct, len(items))
	for i, it := range items {
		payload := map[string]*qdrant.Value{"item_id": qdrant.NewValueString(it.ID)}
		for k, v := range it.Metadata {
			payload[k] = qdrant.NewValueString(v)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(i)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: payload,
		}
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: collection, Points: points})
	if err != nil {
		return fmt.Errorf("vectorindex: upserting to %s: %w", collection, err)
	}
	return nil
}

// Search implements VectorIndex.
func (q *QdrantIndex) Search(ctx context.Context, collection string, queryVec []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	limit := uint64(k)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(queryVec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: querying %s: %w", collection, err)
	}

	out := make([]SearchResult, len(results))
	for i, point := range results {
		meta := map[string]string{}
		id := ""
		for key, v := range point.Payload {
			if key == "item_id" {
				id = v.GetStringValue()
				continue
			}
			meta[key] = v.GetStringValue()
		}
		out[i] = SearchResult{ID: id, Similarity: float64(point.Score), Metadata: meta}
	}
	return out, nil
}
