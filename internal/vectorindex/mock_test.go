package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea2paper/internal/gateway"
)

func TestMockIndex_BuildAndSearch_RanksByCosineSimilarity(t *testing.T) {
	embedder := gateway.NewMockEmbeddingGateway(16)
	idx := NewMockIndex(embedder)
	ctx := context.Background()

	items := []Item{
		{ID: "p1", Text: "contrastive pretraining for low-resource NER"},
		{ID: "p2", Text: "graph neural networks for molecule generation"},
		{ID: "p3", Text: "contrastive pretraining for named entity recognition"},
	}
	require.NoError(t, idx.Build(ctx, CollectionPapers, items, "mock"))
	assert.True(t, idx.HasCollection(CollectionPapers))
	assert.False(t, idx.HasCollection(CollectionIdeas))

	queryVec, err := embedder.Embed(ctx, []string{"contrastive pretraining for low-resource NER"}, "mock")
	require.NoError(t, err)

	results, err := idx.Search(ctx, CollectionPapers, queryVec[0], 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestMockIndex_Search_EmptyCollectionReturnsEmpty(t *testing.T) {
	embedder := gateway.NewMockEmbeddingGateway(8)
	idx := NewMockIndex(embedder)

	results, err := idx.Search(context.Background(), CollectionIdeas, make([]float32, 8), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
