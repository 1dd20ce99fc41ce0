package recall

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea2paper/internal/config"
	"idea2paper/internal/kgstore"
	"idea2paper/internal/types"
)

// bowEmbedder is a deterministic bag-of-words test double for
// gateway.EmbeddingGateway: cosine similarity between its vectors
// tracks lexical overlap, unlike a hash-seeded random mock, so
// assertions about "the lexically closest candidate wins" are
// meaningful rather than incidental.
type bowEmbedder struct{ vocab []string }

func newBOWEmbedder(vocab []string) *bowEmbedder { return &bowEmbedder{vocab: vocab} }

func (b *bowEmbedder) Dimension(model string) int { return len(b.vocab) }

func (b *bowEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		tokens := map[string]int{}
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			tokens[tok]++
		}
		vec := make([]float32, len(b.vocab))
		for j, word := range b.vocab {
			vec[j] = float32(tokens[word])
		}
		out[i] = vec
	}
	return out, nil
}

var testVocab = strings.Fields(
	"contrastive pretraining for low resource named entity recognition " +
		"graph neural networks molecule generation survey computational " +
		"chemistry natural language processing using",
)

func sampleFixture() *kgstore.FixtureStore {
	store := kgstore.NewFixtureStore()

	store.IdeaList = []*types.Idea{
		{IdeaID: "idea-1", Description: "contrastive pretraining for low resource named entity recognition", PatternIDs: []types.PatternId{"pat-1"}},
		{IdeaID: "idea-2", Description: "graph neural networks for molecule generation", PatternIDs: []types.PatternId{"pat-2"}},
	}
	store.PatternList = []*types.Pattern{
		{PatternID: "pat-1", Name: "contrastive-pretrain", ClusterSize: 20, Domain: "dom-nlp", SubDomains: []string{"ner", "low-resource"}},
		{PatternID: "pat-2", Name: "gnn-molgen", ClusterSize: 8, Domain: "dom-chem", SubDomains: []string{"molecule-generation"}},
	}
	store.DomainList = []*types.Domain{
		{DomainID: "dom-nlp", Name: "natural language processing", SubDomains: []string{"ner", "low-resource", "summarization"}},
		{DomainID: "dom-chem", Name: "computational chemistry", SubDomains: []string{"molecule-generation", "docking"}},
	}
	store.PaperList = []*types.Paper{
		{PaperID: "paper-1", Title: "contrastive pretraining for named entity recognition", DomainID: "dom-nlp", ReviewStats: &types.ReviewStats{AvgScore10: 8.0, ReviewCount: 5}},
		{PaperID: "paper-2", Title: "graph neural molecule generation survey", DomainID: "dom-chem", ReviewStats: &types.ReviewStats{AvgScore10: 6.0, ReviewCount: 3}},
	}

	store.WorksWellIn["pat-1"] = []kgstore.NeighborEdge{{NodeID: "dom-nlp", Effect: 0.8, Confid: 0.9}}
	store.WorksWellIn["pat-2"] = []kgstore.NeighborEdge{{NodeID: "dom-chem", Effect: 0.6, Confid: 0.7}}
	store.UsesPattern["paper-1"] = []kgstore.NeighborEdge{{NodeID: "pat-1", Quality: 0.9}}
	store.UsesPattern["paper-2"] = []kgstore.NeighborEdge{{NodeID: "pat-2", Quality: 0.7}}

	return store
}

func newTestEngine(t *testing.T, store *kgstore.FixtureStore) *Engine {
	t.Helper()
	ctx := context.Background()
	adj, err := kgstore.BuildAdjacency(ctx, store)
	require.NoError(t, err)

	cfg := config.Default().Recall
	embedder := newBOWEmbedder(testVocab)
	return NewEngine(cfg, store, adj, embedder, "mock")
}

func TestRecall_SurfacesExpectedPatternForCloseIdea(t *testing.T) {
	store := sampleFixture()
	engine := newTestEngine(t, store)

	results, audit, err := engine.Recall(context.Background(), "contrastive pretraining for named entity recognition in low resource settings")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, types.PatternId("pat-1"), results[0].PatternID)
	assert.Empty(t, audit.Reason)
	assert.LessOrEqual(t, len(results), config.Default().Recall.FinalTopK)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Final, 0.0)
	}
}

func TestRecall_EmptyGraphReturnsReasonedEmptyResult(t *testing.T) {
	store := kgstore.NewFixtureStore()
	engine := newTestEngine(t, store)

	results, audit, err := engine.Recall(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NotEmpty(t, audit.Reason)
}

func TestRecall_PatternsUniqueInFinalTopK(t *testing.T) {
	store := sampleFixture()
	engine := newTestEngine(t, store)

	results, _, err := engine.Recall(context.Background(), "molecule generation using graph neural networks")
	require.NoError(t, err)

	seen := map[types.PatternId]bool{}
	for _, r := range results {
		assert.False(t, seen[r.PatternID], "pattern %s appeared twice in final top-k", r.PatternID)
		seen[r.PatternID] = true
	}
}

func TestJaccard_EmptyInputsReturnZero(t *testing.T) {
	assert.Equal(t, 0.0, jaccard("", ""))
}

func TestJaccard_IdenticalStringsReturnOne(t *testing.T) {
	assert.Equal(t, 1.0, jaccard("graph neural network", "graph neural network"))
}

func TestNormalize_SingleValueMapsToOne(t *testing.T) {
	scores := map[types.PatternId]float64{"p1": 3.0}
	out := normalize(scores)
	assert.Equal(t, 1.0, out["p1"])
}

func TestNormalize_SpreadMapsMinMaxToZeroOne(t *testing.T) {
	scores := map[types.PatternId]float64{"p1": 1.0, "p2": 3.0, "p3": 2.0}
	out := normalize(scores)
	assert.Equal(t, 0.0, out["p1"])
	assert.Equal(t, 1.0, out["p2"])
	assert.Equal(t, 0.5, out["p3"])
}
