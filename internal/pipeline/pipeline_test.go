package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea2paper/internal/coach"
	"idea2paper/internal/config"
	"idea2paper/internal/critic"
	"idea2paper/internal/gateway"
	"idea2paper/internal/kgstore"
	"idea2paper/internal/metrics"
	"idea2paper/internal/novelty"
	"idea2paper/internal/recall"
	"idea2paper/internal/refine"
	"idea2paper/internal/selector"
	"idea2paper/internal/story"
	"idea2paper/internal/types"
	"idea2paper/internal/vectorindex"
)

// bowEmbedder mirrors internal/recall's lexical-overlap test double so
// recall's Path 1/2/3 surface the pattern whose fixture text actually
// overlaps the query, rather than an incidental hash collision.
type bowEmbedder struct{ vocab []string }

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

func singlePatternFixture() *kgstore.FixtureStore {
	store := kgstore.NewFixtureStore()
	store.IdeaList = []*types.Idea{
		{IdeaID: "idea-1", Description: "contrastive pretraining for low resource named entity recognition", PatternIDs: []types.PatternId{"pat-1"}},
	}
	store.PatternList = []*types.Pattern{
		{
			PatternID: "pat-1", Name: "contrastive-pretrain", ClusterSize: 20, Domain: "dom-nlp",
			SubDomains: []string{"ner", "low-resource"},
			Summary: types.PatternSummary{
				Story:              "papers fuse a contrastive loss with a retrieval step",
				CommonProblems:     []string{"sparse supervision"},
				SolutionApproaches: []string{"contrastive pretraining with hard negatives"},
			},
		},
	}
	store.DomainList = []*types.Domain{
		{DomainID: "dom-nlp", Name: "natural language processing", SubDomains: []string{"ner", "low-resource"}},
	}
	store.PaperList = []*types.Paper{
		{
			PaperID: "paper-1", Title: "contrastive pretraining for named entity recognition", DomainID: "dom-nlp",
			ReviewStats: &types.ReviewStats{AvgScore10: 8.0, ReviewCount: 5, Dispersion10: 0.2},
		},
	}
	pat1 := types.PatternId("pat-1")
	store.PaperList[0].PatternID = &pat1

	store.WorksWellIn["pat-1"] = []kgstore.NeighborEdge{{NodeID: "dom-nlp", Effect: 0.8, Confid: 0.9}}
	store.UsesPattern["paper-1"] = []kgstore.NeighborEdge{{NodeID: "pat-1", Quality: 0.9}}
	store.BelongsTo["idea-1"] = []kgstore.NeighborEdge{{NodeID: "dom-nlp", Weight: 0.8}}

	return store
}

const allBetterComparison = `{"rubric_version":"rubric-v1","comparisons":[{"anchor_id":"A1","judgement":"better","strength":"strong","rationale":"the proposed method unifies two previously separate mechanisms more rigorously"}]}`

func buildTestManager(t *testing.T, store *kgstore.FixtureStore, llm *gateway.MockLLMGateway) *Manager {
	t.Helper()
	ctx := context.Background()

	adj, err := kgstore.BuildAdjacency(ctx, store)
	require.NoError(t, err)

	embedder := &bowEmbedder{vocab: testVocab}

	cfg := *config.Default()
	cfg.Novelty.Enable = false

	criticCfg := cfg.Critic
	criticCfg.AnchorQuantiles = []float64{0.5}
	criticCfg.AnchorMaxExemplars = 0
	criticCfg.DensifyEnable = false
	criticCfg.JSONRetries = 1

	recallEngine := recall.NewEngine(cfg.Recall, store, adj, embedder, "mock-embed")
	sel := selector.New(cfg.Selector, store, llm, "selector-model")
	gen := story.New(cfg.Story, llm, "story-model")
	crit := critic.New(criticCfg, store, llm, "critic-model")
	coa := coach.New(cfg.Coach, llm, "coach-model")
	ref := refine.New(cfg.Refinement, store, llm, "refine-model", gen, crit, coa)
	embed := gateway.NewMockEmbeddingGateway(8)
	idx := vectorindex.NewMockIndex(embed)
	nov := novelty.New(cfg.Novelty, idx, embed, llm, "novelty-model")
	mc := metrics.NewCollector("idea2paper_pipeline_test")

	return New(cfg, store, recallEngine, sel, gen, ref, nov, mc)
}

func TestRun_HappyPathPassesOnFirstIteration(t *testing.T) {
	store := singlePatternFixture()
	llm := gateway.NewMockLLMGateway()
	llm.Responses["selector-model"] = []string{
		`{"scores":[{"pattern_id":"pat-1","stability":0.8,"novelty":0.6,"domain_distance":0.2}]}`,
	}
	llm.Responses["story-model"] = []string{
		`{"title":"Unified Contrastive Retrieval Fusion","abstract":"we fuse contrastive pretraining with a retrieval objective for low-resource NER",` +
			`"problem_framing":"sparse supervision in low-resource domains","gap_pattern":"prior work treats retrieval and contrast separately",` +
			`"method_skeleton":"joint contrastive-retrieval objective with hard negative mining","innovation_claims":["unified training objective"],` +
			`"experiments_plan":"benchmark on three low-resource NER datasets"}`,
	}
	llm.Responses["critic-model"] = []string{allBetterComparison}

	m := buildTestManager(t, store, llm)

	result, err := m.Run(context.Background(), "contrastive pretraining for named entity recognition in low resource settings")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Reason)
	require.NotNil(t, result.FinalStory)
	assert.Equal(t, "Unified Contrastive Retrieval Fusion", result.FinalStory.Title)
	assert.Equal(t, 0, result.FinalStorySource.Iteration)
	assert.False(t, result.FinalStorySource.IsBestAcrossIterations)
	assert.Equal(t, 0, result.Pivots)
	require.Len(t, result.ReviewHistory, 1)
	assert.True(t, result.ReviewHistory[0].Audit.Passed)
}

func TestRun_EmptyRecallReportsNoCandidatePatterns(t *testing.T) {
	store := kgstore.NewFixtureStore()
	llm := gateway.NewMockLLMGateway()
	m := buildTestManager(t, store, llm)

	result, err := m.Run(context.Background(), "an idea with nothing in the graph to match")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "no_candidate_patterns", result.Reason)
	assert.Nil(t, result.FinalStory)
}
