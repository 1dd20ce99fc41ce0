package refine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea2paper/internal/coach"
	"idea2paper/internal/config"
	"idea2paper/internal/critic"
	"idea2paper/internal/gateway"
	"idea2paper/internal/kgstore"
	"idea2paper/internal/selector"
	"idea2paper/internal/story"
	"idea2paper/internal/types"
)

func testCriticConfig() config.CriticConfig {
	return config.CriticConfig{
		Temperature:        0.2,
		JSONRetries:        2,
		AnchorQuantiles:    []float64{}, // no quantile picks; exemplars alone decide the anchor set
		AnchorMaxInitial:   11,
		AnchorMaxTotal:     22,
		AnchorMaxExemplars: 3,
		DensifyEnable:      false,
		TauDefault:         1.0,
		TauByRole:          map[types.Role]float64{},
		GridStep:           0.25,
		ForbiddenTerms:     []string{"score", "rating", "accept", "reject", "/10", "out of 10"},
	}
}

func testRefinementConfig() config.RefinementConfig {
	return config.RefinementConfig{
		MaxRefineIterations:    1,
		NoveltyModeMaxPatterns: 5,
		FusionQualityThreshold: 0.65,
		DegradationThreshold:   0.1,
		StagnationDelta:        0.5,
	}
}

func testPattern(id types.PatternId, domain types.DomainId) *types.Pattern {
	return &types.Pattern{
		PatternID: id,
		Name:      string(id),
		Domain:    domain,
		Summary: types.PatternSummary{
			Story:               "a pattern summary",
			CommonProblems:      []string{"sparse supervision"},
			SolutionApproaches:  []string{"contrastive pretraining"},
			RepresentativeIdeas: []string{"retrieval-augmented contrast"},
		},
	}
}

func testPaper(id types.PaperId, patternID types.PatternId, domain types.DomainId, score10 float64) *types.Paper {
	pid := patternID
	return &types.Paper{
		PaperID:   id,
		PatternID: &pid,
		DomainID:  domain,
		ReviewStats: &types.ReviewStats{
			AvgScore10:   score10,
			ReviewCount:  5,
			Dispersion10: 0.5,
		},
	}
}

func threeAliasJudgementJSON(judgement string) string {
	return `{"rubric_version": "rubric-v1", "comparisons": [
		{"anchor_id": "A1", "judgement": "` + judgement + `", "strength": "strong", "rationale": "a qualitative comparison"},
		{"anchor_id": "A2", "judgement": "` + judgement + `", "strength": "strong", "rationale": "a qualitative comparison"},
		{"anchor_id": "A3", "judgement": "` + judgement + `", "strength": "strong", "rationale": "a qualitative comparison"}
	]}`
}

const testStoryJSON = `{"title": "Injected Story", "abstract": "a revised story", "problem_framing": "framing", "gap_pattern": "gap", "method_skeleton": "method", "innovation_claims": ["claim"], "experiments_plan": "plan"}`

const testCoachFeedbackJSON = `{"field_feedback": {"title": "fine"}, "suggested_edits": [], "priority": []}`

func testStartStory() *types.Story {
	return &types.Story{
		Title:            "Initial Story",
		Abstract:         "an initial story",
		ProblemFraming:   "framing",
		GapPattern:       "gap",
		MethodSkeleton:   "method",
		InnovationClaims: []string{"claim"},
		ExperimentsPlan:  "plan",
		SourcePatternID:  "pat-1",
	}
}

func newTestEngine(t *testing.T, llm gateway.LLMGateway, store *kgstore.FixtureStore) *Engine {
	t.Helper()
	const model = "test-model"
	gen := story.New(config.StoryConfig{Temperature: 0.7, JSONRetries: 2, MaxSkeletonExamples: 3}, llm, model)
	crit := critic.New(testCriticConfig(), store, llm, model)
	coa := coach.New(config.CoachConfig{Temperature: 0.3, JSONRetries: 2}, llm, model)
	return New(testRefinementConfig(), store, llm, model, gen, crit, coa)
}

func TestRun_PassesOnInitialCriticRound(t *testing.T) {
	pat1 := testPattern("pat-1", "dom-nlp")
	store := kgstore.NewFixtureStore()
	store.PatternList = []*types.Pattern{pat1}
	store.PaperList = []*types.Paper{
		testPaper("p1", "pat-1", "dom-nlp", 3),
		testPaper("p2", "pat-1", "dom-nlp", 5),
		testPaper("p3", "pat-1", "dom-nlp", 7),
	}

	llm := &gateway.MockLLMGateway{Responses: map[string][]string{
		"test-model": {threeAliasJudgementJSON("better")},
	}}
	engine := newTestEngine(t, llm, store)

	res, err := engine.Run(context.Background(), "an idea brief", selector.Result{}, testStartStory(), pat1)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 1, res.Iterations)
	assert.Len(t, res.ReviewHistory, 1)
	assert.Equal(t, types.PatternId("pat-1"), res.FinalStoryPatternID)
}

func TestRun_InjectsNextPatternAndPassesOnSecondRound(t *testing.T) {
	pat1 := testPattern("pat-1", "dom-nlp")
	pat2 := testPattern("pat-2", "dom-nlp")
	store := kgstore.NewFixtureStore()
	store.PatternList = []*types.Pattern{pat1, pat2}
	store.PaperList = []*types.Paper{
		testPaper("p1", "pat-1", "dom-nlp", 3),
		testPaper("p2", "pat-1", "dom-nlp", 5),
		testPaper("p3", "pat-1", "dom-nlp", 7),
		testPaper("p4", "pat-2", "dom-nlp", 3),
		testPaper("p5", "pat-2", "dom-nlp", 5),
		testPaper("p6", "pat-2", "dom-nlp", 7),
	}

	llm := &gateway.MockLLMGateway{Responses: map[string][]string{
		"test-model": {
			threeAliasJudgementJSON("worse"), threeAliasJudgementJSON("worse"), threeAliasJudgementJSON("worse"), // round 1: fails
			testCoachFeedbackJSON, // coach
			testStoryJSON,         // story generation
			threeAliasJudgementJSON("better"), threeAliasJudgementJSON("better"), threeAliasJudgementJSON("better"), // round 2: passes
		},
	}}
	engine := newTestEngine(t, llm, store)

	sel := selector.Result{StabilityRanked: []types.PatternId{"pat-2"}}
	res, err := engine.Run(context.Background(), "an idea brief", sel, testStartStory(), pat1)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, types.PatternId("pat-2"), res.FinalStoryPatternID)
	assert.Len(t, res.ReviewHistory, 2)

	var injectEvent bool
	for _, e := range res.RefinementHistory {
		if e.State == "INJECT" {
			injectEvent = true
		}
	}
	assert.True(t, injectEvent)
}

func TestRun_FallsBackToBestWhenMaxIterationsExceeded(t *testing.T) {
	pat1 := testPattern("pat-1", "dom-nlp")
	store := kgstore.NewFixtureStore()
	store.PatternList = []*types.Pattern{pat1}
	store.PaperList = []*types.Paper{
		testPaper("p1", "pat-1", "dom-nlp", 3),
		testPaper("p2", "pat-1", "dom-nlp", 5),
		testPaper("p3", "pat-1", "dom-nlp", 7),
	}

	llm := &gateway.MockLLMGateway{Responses: map[string][]string{
		"test-model": {threeAliasJudgementJSON("worse")},
	}}
	cfg := testRefinementConfig()
	cfg.MaxRefineIterations = 0
	gen := story.New(config.StoryConfig{Temperature: 0.7, JSONRetries: 2, MaxSkeletonExamples: 3}, llm, "test-model")
	crit := critic.New(testCriticConfig(), store, llm, "test-model")
	coa := coach.New(config.CoachConfig{Temperature: 0.3, JSONRetries: 2}, llm, "test-model")
	engine := New(cfg, store, llm, "test-model", gen, crit, coa)

	res, err := engine.Run(context.Background(), "an idea brief", selector.Result{}, testStartStory(), pat1)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.NotNil(t, res.BestStory)

	var fallback bool
	for _, e := range res.RefinementHistory {
		if e.State == "FALLBACK" {
			fallback = true
		}
	}
	assert.True(t, fallback)
}

func TestDegraded_DetectsRoleScoreDrop(t *testing.T) {
	prev := []critic.RoleAudit{{Role: types.RoleMethodology, Score: 8.0}}
	next := []critic.RoleAudit{{Role: types.RoleMethodology, Score: 7.0}}
	assert.False(t, degraded(prev, next, 2.0))
	assert.True(t, degraded(prev, next, 0.5))
}

func TestNextUnfailedPattern_SkipsFailedEntries(t *testing.T) {
	ranking := []types.PatternId{"pat-1", "pat-2", "pat-3"}
	failed := map[failureKey]bool{{pattern: "pat-1", issue: IssueMethodology}: true}
	id, ok := nextUnfailedPattern(ranking, failed, IssueMethodology)
	require.True(t, ok)
	assert.Equal(t, types.PatternId("pat-2"), id)
}

func TestNextUnfailedPattern_ReturnsFalseWhenAllFailed(t *testing.T) {
	ranking := []types.PatternId{"pat-1"}
	failed := map[failureKey]bool{{pattern: "pat-1", issue: IssueNovelty}: true}
	_, ok := nextUnfailedPattern(ranking, failed, IssueNovelty)
	assert.False(t, ok)
}

func TestRankingFor_MapsDimensionToRanking(t *testing.T) {
	sel := selector.Result{
		StabilityRanked:      []types.PatternId{"stab"},
		NoveltyRanked:        []types.PatternId{"nov"},
		DomainDistanceRanked: []types.PatternId{"dom"},
	}
	assert.Equal(t, []types.PatternId{"nov"}, rankingFor(sel, IssueNovelty))
	assert.Equal(t, []types.PatternId{"stab"}, rankingFor(sel, IssueMethodology))
	assert.Equal(t, []types.PatternId{"dom"}, rankingFor(sel, IssueStoryteller))
}

func TestWorstScoringRole_ReturnsLowestScore(t *testing.T) {
	audit := critic.Audit{Roles: []critic.RoleAudit{
		{Role: types.RoleMethodology, Score: 8.0},
		{Role: types.RoleNovelty, Score: 3.0},
		{Role: types.RoleStoryteller, Score: 6.0},
	}}
	assert.Equal(t, types.RoleNovelty, worstScoringRole(audit))
}

func TestClip01_ClampsToUnitInterval(t *testing.T) {
	assert.Equal(t, 0.0, clip01(-0.5))
	assert.Equal(t, 1.0, clip01(1.5))
	assert.Equal(t, 0.5, clip01(0.5))
}
