package critic

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea2paper/internal/config"
	"idea2paper/internal/gateway"
	"idea2paper/internal/kgstore"
	"idea2paper/internal/types"
)

func testConfig() config.CriticConfig {
	return config.CriticConfig{
		Temperature:          0.2,
		StrictJSON:           true,
		JSONRetries:          2,
		AnchorQuantiles:      []float64{0.05, 0.25, 0.50, 0.75, 0.95},
		AnchorMaxInitial:     11,
		AnchorMaxTotal:       22,
		AnchorMaxExemplars:   2,
		DensifyEnable:        true,
		DensifyLossThreshold: 0.35,
		DensifyMinAvgConf:    1.5,
		BucketSize:           3,
		BucketCount:          2,
		TauDefault:           1.0,
		TauByRole:            map[types.Role]float64{},
		GridStep:             0.1,
		ForbiddenTerms:       []string{"score", "rating", "accept", "reject", "/10", "out of 10"},
	}
}

func pattern() *types.Pattern {
	return &types.Pattern{
		PatternID:   "pat-1",
		Name:        "contrastive pretraining",
		ClusterSize: 12,
		Domain:      "dom-nlp",
		Summary: types.PatternSummary{
			Story:              "papers fuse a contrastive loss with a retrieval step",
			CommonProblems:     []string{"sparse supervision"},
			SolutionApproaches: []string{"contrastive pretraining with hard negatives"},
			RepresentativeIdeas: []string{"retrieval-augmented contrastive loss"},
		},
	}
}

func paper(id types.PaperId, score10 float64, reviewCount int, dispersion float64) *types.Paper {
	pid := types.PatternId("pat-1")
	return &types.Paper{
		PaperID:   id,
		Title:     "should never be read by anchorCard",
		PatternID: &pid,
		DomainID:  "dom-nlp",
		ReviewStats: &types.ReviewStats{
			AvgScore10:   score10,
			ReviewCount:  reviewCount,
			Dispersion10: dispersion,
		},
	}
}

func storeWithPapers(papers ...*types.Paper) *kgstore.FixtureStore {
	store := kgstore.NewFixtureStore()
	store.PatternList = []*types.Pattern{pattern()}
	store.PaperList = papers
	return store
}

func story() *types.Story {
	return &types.Story{
		Title:            "Contrastive Retrieval Fusion",
		Abstract:         "we fuse contrastive pretraining with retrieval",
		ProblemFraming:   "sparse supervision in low-resource domains",
		GapPattern:       "prior work treats retrieval and contrast separately",
		MethodSkeleton:   "joint contrastive-retrieval objective with hard negative mining",
		InnovationClaims: []string{"unified objective", "hard negative curriculum"},
		ExperimentsPlan:  "benchmark on three low-resource NLP tasks",
	}
}

func TestSelectAnchors_ClusterOnly(t *testing.T) {
	store := storeWithPapers(
		paper("p1", 3, 5, 0.5),
		paper("p2", 5, 8, 0.4),
		paper("p3", 6, 10, 0.3),
		paper("p4", 8, 12, 0.2),
		paper("p5", 9, 20, 0.1),
	)
	cfg := testConfig()
	anchors, err := selectAnchors(context.Background(), cfg, store, pattern())
	require.NoError(t, err)
	assert.NotEmpty(t, anchors)
	for i := 1; i < len(anchors); i++ {
		assert.LessOrEqual(t, anchors[i-1].paper.ReviewStats.AvgScore10, anchors[i].paper.ReviewStats.AvgScore10)
	}
}

func TestSelectAnchors_WidensToDomainWhenClusterTooSmall(t *testing.T) {
	onlyOne := paper("p1", 5, 5, 0.5)
	wideID := types.PatternId("pat-2")
	wide1 := paper("w1", 4, 5, 0.5)
	wide1.PatternID = &wideID
	wide2 := paper("w2", 7, 5, 0.5)
	wide2.PatternID = &wideID

	store := storeWithPapers(onlyOne, wide1, wide2)
	store.PatternList = []*types.Pattern{pattern(), {PatternID: "pat-2", Domain: "dom-nlp"}}

	cfg := testConfig()
	anchors, err := selectAnchors(context.Background(), cfg, store, pattern())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(anchors), 3)
}

func TestSelectAnchors_SkipsPapersWithoutReviewStats(t *testing.T) {
	pid := types.PatternId("pat-1")
	noStats := &types.Paper{PaperID: "p-nostats", PatternID: &pid, DomainID: "dom-nlp"}
	store := storeWithPapers(noStats, paper("p1", 5, 5, 0.5), paper("p2", 7, 5, 0.5), paper("p3", 8, 5, 0.5))

	cfg := testConfig()
	anchors, err := selectAnchors(context.Background(), cfg, store, pattern())
	require.NoError(t, err)
	for _, a := range anchors {
		assert.NotEqual(t, types.PaperId("p-nostats"), a.paper.PaperID)
	}
}

func buildTestAnchors() []anchor {
	p := pattern()
	return []anchor{
		{paper: paper("p1", 3, 5, 0.5), weight: anchorWeight(&types.ReviewStats{ReviewCount: 5, Dispersion10: 0.5}), pattern: p},
		{paper: paper("p2", 5, 8, 0.4), weight: anchorWeight(&types.ReviewStats{ReviewCount: 8, Dispersion10: 0.4}), pattern: p},
		{paper: paper("p3", 7, 10, 0.3), weight: anchorWeight(&types.ReviewStats{ReviewCount: 10, Dispersion10: 0.3}), pattern: p},
		{paper: paper("p4", 9, 12, 0.2), weight: anchorWeight(&types.ReviewStats{ReviewCount: 12, Dispersion10: 0.2}), pattern: p},
	}
}

func TestInferScore_AllBetterPullsScoreHigh(t *testing.T) {
	anchors := buildTestAnchors()
	comparisons := make([]types.Comparison, len(anchors))
	for i := range anchors {
		comparisons[i] = types.Comparison{AnchorID: types.LocalAlias(aliasFor(i)), Judgement: types.JudgementBetter, Strength: types.StrengthStrong}
	}
	cfg := testConfig()
	s, _, avgStrength, _, _, violations := inferScore(cfg, 1.0, anchors, comparisons)
	assert.Greater(t, s, anchors[len(anchors)-1].paper.ReviewStats.AvgScore10)
	assert.Equal(t, 3.0, avgStrength)
	assert.Equal(t, 0, violations)
}

func TestInferScore_AllWorsePullsScoreLow(t *testing.T) {
	anchors := buildTestAnchors()
	comparisons := make([]types.Comparison, len(anchors))
	for i := range anchors {
		comparisons[i] = types.Comparison{AnchorID: types.LocalAlias(aliasFor(i)), Judgement: types.JudgementWorse, Strength: types.StrengthStrong}
	}
	cfg := testConfig()
	s, _, _, _, _, _ := inferScore(cfg, 1.0, anchors, comparisons)
	assert.Less(t, s, anchors[0].paper.ReviewStats.AvgScore10)
}

func TestCountMonotonicViolations_DetectsBackwardsJudgement(t *testing.T) {
	anchors := buildTestAnchors() // sorted ascending by score10: 3,5,7,9
	byAlias := map[types.LocalAlias]types.Comparison{
		"A1": {AnchorID: "A1", Judgement: types.JudgementWorse},  // y=0 at score10=3
		"A2": {AnchorID: "A2", Judgement: types.JudgementBetter}, // y=1 at score10=5 (violation: y rises while score10 rises)
		"A3": {AnchorID: "A3", Judgement: types.JudgementWorse},  // y=0 at score10=7 (no violation: y falls while score10 rises)
		"A4": {AnchorID: "A4", Judgement: types.JudgementWorse},  // y=0 at score10=9
	}
	violations := countMonotonicViolations(anchors, byAlias)
	assert.Greater(t, violations, 0)
}

func TestPatternThresholds_ComputesQuantilesFromRealScores(t *testing.T) {
	papers := []*types.Paper{
		paper("p1", 3, 5, 0.5),
		paper("p2", 5, 8, 0.4),
		paper("p3", 7, 10, 0.3),
		paper("p4", 9, 12, 0.2),
	}
	q50, q75 := patternThresholds(papers)
	assert.Greater(t, q75, q50)
}

func TestPatternThresholds_FallsBackWhenNoScoredPapers(t *testing.T) {
	pid := types.PatternId("pat-1")
	papers := []*types.Paper{{PaperID: "p1", PatternID: &pid, DomainID: "dom-nlp"}}
	q50, q75 := patternThresholds(papers)
	assert.Equal(t, 5.5, q50)
	assert.Equal(t, 7.5, q75)
}

func TestForbiddenTermViolation_CaseInsensitive(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "score", forbiddenTermViolation(cfg, "this story has a higher SCORE than the anchor"))
	assert.Equal(t, "", forbiddenTermViolation(cfg, "this story frames the gap more compellingly"))
}

func TestAnchorCard_DerivedFromPatternSummaryNeverTitle(t *testing.T) {
	a := anchor{paper: paper("p1", 5, 5, 0.5), pattern: pattern()}
	card := anchorCard(a)
	assert.NotContains(t, card.Problem, "should never be read")
	assert.Contains(t, card.Method, "contrastive pretraining")
}

func validComparisonsJSON(aliases []string, judgement string) string {
	out := `{"rubric_version": "rubric-v1", "comparisons": [`
	for i, alias := range aliases {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"anchor_id": %q, "judgement": %q, "strength": "medium", "rationale": "reasonable framing"}`, alias, judgement)
	}
	out += `]}`
	return out
}

func TestParseRoleResponse_ValidResponseParses(t *testing.T) {
	cfg := testConfig()
	aliases := orderedAliases(3)
	comparisons, err := parseRoleResponse(cfg, validComparisonsJSON(aliases, "better"), 3)
	require.NoError(t, err)
	assert.Len(t, comparisons, 3)
}

func TestParseRoleResponse_RejectsMissingAnchor(t *testing.T) {
	cfg := testConfig()
	aliases := orderedAliases(3)[:2] // only 2 of 3 covered
	_, err := parseRoleResponse(cfg, validComparisonsJSON(aliases, "better"), 3)
	assert.Error(t, err)
}

func TestParseRoleResponse_RejectsDuplicateAnchor(t *testing.T) {
	cfg := testConfig()
	text := `{"rubric_version": "rubric-v1", "comparisons": [
		{"anchor_id": "A1", "judgement": "better", "strength": "medium", "rationale": "ok"},
		{"anchor_id": "A1", "judgement": "worse", "strength": "medium", "rationale": "ok"}
	]}`
	_, err := parseRoleResponse(cfg, text, 1)
	assert.Error(t, err)
}

func TestParseRoleResponse_RejectsForbiddenTermInRationale(t *testing.T) {
	cfg := testConfig()
	text := `{"rubric_version": "rubric-v1", "comparisons": [
		{"anchor_id": "A1", "judgement": "better", "strength": "medium", "rationale": "I would give this an 8 out of 10"}
	]}`
	_, err := parseRoleResponse(cfg, text, 1)
	assert.Error(t, err)
}

func TestParseRoleResponse_RejectsWrongRubricVersion(t *testing.T) {
	cfg := testConfig()
	text := `{"rubric_version": "rubric-v0", "comparisons": [
		{"anchor_id": "A1", "judgement": "better", "strength": "medium", "rationale": "ok"}
	]}`
	_, err := parseRoleResponse(cfg, text, 1)
	assert.Error(t, err)
}

func TestReview_PassesWithStrongAnchors(t *testing.T) {
	store := storeWithPapers(
		paper("p1", 2, 5, 0.5),
		paper("p2", 4, 8, 0.4),
		paper("p3", 5, 10, 0.3),
		paper("p4", 6, 12, 0.2),
		paper("p5", 8, 15, 0.2),
	)
	cfg := testConfig()
	cfg.JSONRetries = 1

	aliases := orderedAliases(5)
	response := validComparisonsJSON(aliases, "better")
	llm := &gateway.MockLLMGateway{Responses: map[string][]string{"test-model": {response}}}

	c := New(cfg, store, llm, "test-model")
	audit, err := c.Review(context.Background(), story(), pattern())
	require.NoError(t, err)
	assert.Len(t, audit.Roles, 3)
	assert.True(t, audit.Passed)
}

func TestReview_RepairsAfterMalformedFirstAttempt(t *testing.T) {
	store := storeWithPapers(
		paper("p1", 3, 5, 0.5),
		paper("p2", 5, 8, 0.4),
		paper("p3", 7, 10, 0.3),
		paper("p4", 9, 12, 0.2),
	)
	cfg := testConfig()
	cfg.JSONRetries = 2

	aliases := orderedAliases(4)
	good := validComparisonsJSON(aliases, "tie")
	llm := &gateway.MockLLMGateway{Responses: map[string][]string{"test-model": {"not json at all", good}}}

	c := New(cfg, store, llm, "test-model")
	audit, err := c.Review(context.Background(), story(), pattern())
	require.NoError(t, err)
	assert.Len(t, audit.Roles, 3)
}

func TestReview_FailsWhenNoAnchorsAvailable(t *testing.T) {
	store := kgstore.NewFixtureStore()
	store.PatternList = []*types.Pattern{pattern()}
	cfg := testConfig()
	llm := &gateway.MockLLMGateway{}

	c := New(cfg, store, llm, "test-model")
	_, err := c.Review(context.Background(), story(), pattern())
	assert.Error(t, err)
}

func TestEvaluatePassRule_FailsWhenOnlyOneRoleAboveQ75(t *testing.T) {
	roles := []RoleAudit{
		{Score: 8.0},
		{Score: 4.0},
		{Score: 4.0},
	}
	assert.False(t, evaluatePassRule(roles, 7.5, 5.5))
}

func TestEvaluatePassRule_PassesWhenTwoAboveQ75AndAverageAboveQ50(t *testing.T) {
	roles := []RoleAudit{
		{Score: 8.0},
		{Score: 8.0},
		{Score: 6.0},
	}
	assert.True(t, evaluatePassRule(roles, 7.5, 5.5))
}

func TestDensifyAnchors_AddsBucketAnchorsNearS(t *testing.T) {
	pool := buildTestAnchors()
	existing := pool[:1]
	cfg := testConfig()
	cfg.BucketSize = 1
	cfg.BucketCount = 2
	cfg.AnchorMaxTotal = 22

	out := densifyAnchors(cfg, pool, existing, 5.0)
	assert.Greater(t, len(out), len(existing))
	assert.LessOrEqual(t, len(out), len(pool))
}
