// Package refine implements the Refinement Engine (C9): the bounded
// GENERATE→CRITIC→(INJECT|NOVELTY_MODE) state machine that drives a
// Story toward a critic pass, with per-(pattern,issue_kind) failure
// tracking, score-degradation rollback, and a novelty-stagnation
// fusion mode (spec.md §4.6). Grounded on
// internal/orchestration/workflow.go's step/state shape (adapted from
// its DependsOn/Condition graph into this fixed five-state machine)
// and other_examples' pattern-intelligence.go nil-safe graceful
// degradation shape for the stagnation fallback.
package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"idea2paper/internal/coach"
	"idea2paper/internal/config"
	"idea2paper/internal/critic"
	"idea2paper/internal/gateway"
	"idea2paper/internal/kgstore"
	"idea2paper/internal/selector"
	"idea2paper/internal/story"
	"idea2paper/internal/types"
)

// jsonRetries bounds repair attempts on the fusion/reflection LLM
// calls; spec.md §4.6 does not name a dedicated config knob for these,
// so this mirrors internal/selector's local jsonRetries=2 texture.
const jsonRetries = 2

// IssueKind names which role dimension drove a refinement attempt —
// the second half of the (pattern, issue_kind) failure key (spec.md
// §9 Open Question 2, decided: per-(pattern,issue_kind) tracking).
type IssueKind string

const (
	IssueNovelty     IssueKind = "novelty"
	IssueMethodology IssueKind = "methodology"
	IssueStoryteller IssueKind = "storyteller"
)

func issueKindForRole(role types.Role) IssueKind {
	switch role {
	case types.RoleNovelty:
		return IssueNovelty
	case types.RoleMethodology:
		return IssueMethodology
	default:
		return IssueStoryteller
	}
}

// rankingFor picks the ranked Pattern list a given issue kind draws
// its next candidate from (spec.md §4.6 dimension mapping).
func rankingFor(sel selector.Result, kind IssueKind) []types.PatternId {
	switch kind {
	case IssueNovelty:
		return sel.NoveltyRanked
	case IssueMethodology:
		return sel.StabilityRanked
	default:
		return sel.DomainDistanceRanked
	}
}

type failureKey struct {
	pattern types.PatternId
	issue   IssueKind
}

// ReviewRound records one CRITIC round for the pipeline's
// review_history (spec.md §4.8); its index is the iteration number.
type ReviewRound struct {
	Iteration int
	PatternID types.PatternId
	Audit     critic.Audit
}

// RefinementEvent records one state-machine transition for the
// pipeline's refinement_history.
type RefinementEvent struct {
	Iteration int
	State     string
	Detail    string
}

// Result is the Refinement Engine's terminal output.
type Result struct {
	FinalStory          *types.Story
	FinalStoryPatternID types.PatternId
	Passed              bool
	// FinalIsBest reports whether FinalStory was emitted via the
	// "otherwise the global best" fallback rather than as the first
	// passing Story (spec.md §4.6): false whenever Passed is true,
	// true whenever the engine exhausted its budget and fell back to
	// BestStory instead.
	FinalIsBest       bool
	BestStory         *types.Story
	BestScore         float64
	BestIteration     int
	Iterations        int
	ReviewHistory     []ReviewRound
	RefinementHistory []RefinementEvent
}

// FusedIdea carries idea-fusion output between the fusion and
// reflection LLM passes and on into story.Generate.
type FusedIdea = story.FusedIdea

// Engine runs the bounded refinement state machine.
type Engine struct {
	cfg    config.RefinementConfig
	kg     kgstore.KGStore
	llm    gateway.LLMGateway
	model  string
	gen    *story.Generator
	critic *critic.Critic
	coach  *coach.Coach
}

func New(cfg config.RefinementConfig, kg kgstore.KGStore, llm gateway.LLMGateway, model string, gen *story.Generator, crit *critic.Critic, coa *coach.Coach) *Engine {
	return &Engine{cfg: cfg, kg: kg, llm: llm, model: model, gen: gen, critic: crit, coach: coa}
}

// Run drives refinement starting from an already-generated Story and
// its source Pattern (the pipeline performs the initial GENERATE; Run
// performs the first CRITIC round and everything after).
func (e *Engine) Run(ctx context.Context, ideaBrief string, sel selector.Result, startStory *types.Story, startPattern *types.Pattern) (Result, error) {
	currentStory := startStory
	currentPattern := startPattern

	audit, err := e.critic.Review(ctx, currentStory, currentPattern)
	if err != nil {
		return Result{}, fmt.Errorf("refine: initial critic round: %w", err)
	}

	failed := map[failureKey]bool{}
	var bestStory *types.Story
	bestScore := math.Inf(-1)
	bestIter := -1
	prevNovelty := math.NaN()
	var reviewHistory []ReviewRound
	var refinementHistory []RefinementEvent

	iteration := 0
	for {
		reviewHistory = append(reviewHistory, ReviewRound{Iteration: iteration, PatternID: currentPattern.PatternID, Audit: audit})

		if avg := averageScore(audit.Roles); bestStory == nil || avg > bestScore {
			bestStory, bestScore, bestIter = currentStory.Clone(), avg, iteration
		}

		if audit.Passed {
			refinementHistory = append(refinementHistory, RefinementEvent{iteration, "DONE", "critic pass"})
			return Result{
				FinalStory: currentStory, FinalStoryPatternID: currentPattern.PatternID, Passed: true,
				FinalIsBest: false,
				BestStory: bestStory, BestScore: bestScore, BestIteration: bestIter,
				Iterations: iteration + 1, ReviewHistory: reviewHistory, RefinementHistory: refinementHistory,
			}, nil
		}

		noveltyScore := roleScore(audit, types.RoleNovelty)
		stagnant := !math.IsNaN(prevNovelty) && (noveltyScore-prevNovelty) <= e.cfg.StagnationDelta
		prevNovelty = noveltyScore

		if iteration >= e.cfg.MaxRefineIterations {
			refinementHistory = append(refinementHistory, RefinementEvent{iteration, "FALLBACK", "max refine iterations exceeded"})
			break
		}

		if stagnant {
			refinementHistory = append(refinementHistory, RefinementEvent{iteration, "NOVELTY_MODE", "novelty improvement stagnated"})
			res, found, err := e.runNoveltyMode(ctx, ideaBrief, sel, currentStory, &bestStory, &bestScore, &bestIter, iteration, &reviewHistory, &refinementHistory)
			if err != nil {
				return Result{}, err
			}
			if found {
				return res, nil
			}
			refinementHistory = append(refinementHistory, RefinementEvent{iteration, "FALLBACK", "novelty mode exhausted"})
			break
		}

		worstRole := worstScoringRole(audit)
		issue := issueKindForRole(worstRole)
		nextPatternID, ok := nextUnfailedPattern(rankingFor(sel, issue), failed, issue)
		if !ok {
			refinementHistory = append(refinementHistory, RefinementEvent{iteration, "FALLBACK", fmt.Sprintf("no unfailed pattern left for issue %s", issue)})
			break
		}
		nextPattern, err := e.kg.PatternByID(ctx, nextPatternID)
		if err != nil {
			return Result{}, fmt.Errorf("refine: load next pattern: %w", err)
		}

		fb, err := e.coach.Evaluate(ctx, currentStory)
		if err != nil {
			return Result{}, fmt.Errorf("refine: coach: %w", err)
		}

		newStory, err := e.gen.Generate(ctx, story.GenerateRequest{
			Pattern:        nextPattern,
			IdeaBrief:      ideaBrief,
			InjectedTricks: nextPattern.CommonTricks,
			PreviousStory:  currentStory,
			ReviewFeedback: reviewFeedbackFrom(audit, fb),
			CoachEdits:     fb.Edits,
			Iteration:      iteration + 1,
		})
		if err != nil {
			return Result{}, fmt.Errorf("refine: generate: %w", err)
		}

		newAudit, err := e.critic.Review(ctx, newStory, nextPattern)
		if err != nil {
			return Result{}, fmt.Errorf("refine: critic: %w", err)
		}

		if degraded(audit.Roles, newAudit.Roles, e.cfg.DegradationThreshold) {
			failed[failureKey{nextPatternID, issue}] = true
			refinementHistory = append(refinementHistory, RefinementEvent{iteration, "ROLLBACK", fmt.Sprintf("pattern %s degraded role scores on issue %s, marked failed", nextPatternID, issue)})
			iteration++
			continue
		}

		refinementHistory = append(refinementHistory, RefinementEvent{iteration, "INJECT", fmt.Sprintf("advanced to pattern %s for issue %s", nextPatternID, issue)})
		currentStory, currentPattern, audit = newStory, nextPattern, newAudit
		iteration++
	}

	return Result{
		FinalStory: bestStory, FinalStoryPatternID: currentPattern.PatternID, Passed: false,
		FinalIsBest: true,
		BestStory: bestStory, BestScore: bestScore, BestIteration: bestIter,
		Iterations: iteration + 1, ReviewHistory: reviewHistory, RefinementHistory: refinementHistory,
	}, nil
}

// runNoveltyMode iterates up to NoveltyModeMaxPatterns patterns from
// the novelty ranking, each attempt running fusion → reflection → C6
// → C7, early-exiting on a critic pass (spec.md §4.6).
func (e *Engine) runNoveltyMode(ctx context.Context, ideaBrief string, sel selector.Result, currentStory *types.Story, bestStory **types.Story, bestScore *float64, bestIter *int, iteration int, reviewHistory *[]ReviewRound, refinementHistory *[]RefinementEvent) (Result, bool, error) {
	attempts := sel.NoveltyRanked
	if len(attempts) > e.cfg.NoveltyModeMaxPatterns {
		attempts = attempts[:e.cfg.NoveltyModeMaxPatterns]
	}

	for _, patternID := range attempts {
		pattern, err := e.kg.PatternByID(ctx, patternID)
		if err != nil {
			return Result{}, false, fmt.Errorf("refine: novelty mode load pattern: %w", err)
		}

		fused, quality, err := e.fuseAndReflect(ctx, currentStory, pattern)
		if err != nil {
			return Result{}, false, fmt.Errorf("refine: fusion: %w", err)
		}
		if quality < e.cfg.FusionQualityThreshold {
			*refinementHistory = append(*refinementHistory, RefinementEvent{iteration, "NOVELTY_MODE", fmt.Sprintf("pattern %s fusion_quality %.2f below threshold, skipped", patternID, quality)})
			continue
		}

		newStory, err := e.gen.Generate(ctx, story.GenerateRequest{
			Pattern:       pattern,
			IdeaBrief:     ideaBrief,
			PreviousStory: currentStory,
			FusedIdea:     fused,
			Iteration:     iteration + 1,
		})
		if err != nil {
			return Result{}, false, fmt.Errorf("refine: novelty mode generate: %w", err)
		}

		newAudit, err := e.critic.Review(ctx, newStory, pattern)
		if err != nil {
			return Result{}, false, fmt.Errorf("refine: novelty mode critic: %w", err)
		}
		*reviewHistory = append(*reviewHistory, ReviewRound{iteration, patternID, newAudit})

		if avg := averageScore(newAudit.Roles); *bestStory == nil || avg > *bestScore {
			*bestStory, *bestScore, *bestIter = newStory.Clone(), avg, iteration
		}

		if newAudit.Passed {
			*refinementHistory = append(*refinementHistory, RefinementEvent{iteration, "DONE", fmt.Sprintf("novelty-mode pattern %s passed", patternID)})
			return Result{
				FinalStory: newStory, FinalStoryPatternID: patternID, Passed: true,
				FinalIsBest: false,
				BestStory: *bestStory, BestScore: *bestScore, BestIteration: *bestIter,
				Iterations: iteration + 1, ReviewHistory: *reviewHistory, RefinementHistory: *refinementHistory,
			}, true, nil
		}
	}

	return Result{}, false, nil
}

// fuseAndReflect runs the two-pass idea-fusion sub-routine (spec.md
// §4.6): an LLM call producing {concept_a, concept_b, fusion_approach,
// fused_idea, expected_benefits}, then a reflection pass scoring its
// fusion_quality.
func (e *Engine) fuseAndReflect(ctx context.Context, currentStory *types.Story, pattern *types.Pattern) (*story.FusedIdea, float64, error) {
	fused, err := e.fuse(ctx, currentStory, pattern)
	if err != nil {
		return nil, 0, err
	}
	quality, err := e.reflect(ctx, currentStory, fused)
	if err != nil {
		return nil, 0, err
	}
	return fused, quality, nil
}

func (e *Engine) fuse(ctx context.Context, currentStory *types.Story, pattern *types.Pattern) (*story.FusedIdea, error) {
	prompt := fmt.Sprintf(`Current story:
title: %s
abstract: %s
method_skeleton: %s

Candidate pattern: %s
Pattern story summary: %s

Propose a concept fusion between the current story's core idea and this pattern. Return ONLY valid JSON in this exact shape:
{"concept_a": "...", "concept_b": "...", "fusion_approach": "...", "fused_idea": "...", "expected_benefits": "..."}`,
		currentStory.Title, currentStory.Abstract, currentStory.MethodSkeleton, pattern.Name, pattern.Summary.Story)

	messages := []gateway.Message{
		{Role: "system", Content: "You are an idea-fusion assistant for a research-paper generator. You combine two concepts into a reframed problem, never simply appending one onto the other."},
		{Role: "user", Content: prompt},
	}

	var lastErr error
	for attempt := 0; attempt <= jsonRetries; attempt++ {
		result, err := e.llm.Chat(ctx, messages, e.model, 0.4, 1024, gateway.ResponseFormatJSON)
		if err != nil {
			return nil, fmt.Errorf("LLM call failed: %w", err)
		}

		var parsed struct {
			ConceptA         string `json:"concept_a"`
			ConceptB         string `json:"concept_b"`
			FusionApproach   string `json:"fusion_approach"`
			FusedIdea        string `json:"fused_idea"`
			ExpectedBenefits string `json:"expected_benefits"`
		}
		if err := json.Unmarshal([]byte(extractJSON(result.Text)), &parsed); err == nil && parsed.ConceptA != "" && parsed.ConceptB != "" {
			return &story.FusedIdea{
				ConceptA:        parsed.ConceptA,
				ConceptB:        parsed.ConceptB,
				FusedCore:       parsed.FusedIdea,
				ReframedProblem: parsed.FusionApproach,
			}, nil
		} else if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("missing concept_a/concept_b")
		}
		messages = append(messages, gateway.Message{Role: "assistant", Content: result.Text}, gateway.Message{
			Role: "user", Content: fmt.Sprintf("That response did not match the required fusion JSON schema: %v. Return corrected JSON only.", lastErr),
		})
	}
	return nil, fmt.Errorf("%w: exhausted %d repair attempts: %v", gateway.ErrInvalidOutput, jsonRetries, lastErr)
}

func (e *Engine) reflect(ctx context.Context, currentStory *types.Story, fused *story.FusedIdea) (float64, error) {
	prompt := fmt.Sprintf(`Evaluate this proposed idea fusion for the story below.

Story abstract: %s

Fusion:
concept A: %s
concept B: %s
fused core: %s
reframed problem: %s

Return ONLY valid JSON in this exact shape:
{"scores": {"concept_unity": 0.0, "technical_soundness": 0.0, "novelty_level": 0.0, "narrative_clarity": 0.0}, "fusion_quality": 0.0, "suggestions": ["..."]}`,
		currentStory.Abstract, fused.ConceptA, fused.ConceptB, fused.FusedCore, fused.ReframedProblem)

	messages := []gateway.Message{
		{Role: "system", Content: "You are a reflection pass judging the quality of a proposed idea fusion, on a 0 to 1 scale."},
		{Role: "user", Content: prompt},
	}

	var lastErr error
	for attempt := 0; attempt <= jsonRetries; attempt++ {
		result, err := e.llm.Chat(ctx, messages, e.model, 0.2, 512, gateway.ResponseFormatJSON)
		if err != nil {
			return 0, fmt.Errorf("LLM call failed: %w", err)
		}

		var parsed struct {
			FusionQuality float64 `json:"fusion_quality"`
		}
		if err := json.Unmarshal([]byte(extractJSON(result.Text)), &parsed); err == nil {
			return clip01(parsed.FusionQuality), nil
		} else {
			lastErr = err
		}
		messages = append(messages, gateway.Message{Role: "assistant", Content: result.Text}, gateway.Message{
			Role: "user", Content: fmt.Sprintf("That response did not match the required reflection JSON schema: %v. Return corrected JSON only.", lastErr),
		})
	}
	return 0, fmt.Errorf("%w: exhausted %d repair attempts: %v", gateway.ErrInvalidOutput, jsonRetries, lastErr)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func averageScore(roles []critic.RoleAudit) float64 {
	if len(roles) == 0 {
		return 0
	}
	var sum float64
	for _, r := range roles {
		sum += r.Score
	}
	return sum / float64(len(roles))
}

func roleScore(audit critic.Audit, role types.Role) float64 {
	for _, r := range audit.Roles {
		if r.Role == role {
			return r.Score
		}
	}
	return 0
}

// worstScoringRole returns the lowest-scoring role, the dimension the
// INJECT step should address (spec.md §4.6 dimension mapping).
func worstScoringRole(audit critic.Audit) types.Role {
	worst := audit.Roles[0]
	for _, r := range audit.Roles[1:] {
		if r.Score < worst.Score {
			worst = r
		}
	}
	return worst.Role
}

// nextUnfailedPattern returns the first pattern in ranking not already
// marked failed for this issue kind.
func nextUnfailedPattern(ranking []types.PatternId, failed map[failureKey]bool, issue IssueKind) (types.PatternId, bool) {
	for _, id := range ranking {
		if !failed[failureKey{id, issue}] {
			return id, true
		}
	}
	return "", false
}

// degraded reports whether any role score in next dropped more than
// threshold below its value in prev (spec.md §4.6 rollback rule).
func degraded(prev, next []critic.RoleAudit, threshold float64) bool {
	prevByRole := make(map[types.Role]float64, len(prev))
	for _, r := range prev {
		prevByRole[r.Role] = r.Score
	}
	for _, r := range next {
		if prevScore, ok := prevByRole[r.Role]; ok && prevScore-r.Score > threshold {
			return true
		}
	}
	return false
}

// reviewFeedbackFrom folds the critic audit's per-role rationales and
// the coach's field feedback into the flat review_feedback list
// story.Generate's refinement-mode prompt consumes.
func reviewFeedbackFrom(audit critic.Audit, fb coach.Feedback) []string {
	var feedback []string
	for _, r := range audit.Roles {
		for _, c := range r.Comparisons {
			if c.Judgement != types.JudgementBetter {
				feedback = append(feedback, fmt.Sprintf("[%s] %s", r.Role, c.Rationale))
			}
		}
	}
	fields := make([]string, 0, len(fb.FieldFeedback))
	for field := range fb.FieldFeedback {
		fields = append(fields, field)
	}
	sort.Strings(fields) // deterministic order: map iteration order is not stable across replays
	for _, field := range fields {
		feedback = append(feedback, fmt.Sprintf("[%s] %s", field, fb.FieldFeedback[field]))
	}
	return feedback
}

// extractJSON strips a leading/trailing markdown code fence if present.
func extractJSON(response string) string {
	jsonStr := response
	if idx := strings.Index(response, "```json"); idx >= 0 {
		start := idx + len("```json")
		if end := strings.Index(response[start:], "```"); end >= 0 {
			jsonStr = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx >= 0 {
		start := idx + len("```")
		if end := strings.Index(response[start:], "```"); end >= 0 {
			jsonStr = response[start : start+end]
		}
	}
	return strings.TrimSpace(jsonStr)
}
