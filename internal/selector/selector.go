// Package selector implements the Pattern Selector (C5): an LLM-scored
// three-dimensional classification of recalled Patterns (stability,
// novelty, domain_distance), with a deterministic rule-based fallback
// when the LLM call or its JSON output cannot be trusted. Grounded on
// internal/reasoning/problem_classifier.go's classify-with-confidence
// shape (generalized here from rule-only to LLM-primary/rule-fallback)
// and internal/reasoning/decomposition_llm.go's JSON-from-markdown
// extraction for parsing the scoring response.
package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"idea2paper/internal/config"
	"idea2paper/internal/gateway"
	"idea2paper/internal/kgstore"
	"idea2paper/internal/recall"
	"idea2paper/internal/types"
)

// jsonRetries bounds repair attempts on a malformed scoring response,
// mirroring StoryConfig/CriticConfig's JSON discipline even though the
// selector has no dedicated config knob for it (spec.md §6 lists
// JSON_RETRIES only under the critic's surface).
const jsonRetries = 2

// maxClusterSizeForStability is the normalizer in the fallback rule
// (spec.md §4.2): stability_score = clip(cluster_size/50, 0, 1).
const maxClusterSizeForStability = 50

// Score holds the three per-Pattern dimensions produced by Select.
type Score struct {
	PatternID      types.PatternId
	Stability      float64
	Novelty        float64
	DomainDistance float64
}

// Result is the Pattern Selector's output: per-Pattern scores plus the
// three rankings named in spec.md §4.2.
type Result struct {
	Scores               []Score
	StabilityRanked      []types.PatternId // descending: most stable first
	NoveltyRanked        []types.PatternId // descending: most novel first
	DomainDistanceRanked []types.PatternId // ascending: closest to user idea first
	UsedFallback         bool
	FallbackReason       string
}

// Selector scores recalled Patterns via an LLM, falling back to a rule
// when the call or its output cannot be trusted.
type Selector struct {
	cfg   config.SelectorConfig
	kg    kgstore.KGStore
	llm   gateway.LLMGateway
	model string
}

func New(cfg config.SelectorConfig, kg kgstore.KGStore, llm gateway.LLMGateway, model string) *Selector {
	return &Selector{cfg: cfg, kg: kg, llm: llm, model: model}
}

// Select scores the top PatternSelectTopN recalled Patterns (spec.md
// §4.2). recalled must already be ranked by the Recall Engine; only
// the prefix is considered.
func (s *Selector) Select(ctx context.Context, recalled []recall.Result, userIdea string, ideaBrief string) (Result, error) {
	topN := recalled
	if len(topN) > s.cfg.PatternSelectTopN {
		topN = topN[:s.cfg.PatternSelectTopN]
	}
	if len(topN) == 0 {
		return Result{}, nil
	}

	patterns := make([]*types.Pattern, 0, len(topN))
	for _, r := range topN {
		p, err := s.kg.PatternByID(ctx, r.PatternID)
		if err != nil {
			return Result{}, fmt.Errorf("selector: loading pattern %s: %w", r.PatternID, err)
		}
		patterns = append(patterns, p)
	}

	scores, err := s.scoreViaLLM(ctx, patterns, userIdea, ideaBrief)
	result := Result{}
	if err != nil {
		scores = s.scoreViaRule(patterns)
		result.UsedFallback = true
		result.FallbackReason = err.Error()
	}
	result.Scores = scores
	result.StabilityRanked = rank(scores, func(a, b Score) bool { return a.Stability > b.Stability })
	result.NoveltyRanked = rank(scores, func(a, b Score) bool { return a.Novelty > b.Novelty })
	result.DomainDistanceRanked = rank(scores, func(a, b Score) bool { return a.DomainDistance < b.DomainDistance })
	return result, nil
}

// scoreViaRule implements spec.md §4.2's fallback:
// stability_score = clip(cluster_size/50, 0, 1), novelty = 1-stability,
// domain_distance = 0.5.
func (s *Selector) scoreViaRule(patterns []*types.Pattern) []Score {
	scores := make([]Score, len(patterns))
	for i, p := range patterns {
		stability := float64(p.ClusterSize) / maxClusterSizeForStability
		if stability > 1 {
			stability = 1
		}
		if stability < 0 {
			stability = 0
		}
		scores[i] = Score{
			PatternID:      p.PatternID,
			Stability:      stability,
			Novelty:        1 - stability,
			DomainDistance: 0.5,
		}
	}
	return scores
}

func rank(scores []Score, less func(a, b Score) bool) []types.PatternId {
	ordered := make([]Score, len(scores))
	copy(ordered, scores)
	sort.SliceStable(ordered, func(i, j int) bool { return less(ordered[i], ordered[j]) })
	out := make([]types.PatternId, len(ordered))
	for i, sc := range ordered {
		out[i] = sc.PatternID
	}
	return out
}

func (s *Selector) scoreViaLLM(ctx context.Context, patterns []*types.Pattern, userIdea string, ideaBrief string) ([]Score, error) {
	prompt := buildScorePrompt(patterns, userIdea, ideaBrief)
	messages := []gateway.Message{
		{Role: "system", Content: "You are a research-pattern evaluator. Return only valid JSON, no commentary."},
		{Role: "user", Content: prompt},
	}

	var lastErr error
	for attempt := 0; attempt <= jsonRetries; attempt++ {
		result, err := s.llm.Chat(ctx, messages, s.model, 0.0, 2048, gateway.ResponseFormatJSON)
		if err != nil {
			return nil, fmt.Errorf("selector: LLM call failed: %w", err)
		}
		scores, perr := parseScoreResponse(result.Text, patterns)
		if perr == nil {
			return scores, nil
		}
		lastErr = perr
		messages = append(messages, gateway.Message{Role: "assistant", Content: result.Text}, gateway.Message{
			Role:    "user",
			Content: fmt.Sprintf("That was not valid JSON matching the required schema: %v. Return corrected JSON only.", perr),
		})
	}
	return nil, fmt.Errorf("selector: giving up after %d JSON repair attempts: %w", jsonRetries, lastErr)
}

func buildScorePrompt(patterns []*types.Pattern, userIdea string, ideaBrief string) string {
	var sb strings.Builder
	sb.WriteString("User research idea:\n")
	sb.WriteString(userIdea)
	sb.WriteString("\n\n")
	if ideaBrief != "" {
		sb.WriteString("Idea brief:\n")
		sb.WriteString(ideaBrief)
		sb.WriteString("\n\n")
	}
	sb.WriteString("For each pattern below, score three dimensions in [0,1]:\n")
	sb.WriteString("- stability: how well-established and reliably executable this pattern is\n")
	sb.WriteString("- novelty: how fresh/unexplored this pattern would feel applied to the user idea\n")
	sb.WriteString("- domain_distance: how far this pattern's home domain is from the user idea's domain (0 = same domain, 1 = unrelated)\n\n")
	sb.WriteString("Patterns:\n")
	for _, p := range patterns {
		sb.WriteString(fmt.Sprintf("- id: %s | name: %s | domain: %s | summary: %s\n", p.PatternID, p.Name, p.Domain, p.Summary.Story))
	}
	sb.WriteString("\nReturn ONLY valid JSON in this exact shape:\n")
	sb.WriteString(`{"scores": [{"pattern_id": "...", "stability": 0.0, "novelty": 0.0, "domain_distance": 0.0}]}`)
	return sb.String()
}

func parseScoreResponse(text string, patterns []*types.Pattern) ([]Score, error) {
	jsonStr := extractJSON(text)

	var parsed struct {
		Scores []struct {
			PatternID      string  `json:"pattern_id"`
			Stability      float64 `json:"stability"`
			Novelty        float64 `json:"novelty"`
			DomainDistance float64 `json:"domain_distance"`
		} `json:"scores"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	byID := make(map[types.PatternId]struct {
		stability, novelty, domainDistance float64
	}, len(parsed.Scores))
	for _, sc := range parsed.Scores {
		byID[types.PatternId(sc.PatternID)] = struct {
			stability, novelty, domainDistance float64
		}{clip01(sc.Stability), clip01(sc.Novelty), clip01(sc.DomainDistance)}
	}

	scores := make([]Score, len(patterns))
	for i, p := range patterns {
		v, ok := byID[p.PatternID]
		if !ok {
			return nil, fmt.Errorf("missing score for pattern %s in LLM response", p.PatternID)
		}
		scores[i] = Score{PatternID: p.PatternID, Stability: v.stability, Novelty: v.novelty, DomainDistance: v.domainDistance}
	}
	return scores, nil
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

// extractJSON strips a leading/trailing markdown code fence if present,
// the same shape as decomposition_llm.go's parseDecompositionFromLLM.
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
