// Package novelty implements the Novelty Checker / Verifier (C10):
// on a critic pass, scans method keywords from the Story against a
// recent-conference novelty corpus in the Vector Index, and on
// collision either reports, constructs a pivot constraint for the next
// GENERATE round, or fails the run, per the configured policy
// (spec.md §4.7). Grounded on internal/knowledge/vector_store.go's
// SearchSimilarWithThreshold (collection-scoped similarity scan against
// a configurable threshold), generalized from the teacher's single
// implicit collection to the engine's named "novelty" collection, and
// on internal/selector's JSON-repair-loop texture for the one LLM call
// the pivot-construction sub-routine makes.
package novelty

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"idea2paper/internal/config"
	"idea2paper/internal/engineerr"
	"idea2paper/internal/gateway"
	"idea2paper/internal/types"
	"idea2paper/internal/vectorindex"
)

// jsonRetries bounds repair attempts on the pivot-construction LLM
// call, mirroring internal/selector's local constant since spec.md §6
// names no dedicated knob for it.
const jsonRetries = 2

// Pivot is the constraint re-injected into the next GENERATE round
// after a detected collision under the "pivot" policy (spec.md §4.7).
type Pivot struct {
	ForbiddenTechniques []string
	PivotDirection      string
	DomainShift         string
}

// Result is the Novelty Checker's single-operation output.
type Result struct {
	Collision      bool
	MaxSimilarity  float64
	MatchedID      string
	MatchedTitle   string
	Pivot          *Pivot
}

// Checker scans a Story's method content against the novelty corpus.
type Checker struct {
	cfg   config.NoveltyConfig
	index vectorindex.VectorIndex
	embed gateway.EmbeddingGateway
	llm   gateway.LLMGateway
	model string
}

func New(cfg config.NoveltyConfig, index vectorindex.VectorIndex, embed gateway.EmbeddingGateway, llm gateway.LLMGateway, model string) *Checker {
	return &Checker{cfg: cfg, index: index, embed: embed, llm: llm, model: model}
}

// Check embeds the Story's title, abstract and method skeleton, searches the novelty
// corpus, and applies the configured collision policy. When disabled
// via NoveltyConfig.Enable, Check is a no-op that always reports no
// collision (spec.md §6's NOVELTY_ENABLE).
func (c *Checker) Check(ctx context.Context, story *types.Story) (Result, error) {
	if !c.cfg.Enable {
		return Result{}, nil
	}

	query := story.Title + " " + story.Abstract + " " + story.MethodSkeleton
	vecs, err := c.embed.Embed(ctx, []string{query}, c.model)
	if err != nil {
		return Result{}, fmt.Errorf("novelty: embedding story: %w", err)
	}
	if len(vecs) == 0 {
		return Result{}, fmt.Errorf("novelty: embedding gateway returned no vectors")
	}

	hits, err := c.index.Search(ctx, vectorindex.CollectionNovelty, vecs[0], c.cfg.TopK)
	if err != nil {
		return Result{}, fmt.Errorf("novelty: searching novelty corpus: %w", err)
	}
	if len(hits) == 0 {
		return Result{}, nil
	}

	best := hits[0]
	for _, h := range hits[1:] {
		if h.Similarity > best.Similarity {
			best = h
		}
	}
	if best.Similarity <= c.cfg.CollisionThreshold {
		return Result{MaxSimilarity: best.Similarity}, nil
	}

	result := Result{
		Collision:     true,
		MaxSimilarity: best.Similarity,
		MatchedID:     best.ID,
		MatchedTitle:  best.Metadata["title"],
	}

	switch c.cfg.Action {
	case config.NoveltyReportOnly:
		return result, nil
	case config.NoveltyFail:
		return result, engineerr.NewStepFailed("novelty", &engineerr.CollisionDetected{MaxSimilarity: best.Similarity, PaperID: best.ID})
	case config.NoveltyPivot:
		pivot, err := c.buildPivot(ctx, story, best)
		if err != nil {
			return result, fmt.Errorf("novelty: building pivot: %w", err)
		}
		result.Pivot = pivot
		return result, nil
	default:
		return result, engineerr.NewConfigError(fmt.Sprintf("unknown NOVELTY_ACTION %q", c.cfg.Action))
	}
}

// buildPivot asks the LLM for a forbidden-technique list and a pivot
// direction given the Story and the matched collision item's metadata
// (never the full Story — only the method-relevant fields the caller
// needs to avoid repeating).
func (c *Checker) buildPivot(ctx context.Context, story *types.Story, hit vectorindex.SearchResult) (*Pivot, error) {
	prompt := fmt.Sprintf(`A proposed research story collided with prior work (similarity %.2f).

Story method: %s
Story abstract: %s

Colliding prior work title/summary: %s

Propose a pivot that meaningfully differentiates the story from this prior work. Return ONLY valid JSON in this exact shape:
{"forbidden_techniques": ["..."], "pivot_direction": "...", "domain_shift": "..."}`,
		hit.Similarity, story.MethodSkeleton, story.Abstract, hit.Metadata["title"])

	messages := []gateway.Message{
		{Role: "system", Content: "You are a research-pivot assistant. You identify what to avoid repeating and suggest a concrete differentiating direction."},
		{Role: "user", Content: prompt},
	}

	var lastErr error
	for attempt := 0; attempt <= jsonRetries; attempt++ {
		result, err := c.llm.Chat(ctx, messages, c.model, 0.3, 1024, gateway.ResponseFormatJSON)
		if err != nil {
			return nil, fmt.Errorf("LLM call failed: %w", err)
		}

		var parsed struct {
			ForbiddenTechniques []string `json:"forbidden_techniques"`
			PivotDirection      string   `json:"pivot_direction"`
			DomainShift         string   `json:"domain_shift"`
		}
		if err := json.Unmarshal([]byte(extractJSON(result.Text)), &parsed); err == nil && parsed.PivotDirection != "" {
			return &Pivot{
				ForbiddenTechniques: parsed.ForbiddenTechniques,
				PivotDirection:      parsed.PivotDirection,
				DomainShift:         parsed.DomainShift,
			}, nil
		} else if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("missing pivot_direction")
		}
		messages = append(messages, gateway.Message{Role: "assistant", Content: result.Text}, gateway.Message{
			Role: "user", Content: fmt.Sprintf("That response did not match the required pivot JSON schema: %v. Return corrected JSON only.", lastErr),
		})
	}
	return nil, fmt.Errorf("%w: exhausted %d repair attempts: %v", gateway.ErrInvalidOutput, jsonRetries, lastErr)
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
