// Package coach implements the Coach (C8): a single, non-scoring LLM
// call that returns field-level revision feedback for a Story after
// critic scoring, without altering any score (spec.md §4.5). Grounded
// on internal/modes/llm_anthropic.go's single-operation Score-call
// shape and internal/reasoning/decomposition_llm.go's JSON-repair loop,
// the same pattern internal/selector and internal/story already use.
package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"idea2paper/internal/config"
	"idea2paper/internal/gateway"
	"idea2paper/internal/story"
	"idea2paper/internal/types"
)

// storyFields lists the six Story fields the Coach may comment on, in
// the fixed order spec.md §4.5 names them.
var storyFields = []string{"title", "abstract", "problem_framing", "method_skeleton", "innovation_claims", "experiments_plan"}

// Feedback is the Coach's single operation output (spec.md §4.5):
// per-field commentary, a list of suggested edits, and a priority
// ordering over fields. Carries no score of its own.
type Feedback struct {
	FieldFeedback map[string]string
	Edits         []story.CoachEdit
	Priority      []string
}

// Coach produces field-level edit suggestions via an LLMGateway.
type Coach struct {
	cfg   config.CoachConfig
	llm   gateway.LLMGateway
	model string
}

func New(cfg config.CoachConfig, llm gateway.LLMGateway, model string) *Coach {
	return &Coach{cfg: cfg, llm: llm, model: model}
}

// Evaluate runs one coaching round over a Story, returning field
// feedback and prioritized suggested edits.
func (c *Coach) Evaluate(ctx context.Context, s *types.Story) (Feedback, error) {
	messages := []gateway.Message{
		{Role: "system", Content: "You are a writing coach for a research-paper story skeleton. You give concrete, field-level revision suggestions. You never assign or discuss a score, rating, or accept/reject decision — scoring is handled elsewhere."},
		{Role: "user", Content: buildPrompt(s)},
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.JSONRetries; attempt++ {
		result, err := c.llm.Chat(ctx, messages, c.model, c.cfg.Temperature, 2048, gateway.ResponseFormatJSON)
		if err != nil {
			return Feedback{}, fmt.Errorf("coach: LLM call failed: %w", err)
		}

		fb, perr := parseFeedback(result.Text)
		if perr == nil {
			return fb, nil
		}
		lastErr = perr
		messages = append(messages, gateway.Message{Role: "assistant", Content: result.Text}, gateway.Message{
			Role:    "user",
			Content: fmt.Sprintf("That response did not match the required feedback JSON schema: %v. Return corrected JSON only, no commentary.", perr),
		})
	}

	return Feedback{}, fmt.Errorf("coach: %w: exhausted %d repair attempts: %v", gateway.ErrInvalidOutput, c.cfg.JSONRetries, lastErr)
}

func buildPrompt(s *types.Story) string {
	var sb strings.Builder
	sb.WriteString("Story to coach:\n")
	sb.WriteString(fmt.Sprintf("title: %s\nabstract: %s\nproblem_framing: %s\nmethod_skeleton: %s\ninnovation_claims: %s\nexperiments_plan: %s\n",
		s.Title, s.Abstract, s.ProblemFraming, s.MethodSkeleton, strings.Join(s.InnovationClaims, "; "), s.ExperimentsPlan))
	sb.WriteString("\nReturn ONLY valid JSON in this exact shape:\n")
	sb.WriteString(`{"field_feedback": {"title": "...", "abstract": "...", "problem_framing": "...", "method_skeleton": "...", "innovation_claims": "...", "experiments_plan": "..."}, "suggested_edits": [{"field": "...", "action": "...", "content": "..."}], "priority": ["field in most-to-least important order"]}`)
	return sb.String()
}

func parseFeedback(text string) (Feedback, error) {
	jsonStr := extractJSON(text)

	var parsed struct {
		FieldFeedback map[string]string `json:"field_feedback"`
		SuggestedEdits []struct {
			Field   string `json:"field"`
			Action  string `json:"action"`
			Content string `json:"content"`
		} `json:"suggested_edits"`
		Priority []string `json:"priority"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return Feedback{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(parsed.FieldFeedback) == 0 {
		return Feedback{}, fmt.Errorf("field_feedback is empty")
	}
	for field := range parsed.FieldFeedback {
		if !isStoryField(field) {
			return Feedback{}, fmt.Errorf("field_feedback names unknown field %q", field)
		}
	}

	rank := make(map[string]int, len(parsed.Priority))
	for i, field := range parsed.Priority {
		rank[field] = i
	}

	edits := make([]story.CoachEdit, 0, len(parsed.SuggestedEdits))
	for _, e := range parsed.SuggestedEdits {
		edits = append(edits, story.CoachEdit{
			Field:      e.Field,
			Suggestion: fmt.Sprintf("[%s] %s", e.Action, e.Content),
			Priority:   priorityFor(rank, len(parsed.Priority), e.Field),
		})
	}

	return Feedback{
		FieldFeedback: parsed.FieldFeedback,
		Edits:          edits,
		Priority:       parsed.Priority,
	}, nil
}

// priorityFor buckets a field's rank within the priority ordering into
// high/medium/low thirds; a field absent from the ordering is low.
func priorityFor(rank map[string]int, total int, field string) string {
	r, ok := rank[field]
	if !ok || total == 0 {
		return "low"
	}
	switch {
	case r < (total+2)/3:
		return "high"
	case r < 2*((total+2)/3):
		return "medium"
	default:
		return "low"
	}
}

func isStoryField(field string) bool {
	for _, f := range storyFields {
		if f == field {
			return true
		}
	}
	return false
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
