// Package story implements the Story Generator (C6): prompts an LLM to
// produce a strict-JSON Story, in either initial-generation or
// refinement mode, repairing malformed JSON up to JSONRetries times
// before raising gateway.ErrInvalidOutput for the caller to roll back.
// Grounded on internal/modes/llm_anthropic.go's request/response
// envelope and prompt-construction shape, generalized from its
// Graph-of-Thoughts continuations to the Story schema, and on
// internal/reasoning/decomposition_llm.go's JSON-repair loop.
package story

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"idea2paper/internal/config"
	"idea2paper/internal/gateway"
	"idea2paper/internal/types"
)

// CoachEdit is one field-level suggestion from the Coach (C8), fed back
// into a refinement-mode prompt.
type CoachEdit struct {
	Field      string
	Suggestion string
	Priority   string // "high" | "medium" | "low"
}

// FusedIdea carries the idea-fusion guidance the Refinement Engine
// (C9) produces when stagnation triggers novelty-mode (spec.md §4.7).
type FusedIdea struct {
	ConceptA        string
	ConceptB        string
	FusedCore       string
	ReframedProblem string
}

// GenerateRequest is the Story Generator's single operation input
// (spec.md §4.3): `generate(pattern_id, pattern_info, constraints?,
// injected_tricks?, previous_story?, review_feedback?, fused_idea?,
// reflection_guidance?) → Story`. Mode is initial when PreviousStory is
// nil, refinement otherwise.
type GenerateRequest struct {
	Pattern             *types.Pattern
	IdeaBrief           string
	Constraints         []string
	InjectedTricks      []string
	PreviousStory       *types.Story
	ReviewFeedback      []string
	CoachEdits          []CoachEdit
	FusedIdea           *FusedIdea
	ReflectionGuidance  []string
	Iteration           int
}

// Generator produces Stories from Patterns via an LLMGateway.
type Generator struct {
	cfg   config.StoryConfig
	llm   gateway.LLMGateway
	model string
}

func New(cfg config.StoryConfig, llm gateway.LLMGateway, model string) *Generator {
	return &Generator{cfg: cfg, llm: llm, model: model}
}

// Generate runs one generation round. On final JSON failure it returns
// an error wrapping gateway.ErrInvalidOutput, per spec.md §4.3 ("final
// failure raises InvalidOutput and the caller rolls back").
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*types.Story, error) {
	messages := []gateway.Message{
		{Role: "system", Content: systemPrompt(req.PreviousStory != nil)},
		{Role: "user", Content: buildPrompt(g.cfg, req)},
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.JSONRetries; attempt++ {
		result, err := g.llm.Chat(ctx, messages, g.model, g.cfg.Temperature, 4096, gateway.ResponseFormatJSON)
		if err != nil {
			return nil, fmt.Errorf("story: LLM call failed: %w", err)
		}

		st, perr := parseStory(result.Text)
		if perr == nil {
			st.SourcePatternID = req.Pattern.PatternID
			st.CreatedAtIteration = req.Iteration
			return st, nil
		}
		lastErr = perr
		messages = append(messages, gateway.Message{Role: "assistant", Content: result.Text}, gateway.Message{
			Role:    "user",
			Content: fmt.Sprintf("That response did not match the required Story JSON schema: %v. Return corrected JSON only, no commentary.", perr),
		})
	}

	return nil, fmt.Errorf("story: %w: exhausted %d repair attempts: %v", gateway.ErrInvalidOutput, g.cfg.JSONRetries, lastErr)
}

func systemPrompt(refinement bool) string {
	if !refinement {
		return `You are a research-paper story generator. Given a research pattern and a user idea, produce a structured story skeleton. Return ONLY valid JSON, no commentary, matching the schema you are given.`
	}
	return `You are a research-paper story generator operating in refinement mode. You are given the previous story and specific field-level feedback. Revise the story to address the feedback through genuine concept co-evolution — rework the framing and method together — rather than appending new claims on top of the old ones unchanged. Return ONLY valid JSON, no commentary, matching the schema you are given.`
}

func buildPrompt(cfg config.StoryConfig, req GenerateRequest) string {
	var sb strings.Builder
	p := req.Pattern

	sb.WriteString(fmt.Sprintf("Pattern: %s (domain: %s)\n", p.Name, p.Domain))
	if p.Summary.Story != "" {
		sb.WriteString("Pattern story summary: " + p.Summary.Story + "\n")
	}
	if len(p.Summary.CommonProblems) > 0 {
		sb.WriteString("Common problems in this pattern: " + strings.Join(p.Summary.CommonProblems, "; ") + "\n")
	}
	if len(p.Summary.SolutionApproaches) > 0 {
		sb.WriteString("Typical solution approaches: " + strings.Join(p.Summary.SolutionApproaches, "; ") + "\n")
	}
	if p.HasSkeletonExamples() {
		examples := p.SkeletonExamples
		if len(examples) > cfg.MaxSkeletonExamples {
			examples = examples[:cfg.MaxSkeletonExamples]
		}
		sb.WriteString("Skeleton examples:\n")
		for _, ex := range examples {
			sb.WriteString("- " + ex + "\n")
		}
	}
	if p.HasCommonTricks() && len(req.InjectedTricks) == 0 {
		sb.WriteString("Common tricks: " + strings.Join(p.CommonTricks, "; ") + "\n")
	}
	if len(req.InjectedTricks) > 0 {
		sb.WriteString("Tricks to incorporate this round: " + strings.Join(req.InjectedTricks, "; ") + "\n")
	}
	if req.IdeaBrief != "" {
		sb.WriteString("User idea brief: " + req.IdeaBrief + "\n")
	}
	if len(req.Constraints) > 0 {
		sb.WriteString("Constraints: " + strings.Join(req.Constraints, "; ") + "\n")
	}

	if req.PreviousStory != nil {
		sb.WriteString("\nPrevious story:\n")
		sb.WriteString(fmt.Sprintf("title: %s\nabstract: %s\nproblem_framing: %s\ngap_pattern: %s\nmethod_skeleton: %s\ninnovation_claims: %s\nexperiments_plan: %s\n",
			req.PreviousStory.Title, req.PreviousStory.Abstract, req.PreviousStory.ProblemFraming,
			req.PreviousStory.GapPattern, req.PreviousStory.MethodSkeleton,
			strings.Join(req.PreviousStory.InnovationClaims, "; "), req.PreviousStory.ExperimentsPlan))
	}
	if len(req.ReviewFeedback) > 0 {
		sb.WriteString("\nReview feedback:\n")
		for _, f := range req.ReviewFeedback {
			sb.WriteString("- " + f + "\n")
		}
	}
	if len(req.CoachEdits) > 0 {
		sb.WriteString("\nCoach field-level edits:\n")
		for _, e := range req.CoachEdits {
			sb.WriteString(fmt.Sprintf("- [%s priority] %s: %s\n", e.Priority, e.Field, e.Suggestion))
		}
	}
	if req.FusedIdea != nil {
		fi := req.FusedIdea
		sb.WriteString("\nFused-idea guidance (show concept co-evolution, do not stack):\n")
		sb.WriteString(fmt.Sprintf("concept A: %s\nconcept B: %s\nfused core: %s\nreframed problem: %s\n", fi.ConceptA, fi.ConceptB, fi.FusedCore, fi.ReframedProblem))
	}
	if len(req.ReflectionGuidance) > 0 {
		sb.WriteString("\nReflection guidance:\n")
		for _, r := range req.ReflectionGuidance {
			sb.WriteString("- " + r + "\n")
		}
	}

	sb.WriteString("\nReturn ONLY valid JSON in this exact shape:\n")
	sb.WriteString(`{"title": "...", "abstract": "...", "problem_framing": "...", "gap_pattern": "...", "method_skeleton": "...", "innovation_claims": ["..."], "experiments_plan": "..."}`)
	return sb.String()
}

func parseStory(text string) (*types.Story, error) {
	jsonStr := extractJSON(text)

	var parsed struct {
		Title            string   `json:"title"`
		Abstract         string   `json:"abstract"`
		ProblemFraming   string   `json:"problem_framing"`
		GapPattern       string   `json:"gap_pattern"`
		MethodSkeleton   string   `json:"method_skeleton"`
		InnovationClaims []string `json:"innovation_claims"`
		ExperimentsPlan  string   `json:"experiments_plan"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	b := types.NewStory().
		Title(parsed.Title).
		Abstract(parsed.Abstract).
		ProblemFraming(parsed.ProblemFraming).
		GapPattern(parsed.GapPattern).
		MethodSkeleton(parsed.MethodSkeleton).
		InnovationClaims(parsed.InnovationClaims).
		ExperimentsPlan(parsed.ExperimentsPlan)

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b.Build(), nil
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
