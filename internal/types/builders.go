package types

import (
	"fmt"
	"strings"
)

// StoryBuilder provides a fluent API for Story construction, mirroring
// the engine's own incremental assembly of a generated Story from an
// LLM's structured JSON output.
type StoryBuilder struct {
	story *Story
}

// NewStory creates a new StoryBuilder with sensible defaults.
func NewStory() *StoryBuilder {
	return &StoryBuilder{story: &Story{InnovationClaims: []string{}}}
}

func (b *StoryBuilder) Title(v string) *StoryBuilder          { b.story.Title = v; return b }
func (b *StoryBuilder) Abstract(v string) *StoryBuilder       { b.story.Abstract = v; return b }
func (b *StoryBuilder) ProblemFraming(v string) *StoryBuilder { b.story.ProblemFraming = v; return b }
func (b *StoryBuilder) GapPattern(v string) *StoryBuilder     { b.story.GapPattern = v; return b }
func (b *StoryBuilder) MethodSkeleton(v string) *StoryBuilder { b.story.MethodSkeleton = v; return b }
func (b *StoryBuilder) ExperimentsPlan(v string) *StoryBuilder {
	b.story.ExperimentsPlan = v
	return b
}

// InnovationClaims sets the full claim list.
func (b *StoryBuilder) InnovationClaims(claims []string) *StoryBuilder {
	b.story.InnovationClaims = claims
	return b
}

// FromPattern tags the bookkeeping fields that never leave the program.
func (b *StoryBuilder) FromPattern(id PatternId, iteration int) *StoryBuilder {
	b.story.SourcePatternID = id
	b.story.CreatedAtIteration = iteration
	return b
}

// Build returns the constructed Story.
func (b *StoryBuilder) Build() *Story { return b.story }

// Validate ensures the Story has the minimum fields a generator output
// must carry before it is handed to the critic.
func (b *StoryBuilder) Validate() error {
	s := b.story
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("story title cannot be empty")
	}
	if strings.TrimSpace(s.Abstract) == "" {
		return fmt.Errorf("story abstract cannot be empty")
	}
	if strings.TrimSpace(s.MethodSkeleton) == "" {
		return fmt.Errorf("story method_skeleton cannot be empty")
	}
	if len(s.InnovationClaims) == 0 {
		return fmt.Errorf("story must carry at least one innovation claim")
	}
	return nil
}

// truncate cuts s to at most n runes, appending no ellipsis — BlindCard
// fields are hard length caps, not UI-facing summaries.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// NewBlindCardFromStory builds the anonymized card an LLM critic sees
// for the Story under review. Hard-truncates each field to its cap;
// never carries any field not in the BlindCard struct.
func NewBlindCardFromStory(s *Story, cardVersion string) BlindCard {
	return BlindCard{
		Problem:     truncate(s.ProblemFraming, BlindCardProblemMaxLen),
		Method:      truncate(s.MethodSkeleton, BlindCardMethodMaxLen),
		Contrib:     truncate(strings.Join(s.InnovationClaims, "; "), BlindCardContribMaxLen),
		CardVersion: cardVersion,
	}
}

// NewBlindCardFromAnchor builds the anonymized card for a real anchor
// paper. Problem/method/contrib are supplied by the caller (derived
// from the paper's pattern-cluster summary, never the paper's own
// title) — this constructor only enforces the length caps and version
// stamp, so it is safe to call repeatedly: NewBlindCardFromAnchor is
// idempotent, i.e. re-truncating an already-capped field is a no-op.
func NewBlindCardFromAnchor(problem, method, contrib, cardVersion string) BlindCard {
	return BlindCard{
		Problem:     truncate(problem, BlindCardProblemMaxLen),
		Method:      truncate(method, BlindCardMethodMaxLen),
		Contrib:     truncate(contrib, BlindCardContribMaxLen),
		CardVersion: cardVersion,
	}
}
