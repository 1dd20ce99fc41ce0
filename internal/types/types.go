// Package types defines the core data structures shared across the
// Idea2Paper generation engine: the knowledge-graph entities read from
// the KG store, and the generated Story artifacts produced by the
// pipeline. These types are immutable at run time once loaded (KG
// entities) or are mutated only by their owning component (Story, by
// the Story Generator).
package types

import "time"

// PatternId, DomainId, PaperId, IdeaId are interned string aliases for
// knowledge-graph node identifiers.
type (
	PatternId string
	DomainId  string
	PaperId   string
	IdeaId    string
)

// Idea is a prior research idea recorded in the knowledge graph at KG
// build time. Immutable at run time.
type Idea struct {
	IdeaID      IdeaId      `json:"idea_id"`
	Description string      `json:"description"`
	PatternIDs  []PatternId `json:"pattern_ids"`
}

// PatternSummary holds the LLM-enhanced cluster summary attached to a
// Pattern at KG-build time (out of scope for this engine to produce).
type PatternSummary struct {
	RepresentativeIdeas []string `json:"representative_ideas"`
	CommonProblems      []string `json:"common_problems"`
	SolutionApproaches  []string `json:"solution_approaches"`
	Story               string   `json:"story"`
}

// Pattern is a cluster summary of prior papers representing a
// research-trope template. Immutable at run time; the Recall Engine
// returns references to Patterns, never copies that mutate shared state.
type Pattern struct {
	PatternID   PatternId      `json:"pattern_id"`
	Name        string         `json:"name"`
	ClusterSize int            `json:"cluster_size"`
	Domain      DomainId       `json:"domain"`
	SubDomains  []string       `json:"sub_domains"`
	Summary     PatternSummary `json:"summary"`

	// SkeletonExamples and CommonTricks are optional enrichments which
	// may or may not be present for a given Pattern. Modeled as
	// explicit nilable slices rather than a dynamic record shape, per
	// the source re-architecture note: nil means "absent", non-nil
	// (possibly empty) means "present, tagged source=structured".
	SkeletonExamples []string `json:"skeleton_examples,omitempty"`
	CommonTricks     []string `json:"common_tricks,omitempty"`
}

// HasSkeletonExamples reports whether enrichment data was attached to
// this Pattern at KG-build time.
func (p *Pattern) HasSkeletonExamples() bool { return p.SkeletonExamples != nil }

// HasCommonTricks reports whether enrichment data was attached to this
// Pattern at KG-build time.
func (p *Pattern) HasCommonTricks() bool { return p.CommonTricks != nil }

// Domain groups Patterns and Papers by research area.
type Domain struct {
	DomainID   DomainId `json:"domain_id"`
	Name       string   `json:"name"`
	SubDomains []string `json:"sub_domains"`
	PaperCount int      `json:"paper_count"`
}

// ReviewStats is the sole ground-truth signal for anchor scoring. A nil
// *ReviewStats on a Paper means the paper carries no review record and
// must be excluded from (or fall back for) anchor selection.
type ReviewStats struct {
	AvgScore10   float64 `json:"avg_score10"` // in [1,10]
	ReviewCount  int     `json:"review_count"`
	Dispersion10 float64 `json:"dispersion10"`
}

// Paper is a real prior publication. PatternID is optional: a paper may
// not have been assigned to any cluster.
type Paper struct {
	PaperID     PaperId      `json:"paper_id"`
	Title       string       `json:"title"`
	PatternID   *PatternId   `json:"pattern_id,omitempty"`
	DomainID    DomainId     `json:"domain_id"`
	ReviewStats *ReviewStats `json:"review_stats,omitempty"`
}

// HasReviewStats reports whether this paper carries a ground-truth
// review signal usable for anchor scoring.
func (p *Paper) HasReviewStats() bool { return p.ReviewStats != nil }

// EdgeRelation names a typed KG edge.
type EdgeRelation string

const (
	RelUsesPattern  EdgeRelation = "uses_pattern"   // Paper -> Pattern
	RelWorksWellIn  EdgeRelation = "works_well_in"  // Pattern -> Domain
	RelBelongsTo    EdgeRelation = "belongs_to"     // Idea -> Domain
)

// UsesPatternEdge carries the quality weight of a Paper -> Pattern edge.
type UsesPatternEdge struct {
	PaperID   PaperId   `json:"paper_id"`
	PatternID PatternId `json:"pattern_id"`
	Quality   float64   `json:"quality"` // in [0,1]
}

// WorksWellInEdge carries the effectiveness/confidence of a
// Pattern -> Domain edge.
type WorksWellInEdge struct {
	PatternID     PatternId `json:"pattern_id"`
	DomainID      DomainId  `json:"domain_id"`
	Effectiveness float64   `json:"effectiveness"` // in [-1,1]
	Confidence    float64   `json:"confidence"`    // in [0,1]
}

// BelongsToEdge carries the weight of an Idea -> Domain edge.
type BelongsToEdge struct {
	IdeaID   IdeaId   `json:"idea_id"`
	DomainID DomainId `json:"domain_id"`
	Weight   float64  `json:"weight"` // in [0,1]
}

// Story is the generated research-paper skeleton. Mutated only by the
// Story Generator (C6); read by the Critic (C7), Coach (C8), and
// Novelty Checker (C10); archived into the pipeline's review history on
// every critic round.
type Story struct {
	Title             string   `json:"title"`
	Abstract          string   `json:"abstract"`
	ProblemFraming    string   `json:"problem_framing"`
	GapPattern        string   `json:"gap_pattern"`
	MethodSkeleton    string   `json:"method_skeleton"`
	InnovationClaims  []string `json:"innovation_claims"`
	ExperimentsPlan   string   `json:"experiments_plan"`

	// SourcePatternID and CreatedAtIteration are program-internal
	// bookkeeping, never sent to an LLM and never part of the strict
	// JSON schema an LLM is asked to emit.
	SourcePatternID    PatternId `json:"-"`
	CreatedAtIteration int       `json:"-"`
}

// Clone returns a deep copy of the Story so refinement rounds can be
// rolled back without aliasing slices between the pre- and post-round
// versions.
func (s *Story) Clone() *Story {
	if s == nil {
		return nil
	}
	claims := make([]string, len(s.InnovationClaims))
	copy(claims, s.InnovationClaims)
	clone := *s
	clone.InnovationClaims = claims
	return &clone
}

// Role names a critic judgment role.
type Role string

const (
	RoleMethodology Role = "methodology"
	RoleNovelty     Role = "novelty"
	RoleStoryteller Role = "storyteller"
)

// AllRoles lists the three critic roles in the engine's canonical,
// stable order used for prompt construction and audit ordering.
var AllRoles = []Role{RoleMethodology, RoleNovelty, RoleStoryteller}

// AnchorSummary is runtime-only, program-internal bookkeeping for a
// real anchor Paper used in score inference. It is never sent to the
// LLM — only the BlindCard derived from a Paper's title/metadata-free
// content is.
type AnchorSummary struct {
	PaperID PaperId `json:"paper_id"`
	Score10 float64 `json:"score10"`
	Weight  float64 `json:"weight"`
}

// LocalAlias is the opaque per-call identifier ("A1".."AK") a blind
// critic prompt uses to refer to an anchor. It carries no information
// about the underlying PaperID.
type LocalAlias string

// Judgement is a blind pairwise comparison outcome.
type Judgement string

const (
	JudgementBetter Judgement = "better"
	JudgementTie    Judgement = "tie"
	JudgementWorse  Judgement = "worse"
)

// Strength is the confidence behind a Judgement.
type Strength string

const (
	StrengthWeak   Strength = "weak"
	StrengthMedium Strength = "medium"
	StrengthStrong Strength = "strong"
)

// Comparison is one blind pairwise judgment returned by the critic LLM
// for a single anchor.
type Comparison struct {
	AnchorID  LocalAlias `json:"anchor_id"`
	Judgement Judgement  `json:"judgement"`
	Strength  Strength   `json:"strength"`
	Rationale string     `json:"rationale"`
}

// BlindCard is the four-field anonymized representation of a Story or
// an anchor Paper that is the only thing a critic LLM ever sees. It
// must never carry paper_id, title, URL, score, or pattern_id.
type BlindCard struct {
	Problem     string `json:"problem"`
	Method      string `json:"method"`
	Contrib     string `json:"contrib"`
	CardVersion string `json:"card_version"`
}

// Field length caps for BlindCard, enforced by construction.
const (
	BlindCardProblemMaxLen = 220
	BlindCardMethodMaxLen  = 280
	BlindCardContribMaxLen = 320
)

// Timestamped wraps a value with a creation time, used for run-log
// event envelopes.
type Timestamped struct {
	At    time.Time   `json:"at"`
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}
