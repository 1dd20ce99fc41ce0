// Package pipeline implements the Pipeline Manager (C11): the
// top-level orchestrator that wires Recall (C4), the Pattern Selector
// (C5), the Story Generator (C6), the Anchored Critic (C7) and Coach
// (C8) via the Refinement Engine (C9), and the Novelty Checker (C10)
// into one end-to-end run for a single idea, tracking the best story
// seen across every CRITIC round and bounding the collision-pivot loop
// by MAX_PIVOTS (spec.md §4.8, §9 Open Question 3). Grounded on
// internal/orchestration/workflow.go's step/state orchestration shape
// (generalized from its DependsOn/Condition step graph into this fixed
// recall→select→generate→refine→verify sequence) and on
// cmd/server/main.go's top-level wiring style for how dependencies are
// threaded through constructors rather than discovered at runtime.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"idea2paper/internal/config"
	"idea2paper/internal/engineerr"
	"idea2paper/internal/kgstore"
	"idea2paper/internal/metrics"
	"idea2paper/internal/novelty"
	"idea2paper/internal/recall"
	"idea2paper/internal/refine"
	"idea2paper/internal/selector"
	"idea2paper/internal/story"
	"idea2paper/internal/types"
)

// FinalStorySource records where the emitted Story came from (spec.md
// §4.8's final_story_source).
type FinalStorySource struct {
	Iteration              int
	Score                  float64
	IsBestAcrossIterations bool
}

// Result is the Pipeline Manager's terminal output, persisted as
// pipeline_result.json by the caller.
type Result struct {
	Success           bool
	Reason            string
	FinalStory        *types.Story
	FinalStorySource  FinalStorySource
	Iterations        int
	ReviewHistory     []refine.ReviewRound
	RefinementHistory []refine.RefinementEvent
	RecallAudit       recall.Audit
	Novelty           *novelty.Result
	Pivots            int
}

// Manager runs the engine end-to-end for one idea.
type Manager struct {
	cfg      config.Config
	kg       kgstore.KGStore
	recall   *recall.Engine
	selector *selector.Selector
	gen      *story.Generator
	refine   *refine.Engine
	novelty  *novelty.Checker
	metrics  *metrics.Collector
}

// New builds a Manager from already-constructed components. Bootstrap
// (KGStore connection, Adjacency build, gateway selection, τ-file
// load+verify) is the caller's responsibility — spec.md §4.4 requires
// the τ check to happen before any LLM call, which is naturally the
// first thing the caller does, before any of these constructors run.
// The Anchored Critic (C7) and Coach (C8) are not threaded through the
// Manager directly: both are already wired into ref (the Refinement
// Engine owns and drives them per spec.md §4.6), so the Manager only
// needs the components it calls directly around that state machine.
func New(cfg config.Config, kg kgstore.KGStore, rec *recall.Engine, sel *selector.Selector, gen *story.Generator, ref *refine.Engine, nov *novelty.Checker, mc *metrics.Collector) *Manager {
	return &Manager{cfg: cfg, kg: kg, recall: rec, selector: sel, gen: gen, refine: ref, novelty: nov, metrics: mc}
}

// Run executes recall → selection → (generate → refine → verify)+,
// the outer loop bounded by NoveltyConfig.MaxPivots (spec.md §9 Open
// Question 3: the verifier's pivot is a distinct, explicitly-bounded
// loop around the Refinement Engine's own internal state machine).
func (m *Manager) Run(ctx context.Context, userIdea string) (Result, error) {
	stageStart := time.Now()
	recalled, recAudit, err := m.recall.Recall(ctx, userIdea)
	m.observe("recall", stageStart, err)
	if err != nil {
		return Result{}, engineerr.NewStepFailed("recall", err)
	}
	if len(recalled) == 0 {
		return Result{Success: false, Reason: "no_candidate_patterns", RecallAudit: recAudit}, nil
	}

	stageStart = time.Now()
	selRes, err := m.selector.Select(ctx, recalled, userIdea, userIdea)
	m.observe("select", stageStart, err)
	if err != nil {
		return Result{}, engineerr.NewStepFailed("selector", err)
	}

	initialPatternID, ok := pickInitialPattern(selRes)
	if !ok {
		return Result{Success: false, Reason: "no_candidate_patterns", RecallAudit: recAudit}, nil
	}

	var (
		reviewHistory     []refine.ReviewRound
		refinementHistory []refine.RefinementEvent
		iterBase          int
		pivots            int
		constraints       []string
	)

	for {
		pattern, err := m.kg.PatternByID(ctx, initialPatternID)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: loading initial pattern %s: %w", initialPatternID, err)
		}

		stageStart = time.Now()
		initialStory, err := m.gen.Generate(ctx, story.GenerateRequest{
			Pattern:        pattern,
			IdeaBrief:      userIdea,
			Constraints:    constraints,
			InjectedTricks: pattern.CommonTricks,
		})
		m.observe("generate", stageStart, err)
		if err != nil {
			return Result{}, engineerr.NewStepFailed("generate", err)
		}

		stageStart = time.Now()
		refRes, err := m.refine.Run(ctx, userIdea, selRes, initialStory, pattern)
		m.observe("refine", stageStart, err)
		if err != nil {
			return Result{}, engineerr.NewStepFailed("refine", err)
		}
		m.metrics.RecordRefineRound()

		reviewHistory = append(reviewHistory, offsetReviews(refRes.ReviewHistory, iterBase)...)
		refinementHistory = append(refinementHistory, offsetEvents(refRes.RefinementHistory, iterBase)...)
		iterBase += refRes.Iterations

		result := Result{
			FinalStory: refRes.FinalStory,
			FinalStorySource: FinalStorySource{
				Iteration:              refRes.BestIteration,
				Score:                  refRes.BestScore,
				IsBestAcrossIterations: refRes.FinalIsBest,
			},
			Iterations:        iterBase,
			ReviewHistory:     reviewHistory,
			RefinementHistory: refinementHistory,
			RecallAudit:       recAudit,
			Pivots:            pivots,
		}

		if !refRes.Passed {
			result.FinalStory = refRes.BestStory
			result.FinalStorySource.IsBestAcrossIterations = true
			result.Success = false
			result.Reason = "did_not_pass_critic"
			return result, nil
		}

		stageStart = time.Now()
		novResult, err := m.novelty.Check(ctx, refRes.FinalStory)
		m.observe("novelty", stageStart, err)
		if err != nil {
			var stepFailed *engineerr.StepFailed
			if engineerr.IsFatal(err) || errors.As(err, &stepFailed) {
				return Result{}, err
			}
			return Result{}, engineerr.NewStepFailed("novelty", err)
		}
		result.Novelty = &novResult

		if !novResult.Collision || novResult.Pivot == nil || pivots >= m.cfg.Novelty.MaxPivots {
			if novResult.Collision {
				m.metrics.RecordNoveltyCollision()
			}
			result.Success = true
			if novResult.Collision && novResult.Pivot != nil {
				result.Reason = "max_pivots_exhausted"
			}
			return result, nil
		}

		m.metrics.RecordNoveltyCollision()
		m.metrics.RecordNoveltyPivot()
		pivots++
		constraints = pivotConstraints(novResult.Pivot)
	}
}

func (m *Manager) observe(stage string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.metrics.ObserveStage(stage, time.Since(start), outcome)
}

// pickInitialPattern chooses the first GENERATE attempt's Pattern: the
// most stable recalled candidate, falling back to the novelty or
// domain-distance ranking if stability produced none.
func pickInitialPattern(sel selector.Result) (types.PatternId, bool) {
	if len(sel.StabilityRanked) > 0 {
		return sel.StabilityRanked[0], true
	}
	if len(sel.NoveltyRanked) > 0 {
		return sel.NoveltyRanked[0], true
	}
	if len(sel.DomainDistanceRanked) > 0 {
		return sel.DomainDistanceRanked[0], true
	}
	return "", false
}

// pivotConstraints turns a novelty.Pivot into the generation
// constraints injected into the next GENERATE round (spec.md §4.7,
// testable scenario 4: "next generate prompt contains
// forbidden_techniques... and pivot_direction non-empty").
func pivotConstraints(p *novelty.Pivot) []string {
	out := make([]string, 0, len(p.ForbiddenTechniques)+2)
	for _, t := range p.ForbiddenTechniques {
		out = append(out, fmt.Sprintf("avoid technique: %s", t))
	}
	if p.PivotDirection != "" {
		out = append(out, fmt.Sprintf("pivot direction: %s", p.PivotDirection))
	}
	if p.DomainShift != "" {
		out = append(out, fmt.Sprintf("domain shift: %s", p.DomainShift))
	}
	return out
}

func offsetReviews(rounds []refine.ReviewRound, base int) []refine.ReviewRound {
	out := make([]refine.ReviewRound, len(rounds))
	for i, r := range rounds {
		r.Iteration += base
		out[i] = r
	}
	return out
}

func offsetEvents(events []refine.RefinementEvent, base int) []refine.RefinementEvent {
	out := make([]refine.RefinementEvent, len(events))
	for i, e := range events {
		e.Iteration += base
		out[i] = e
	}
	return out
}
