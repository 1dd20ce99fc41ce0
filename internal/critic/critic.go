// Package critic implements the Anchored Critic (C7): blind,
// per-role comparison of a Story against a set of real anchor papers,
// with scores inferred program-side rather than asked of the LLM
// (spec.md §4.4). Grounded on internal/modes/llm_anthropic.go's
// per-operation prompt/response shape and
// internal/reasoning/decomposition_llm.go's JSON-repair loop, with a
// stdlib-only numerical kernel for the score inference itself (see
// score.go).
package critic

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"idea2paper/internal/config"
	"idea2paper/internal/gateway"
	"idea2paper/internal/kgstore"
	"idea2paper/internal/types"
)

// maxDensifyRounds caps densification at a single repeat, per spec.md
// §4.4 ("repeat once").
const maxDensifyRounds = 1

// RoleAudit is the per-role outcome of one blind judgment round.
type RoleAudit struct {
	Role                types.Role
	Comparisons         []types.Comparison
	Score               float64
	Loss                float64
	AvgStrength         float64
	MonotonicViolations int
	CILow, CIHigh       float64
	Tau                 float64
	Densified           bool
}

// Audit is the full C7 output for one Story review. AnchorSummaries is
// program-log-only bookkeeping — review_stats-derived numbers never
// cross the LLM boundary.
type Audit struct {
	AnchorSummaries []types.AnchorSummary
	Roles           []RoleAudit
	Passed          bool
	Q50, Q75        float64
}

// Critic runs anchored, blind comparative review of a Story.
type Critic struct {
	cfg   config.CriticConfig
	kg    kgstore.KGStore
	llm   gateway.LLMGateway
	model string
}

func New(cfg config.CriticConfig, kg kgstore.KGStore, llm gateway.LLMGateway, model string) *Critic {
	return &Critic{cfg: cfg, kg: kg, llm: llm, model: model}
}

// Review judges story against pattern's anchor set across all three
// roles (spec.md §4.4), returning the full audit. Each role may trigger
// one densification round independently.
func (c *Critic) Review(ctx context.Context, story *types.Story, pattern *types.Pattern) (Audit, error) {
	pool, err := selectAnchors(ctx, c.cfg, c.kg, pattern)
	if err != nil {
		return Audit{}, fmt.Errorf("critic: select anchors: %w", err)
	}
	if len(pool) == 0 {
		return Audit{}, fmt.Errorf("critic: no usable anchors for pattern %s", pattern.PatternID)
	}

	clusterPapers, err := papersForPattern(ctx, c.kg, pattern.PatternID)
	if err != nil {
		return Audit{}, fmt.Errorf("critic: load cluster papers: %w", err)
	}
	q50, q75 := patternThresholds(clusterPapers)

	storyCard := types.NewBlindCardFromStory(story, cardVersion)

	// Per-role judgment is independent (spec.md §5: "per-role critic
	// calls (3 roles independent)" is explicitly parallelizable); each
	// role's slot is fixed up front so AllRoles order is preserved
	// regardless of completion order.
	roles := make([]RoleAudit, len(types.AllRoles))
	g, gctx := errgroup.WithContext(ctx)
	for i, role := range types.AllRoles {
		i, role := i, role
		g.Go(func() error {
			ra, err := c.judgeRole(gctx, role, storyCard, pool)
			if err != nil {
				return fmt.Errorf("role %s: %w", role, err)
			}
			roles[i] = ra
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Audit{}, fmt.Errorf("critic: %w", err)
	}

	passed := evaluatePassRule(roles, q75, q50)

	summaries := make([]types.AnchorSummary, len(pool))
	for i, a := range pool {
		summaries[i] = a.summary()
	}

	return Audit{
		AnchorSummaries: summaries,
		Roles:           roles,
		Passed:          passed,
		Q50:             q50,
		Q75:             q75,
	}, nil
}

// judgeRole runs one role's blind judgment round, with up to
// maxDensifyRounds additional anchor-expansion passes if the
// densification gate trips.
func (c *Critic) judgeRole(ctx context.Context, role types.Role, storyCard types.BlindCard, pool []anchor) (RoleAudit, error) {
	tau := c.tauFor(role)
	anchors := pool
	densified := false

	var ra RoleAudit
	for round := 0; ; round++ {
		comparisons, err := c.requestComparisons(ctx, role, storyCard, anchors)
		if err != nil {
			return RoleAudit{}, err
		}

		s, loss, avgStrength, ciLow, ciHigh, violations := inferScore(c.cfg, tau, anchors, comparisons)
		ra = RoleAudit{
			Role:                role,
			Comparisons:         comparisons,
			Score:               s,
			Loss:                loss,
			AvgStrength:         avgStrength,
			MonotonicViolations: violations,
			CILow:               ciLow,
			CIHigh:              ciHigh,
			Tau:                 tau,
			Densified:           densified,
		}

		needsDensify := c.cfg.DensifyEnable &&
			(loss > c.cfg.DensifyLossThreshold || violations >= 1 || avgStrength < c.cfg.DensifyMinAvgConf)
		if !needsDensify || round >= maxDensifyRounds || len(anchors) >= c.cfg.AnchorMaxTotal {
			return ra, nil
		}

		anchors = densifyAnchors(c.cfg, pool, anchors, s)
		densified = true
	}
}

// requestComparisons drives the JSON parse/validate/repair loop
// (spec.md §4.4) for one role's blind judgment call, bounded by
// JSONRetries.
func (c *Critic) requestComparisons(ctx context.Context, role types.Role, storyCard types.BlindCard, anchors []anchor) ([]types.Comparison, error) {
	prompt := buildRolePrompt(role, storyCard, anchors)
	messages := []gateway.Message{
		{Role: "system", Content: "You are an anonymous blind peer reviewer. You never see paper titles, authors, or scores — only problem/method/contribution summaries."},
		{Role: "user", Content: prompt},
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.JSONRetries; attempt++ {
		result, err := c.llm.Chat(ctx, messages, c.model, c.cfg.Temperature, 2048, gateway.ResponseFormatJSON)
		if err != nil {
			return nil, fmt.Errorf("LLM call failed: %w", err)
		}

		comparisons, perr := parseRoleResponse(c.cfg, result.Text, len(anchors))
		if perr == nil {
			return comparisons, nil
		}
		lastErr = perr
		messages = append(messages, gateway.Message{Role: "assistant", Content: result.Text}, gateway.Message{
			Role:    "user",
			Content: fmt.Sprintf("That response was rejected: %v. Return corrected JSON only, covering every anchor exactly once, with no forbidden terms in any rationale.", perr),
		})
	}

	return nil, fmt.Errorf("%w: exhausted %d repair attempts: %v", gateway.ErrInvalidOutput, c.cfg.JSONRetries, lastErr)
}

func (c *Critic) tauFor(role types.Role) float64 {
	if tau, ok := c.cfg.TauByRole[role]; ok {
		return tau
	}
	return c.cfg.TauDefault
}

// evaluatePassRule implements spec.md §4.4's pass rule: at least two of
// the three role scores at or above q75, and the average at or above
// q50.
func evaluatePassRule(roles []RoleAudit, q75, q50 float64) bool {
	if len(roles) == 0 {
		return false
	}
	aboveQ75 := 0
	var sum float64
	for _, r := range roles {
		if r.Score >= q75 {
			aboveQ75++
		}
		sum += r.Score
	}
	avg := sum / float64(len(roles))
	return aboveQ75 >= 2 && avg >= q50
}
