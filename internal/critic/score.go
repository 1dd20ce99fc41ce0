// Score inference is a deterministic numerical kernel (sigmoid-BCE grid
// search over S in [1,10]) with no close analogue anywhere in the
// example pack — internal/validation/calibration.go tracks calibration
// via confidence *buckets* (ECE), not a per-call argmin fit. stdlib
// math/sort is used deliberately here rather than forcing a third-party
// numerics library onto a one-dimensional grid search it would not
// meaningfully simplify.
package critic

import (
	"math"
	"sort"

	"idea2paper/internal/config"
	"idea2paper/internal/types"
)

var strengthWeights = map[types.Strength]float64{
	types.StrengthWeak:   1,
	types.StrengthMedium: 2,
	types.StrengthStrong: 3,
}

var judgementY = map[types.Judgement]float64{
	types.JudgementBetter: 1,
	types.JudgementTie:    0.5,
	types.JudgementWorse:  0,
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// bce is the binary cross-entropy of predicting p for label y, clamped
// away from 0/1 to avoid -Inf on a perfect match.
func bce(y, p float64) float64 {
	const eps = 1e-9
	if p < eps {
		p = eps
	}
	if p > 1-eps {
		p = 1 - eps
	}
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

// weightedLoss is the objective minimized over S (spec.md §4.4):
// Σ w_i · BCE(y_i, σ((S - score10_i)/τ)).
func weightedLoss(s, tau float64, anchors []anchor, comparisons []types.Comparison) float64 {
	byAlias := indexComparisons(comparisons)
	var loss float64
	for i, a := range anchors {
		alias := types.LocalAlias(aliasFor(i))
		c, ok := byAlias[alias]
		if !ok {
			continue
		}
		y := judgementY[c.Judgement]
		w := a.weight * strengthWeights[c.Strength]
		p := sigmoid((s - a.paper.ReviewStats.AvgScore10) / tau)
		loss += w * bce(y, p)
	}
	return loss
}

func indexComparisons(comparisons []types.Comparison) map[types.LocalAlias]types.Comparison {
	out := make(map[types.LocalAlias]types.Comparison, len(comparisons))
	for _, c := range comparisons {
		out[c.AnchorID] = c
	}
	return out
}

// inferScore runs the grid-search argmin (spec.md §4.4: S in [1,10],
// step GridStep) and reports the deterministic diagnostics used for the
// densification gate.
func inferScore(cfg config.CriticConfig, tau float64, anchors []anchor, comparisons []types.Comparison) (s, loss, avgStrength, ciLow, ciHigh float64, monotonicViolations int) {
	best, bestLoss := 1.0, math.Inf(1)
	for v := 1.0; v <= 10.0+1e-9; v += cfg.GridStep {
		l := weightedLoss(v, tau, anchors, comparisons)
		if l < bestLoss {
			best, bestLoss = v, l
		}
	}
	s, loss = best, bestLoss

	byAlias := indexComparisons(comparisons)
	var strengthSum float64
	var strengthN int
	for i := range anchors {
		c, ok := byAlias[types.LocalAlias(aliasFor(i))]
		if !ok {
			continue
		}
		strengthSum += strengthWeights[c.Strength]
		strengthN++
	}
	if strengthN > 0 {
		avgStrength = strengthSum / float64(strengthN)
	}

	monotonicViolations = countMonotonicViolations(anchors, byAlias)
	ciLow, ciHigh = profileInterval(cfg, tau, anchors, comparisons, s, loss)
	return
}

// countMonotonicViolations counts adjacent anchor pairs, sorted by real
// score10 ascending, whose judgement moves the wrong way: a
// higher-quality anchor should not be judged "better than the story"
// (lower y) less often than a lower-quality anchor (higher y). A
// violation is a strict increase in y as score10 increases.
func countMonotonicViolations(anchors []anchor, byAlias map[types.LocalAlias]types.Comparison) int {
	type yAt struct {
		score10 float64
		y       float64
	}
	ys := make([]yAt, 0, len(anchors))
	for i, a := range anchors {
		c, ok := byAlias[types.LocalAlias(aliasFor(i))]
		if !ok {
			continue
		}
		ys = append(ys, yAt{a.paper.ReviewStats.AvgScore10, judgementY[c.Judgement]})
	}
	sort.Slice(ys, func(i, j int) bool { return ys[i].score10 < ys[j].score10 })

	violations := 0
	for i := 1; i < len(ys); i++ {
		if ys[i].y > ys[i-1].y {
			violations++
		}
	}
	return violations
}

// profileInterval approximates a confidence interval for S* as the
// widest grid range whose loss stays within a fixed margin of the
// minimum — a deterministic profile-likelihood style band, not a
// bootstrap (no randomness is introduced into scoring).
func profileInterval(cfg config.CriticConfig, tau float64, anchors []anchor, comparisons []types.Comparison, sBest, lossBest float64) (float64, float64) {
	const margin = 1.0
	lo, hi := sBest, sBest
	for v := sBest; v >= 1.0; v -= cfg.GridStep {
		if weightedLoss(v, tau, anchors, comparisons) > lossBest+margin {
			break
		}
		lo = v
	}
	for v := sBest; v <= 10.0; v += cfg.GridStep {
		if weightedLoss(v, tau, anchors, comparisons) > lossBest+margin {
			break
		}
		hi = v
	}
	return lo, hi
}

// patternThresholds computes the per-Pattern q50/q75 pass thresholds
// from the real score10 distribution of that Pattern's Papers (spec.md
// §4.4), not from the anchor subset.
func patternThresholds(papers []*types.Paper) (q50, q75 float64) {
	scores := make([]float64, 0, len(papers))
	for _, p := range papers {
		if p.HasReviewStats() {
			scores = append(scores, p.ReviewStats.AvgScore10)
		}
	}
	sort.Float64s(scores)
	if len(scores) == 0 {
		return 5.5, 7.5 // midpoint fallback when no scored papers exist at all
	}
	return quantile(scores, 0.50), quantile(scores, 0.75)
}
