package critic

import (
	"context"
	"math"
	"sort"

	"idea2paper/internal/config"
	"idea2paper/internal/kgstore"
	"idea2paper/internal/types"
)

// anchor is a program-only candidate built from a real Paper's review
// signal. Never sent to an LLM — only the BlindCard derived from it is.
type anchor struct {
	paper   *types.Paper
	weight  float64 // log(1+review_count) / (1+dispersion10)
	pattern *types.Pattern
}

func (a anchor) summary() types.AnchorSummary {
	return types.AnchorSummary{PaperID: a.paper.PaperID, Score10: a.paper.ReviewStats.AvgScore10, Weight: a.weight}
}

func anchorWeight(rs *types.ReviewStats) float64 {
	return math.Log(1+float64(rs.ReviewCount)) / (1 + rs.Dispersion10)
}

// selectAnchors implements spec.md §4.4's anchor selection: quantile
// anchors over the Pattern's cluster papers plus up to AnchorMaxExemplars
// highest-weight exemplars, capped at AnchorMaxInitial. Widens to the
// Pattern's Domain if the cluster yields fewer than 3 usable anchors.
func selectAnchors(ctx context.Context, cfg config.CriticConfig, kg kgstore.KGStore, pattern *types.Pattern) ([]anchor, error) {
	clusterPapers, err := papersForPattern(ctx, kg, pattern.PatternID)
	if err != nil {
		return nil, err
	}
	candidates := buildAnchors(clusterPapers, pattern)

	if len(candidates) < 3 {
		domainPapers, err := papersForDomain(ctx, kg, pattern.Domain)
		if err != nil {
			return nil, err
		}
		candidates = buildAnchors(domainPapers, pattern)
		for i := range candidates {
			if candidates[i].paper.PatternID != nil && *candidates[i].paper.PatternID != pattern.PatternID {
				p, err := kg.PatternByID(ctx, *candidates[i].paper.PatternID)
				if err == nil {
					candidates[i].pattern = p
				}
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sorted := make([]anchor, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].paper.ReviewStats.AvgScore10 < sorted[j].paper.ReviewStats.AvgScore10 })

	scores := make([]float64, len(sorted))
	for i, a := range sorted {
		scores[i] = a.paper.ReviewStats.AvgScore10
	}

	selected := map[types.PaperId]anchor{}
	for _, q := range cfg.AnchorQuantiles {
		idx := nearestQuantileIndex(scores, q)
		selected[sorted[idx].paper.PaperID] = sorted[idx]
	}

	exemplars := make([]anchor, len(candidates))
	copy(exemplars, candidates)
	sort.Slice(exemplars, func(i, j int) bool { return exemplars[i].weight > exemplars[j].weight })
	for i := 0; i < len(exemplars) && i < cfg.AnchorMaxExemplars; i++ {
		selected[exemplars[i].paper.PaperID] = exemplars[i]
	}

	out := make([]anchor, 0, len(selected))
	for _, a := range selected {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].paper.ReviewStats.AvgScore10 < out[j].paper.ReviewStats.AvgScore10 })
	if len(out) > cfg.AnchorMaxInitial {
		out = out[:cfg.AnchorMaxInitial]
	}
	return out, nil
}

// densifyAnchors adds bucket anchors centered on S from the same
// candidate pool, excluding already-selected papers, up to
// BucketSize*BucketCount additional anchors and AnchorMaxTotal overall.
func densifyAnchors(cfg config.CriticConfig, pool []anchor, existing []anchor, s float64) []anchor {
	have := map[types.PaperId]struct{}{}
	for _, a := range existing {
		have[a.paper.PaperID] = struct{}{}
	}

	remaining := make([]anchor, 0, len(pool))
	for _, a := range pool {
		if _, ok := have[a.paper.PaperID]; !ok {
			remaining = append(remaining, a)
		}
	}
	sort.Slice(remaining, func(i, j int) bool {
		return math.Abs(remaining[i].paper.ReviewStats.AvgScore10-s) < math.Abs(remaining[j].paper.ReviewStats.AvgScore10-s)
	})

	budget := cfg.BucketSize * cfg.BucketCount
	if budget > len(remaining) {
		budget = len(remaining)
	}
	out := make([]anchor, len(existing), len(existing)+budget)
	copy(out, existing)
	out = append(out, remaining[:budget]...)
	if len(out) > cfg.AnchorMaxTotal {
		out = out[:cfg.AnchorMaxTotal]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].paper.ReviewStats.AvgScore10 < out[j].paper.ReviewStats.AvgScore10 })
	return out
}

func buildAnchors(papers []*types.Paper, defaultPattern *types.Pattern) []anchor {
	out := make([]anchor, 0, len(papers))
	for _, p := range papers {
		if !p.HasReviewStats() {
			continue
		}
		out = append(out, anchor{paper: p, weight: anchorWeight(p.ReviewStats), pattern: defaultPattern})
	}
	return out
}

func papersForPattern(ctx context.Context, kg kgstore.KGStore, id types.PatternId) ([]*types.Paper, error) {
	all, err := kg.Papers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Paper, 0)
	for _, p := range all {
		if p.PatternID != nil && *p.PatternID == id {
			out = append(out, p)
		}
	}
	return out, nil
}

func papersForDomain(ctx context.Context, kg kgstore.KGStore, id types.DomainId) ([]*types.Paper, error) {
	all, err := kg.Papers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Paper, 0)
	for _, p := range all {
		if p.DomainID == id {
			out = append(out, p)
		}
	}
	return out, nil
}

// quantile computes the q-th quantile (0<=q<=1) of a pre-sorted-ascending
// slice using linear interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// nearestQuantileIndex returns the index into a sorted-ascending slice
// closest to the q-th quantile value, for picking an actual anchor
// paper (we need a real paper, not an interpolated score).
func nearestQuantileIndex(sorted []float64, q float64) int {
	target := quantile(sorted, q)
	best, bestDist := 0, math.Inf(1)
	for i, v := range sorted {
		d := math.Abs(v - target)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
