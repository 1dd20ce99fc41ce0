package recall

import (
	"math"

	"idea2paper/internal/config"
	"idea2paper/internal/types"
)

// normalize min-max scales scores to [0,1]. A single-valued or empty
// map normalizes every present key to 1.0, since there is no spread to
// measure and a candidate that appeared at all should not be zeroed out.
func normalize(scores map[types.PatternId]float64) map[types.PatternId]float64 {
	out := make(map[types.PatternId]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range scores {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	spread := max - min
	for k, v := range scores {
		if spread == 0 {
			out[k] = 1.0
			continue
		}
		out[k] = (v - min) / spread
	}
	return out
}

// fuse combines the three paths' per-Pattern scores per spec.md §4.1:
// final[p] = ideaWeight*norm(path1) + domainWeight*norm(path2) +
// paperWeight*norm(path3). When cfg.NormalizePathScores is false (Open
// Question 1, resolved false-path kept for parity), raw path scores are
// weighted directly instead.
func fuse(cfg config.RecallConfig, path1, path2, path3 map[types.PatternId]float64) []Result {
	p1, p2, p3 := path1, path2, path3
	if cfg.NormalizePathScores {
		p1 = normalize(path1)
		p2 = normalize(path2)
		p3 = normalize(path3)
	}

	seen := make(map[types.PatternId]struct{})
	for k := range p1 {
		seen[k] = struct{}{}
	}
	for k := range p2 {
		seen[k] = struct{}{}
	}
	for k := range p3 {
		seen[k] = struct{}{}
	}

	results := make([]Result, 0, len(seen))
	for patternID := range seen {
		v1, v2, v3 := p1[patternID], p2[patternID], p3[patternID]
		final := cfg.IdeaPathWeight*v1 + cfg.DomainPathWeight*v2 + cfg.PaperPathWeight*v3
		results = append(results, Result{
			PatternID: patternID,
			Final:     final,
			Path1:     v1,
			Path2:     v2,
			Path3:     v3,
		})
	}
	return results
}
