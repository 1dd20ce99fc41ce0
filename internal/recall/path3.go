package recall

import (
	"context"
	"sort"

	"idea2paper/internal/types"
)

const fallbackPaperQuality = 0.5

// path3 implements the Similar-Paper path (spec.md §4.1): two-stage
// retrieval over Paper titles, then per-Pattern accumulation weighted
// by title similarity, paper quality, and the paper's uses_pattern edge
// quality.
func (e *Engine) path3(ctx context.Context, userIdea string) (map[types.PatternId]float64, Path3Audit, error) {
	papers, err := e.kg.Papers(ctx)
	if err != nil {
		return nil, Path3Audit{}, err
	}
	if len(papers) == 0 {
		return map[types.PatternId]float64{}, Path3Audit{}, nil
	}

	titles := make([]string, len(papers))
	for i, p := range papers {
		titles[i] = p.Title
	}

	coarseSims := make([]float64, len(papers))
	for i, t := range titles {
		coarseSims[i] = jaccard(userIdea, t)
	}

	type ranked struct {
		paper *types.Paper
		sim   float64
	}
	coarse := make([]ranked, len(papers))
	for i, p := range papers {
		coarse[i] = ranked{paper: p, sim: coarseSims[i]}
	}
	sort.Slice(coarse, func(i, j int) bool { return coarse[i].sim > coarse[j].sim })
	if len(coarse) > e.cfg.CoarseRecallSize {
		coarse = coarse[:e.cfg.CoarseRecallSize]
	}

	candidateTitles := make([]string, len(coarse))
	for i, c := range coarse {
		candidateTitles[i] = c.paper.Title
	}
	fineSims, degraded := e.textSimilarities(ctx, userIdea, candidateTitles)

	fine := make([]ranked, len(coarse))
	for i, c := range coarse {
		fine[i] = ranked{paper: c.paper, sim: fineSims[i]}
	}
	sort.Slice(fine, func(i, j int) bool { return fine[i].sim > fine[j].sim })
	if len(fine) > e.cfg.FineRecallSize {
		fine = fine[:e.cfg.FineRecallSize]
	}

	scores := make(map[types.PatternId]float64)
	audit := Path3Audit{DegradedToJaccard: degraded}

	for _, r := range fine {
		quality := fallbackPaperQuality
		if r.paper.HasReviewStats() {
			quality = r.paper.ReviewStats.AvgScore10 / 10
		}
		audit.TopPapers = append(audit.TopPapers, PaperContribution{
			PaperID:    r.paper.PaperID,
			Similarity: r.sim,
			Quality:    quality,
		})

		for _, edge := range e.adj.Neighbors(string(r.paper.PaperID), types.RelUsesPattern) {
			scores[types.PatternId(edge.NodeID)] += r.sim * quality * edge.Quality
		}
	}

	return scores, audit, nil
}
