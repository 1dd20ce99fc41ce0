package recall

import (
	"context"
	"errors"
	"sort"
	"time"

	"idea2paper/internal/gateway"
	"idea2paper/internal/types"
)

type scoredIdea struct {
	idea *types.Idea
	sim  float64
}

// path1 implements the Similar-Idea path (spec.md §4.1): coarse Jaccard
// filter over all Ideas, fine cosine-similarity rerank over the
// survivors, then per-Pattern accumulation weighted by idea similarity.
func (e *Engine) path1(ctx context.Context, userIdea string) (map[types.PatternId]float64, Path1Audit, error) {
	ideas, err := e.kg.Ideas(ctx)
	if err != nil {
		return nil, Path1Audit{}, err
	}
	if len(ideas) == 0 {
		return map[types.PatternId]float64{}, Path1Audit{}, nil
	}

	coarse := make([]scoredIdea, len(ideas))
	for i, idea := range ideas {
		coarse[i] = scoredIdea{idea: idea, sim: jaccard(userIdea, idea.Description)}
	}
	sort.Slice(coarse, func(i, j int) bool { return coarse[i].sim > coarse[j].sim })
	if len(coarse) > e.cfg.CoarseRecallSize {
		coarse = coarse[:e.cfg.CoarseRecallSize]
	}

	fine, degraded := e.rerankByEmbedding(ctx, userIdea, coarse)
	if len(fine) > e.cfg.FineRecallSize {
		fine = fine[:e.cfg.FineRecallSize]
	}

	scores := make(map[types.PatternId]float64)
	audit := Path1Audit{DegradedToJaccard: degraded}
	for _, si := range fine {
		audit.TopIdeas = append(audit.TopIdeas, IdeaContribution{IdeaID: si.idea.IdeaID, Similarity: si.sim})
		for _, patternID := range si.idea.PatternIDs {
			scores[patternID] += si.sim
		}
	}
	return scores, audit, nil
}

// rerankByEmbedding re-scores candidates by cosine similarity of
// embeddings. On embedding failure (spec.md §4.1: "embedding outages
// degrade silently to Jaccard-only"), the coarse Jaccard ranking is
// kept and degraded is reported true.
func (e *Engine) rerankByEmbedding(ctx context.Context, query string, candidates []scoredIdea) ([]scoredIdea, bool) {
	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	for _, c := range candidates {
		texts = append(texts, c.idea.Description)
	}

	embeddings, err := e.embedWithBackpressure(ctx, texts)
	if err != nil || len(embeddings) != len(texts) {
		return candidates, true
	}

	queryVec := embeddings[0]
	out := make([]scoredIdea, len(candidates))
	for i, c := range candidates {
		out[i] = scoredIdea{idea: c.idea, sim: cosine(queryVec, embeddings[i+1])}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].sim > out[j].sim })
	return out, false
}

// embedWithBackpressure honors EmbeddingGateway.RateLimitError per
// spec.md §5 by sleeping EmbedSleepSec and retrying up to
// EmbedMaxRetries; any other error degrades the caller to Jaccard-only
// immediately.
func (e *Engine) embedWithBackpressure(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.EmbedMaxRetries; attempt++ {
		embeddings, err := e.embedder.Embed(ctx, texts, e.model)
		if err == nil {
			return embeddings, nil
		}
		lastErr = err
		if !isRateLimited(err) || attempt == e.cfg.EmbedMaxRetries {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(e.cfg.EmbedSleepSec) * time.Second):
		}
	}
	return nil, lastErr
}

// isRateLimited reports whether err indicates the embedding gateway is
// rate limited, distinct from other transport failures, for callers
// that want to distinguish backpressure from a hard outage.
func isRateLimited(err error) bool {
	var rle *gateway.RateLimitError
	return errors.As(err, &rle)
}
