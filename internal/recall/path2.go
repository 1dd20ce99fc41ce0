package recall

import (
	"context"
	"sort"
	"strings"

	"idea2paper/internal/types"
)

// domainTextSeparator joins a Domain's name and sub-domains into the
// compressed text Path 2 embeds. How many Domains are embedded per
// query is bounded by RecallConfig.SubDomainPoolCap (default 50).
const domainTextSeparator = " | "

// path2 implements the Domain path (spec.md §4.1): score domains by
// cosine similarity of a compressed domain text, select the top M,
// match sub-domains within each, and accumulate per-Pattern scores
// weighted by works_well_in effectiveness/confidence plus a sub-domain
// match boost.
func (e *Engine) path2(ctx context.Context, userIdea string) (map[types.PatternId]float64, Path2Audit, error) {
	domains, err := e.kg.Domains(ctx)
	if err != nil {
		return nil, Path2Audit{}, err
	}
	if len(domains) == 0 {
		return map[types.PatternId]float64{}, Path2Audit{}, nil
	}
	if len(domains) > e.cfg.SubDomainPoolCap {
		domains = domains[:e.cfg.SubDomainPoolCap]
	}

	texts := make([]string, len(domains))
	for i, d := range domains {
		texts[i] = d.Name + domainTextSeparator + strings.Join(d.SubDomains, domainTextSeparator)
	}

	sims, degraded := e.textSimilarities(ctx, userIdea, texts)

	type scoredDomain struct {
		domain *types.Domain
		sim    float64
	}
	scored := make([]scoredDomain, len(domains))
	for i, d := range domains {
		scored[i] = scoredDomain{domain: d, sim: sims[i]}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].sim > scored[j].sim })
	if len(scored) > e.cfg.TopDomains {
		scored = scored[:e.cfg.TopDomains]
	}

	scores := make(map[types.PatternId]float64)
	audit := Path2Audit{DegradedToJaccard: degraded}

	for _, sd := range scored {
		subSims, subDegraded := e.textSimilarities(ctx, userIdea, sd.domain.SubDomains)
		degraded = degraded || subDegraded

		topSubDomain, topSubSim := bestSubDomain(sd.domain.SubDomains, subSims)

		match := DomainMatch{
			DomainID:     sd.domain.DomainID,
			Similarity:   sd.sim,
			TopSubDomain: topSubDomain,
			SubDomainSim: topSubSim,
		}
		audit.TopDomains = append(audit.TopDomains, match)

		for _, edge := range e.domainPatterns[sd.domain.DomainID] {
			if topSubDomain != "" && !patternHasSubDomain(e.patternSubDomains(ctx, edge.PatternID), topSubDomain) {
				continue
			}
			effect := edge.Effectiveness
			if effect < 0.1 {
				effect = 0.1
			}
			boost := 1 + e.cfg.SubDomainBoost*topSubSim
			scores[edge.PatternID] += sd.sim * effect * edge.Confidence * boost
		}
	}

	return scores, audit, nil
}

func bestSubDomain(subDomains []string, sims []float64) (string, float64) {
	best, bestSim := "", 0.0
	for i, sd := range subDomains {
		if sims[i] > bestSim {
			best, bestSim = sd, sims[i]
		}
	}
	return best, bestSim
}

func patternHasSubDomain(subDomains []string, target string) bool {
	for _, sd := range subDomains {
		if sd == target {
			return true
		}
	}
	return false
}

// patternSubDomains looks up a Pattern's sub-domains by ID, used to
// restrict Path 2 candidates when a sub-domain match hit (spec.md
// §4.1). Returns nil (no restriction applied) on lookup failure.
func (e *Engine) patternSubDomains(ctx context.Context, id types.PatternId) []string {
	p, err := e.kg.PatternByID(ctx, id)
	if err != nil {
		return nil
	}
	return p.SubDomains
}

// textSimilarities scores query against each candidate text by cosine
// similarity of embeddings, degrading to Jaccard on embedding failure.
func (e *Engine) textSimilarities(ctx context.Context, query string, candidates []string) ([]float64, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	texts := append([]string{query}, candidates...)
	embeddings, err := e.embedWithBackpressure(ctx, texts)
	if err != nil || len(embeddings) != len(texts) {
		out := make([]float64, len(candidates))
		for i, c := range candidates {
			out[i] = jaccard(query, c)
		}
		return out, true
	}

	queryVec := embeddings[0]
	out := make([]float64, len(candidates))
	for i := range candidates {
		out[i] = cosine(queryVec, embeddings[i+1])
	}
	return out, false
}
