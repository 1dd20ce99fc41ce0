// Package recall implements the three-path recall fusion engine (C4):
// Similar-Idea, Domain, and Similar-Paper candidate generation over the
// read-only knowledge graph, fused into a ranked Pattern list. Grounded
// on internal/similarity/thought_search.go's coarse/fine two-stage
// retrieval shape and internal/modes/graph.go's typed-edge traversal,
// generalized from the teacher's thought graph to the Idea/Pattern/
// Domain/Paper graph.
package recall

import (
	"context"
	"fmt"
	"sort"

	"idea2paper/internal/config"
	"idea2paper/internal/gateway"
	"idea2paper/internal/kgstore"
	"idea2paper/internal/types"
)

// Engine runs the three recall paths and fuses their per-Pattern scores.
type Engine struct {
	cfg      config.RecallConfig
	kg       kgstore.KGStore
	adj      *kgstore.Adjacency
	embedder gateway.EmbeddingGateway
	model    string

	domainPatterns map[types.DomainId][]domainPatternEdge
}

// domainPatternEdge is the reverse of a Pattern --works_well_in--> Domain
// edge, built once so Path 2 can go from a selected Domain to its
// candidate Patterns without scanning every Pattern per query.
type domainPatternEdge struct {
	PatternID     types.PatternId
	Effectiveness float64
	Confidence    float64
}

// NewEngine builds a recall Engine. adj must have been constructed from
// the same kg snapshot (kgstore.BuildAdjacency).
func NewEngine(cfg config.RecallConfig, kg kgstore.KGStore, adj *kgstore.Adjacency, embedder gateway.EmbeddingGateway, model string) *Engine {
	return &Engine{cfg: cfg, kg: kg, adj: adj, embedder: embedder, model: model}
}

// warmDomainIndex lazily builds the Domain -> candidate Patterns reverse
// index on first use. The KG is immutable at run time so this is safe
// to cache for the Engine's lifetime.
func (e *Engine) warmDomainIndex(ctx context.Context) error {
	if e.domainPatterns != nil {
		return nil
	}
	patterns, err := e.kg.Patterns(ctx)
	if err != nil {
		return fmt.Errorf("recall: loading patterns: %w", err)
	}
	idx := make(map[types.DomainId][]domainPatternEdge)
	for _, p := range patterns {
		for _, edge := range e.adj.Neighbors(string(p.PatternID), types.RelWorksWellIn) {
			idx[types.DomainId(edge.NodeID)] = append(idx[types.DomainId(edge.NodeID)], domainPatternEdge{
				PatternID:     p.PatternID,
				Effectiveness: edge.Effect,
				Confidence:    edge.Confid,
			})
		}
	}
	e.domainPatterns = idx
	return nil
}

// Recall runs the three paths and returns the fused, ranked Pattern
// list (length <= FinalTopK) alongside the full audit trail.
func (e *Engine) Recall(ctx context.Context, userIdea string) ([]Result, Audit, error) {
	if err := e.warmDomainIndex(ctx); err != nil {
		return nil, Audit{}, err
	}

	path1Scores, path1Audit, err := e.path1(ctx, userIdea)
	if err != nil {
		return nil, Audit{}, fmt.Errorf("recall: path1: %w", err)
	}
	path2Scores, path2Audit, err := e.path2(ctx, userIdea)
	if err != nil {
		return nil, Audit{}, fmt.Errorf("recall: path2: %w", err)
	}
	path3Scores, path3Audit, err := e.path3(ctx, userIdea)
	if err != nil {
		return nil, Audit{}, fmt.Errorf("recall: path3: %w", err)
	}

	fused := fuse(e.cfg, path1Scores, path2Scores, path3Scores)

	audit := Audit{
		Path1: path1Audit,
		Path2: path2Audit,
		Path3: path3Audit,
	}

	if len(fused) == 0 {
		audit.Reason = "no candidate patterns surfaced by any recall path"
		return nil, audit, nil
	}

	sort.Slice(fused, func(i, j int) bool { return fused[i].Final > fused[j].Final })
	if len(fused) > e.cfg.FinalTopK {
		fused = fused[:e.cfg.FinalTopK]
	}
	for _, r := range fused {
		audit.FinalTopK = append(audit.FinalTopK, FinalEntry{
			PatternID: r.PatternID,
			Final:     r.Final,
			Path1:     r.Path1,
			Path2:     r.Path2,
			Path3:     r.Path3,
		})
	}

	return fused, audit, nil
}
