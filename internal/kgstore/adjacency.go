package kgstore

import (
	"context"
	"fmt"

	"github.com/dominikbraun/graph"

	"idea2paper/internal/types"
)

// Adjacency is an in-process, read-only directed graph over the KG's
// node IDs, built once from a KGStore snapshot. It exists so the
// Recall Engine (C4) can walk Idea->Domain, Pattern->Domain, and
// Paper->Pattern edges without following raw struct back-pointers —
// adapted from the teacher's GraphController (internal/modes/graph.go),
// which keeps the same traversal graph alongside a ParentIDs/ChildIDs
// index rather than mutating vertices in place.
type Adjacency struct {
	g     graph.Graph[string, string]
	edges map[string]map[types.EdgeRelation][]NeighborEdge
}

func nodeHash(id string) string { return id }

// BuildAdjacency loads every node and edge once from store and
// constructs the in-process traversal graph. Call once at process
// start; the result is never mutated afterward.
func BuildAdjacency(ctx context.Context, store KGStore) (*Adjacency, error) {
	g := graph.New(nodeHash, graph.Directed())
	a := &Adjacency{g: g, edges: map[string]map[types.EdgeRelation][]NeighborEdge{}}

	ideas, err := store.Ideas(ctx)
	if err != nil {
		return nil, fmt.Errorf("kgstore: building adjacency: ideas: %w", err)
	}
	patterns, err := store.Patterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("kgstore: building adjacency: patterns: %w", err)
	}
	domains, err := store.Domains(ctx)
	if err != nil {
		return nil, fmt.Errorf("kgstore: building adjacency: domains: %w", err)
	}
	papers, err := store.Papers(ctx)
	if err != nil {
		return nil, fmt.Errorf("kgstore: building adjacency: papers: %w", err)
	}

	for _, i := range ideas {
		_ = g.AddVertex(string(i.IdeaID))
	}
	for _, p := range patterns {
		_ = g.AddVertex(string(p.PatternID))
	}
	for _, d := range domains {
		_ = g.AddVertex(string(d.DomainID))
	}
	for _, p := range papers {
		_ = g.AddVertex(string(p.PaperID))
	}

	for _, i := range ideas {
		edges, err := store.Neighbors(ctx, string(i.IdeaID), types.RelBelongsTo)
		if err != nil {
			return nil, fmt.Errorf("kgstore: building adjacency: neighbors(%s): %w", i.IdeaID, err)
		}
		a.addEdges(string(i.IdeaID), types.RelBelongsTo, edges)
	}
	for _, p := range patterns {
		edges, err := store.Neighbors(ctx, string(p.PatternID), types.RelWorksWellIn)
		if err != nil {
			return nil, fmt.Errorf("kgstore: building adjacency: neighbors(%s): %w", p.PatternID, err)
		}
		a.addEdges(string(p.PatternID), types.RelWorksWellIn, edges)
	}
	for _, p := range papers {
		edges, err := store.Neighbors(ctx, string(p.PaperID), types.RelUsesPattern)
		if err != nil {
			return nil, fmt.Errorf("kgstore: building adjacency: neighbors(%s): %w", p.PaperID, err)
		}
		a.addEdges(string(p.PaperID), types.RelUsesPattern, edges)
	}

	return a, nil
}

func (a *Adjacency) addEdges(from string, relation types.EdgeRelation, edges []NeighborEdge) {
	if a.edges[from] == nil {
		a.edges[from] = map[types.EdgeRelation][]NeighborEdge{}
	}
	a.edges[from][relation] = edges
	for _, e := range edges {
		_ = a.g.AddEdge(from, e.NodeID)
	}
}

// Neighbors returns the cached outgoing edges of the given relation
// from node, without a store round-trip.
func (a *Adjacency) Neighbors(node string, relation types.EdgeRelation) []NeighborEdge {
	return a.edges[node][relation]
}
