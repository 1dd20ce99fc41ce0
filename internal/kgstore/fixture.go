package kgstore

import (
	"context"
	"fmt"

	"idea2paper/internal/types"
)

// FixtureStore is an in-memory KGStore backed by hand-built fixtures,
// used in tests and local dry runs in place of a live Neo4j instance.
// It mirrors the Neo4jKGStore contract exactly, including error
// behavior on missing IDs.
type FixtureStore struct {
	IdeaList    []*types.Idea
	PatternList []*types.Pattern
	DomainList  []*types.Domain
	PaperList   []*types.Paper

	// Edges maps a source node ID to its outgoing edges by relation.
	UsesPattern map[types.PaperId][]NeighborEdge
	WorksWellIn map[types.PatternId][]NeighborEdge
	BelongsTo   map[types.IdeaId][]NeighborEdge
}

// NewFixtureStore creates an empty fixture store.
func NewFixtureStore() *FixtureStore {
	return &FixtureStore{
		UsesPattern: map[types.PaperId][]NeighborEdge{},
		WorksWellIn: map[types.PatternId][]NeighborEdge{},
		BelongsTo:   map[types.IdeaId][]NeighborEdge{},
	}
}

func (f *FixtureStore) Ideas(ctx context.Context) ([]*types.Idea, error) { return f.IdeaList, nil }

func (f *FixtureStore) Patterns(ctx context.Context) ([]*types.Pattern, error) {
	return f.PatternList, nil
}

func (f *FixtureStore) Domains(ctx context.Context) ([]*types.Domain, error) {
	return f.DomainList, nil
}

func (f *FixtureStore) Papers(ctx context.Context) ([]*types.Paper, error) { return f.PaperList, nil }

func (f *FixtureStore) PatternByID(ctx context.Context, id types.PatternId) (*types.Pattern, error) {
	for _, p := range f.PatternList {
		if p.PatternID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("kgstore: pattern not found: %s", id)
}

func (f *FixtureStore) PaperByID(ctx context.Context, id types.PaperId) (*types.Paper, error) {
	for _, p := range f.PaperList {
		if p.PaperID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("kgstore: paper not found: %s", id)
}

func (f *FixtureStore) DomainByID(ctx context.Context, id types.DomainId) (*types.Domain, error) {
	for _, d := range f.DomainList {
		if d.DomainID == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("kgstore: domain not found: %s", id)
}

func (f *FixtureStore) Neighbors(ctx context.Context, node string, relation types.EdgeRelation) ([]NeighborEdge, error) {
	switch relation {
	case types.RelUsesPattern:
		return f.UsesPattern[types.PaperId(node)], nil
	case types.RelWorksWellIn:
		return f.WorksWellIn[types.PatternId(node)], nil
	case types.RelBelongsTo:
		return f.BelongsTo[types.IdeaId(node)], nil
	default:
		return nil, fmt.Errorf("kgstore: unknown relation %q", relation)
	}
}

var _ KGStore = (*FixtureStore)(nil)
var _ KGStore = (*Neo4jKGStore)(nil)
