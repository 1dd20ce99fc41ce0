// Package kgstore provides read-only access to the Idea/Pattern/Domain/
// Paper knowledge graph (C1). The KG is built offline by a separate
// toolchain (out of scope, spec §1) and loaded once at process start;
// nothing in this package mutates it afterward.
package kgstore

import (
	"context"

	"idea2paper/internal/types"
)

// NeighborEdge pairs a neighboring node's interned ID with the typed
// edge attributes connecting it to the queried node.
type NeighborEdge struct {
	NodeID   string
	Relation types.EdgeRelation
	Quality  float64 // uses_pattern
	Effect   float64 // works_well_in effectiveness
	Confid   float64 // works_well_in confidence
	Weight   float64 // belongs_to
}

// KGStore is the read-only knowledge-graph capability (spec §6).
type KGStore interface {
	Ideas(ctx context.Context) ([]*types.Idea, error)
	Patterns(ctx context.Context) ([]*types.Pattern, error)
	Domains(ctx context.Context) ([]*types.Domain, error)
	Papers(ctx context.Context) ([]*types.Paper, error)

	PatternByID(ctx context.Context, id types.PatternId) (*types.Pattern, error)
	PaperByID(ctx context.Context, id types.PaperId) (*types.Paper, error)
	DomainByID(ctx context.Context, id types.DomainId) (*types.Domain, error)

	// Neighbors returns the nodes connected to node by relation. node
	// is an interned ID (IdeaId/PatternId/DomainId/PaperId as string).
	Neighbors(ctx context.Context, node string, relation types.EdgeRelation) ([]NeighborEdge, error)
}
