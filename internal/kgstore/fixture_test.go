package kgstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea2paper/internal/types"
)

func sampleStore() *FixtureStore {
	f := NewFixtureStore()
	f.IdeaList = []*types.Idea{
		{IdeaID: "idea-1", Description: "use contrastive pretraining for low-resource NER"},
	}
	f.PatternList = []*types.Pattern{
		{PatternID: "pattern-1", Name: "contrastive-pretrain", ClusterSize: 12, Domain: "nlp"},
	}
	f.DomainList = []*types.Domain{
		{DomainID: "nlp", Name: "Natural Language Processing", PaperCount: 40},
	}
	f.PaperList = []*types.Paper{
		{PaperID: "paper-1", Title: "Contrastive Pretraining for NER", DomainID: "nlp",
			ReviewStats: &types.ReviewStats{AvgScore10: 7.2, ReviewCount: 3, Dispersion10: 0.4}},
	}
	pid := types.PatternId("pattern-1")
	f.PaperList[0].PatternID = &pid

	f.BelongsTo["idea-1"] = []NeighborEdge{{NodeID: "nlp", Relation: types.RelBelongsTo, Weight: 0.9}}
	f.WorksWellIn["pattern-1"] = []NeighborEdge{{NodeID: "nlp", Relation: types.RelWorksWellIn, Effect: 0.6, Confid: 0.8}}
	f.UsesPattern["paper-1"] = []NeighborEdge{{NodeID: "pattern-1", Relation: types.RelUsesPattern, Quality: 0.85}}
	return f
}

func TestFixtureStore_LookupsByID(t *testing.T) {
	f := sampleStore()
	ctx := context.Background()

	p, err := f.PatternByID(ctx, "pattern-1")
	require.NoError(t, err)
	assert.Equal(t, "contrastive-pretrain", p.Name)

	_, err = f.PatternByID(ctx, "missing")
	assert.Error(t, err)
}

func TestFixtureStore_Neighbors(t *testing.T) {
	f := sampleStore()
	ctx := context.Background()

	edges, err := f.Neighbors(ctx, "idea-1", types.RelBelongsTo)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "nlp", edges[0].NodeID)
	assert.Equal(t, 0.9, edges[0].Weight)
}

func TestBuildAdjacency_CachesNeighbors(t *testing.T) {
	f := sampleStore()
	ctx := context.Background()

	adj, err := BuildAdjacency(ctx, f)
	require.NoError(t, err)

	edges := adj.Neighbors("paper-1", types.RelUsesPattern)
	require.Len(t, edges, 1)
	assert.Equal(t, "pattern-1", edges[0].NodeID)
	assert.InDelta(t, 0.85, edges[0].Quality, 1e-9)
}
