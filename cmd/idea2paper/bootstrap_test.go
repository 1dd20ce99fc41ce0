package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea2paper/internal/config"
	"idea2paper/internal/types"
)

func TestBootstrap_DryRun(t *testing.T) {
	cfg := config.Default()

	comps, err := Bootstrap(context.Background(), cfg, bootstrapOptions{
		dryRun:      true,
		runStoreDir: t.TempDir(),
	})
	require.NoError(t, err)
	defer comps.Close()

	assert.NotNil(t, comps.KG)
	assert.NotNil(t, comps.LLM)
	assert.NotNil(t, comps.Embed)
	assert.NotNil(t, comps.RateLimit)
	assert.NotNil(t, comps.RunStore)
	assert.NotNil(t, comps.Manager)
	assert.NotNil(t, comps.MetricsCol)
}

func TestBootstrap_DryRun_SkipsTauVerification(t *testing.T) {
	cfg := config.Default()
	cfg.Critic.TauPath = "/nonexistent/judge_tau.json"

	comps, err := Bootstrap(context.Background(), cfg, bootstrapOptions{
		dryRun:      true,
		runStoreDir: t.TempDir(),
	})
	require.NoError(t, err, "dry-run must not attempt to load a tau file at all")
	comps.Close()
}

func TestResolveIndexDir(t *testing.T) {
	cfg := config.Default()
	cfg.Index.Dir = "/var/idea2paper/index"
	cfg.Models.EmbedModel = "voyage-3"

	cfg.Index.DirMode = config.IndexDirManual
	assert.Equal(t, "/var/idea2paper/index", resolveIndexDir(cfg))

	cfg.Index.DirMode = config.IndexDirAutoProfile
	assert.Equal(t, "/var/idea2paper/index/recall_index__voyage-3", resolveIndexDir(cfg))

	cfg.Models.EmbedModel = "voyage/3.5 large"
	assert.Equal(t, "/var/idea2paper/index/recall_index__voyage-3.5-large", resolveIndexDir(cfg))
}

func TestHashPaperIDs_OrderIndependent(t *testing.T) {
	a := []*types.Paper{{PaperID: "p2"}, {PaperID: "p1"}}
	b := []*types.Paper{{PaperID: "p1"}, {PaperID: "p2"}}

	assert.Equal(t, hashPaperIDs(a), hashPaperIDs(b))
}

func TestHashPaperIDs_EmptyIsStable(t *testing.T) {
	h1 := hashPaperIDs(nil)
	h2 := hashPaperIDs(nil)
	assert.Equal(t, h1, h2)
	assert.NotEmpty(t, h1)
}
