package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"regexp"
	"sort"

	"idea2paper/internal/coach"
	"idea2paper/internal/config"
	"idea2paper/internal/critic"
	"idea2paper/internal/engineerr"
	"idea2paper/internal/gateway"
	"idea2paper/internal/kgstore"
	"idea2paper/internal/metrics"
	"idea2paper/internal/novelty"
	"idea2paper/internal/pipeline"
	"idea2paper/internal/ratelimit"
	"idea2paper/internal/recall"
	"idea2paper/internal/refine"
	"idea2paper/internal/runstore"
	"idea2paper/internal/selector"
	"idea2paper/internal/story"
	"idea2paper/internal/tauconfig"
	"idea2paper/internal/types"
	"idea2paper/internal/vectorindex"
)

// Components holds every long-lived object the engine needs for one
// process lifetime. Extracted from main() the way the teacher splits
// cmd/server/initializer.go out of cmd/server/main.go, so bootstrap can
// be exercised without re-implementing flag parsing.
type Components struct {
	KG         kgstore.KGStore
	LLM        gateway.LLMGateway
	Embed      gateway.EmbeddingGateway
	RateLimit  ratelimit.Limiter
	RunStore   *runstore.Store
	Manager    *pipeline.Manager
	MetricsCol *metrics.Collector

	closers []func() error
}

// Close releases every resource opened during bootstrap, in reverse
// acquisition order.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Printf("[WARN] cleanup: %v", err)
		}
	}
}

// bootstrapOptions carries the subset of CLI flags bootstrap needs.
type bootstrapOptions struct {
	dryRun      bool
	runStoreDir string
}

// Bootstrap wires every component the Pipeline Manager depends on:
// KGStore connection, in-process Adjacency, VectorIndex backend
// selection, LLM/embedding gateways (wrapped in retry and rate-limit
// decorators), and the τ-file load+verify step, which spec.md §4.4
// requires to run before any LLM call — so it happens here, before any
// component that could issue one is constructed.
func Bootstrap(ctx context.Context, cfg *config.Config, opts bootstrapOptions) (*Components, error) {
	comps := &Components{}

	var kg kgstore.KGStore
	if opts.dryRun {
		kg = kgstore.NewFixtureStore()
		log.Println("[DEBUG] dry-run: using in-memory fixture knowledge graph")
	} else {
		store, err := kgstore.Open(ctx, cfg.KG)
		if err != nil {
			return nil, engineerr.NewConfigError("opening knowledge graph: " + err.Error())
		}
		comps.closers = append(comps.closers, func() error { return store.Close(ctx) })
		kg = store
	}
	comps.KG = kg

	adj, err := kgstore.BuildAdjacency(ctx, kg)
	if err != nil {
		return nil, fmt.Errorf("building adjacency: %w", err)
	}

	papers, err := kg.Papers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	nodesPaperHash := hashPaperIDs(papers)

	if !opts.dryRun {
		tauFile, err := tauconfig.Load(cfg.Critic.TauPath)
		if err != nil {
			return nil, err
		}
		rubricVersion, cardVersion := critic.Versions()
		if err := tauFile.Verify(rubricVersion, cardVersion, cfg.Models.JudgeModel, nodesPaperHash); err != nil {
			return nil, err
		}
		cfg.Critic.TauByRole = tauFile.ByRole()
		log.Println("[DEBUG] tau file verified against running build")
	}

	llmGW, embedGW, err := buildGateways(cfg, opts.dryRun)
	if err != nil {
		return nil, err
	}
	comps.LLM = llmGW
	comps.Embed = embedGW

	limiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("building rate limiter: %w", err)
	}
	comps.closers = append(comps.closers, limiter.Close)
	comps.RateLimit = limiter
	pacedEmbed := ratelimit.Wrap(comps.Embed, limiter)

	idx, err := buildVectorIndex(cfg, pacedEmbed, opts.dryRun)
	if err != nil {
		return nil, err
	}
	if err := ensureIndexBuilt(ctx, cfg, idx, kg); err != nil {
		return nil, err
	}

	rs, err := runstore.Open(filepath.Join(opts.runStoreDir, "idea2paper.db"))
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	comps.closers = append(comps.closers, rs.Close)
	comps.RunStore = rs

	mc := metrics.NewCollector("idea2paper")
	comps.MetricsCol = mc

	recallEngine := recall.NewEngine(cfg.Recall, kg, adj, pacedEmbed, cfg.Models.EmbedModel)
	sel := selector.New(cfg.Selector, kg, llmGW, cfg.Models.LLMModel)
	gen := story.New(cfg.Story, llmGW, cfg.Models.LLMModel)
	crit := critic.New(cfg.Critic, kg, llmGW, cfg.Models.JudgeModel)
	coa := coach.New(cfg.Coach, llmGW, cfg.Models.LLMModel)
	ref := refine.New(cfg.Refinement, kg, llmGW, cfg.Models.LLMModel, gen, crit, coa)
	nov := novelty.New(cfg.Novelty, idx, pacedEmbed, llmGW, cfg.Models.JudgeModel)

	comps.Manager = pipeline.New(*cfg, kg, recallEngine, sel, gen, ref, nov, mc)

	return comps, nil
}

func buildGateways(cfg *config.Config, dryRun bool) (gateway.LLMGateway, gateway.EmbeddingGateway, error) {
	if dryRun {
		return gateway.NewMockLLMGateway(), gateway.NewMockEmbeddingGateway(8), nil
	}

	anthropic, err := gateway.NewAnthropicGateway()
	if err != nil {
		return nil, nil, engineerr.NewConfigError("initializing Anthropic gateway: " + err.Error())
	}
	if cfg.Models.VoyageAPIKey == "" {
		return nil, nil, engineerr.NewConfigError("VOYAGE_API_KEY is not set")
	}
	voyage := gateway.NewVoyageGateway(cfg.Models.VoyageAPIKey)

	retryCfg := gateway.DefaultRetryConfig()
	llm := gateway.NewRetryingLLMGateway(anthropic, retryCfg)
	embed := gateway.NewRetryingEmbeddingGateway(voyage, retryCfg)
	return llm, embed, nil
}

func buildVectorIndex(cfg *config.Config, embed gateway.EmbeddingGateway, dryRun bool) (vectorindex.VectorIndex, error) {
	if dryRun {
		return vectorindex.NewMockIndex(embed), nil
	}
	switch cfg.Index.Backend {
	case config.IndexBackendQdrant:
		return vectorindex.NewQdrantIndex(cfg.Index.QdrantAddr, embed)
	default:
		dir := resolveIndexDir(cfg)
		return vectorindex.NewChromemIndex(dir, embed)
	}
}

// resolveIndexDir implements spec.md §6's INDEX_DIR_MODE: "manual" uses
// Index.Dir verbatim, "auto_profile" namespaces it under a
// model-profile directory name so swapping embedding models never
// silently queries an index built with a different one.
func resolveIndexDir(cfg *config.Config) string {
	if cfg.Index.DirMode == config.IndexDirManual {
		return cfg.Index.Dir
	}
	return filepath.Join(cfg.Index.Dir, "recall_index__"+sanitizeProfile(cfg.Models.EmbedModel))
}

var profileSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

func sanitizeProfile(model string) string {
	return profileSanitizer.ReplaceAllString(model, "-")
}

// ensureIndexBuilt populates the Ideas/Papers collections from the KG
// snapshot when they are absent and INDEX_ALLOW_BUILD opts in (spec.md
// §6). The novelty corpus (recent-conference papers, out of scope for
// this KG) is seeded from the same Paper list: this engine has no
// separate recent-conference crawl, so the known paper set doubles as
// its own novelty-collision baseline.
func ensureIndexBuilt(ctx context.Context, cfg *config.Config, idx vectorindex.VectorIndex, kg kgstore.KGStore) error {
	if !cfg.Index.AllowBuild {
		return nil
	}

	if !idx.HasCollection(vectorindex.CollectionIdeas) {
		ideas, err := kg.Ideas(ctx)
		if err != nil {
			return fmt.Errorf("listing ideas for index build: %w", err)
		}
		items := make([]vectorindex.Item, len(ideas))
		for i, idea := range ideas {
			items[i] = vectorindex.Item{ID: string(idea.IdeaID), Text: idea.Description}
		}
		if err := idx.Build(ctx, vectorindex.CollectionIdeas, items, cfg.Models.EmbedModel); err != nil {
			return fmt.Errorf("building ideas collection: %w", err)
		}
	}

	if !idx.HasCollection(vectorindex.CollectionPapers) || !idx.HasCollection(vectorindex.CollectionNovelty) {
		papers, err := kg.Papers(ctx)
		if err != nil {
			return fmt.Errorf("listing papers for index build: %w", err)
		}
		items := make([]vectorindex.Item, len(papers))
		for i, p := range papers {
			items[i] = vectorindex.Item{ID: string(p.PaperID), Text: p.Title}
		}
		if !idx.HasCollection(vectorindex.CollectionPapers) {
			if err := idx.Build(ctx, vectorindex.CollectionPapers, items, cfg.Models.EmbedModel); err != nil {
				return fmt.Errorf("building papers collection: %w", err)
			}
		}
		if !idx.HasCollection(vectorindex.CollectionNovelty) {
			if err := idx.Build(ctx, vectorindex.CollectionNovelty, items, cfg.Models.EmbedModel); err != nil {
				return fmt.Errorf("building novelty collection: %w", err)
			}
		}
	}

	return nil
}

// hashPaperIDs computes the same content hash the offline τ-fit
// tooling pins into judge_tau.json's nodes_paper_hash, so a live run
// can detect if its deployed paper set has drifted from the one the τ
// table was calibrated against. Grounded on internal/runstore's
// HashText (sha256 over a canonical JSON encoding rather than raw
// text, since the input here is a node-ID list, not prose).
func hashPaperIDs(papers []*types.Paper) string {
	ids := make([]string, len(papers))
	for i, p := range papers {
		ids[i] = string(p.PaperID)
	}
	sort.Strings(ids)
	data, _ := json.Marshal(ids)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
