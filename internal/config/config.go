// Package config provides configuration management for the Idea2Paper
// generation engine.
//
// Configuration can be loaded from multiple sources, in order of
// precedence:
//  1. Environment variables (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// Config is built once at process start and is immutable afterward;
// there is no global mutable configuration state. Component
// constructors (recall.NewEngine, story.New, ...) take the relevant
// sub-struct explicitly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"idea2paper/internal/types"
)

// Config is the complete engine configuration.
type Config struct {
	KG         KGConfig         `yaml:"kg"`
	Recall     RecallConfig     `yaml:"recall"`
	Selector   SelectorConfig   `yaml:"selector"`
	Story      StoryConfig      `yaml:"story"`
	Critic     CriticConfig     `yaml:"critic"`
	Coach      CoachConfig      `yaml:"coach"`
	Refinement RefinementConfig `yaml:"refinement"`
	Novelty    NoveltyConfig    `yaml:"novelty"`
	Index      IndexConfig      `yaml:"index"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Models     ModelsConfig     `yaml:"models"`
}

// ModelsConfig names the concrete LLM/embedding models each component
// calls its gateway with, and the Voyage embedding API key (the
// Anthropic key is read directly from ANTHROPIC_API_KEY by
// gateway.NewAnthropicGateway, so it has no home here). spec.md leaves
// model selection to deployment; this mirrors how the teacher's
// cmd/server wiring resolves a model name once at startup and threads
// it into every constructor rather than hardcoding it per call site.
type ModelsConfig struct {
	LLMModel     string `yaml:"llm_model"`   // story/selector/coach/refine calls
	JudgeModel   string `yaml:"judge_model"` // critic's blind comparative review and novelty pivot calls; must match judge_tau.json's judge_model
	EmbedModel   string `yaml:"embed_model"` // recall/novelty embedding calls
	VoyageAPIKey string `yaml:"-"`           // never serialized; env-only
}

// KGConfig connects to the immutable, offline-built knowledge graph
// (C1). Mirrors the teacher's Neo4jConfig shape and env-var names.
type KGConfig struct {
	URI      string        `yaml:"uri"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RecallConfig tunes the three-path recall fusion (C4).
type RecallConfig struct {
	IdeaPathWeight   float64 `yaml:"idea_path_weight"`
	DomainPathWeight float64 `yaml:"domain_path_weight"`
	PaperPathWeight  float64 `yaml:"paper_path_weight"`

	FinalTopK        int     `yaml:"final_top_k"`
	CoarseRecallSize int     `yaml:"coarse_recall_size"`
	FineRecallSize   int     `yaml:"fine_recall_size"` // per-path top-K after fine stage
	TopDomains       int     `yaml:"top_domains"`      // M in spec.md §4.1 path 2
	SubDomainPoolCap int     `yaml:"sub_domain_pool_cap"`
	SubDomainBoost   float64 `yaml:"sub_domain_boost"`

	// NormalizePathScores resolves Open Question 1 (spec.md §9):
	// whether per-path scores are min-max normalized before fusion
	// weighting. Default true.
	NormalizePathScores bool `yaml:"normalize_path_scores"`

	EmbedBatchSize  int `yaml:"embed_batch_size"`
	EmbedSleepSec   int `yaml:"embed_sleep_sec"`
	EmbedMaxRetries int `yaml:"embed_max_retries"`
}

// SelectorConfig tunes the Pattern Selector (C5).
type SelectorConfig struct {
	PatternSelectTopN int `yaml:"pattern_select_topn"`
}

// StoryConfig tunes the Story Generator (C6).
type StoryConfig struct {
	Temperature         float64 `yaml:"temperature"`
	JSONRetries         int     `yaml:"json_retries"`
	MaxSkeletonExamples int     `yaml:"max_skeleton_examples"`
}

// CriticConfig tunes the Anchored Critic (C7).
type CriticConfig struct {
	Temperature float64 `yaml:"temperature"`
	StrictJSON  bool    `yaml:"strict_json"`
	JSONRetries int     `yaml:"json_retries"`

	AnchorQuantiles    []float64 `yaml:"anchor_quantiles"`
	AnchorMaxInitial   int       `yaml:"anchor_max_initial"`
	AnchorMaxTotal     int       `yaml:"anchor_max_total"`
	AnchorMaxExemplars int       `yaml:"anchor_max_exemplars"`

	DensifyEnable        bool    `yaml:"densify_enable"`
	DensifyLossThreshold float64 `yaml:"densify_loss_threshold"`
	DensifyMinAvgConf    float64 `yaml:"densify_min_avg_conf"`
	BucketSize           int     `yaml:"bucket_size"`
	BucketCount          int     `yaml:"bucket_count"`

	TauDefault float64                `yaml:"tau_default"`
	TauByRole  map[types.Role]float64 `yaml:"tau_by_role"`
	TauPath    string                 `yaml:"tau_path"`

	GridStep float64 `yaml:"grid_step"`

	// ForbiddenTerms is the blind-leak validation denylist checked
	// against critic rationale strings before transmission and before
	// acceptance.
	ForbiddenTerms []string `yaml:"forbidden_terms"`
}

// CoachConfig tunes the Coach (C8).
type CoachConfig struct {
	Temperature float64 `yaml:"temperature"`
	JSONRetries int     `yaml:"json_retries"`
}

// RefinementConfig tunes the Refinement Engine (C9).
type RefinementConfig struct {
	MaxRefineIterations    int     `yaml:"max_refine_iterations"`
	NoveltyModeMaxPatterns int     `yaml:"novelty_mode_max_patterns"`
	FusionQualityThreshold float64 `yaml:"fusion_quality_threshold"`
	DegradationThreshold   float64 `yaml:"degradation_threshold"`
	StagnationDelta        float64 `yaml:"stagnation_delta"`
}

// NoveltyAction is the policy-configured response to a detected
// collision (C10).
type NoveltyAction string

const (
	NoveltyReportOnly NoveltyAction = "report_only"
	NoveltyPivot      NoveltyAction = "pivot"
	NoveltyFail       NoveltyAction = "fail"
)

// NoveltyConfig tunes the Novelty Checker / Verifier (C10).
type NoveltyConfig struct {
	Enable             bool          `yaml:"enable"`
	Action             NoveltyAction `yaml:"action"`
	MaxPivots          int           `yaml:"max_pivots"`
	CollisionThreshold float64       `yaml:"collision_threshold"`
	TopK               int           `yaml:"top_k"`
}

// IndexDirMode controls how VectorIndex artifact directories are
// resolved (spec.md §6).
type IndexDirMode string

const (
	IndexDirManual      IndexDirMode = "manual"
	IndexDirAutoProfile IndexDirMode = "auto_profile"
)

// IndexBackend selects the concrete VectorIndex implementation.
type IndexBackend string

const (
	IndexBackendChromem IndexBackend = "chromem"
	IndexBackendQdrant  IndexBackend = "qdrant"
)

// IndexConfig tunes the Vector Index (C3).
type IndexConfig struct {
	DirMode    IndexDirMode `yaml:"dir_mode"`
	AllowBuild bool         `yaml:"allow_build"`
	Backend    IndexBackend `yaml:"backend"`
	Dir        string       `yaml:"dir"`
	QdrantAddr string       `yaml:"qdrant_addr"`
}

// RateLimitConfig tunes embedding/LLM gateway backpressure handling.
type RateLimitConfig struct {
	RedisURL   string  `yaml:"redis_url"` // empty = in-process token bucket
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// Default returns the default engine configuration.
func Default() *Config {
	return &Config{
		KG: KGConfig{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
			Password: "password",
			Database: "neo4j",
			Timeout:  5 * time.Second,
		},
		Recall: RecallConfig{
			IdeaPathWeight:      0.4,
			DomainPathWeight:    0.2,
			PaperPathWeight:     0.4,
			FinalTopK:           10,
			CoarseRecallSize:    100,
			FineRecallSize:      10,
			TopDomains:          5,
			SubDomainPoolCap:    50,
			SubDomainBoost:      0.5,
			NormalizePathScores: true,
			EmbedBatchSize:      32,
			EmbedSleepSec:       2,
			EmbedMaxRetries:     3,
		},
		Selector: SelectorConfig{
			PatternSelectTopN: 20,
		},
		Story: StoryConfig{
			Temperature:         0.7,
			JSONRetries:         2,
			MaxSkeletonExamples: 3,
		},
		Critic: CriticConfig{
			Temperature:          0.2,
			StrictJSON:           true,
			JSONRetries:          2,
			AnchorQuantiles:      []float64{0.05, 0.15, 0.25, 0.50, 0.75, 0.85, 0.95},
			AnchorMaxInitial:     11,
			AnchorMaxTotal:       22,
			AnchorMaxExemplars:   2,
			DensifyEnable:        true,
			DensifyLossThreshold: 0.35,
			DensifyMinAvgConf:    1.5,
			BucketSize:           3,
			BucketCount:          2,
			TauDefault:           1.0,
			TauByRole:            map[types.Role]float64{},
			TauPath:              "output/judge_tau.json",
			GridStep:             0.01,
			ForbiddenTerms:       []string{"score", "rating", "accept", "reject", "/10", "out of 10"},
		},
		Coach: CoachConfig{
			Temperature: 0.3,
			JSONRetries: 2,
		},
		Refinement: RefinementConfig{
			MaxRefineIterations:    3,
			NoveltyModeMaxPatterns: 10,
			FusionQualityThreshold: 0.65,
			DegradationThreshold:   0.1,
			StagnationDelta:        0.5,
		},
		Novelty: NoveltyConfig{
			Enable:             true,
			Action:             NoveltyPivot,
			MaxPivots:          1,
			CollisionThreshold: 0.75,
			TopK:               20,
		},
		Index: IndexConfig{
			DirMode:    IndexDirAutoProfile,
			AllowBuild: false,
			Backend:    IndexBackendChromem,
			Dir:        "output",
		},
		RateLimit: RateLimitConfig{
			RatePerSec: 5,
			Burst:      10,
		},
		Models: ModelsConfig{
			LLMModel:   "claude-sonnet-4-5-20250929",
			JudgeModel: "claude-sonnet-4-5-20250929",
			EmbedModel: "voyage-3",
		},
	}
}

// Load resolves configuration with the documented precedence: env vars
// override an optional file, which overrides defaults. configPath may
// be empty, in which case only env-over-defaults applies.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", configPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("config: applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides cfg fields from process environment variables,
// using the exact key names from spec.md §6's configuration table.
func (c *Config) applyEnv() error {
	if v := os.Getenv("NEO4J_URI"); v != "" {
		c.KG.URI = v
	}
	if v := os.Getenv("NEO4J_USERNAME"); v != "" {
		c.KG.Username = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		c.KG.Password = v
	}
	if v := os.Getenv("NEO4J_DATABASE"); v != "" {
		c.KG.Database = v
	}
	if v := os.Getenv("NEO4J_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.KG.Timeout = time.Duration(ms) * time.Millisecond
		}
	}

	envFloat(&c.Recall.IdeaPathWeight, "RECALL_IDEA_WEIGHT")
	envFloat(&c.Recall.DomainPathWeight, "RECALL_DOMAIN_WEIGHT")
	envFloat(&c.Recall.PaperPathWeight, "RECALL_PAPER_WEIGHT")
	envInt(&c.Recall.FinalTopK, "FINAL_TOP_K")
	envInt(&c.Recall.CoarseRecallSize, "COARSE_RECALL_SIZE")
	envBool(&c.Recall.NormalizePathScores, "RECALL_NORMALIZE_PATH_SCORES")

	envInt(&c.Selector.PatternSelectTopN, "PATTERN_SELECT_TOPN")

	envFloat(&c.Story.Temperature, "STORY_TEMPERATURE")
	envFloat(&c.Critic.Temperature, "CRITIC_TEMPERATURE")
	envFloat(&c.Coach.Temperature, "COACH_TEMPERATURE")

	envBool(&c.Critic.StrictJSON, "CRITIC_STRICT_JSON")
	envInt(&c.Critic.JSONRetries, "JSON_RETRIES")

	if v := os.Getenv("ANCHOR_QUANTILES"); v != "" {
		qs, err := parseFloatList(v)
		if err != nil {
			return fmt.Errorf("ANCHOR_QUANTILES: %w", err)
		}
		c.Critic.AnchorQuantiles = qs
	}
	envInt(&c.Critic.AnchorMaxInitial, "ANCHOR_MAX_INITIAL")
	envInt(&c.Critic.AnchorMaxTotal, "ANCHOR_MAX_TOTAL")
	envInt(&c.Critic.AnchorMaxExemplars, "ANCHOR_MAX_EXEMPLARS")

	envBool(&c.Critic.DensifyEnable, "DENSIFY_ENABLE")
	envFloat(&c.Critic.DensifyLossThreshold, "DENSIFY_LOSS_THRESHOLD")
	envFloat(&c.Critic.DensifyMinAvgConf, "DENSIFY_MIN_AVG_CONF")
	envInt(&c.Critic.BucketSize, "BUCKET_SIZE")
	envInt(&c.Critic.BucketCount, "BUCKET_COUNT")

	envFloat(&c.Critic.TauDefault, "TAU_DEFAULT")
	for _, role := range types.AllRoles {
		key := "TAU_" + strings.ToUpper(string(role))
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			c.Critic.TauByRole[role] = f
		}
	}
	if v := os.Getenv("TAU_PATH"); v != "" {
		c.Critic.TauPath = v
	}
	envFloat(&c.Critic.GridStep, "GRID_STEP")

	envInt(&c.Refinement.MaxRefineIterations, "MAX_REFINE_ITERATIONS")
	envInt(&c.Refinement.NoveltyModeMaxPatterns, "NOVELTY_MODE_MAX_PATTERNS")
	envFloat(&c.Refinement.FusionQualityThreshold, "FUSION_QUALITY_THRESHOLD")
	envFloat(&c.Refinement.DegradationThreshold, "DEGRADATION_THRESHOLD")

	envBool(&c.Novelty.Enable, "NOVELTY_ENABLE")
	if v := os.Getenv("NOVELTY_ACTION"); v != "" {
		c.Novelty.Action = NoveltyAction(v)
	}
	envInt(&c.Novelty.MaxPivots, "MAX_PIVOTS")
	envFloat(&c.Novelty.CollisionThreshold, "COLLISION_THRESHOLD")

	if v := os.Getenv("INDEX_DIR_MODE"); v != "" {
		c.Index.DirMode = IndexDirMode(v)
	}
	envBool(&c.Index.AllowBuild, "INDEX_ALLOW_BUILD")

	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RateLimit.RedisURL = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.Models.LLMModel = v
	}
	if v := os.Getenv("JUDGE_MODEL"); v != "" {
		c.Models.JudgeModel = v
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		c.Models.EmbedModel = v
	}
	if v := os.Getenv("VOYAGE_API_KEY"); v != "" {
		c.Models.VoyageAPIKey = v
	}

	return nil
}

// Validate checks invariants that must hold for the engine to run.
func (c *Config) Validate() error {
	if c.Recall.FinalTopK <= 0 {
		return fmt.Errorf("FINAL_TOP_K must be positive, got %d", c.Recall.FinalTopK)
	}
	sum := c.Recall.IdeaPathWeight + c.Recall.DomainPathWeight + c.Recall.PaperPathWeight
	if sum <= 0 {
		return fmt.Errorf("recall path weights must sum to a positive value, got %f", sum)
	}
	switch c.Novelty.Action {
	case NoveltyReportOnly, NoveltyPivot, NoveltyFail:
	default:
		return fmt.Errorf("NOVELTY_ACTION must be one of report_only|pivot|fail, got %q", c.Novelty.Action)
	}
	if c.Novelty.MaxPivots < 0 {
		return fmt.Errorf("MAX_PIVOTS must be >= 0, got %d", c.Novelty.MaxPivots)
	}
	if c.Critic.GridStep <= 0 {
		return fmt.Errorf("GRID_STEP must be positive, got %f", c.Critic.GridStep)
	}
	return nil
}

// TauForRole returns the configured τ for a role, falling back to
// TauDefault when no per-role override was set.
func (c *CriticConfig) TauForRole(role types.Role) float64 {
	if t, ok := c.TauByRole[role]; ok {
		return t
	}
	return c.TauDefault
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func parseFloatList(v string) ([]float64, error) {
	parts := strings.Split(v, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
