// Package metrics exposes Prometheus instrumentation for the
// Idea2Paper pipeline. Grounded on BaSui01-agentflow's
// internal/metrics/collector.go (promauto-registered CounterVec/
// HistogramVec/GaugeVec fields behind a single Collector, namespaced
// construction) and on the teacher's ProbabilisticMetrics
// (probabilistic.go) for which pipeline stages deserve a dedicated
// counter.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric the pipeline records across a run.
type Collector struct {
	stageDuration   *prometheus.HistogramVec
	stageOutcomes   *prometheus.CounterVec
	llmRequests     *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	embedRequests   *prometheus.CounterVec
	refineRounds    prometheus.Counter
	rollbacks       prometheus.Counter
	noveltyPivots   prometheus.Counter
	noveltyCollided prometheus.Counter
	criticScores    *prometheus.HistogramVec
}

// NewCollector registers every metric under namespace (default
// "idea2paper") on the default Prometheus registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "idea2paper"
	}

	return &Collector{
		stageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		stageOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_outcomes_total",
				Help:      "Count of pipeline stage outcomes.",
			},
			[]string{"stage", "outcome"},
		),
		llmRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total LLM gateway calls.",
			},
			[]string{"role", "status"},
		),
		llmTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Total tokens consumed by LLM calls.",
			},
			[]string{"role", "kind"}, // kind: prompt, completion
		),
		embedRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_requests_total",
				Help:      "Total embedding gateway calls.",
			},
			[]string{"status"},
		),
		refineRounds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refine_rounds_total",
			Help:      "Total refinement iterations executed.",
		}),
		rollbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refine_rollbacks_total",
			Help:      "Total refinement rounds rolled back due to score degradation.",
		}),
		noveltyPivots: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "novelty_pivots_total",
			Help:      "Total novelty-triggered pivots.",
		}),
		noveltyCollided: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "novelty_collisions_total",
			Help:      "Total novelty collisions detected.",
		}),
		criticScores: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "critic_inferred_score",
				Help:      "Distribution of inferred critic scores (1-10 scale) by role.",
				Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 7.5, 8, 8.5, 9, 9.5, 10},
			},
			[]string{"role"},
		),
	}
}

// ObserveStage records the duration and outcome of a pipeline stage.
func (c *Collector) ObserveStage(stage string, duration time.Duration, outcome string) {
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	c.stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// RecordLLMCall records one LLM gateway call.
func (c *Collector) RecordLLMCall(role, status string, promptTokens, completionTokens int) {
	c.llmRequests.WithLabelValues(role, status).Inc()
	c.llmTokens.WithLabelValues(role, "prompt").Add(float64(promptTokens))
	c.llmTokens.WithLabelValues(role, "completion").Add(float64(completionTokens))
}

// RecordEmbedCall records one embedding gateway call.
func (c *Collector) RecordEmbedCall(status string) {
	c.embedRequests.WithLabelValues(status).Inc()
}

// RecordRefineRound increments the refinement-iteration counter.
func (c *Collector) RecordRefineRound() { c.refineRounds.Inc() }

// RecordRollback increments the rollback counter.
func (c *Collector) RecordRollback() { c.rollbacks.Inc() }

// RecordNoveltyPivot increments the pivot counter.
func (c *Collector) RecordNoveltyPivot() { c.noveltyPivots.Inc() }

// RecordNoveltyCollision increments the collision counter.
func (c *Collector) RecordNoveltyCollision() { c.noveltyCollided.Inc() }

// RecordCriticScore observes one role's inferred score for the run.
func (c *Collector) RecordCriticScore(role string, score float64) {
	c.criticScores.WithLabelValues(role).Observe(score)
}
