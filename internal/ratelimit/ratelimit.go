// Package ratelimit throttles outbound embedding calls before they
// leave the process, complementing internal/gateway/retry.go's
// reactive backoff-after-429 with proactive pacing (spec.md §5's
// EMBED_SLEEP_SEC/EMBED_MAX_RETRIES backpressure knobs bound the
// reactive side; this package bounds how often a call is attempted in
// the first place). When RateLimitConfig.RedisURL is set, pacing is
// shared across every process hitting the same embedding quota via a
// Redis fixed-window counter; otherwise each process paces itself with
// an in-process token bucket. Grounded on internal/gateway/retry.go's
// decorator-over-the-same-interface shape (RetryingEmbeddingGateway),
// and on agentflow's persistence/redis_task_store.go (redis.Client
// construction with a Ping health check) and cmd/agentflow/middleware.go's
// RateLimiter (golang.org/x/time/rate.Limiter per-key token bucket).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"idea2paper/internal/config"
	"idea2paper/internal/gateway"
)

// Limiter paces calls to a shared resource. Wait blocks until the
// caller is clear to proceed or ctx is cancelled.
type Limiter interface {
	Wait(ctx context.Context) error
	Close() error
}

// New builds a Limiter from cfg: a distributed Redis-backed limiter
// when RedisURL is set, otherwise an in-process token bucket.
func New(cfg config.RateLimitConfig) (Limiter, error) {
	if cfg.RedisURL == "" {
		return newLocalLimiter(cfg), nil
	}
	return newRedisLimiter(cfg)
}

// localLimiter paces calls with an in-process token bucket. Used when
// no Redis is configured, or as every process's fallback if Redis
// pacing is determined equivalent for a single-process deployment.
type localLimiter struct {
	limiter *rate.Limiter
}

func newLocalLimiter(cfg config.RateLimitConfig) *localLimiter {
	return &localLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)}
}

func (l *localLimiter) Wait(ctx context.Context) error { return l.limiter.Wait(ctx) }
func (l *localLimiter) Close() error                   { return nil }

// redisLimiter paces calls with a Redis-backed fixed-window counter,
// shared across every process pointed at the same REDIS_URL. Falls
// back to a local token bucket for the duration of any single Redis
// error rather than failing the caller's step outright — an embedding
// call denied pacing should still get a chance to run and be caught by
// the gateway's own retry-on-429 behavior if the shared limit was
// actually exceeded.
type redisLimiter struct {
	client   *redis.Client
	key      string
	rate     float64
	burst    int
	fallback *localLimiter
	window   time.Duration
}

func newRedisLimiter(cfg config.RateLimitConfig) (*redisLimiter, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parsing REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: connecting to redis: %w", err)
	}

	return &redisLimiter{
		client:   client,
		key:      "idea2paper:embed_rate",
		rate:     cfg.RatePerSec,
		burst:    cfg.Burst,
		fallback: newLocalLimiter(cfg),
		window:   time.Second,
	}, nil
}

// Wait increments the current window's counter and blocks while the
// window is saturated, polling until a slot frees or ctx is cancelled.
func (l *redisLimiter) Wait(ctx context.Context) error {
	limit := int64(l.rate) + int64(l.burst)
	if limit <= 0 {
		limit = 1
	}
	for {
		count, err := l.incrWindow(ctx)
		if err != nil {
			return l.fallback.Wait(ctx)
		}
		if count <= limit {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.window / time.Duration(limit+1)):
		}
	}
}

func (l *redisLimiter) incrWindow(ctx context.Context) (int64, error) {
	windowKey := fmt.Sprintf("%s:%d", l.key, time.Now().Unix())
	count, err := l.client.Incr(ctx, windowKey).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		l.client.Expire(ctx, windowKey, l.window)
	}
	return count, nil
}

func (l *redisLimiter) Close() error { return l.client.Close() }

// RateLimitedEmbeddingGateway wraps an EmbeddingGateway, pacing every
// call through a Limiter before it reaches the underlying provider.
type RateLimitedEmbeddingGateway struct {
	inner   gateway.EmbeddingGateway
	limiter Limiter
}

// Wrap returns inner paced by limiter.
func Wrap(inner gateway.EmbeddingGateway, limiter Limiter) *RateLimitedEmbeddingGateway {
	return &RateLimitedEmbeddingGateway{inner: inner, limiter: limiter}
}

// Dimension implements gateway.EmbeddingGateway.
func (g *RateLimitedEmbeddingGateway) Dimension(model string) int { return g.inner.Dimension(model) }

// Embed implements gateway.EmbeddingGateway, blocking on the Limiter
// before delegating to the wrapped gateway.
func (g *RateLimitedEmbeddingGateway) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return g.inner.Embed(ctx, texts, model)
}

var _ gateway.EmbeddingGateway = (*RateLimitedEmbeddingGateway)(nil)
