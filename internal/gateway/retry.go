package gateway

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryConfig bounds the exponential backoff applied to a single
// gateway call (spec §5: "on timeout retry up to MAX_RETRIES with
// exponential backoff, then fail the step").
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryConfig matches the teacher's pattern of small, bounded
// retry budgets for outbound calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 500 * time.Millisecond}
}

// RetryingLLMGateway wraps an LLMGateway with bounded exponential
// backoff on RateLimitError/ErrTimeout/ErrTransport.
type RetryingLLMGateway struct {
	inner LLMGateway
	cfg   RetryConfig
}

// NewRetryingLLMGateway wraps inner with retry/backoff behavior.
func NewRetryingLLMGateway(inner LLMGateway, cfg RetryConfig) *RetryingLLMGateway {
	return &RetryingLLMGateway{inner: inner, cfg: cfg}
}

// Chat implements LLMGateway.
func (r *RetryingLLMGateway) Chat(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int, format ResponseFormat) (ChatResult, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ChatResult{}, ctx.Err()
		}
		result, err := r.inner.Chat(ctx, messages, model, temperature, maxTokens, format)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == r.cfg.MaxRetries {
			return ChatResult{}, err
		}
		if sleepErr := sleepBackoff(ctx, r.cfg.BaseDelay, attempt); sleepErr != nil {
			return ChatResult{}, sleepErr
		}
	}
	return ChatResult{}, lastErr
}

// RetryingEmbeddingGateway wraps an EmbeddingGateway with bounded
// exponential backoff.
type RetryingEmbeddingGateway struct {
	inner EmbeddingGateway
	cfg   RetryConfig
}

// NewRetryingEmbeddingGateway wraps inner with retry/backoff behavior.
func NewRetryingEmbeddingGateway(inner EmbeddingGateway, cfg RetryConfig) *RetryingEmbeddingGateway {
	return &RetryingEmbeddingGateway{inner: inner, cfg: cfg}
}

// Dimension implements EmbeddingGateway.
func (r *RetryingEmbeddingGateway) Dimension(model string) int { return r.inner.Dimension(model) }

// Embed implements EmbeddingGateway.
func (r *RetryingEmbeddingGateway) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result, err := r.inner.Embed(ctx, texts, model)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == r.cfg.MaxRetries {
			return nil, err
		}
		if sleepErr := sleepBackoff(ctx, r.cfg.BaseDelay, attempt); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport)
}

func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
