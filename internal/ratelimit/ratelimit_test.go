package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea2paper/internal/config"
	"idea2paper/internal/gateway"
)

func TestNew_EmptyRedisURLReturnsLocalLimiter(t *testing.T) {
	l, err := New(config.RateLimitConfig{RatePerSec: 100, Burst: 10})
	require.NoError(t, err)
	defer l.Close()

	_, ok := l.(*localLimiter)
	assert.True(t, ok)
}

func TestLocalLimiter_WaitRespectsBurst(t *testing.T) {
	l := newLocalLimiter(config.RateLimitConfig{RatePerSec: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))

	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	assert.Greater(t, time.Since(start), 500*time.Millisecond)
}

func TestWrap_PacesEmbedCalls(t *testing.T) {
	inner := gateway.NewMockEmbeddingGateway(4)
	l := newLocalLimiter(config.RateLimitConfig{RatePerSec: 1000, Burst: 1000})
	wrapped := Wrap(inner, l)

	vecs, err := wrapped.Embed(context.Background(), []string{"hello"}, "mock")
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, 4, wrapped.Dimension("mock"))
}

func TestWrap_CancelledContextPropagates(t *testing.T) {
	inner := gateway.NewMockEmbeddingGateway(4)
	l := newLocalLimiter(config.RateLimitConfig{RatePerSec: 0.001, Burst: 0})
	wrapped := Wrap(inner, l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := wrapped.Embed(ctx, []string{"hello"}, "mock")
	assert.Error(t, err)
}
