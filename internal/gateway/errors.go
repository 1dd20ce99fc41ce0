package gateway

import "errors"

// Sentinel errors an LLMGateway/EmbeddingGateway implementation must
// return so callers can distinguish retryable from fatal failures
// (spec §6, §7).
var (
	ErrRateLimited    = errors.New("gateway: rate limited")
	ErrTimeout        = errors.New("gateway: timeout")
	ErrInvalidOutput  = errors.New("gateway: invalid output")
	ErrTransport      = errors.New("gateway: transport error")
)

// RateLimitError carries the provider's suggested backoff, when known.
type RateLimitError struct {
	RetryAfter float64 // seconds; 0 = unspecified
}

func (e *RateLimitError) Error() string { return "gateway: rate limited" }
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
