// Package engineerr defines the typed error kinds used across the
// pipeline (spec §7). Gateway-layer errors are retried locally by their
// owning package; these types are what propagates to the Pipeline
// Manager, which decides rollback vs. fallback vs. fatal exit.
package engineerr

import (
	"errors"
	"fmt"
)

// ConfigError indicates missing/invalid configuration or a τ-file
// version mismatch. Always fatal: the engine must not run with it.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %s", e.Reason) }

// NewConfigError constructs a ConfigError.
func NewConfigError(reason string) error { return &ConfigError{Reason: reason} }

// TransportError wraps a network/provider failure that survived
// gateway-level retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error in %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError constructs a TransportError.
func NewTransportError(op string, err error) error { return &TransportError{Op: op, Err: err} }

// InvalidOutput indicates an LLM response failed JSON-schema, length,
// or forbidden-term validation after exhausting repair retries.
type InvalidOutput struct {
	Stage  string
	Reason string
}

func (e *InvalidOutput) Error() string {
	return fmt.Sprintf("invalid output at %s: %s", e.Stage, e.Reason)
}

// NewInvalidOutput constructs an InvalidOutput error.
func NewInvalidOutput(stage, reason string) error { return &InvalidOutput{Stage: stage, Reason: reason} }

// CollisionDetected is raised by the Novelty Checker when similarity to
// a prior paper exceeds the configured threshold and the policy is
// "fail".
type CollisionDetected struct {
	MaxSimilarity float64
	PaperID       string
}

func (e *CollisionDetected) Error() string {
	return fmt.Sprintf("novelty collision detected (sim=%.3f, paper=%s)", e.MaxSimilarity, e.PaperID)
}

// StepFailed wraps a non-recoverable pipeline step failure that the
// Refinement Engine should roll back from.
type StepFailed struct {
	Step string
	Err  error
}

func (e *StepFailed) Error() string { return fmt.Sprintf("step %s failed: %v", e.Step, e.Err) }
func (e *StepFailed) Unwrap() error { return e.Err }

// NewStepFailed constructs a StepFailed error.
func NewStepFailed(step string, err error) error { return &StepFailed{Step: step, Err: err} }

// Cancelled indicates cooperative cancellation was observed at a call
// boundary; the caller should flush logs and exit 130.
var Cancelled = errors.New("cancelled")

// IsFatal reports whether err should terminate the process rather than
// trigger rollback/fallback handling.
func IsFatal(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
