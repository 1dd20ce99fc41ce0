// Package runlog persists the per-run artifacts spec.md §6 names under
// log/<run_id>/: meta.json (run identity and config snapshot),
// events.jsonl (structured stage events), llm_calls.jsonl and
// embedding_calls.jsonl (one record per gateway call). events.jsonl is
// written through zap's JSON encoder — a closer fit for free-form
// structured events than hand-rolled encoding/json line writes — while
// the call-record streams, which are already fixed-shape structs, are
// appended directly as newline-delimited JSON. Grounded on
// internal/metrics's struct-per-event shape (adapted here to a file
// sink instead of a Prometheus collector) and on
// BaSui01-agentflow/cmd/agentflow/middleware.go's zap.Logger field
// conventions (zap.String/zap.Duration per call site).
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Meta is the run-identity record persisted once as meta.json.
type Meta struct {
	RunID      string    `json:"run_id"`
	UserIdea   string    `json:"user_idea"`
	StartedAt  time.Time `json:"started_at"`
	LLMModel   string    `json:"llm_model"`
	JudgeModel string    `json:"judge_model"`
	EmbedModel string    `json:"embed_model"`
}

// LLMCall is one record in llm_calls.jsonl.
type LLMCall struct {
	Timestamp   time.Time     `json:"timestamp"`
	Stage       string        `json:"stage"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Duration    time.Duration `json:"duration_ns"`
	Error       string        `json:"error,omitempty"`
}

// EmbeddingCall is one record in embedding_calls.jsonl.
type EmbeddingCall struct {
	Timestamp time.Time     `json:"timestamp"`
	Stage     string        `json:"stage"`
	Model     string        `json:"model"`
	BatchSize int           `json:"batch_size"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

// Writer owns the four files under log/<run_id>/ for one engine run.
type Writer struct {
	dir           string
	events        *zap.Logger
	llmFile       *os.File
	embeddingFile *os.File
}

// Open creates log/<run_id>/ under logDir and prepares all four
// sinks. The caller must call Close when the run finishes.
func Open(logDir, runID string) (*Writer, error) {
	dir := filepath.Join(logDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("runlog: creating %s: %w", dir, err)
	}

	eventsPath := filepath.Join(dir, "events.jsonl")
	eventsFile, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runlog: opening %s: %w", eventsPath, err)
	}
	encCfg := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.ISO8601TimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(eventsFile), zapcore.DebugLevel)
	logger := zap.New(core)

	llmPath := filepath.Join(dir, "llm_calls.jsonl")
	llmFile, err := os.OpenFile(llmPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runlog: opening %s: %w", llmPath, err)
	}

	embedPath := filepath.Join(dir, "embedding_calls.jsonl")
	embedFile, err := os.OpenFile(embedPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runlog: opening %s: %w", embedPath, err)
	}

	return &Writer{dir: dir, events: logger, llmFile: llmFile, embeddingFile: embedFile}, nil
}

// WriteMeta persists meta.json, overwriting any existing file.
func (w *Writer) WriteMeta(m Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("runlog: marshaling meta: %w", err)
	}
	return os.WriteFile(filepath.Join(w.dir, "meta.json"), data, 0o644)
}

// Event appends a stage event to events.jsonl.
func (w *Writer) Event(stage, message string, fields ...zap.Field) {
	w.events.Info(message, append([]zap.Field{zap.String("stage", stage)}, fields...)...)
}

// LogLLMCall appends one record to llm_calls.jsonl.
func (w *Writer) LogLLMCall(c LLMCall) error {
	return appendJSONLine(w.llmFile, c)
}

// LogEmbeddingCall appends one record to embedding_calls.jsonl.
func (w *Writer) LogEmbeddingCall(c EmbeddingCall) error {
	return appendJSONLine(w.embeddingFile, c)
}

func appendJSONLine(f *os.File, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("runlog: marshaling record: %w", err)
	}
	data = append(data, '\n')
	_, err = f.Write(data)
	return err
}

// Close flushes and closes every sink. Sync errors on the events
// logger are ignored: zap.Logger.Sync routinely fails on regular files
// with ENOTTY-style errors on some platforms even when the write
// itself succeeded.
func (w *Writer) Close() error {
	_ = w.events.Sync()
	if err := w.llmFile.Close(); err != nil {
		return err
	}
	return w.embeddingFile.Close()
}
