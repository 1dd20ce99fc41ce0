// Command idea2paper runs the Idea2Paper generation engine end to end
// for a single research idea: recall candidate patterns from the
// knowledge graph, select one, generate a story, refine it against the
// Anchored Critic and Coach, and verify it for novelty, writing the
// result under results/<run_id>/.
//
// Environment variables configure every engine knob (spec.md §6); see
// internal/config for the full list. NEO4J_*, ANTHROPIC_API_KEY, and
// VOYAGE_API_KEY must be set for anything but --dry-run.
//
// Exit codes: 0 success (passed or degraded fallback), 2 configuration
// error (including a τ-file version mismatch, spec.md §4.4), 3 other
// fatal engine error, 130 cancelled.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"idea2paper/internal/config"
	"idea2paper/internal/engineerr"
	"idea2paper/internal/pipeline"
	"idea2paper/internal/runlog"
	"idea2paper/internal/runstore"
)

func main() {
	os.Exit(mainExitCode())
}

func mainExitCode() int {
	var configPath string
	var dryRun bool
	var runID string
	var outputDir string

	exitCode := 0
	root := &cobra.Command{
		Use:   "idea2paper [idea text]",
		Short: "Generate an anchored research-paper story from a raw idea",
		Long:  "Runs recall, pattern selection, story generation, refinement, and novelty verification for one research idea against the Idea2Paper knowledge graph.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = execute(cmd.Context(), args[0], configPath, dryRun, runID, outputDir)
			return nil
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; env vars always take precedence)")
	root.Flags().BoolVar(&dryRun, "dry-run", false, "run against an in-memory fixture graph and mock gateways, no network calls")
	root.Flags().StringVar(&runID, "run-id", "", "run identifier (default: a generated UUID)")
	root.Flags().StringVar(&outputDir, "output-dir", "output", "base directory for log/<run_id> and results/<run_id> artifacts")
	root.SilenceUsage = true
	root.SilenceErrors = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return exitCode
}

// execute runs one engine invocation and returns the process exit
// code. Kept separate from mainExitCode so the cobra wiring above
// stays a thin adapter over this function's plain (ctx, args) shape.
func execute(ctx context.Context, idea, configPath string, dryRun bool, runID, outputDir string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		return 2
	}

	if runID == "" {
		runID = uuid.NewString()
	}

	logWriter, err := runlog.Open(filepath.Join(outputDir, "log"), runID)
	if err != nil {
		log.Printf("[ERROR] opening run log: %v", err)
		return 3
	}
	defer logWriter.Close()

	startedAt := time.Now()
	if err := logWriter.WriteMeta(runlog.Meta{
		RunID:      runID,
		UserIdea:   idea,
		StartedAt:  startedAt,
		LLMModel:   cfg.Models.LLMModel,
		JudgeModel: cfg.Models.JudgeModel,
		EmbedModel: cfg.Models.EmbedModel,
	}); err != nil {
		log.Printf("[WARN] writing run meta: %v", err)
	}

	comps, err := Bootstrap(ctx, cfg, bootstrapOptions{dryRun: dryRun, runStoreDir: outputDir})
	if err != nil {
		log.Printf("[ERROR] bootstrap: %v", err)
		logWriter.Event("bootstrap", "failed")
		if engineerr.IsFatal(err) {
			return 2
		}
		return 3
	}
	defer comps.Close()
	logWriter.Event("bootstrap", "complete")

	result, err := comps.Manager.Run(ctx, idea)
	finishedAt := time.Now()

	if err != nil {
		if errors.Is(err, engineerr.Cancelled) || errors.Is(err, context.Canceled) {
			logWriter.Event("pipeline", "cancelled")
			log.Println("[WARN] run cancelled")
			return 130
		}
		log.Printf("[ERROR] run failed: %v", err)
		logWriter.Event("pipeline", "failed")
		if engineerr.IsFatal(err) {
			return 2
		}
		return 3
	}
	logWriter.Event("pipeline", "complete")

	if err := writeResults(outputDir, runID, result); err != nil {
		log.Printf("[ERROR] writing results: %v", err)
		return 3
	}

	if err := comps.RunStore.RecordRun(runstore.RunManifestEntry{
		RunID:      runID,
		UserIdea:   idea,
		Success:    result.Success,
		Reason:     result.Reason,
		Iterations: result.Iterations,
		Pivots:     result.Pivots,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}); err != nil {
		log.Printf("[WARN] recording run manifest: %v", err)
	}

	if !result.Success {
		log.Printf("[INFO] run completed without a passing story: %s", result.Reason)
	}
	return 0
}

// writeResults persists spec.md §6's results/<run_id>/ artifacts.
func writeResults(outputDir, runID string, result pipeline.Result) error {
	dir := filepath.Join(outputDir, "results", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	if result.FinalStory != nil {
		data, err := json.MarshalIndent(result.FinalStory, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling final story: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "final_story.json"), data, 0o644); err != nil {
			return fmt.Errorf("writing final_story.json: %w", err)
		}
	}

	resultData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pipeline result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pipeline_result.json"), resultData, 0o644); err != nil {
		return fmt.Errorf("writing pipeline_result.json: %w", err)
	}

	manifest := struct {
		RunID      string `json:"run_id"`
		Success    bool   `json:"success"`
		Reason     string `json:"reason,omitempty"`
		Iterations int    `json:"iterations"`
		Pivots     int    `json:"pivots"`
	}{
		RunID:      runID,
		Success:    result.Success,
		Reason:     result.Reason,
		Iterations: result.Iterations,
		Pivots:     result.Pivots,
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "manifest.json"), manifestData, 0o644)
}
