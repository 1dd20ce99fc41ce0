package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea2paper/internal/pipeline"
)

func TestWriteResults_Success(t *testing.T) {
	dir := t.TempDir()
	result := pipeline.Result{
		Success:    true,
		Iterations: 2,
		Pivots:     0,
	}

	require.NoError(t, writeResults(dir, "run-123", result))

	resultsDir := filepath.Join(dir, "results", "run-123")
	assert.FileExists(t, filepath.Join(resultsDir, "pipeline_result.json"))
	assert.FileExists(t, filepath.Join(resultsDir, "manifest.json"))
	assert.NoFileExists(t, filepath.Join(resultsDir, "final_story.json"))

	raw, err := os.ReadFile(filepath.Join(resultsDir, "manifest.json"))
	require.NoError(t, err)

	var manifest struct {
		RunID      string `json:"run_id"`
		Success    bool   `json:"success"`
		Iterations int    `json:"iterations"`
	}
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.Equal(t, "run-123", manifest.RunID)
	assert.True(t, manifest.Success)
	assert.Equal(t, 2, manifest.Iterations)
}

func TestWriteResults_OmitsFinalStoryWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	result := pipeline.Result{
		Success:    false,
		Reason:     "refinement budget exhausted",
		Iterations: 3,
	}

	require.NoError(t, writeResults(dir, "run-456", result))

	resultsDir := filepath.Join(dir, "results", "run-456")
	assert.NoFileExists(t, filepath.Join(resultsDir, "final_story.json"),
		"a nil FinalStory must not produce an empty final_story.json")
}
