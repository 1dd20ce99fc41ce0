package runlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_WritesAllFourArtifacts(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "run-123")
	require.NoError(t, err)

	require.NoError(t, w.WriteMeta(Meta{RunID: "run-123", UserIdea: "an idea", StartedAt: time.Unix(0, 0), LLMModel: "m1"}))
	w.Event("recall", "recall completed")
	require.NoError(t, w.LogLLMCall(LLMCall{Stage: "story", Model: "m1", Temperature: 0.7}))
	require.NoError(t, w.LogEmbeddingCall(EmbeddingCall{Stage: "recall", Model: "e1", BatchSize: 4}))
	require.NoError(t, w.Close())

	runDir := filepath.Join(dir, "run-123")

	metaData, err := os.ReadFile(filepath.Join(runDir, "meta.json"))
	require.NoError(t, err)
	var meta Meta
	require.NoError(t, json.Unmarshal(metaData, &meta))
	assert.Equal(t, "run-123", meta.RunID)
	assert.Equal(t, "an idea", meta.UserIdea)

	assertOneJSONLine(t, filepath.Join(runDir, "events.jsonl"))
	assertOneJSONLine(t, filepath.Join(runDir, "llm_calls.jsonl"))
	assertOneJSONLine(t, filepath.Join(runDir, "embedding_calls.jsonl"))
}

func assertOneJSONLine(t *testing.T, path string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var v map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &v))
		lines++
	}
	assert.Equal(t, 1, lines, "expected exactly one JSON line in %s", path)
}
