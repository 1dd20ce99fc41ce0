package tauconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTauFile(t *testing.T, f File) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "judge_tau.json")
	data, err := jsonMarshal(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func jsonMarshal(f File) ([]byte, error) {
	return []byte(`{"tau_methodology":` + floatStr(f.TauMethodology) +
		`,"tau_novelty":` + floatStr(f.TauNovelty) +
		`,"tau_storyteller":` + floatStr(f.TauStoryteller) +
		`,"rubric_version":"` + f.RubricVersion +
		`","card_version":"` + f.CardVersion +
		`","judge_model":"` + f.JudgeModel +
		`","nodes_paper_hash":"` + f.NodesPaperHash + `"}`), nil
}

func floatStr(v float64) string {
	if v == 1 {
		return "1.0"
	}
	return "0.9"
}

func TestLoadAndVerify_Match(t *testing.T) {
	path := writeTauFile(t, File{
		TauMethodology: 1, TauNovelty: 1, TauStoryteller: 1,
		RubricVersion: "rubric-v1", CardVersion: "card-v1",
		JudgeModel: "judge-model", NodesPaperHash: "abc123",
	})

	f, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, f.Verify("rubric-v1", "card-v1", "judge-model", "abc123"))
	assert.Equal(t, 1.0, f.ByRole()["methodology"])
}

func TestVerify_RubricVersionMismatchIsFatal(t *testing.T) {
	path := writeTauFile(t, File{
		RubricVersion: "rubric-v0", CardVersion: "card-v1",
		JudgeModel: "judge-model", NodesPaperHash: "abc123",
	})

	f, err := Load(path)
	require.NoError(t, err)
	err = f.Verify("rubric-v1", "card-v1", "judge-model", "abc123")
	require.Error(t, err)
}

func TestLoad_MissingFileIsConfigError(t *testing.T) {
	_, err := Load("/nonexistent/judge_tau.json")
	require.Error(t, err)
}
