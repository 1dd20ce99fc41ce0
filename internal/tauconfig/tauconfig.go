// Package tauconfig loads the offline-fit τ (temperature) table the
// Anchored Critic's score inference depends on (spec.md §4.4, §6:
// output/judge_tau.json). The file pins rubric_version, card_version,
// the judge model identifier, and a hash of the anchor corpus; any
// mismatch against the running build is a fatal ConfigError raised
// before any LLM call is made (spec.md §4.4: "Version mismatch ⇒
// refuse to score"). Grounded on internal/config/config.go's
// file-then-validate loading shape, applied to a single small pinned
// artifact rather than the whole Config tree.
package tauconfig

import (
	"encoding/json"
	"os"

	"idea2paper/internal/engineerr"
	"idea2paper/internal/types"
)

// File is the on-disk shape of output/judge_tau.json.
type File struct {
	TauMethodology float64 `json:"tau_methodology"`
	TauNovelty     float64 `json:"tau_novelty"`
	TauStoryteller float64 `json:"tau_storyteller"`
	RubricVersion  string  `json:"rubric_version"`
	CardVersion    string  `json:"card_version"`
	JudgeModel     string  `json:"judge_model"`
	NodesPaperHash string  `json:"nodes_paper_hash"`
}

// ByRole returns the per-role τ map this file encodes, in the engine's
// canonical Role keying.
func (f *File) ByRole() map[types.Role]float64 {
	return map[types.Role]float64{
		types.RoleMethodology: f.TauMethodology,
		types.RoleNovelty:     f.TauNovelty,
		types.RoleStoryteller: f.TauStoryteller,
	}
}

// Load reads and parses path (spec.md §6's TAU_PATH).
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engineerr.NewConfigError("reading tau file " + path + ": " + err.Error())
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, engineerr.NewConfigError("parsing tau file " + path + ": " + err.Error())
	}
	return &f, nil
}

// Verify checks the loaded file's pinned versions against the running
// build's rubric/card versions, the configured judge model, and the
// expected anchor-corpus hash. Any mismatch is a fatal ConfigError
// (spec.md §4.4, §7); the caller must not issue any LLM call if this
// returns an error.
func (f *File) Verify(wantRubricVersion, wantCardVersion, wantJudgeModel, wantNodesPaperHash string) error {
	if f.RubricVersion != wantRubricVersion {
		return engineerr.NewConfigError("tau file rubric_version mismatch: got " + f.RubricVersion + " want " + wantRubricVersion)
	}
	if f.CardVersion != wantCardVersion {
		return engineerr.NewConfigError("tau file card_version mismatch: got " + f.CardVersion + " want " + wantCardVersion)
	}
	if f.JudgeModel != wantJudgeModel {
		return engineerr.NewConfigError("tau file judge_model mismatch: got " + f.JudgeModel + " want " + wantJudgeModel)
	}
	if f.NodesPaperHash != wantNodesPaperHash {
		return engineerr.NewConfigError("tau file nodes_paper_hash mismatch: got " + f.NodesPaperHash + " want " + wantNodesPaperHash)
	}
	return nil
}
