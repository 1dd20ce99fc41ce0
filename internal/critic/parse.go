package critic

import (
	"encoding/json"
	"fmt"
	"strings"

	"idea2paper/internal/config"
	"idea2paper/internal/types"
)

// parseRoleResponse parses and validates one role's blind judgment
// response (spec.md §4.4): strict JSON, rubric_version must match, all
// K anchors covered exactly once, and no rationale may leak a
// forbidden term.
func parseRoleResponse(cfg config.CriticConfig, text string, anchorCount int) ([]types.Comparison, error) {
	jsonStr := extractJSON(text)

	var parsed struct {
		RubricVersion string `json:"rubric_version"`
		Comparisons   []struct {
			AnchorID  string `json:"anchor_id"`
			Judgement string `json:"judgement"`
			Strength  string `json:"strength"`
			Rationale string `json:"rationale"`
		} `json:"comparisons"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if parsed.RubricVersion != rubricVersion {
		return nil, fmt.Errorf("rubric_version mismatch: got %q want %q", parsed.RubricVersion, rubricVersion)
	}

	seen := map[string]bool{}
	out := make([]types.Comparison, 0, len(parsed.Comparisons))
	for _, c := range parsed.Comparisons {
		if seen[c.AnchorID] {
			return nil, fmt.Errorf("anchor %s covered more than once", c.AnchorID)
		}
		seen[c.AnchorID] = true

		judgement := types.Judgement(c.Judgement)
		if judgement != types.JudgementBetter && judgement != types.JudgementTie && judgement != types.JudgementWorse {
			return nil, fmt.Errorf("anchor %s: invalid judgement %q", c.AnchorID, c.Judgement)
		}
		strength := types.Strength(c.Strength)
		if strength != types.StrengthWeak && strength != types.StrengthMedium && strength != types.StrengthStrong {
			return nil, fmt.Errorf("anchor %s: invalid strength %q", c.AnchorID, c.Strength)
		}
		if term := forbiddenTermViolation(cfg, c.Rationale); term != "" {
			return nil, fmt.Errorf("anchor %s: rationale leaks forbidden term %q", c.AnchorID, term)
		}

		out = append(out, types.Comparison{
			AnchorID:  types.LocalAlias(c.AnchorID),
			Judgement: judgement,
			Strength:  strength,
			Rationale: c.Rationale,
		})
	}

	for _, alias := range orderedAliases(anchorCount) {
		if !seen[alias] {
			return nil, fmt.Errorf("anchor %s missing from comparisons", alias)
		}
	}

	return out, nil
}

// extractJSON strips a leading/trailing markdown code fence if present.
func extractJSON(response string) string {
	jsonStr := response
	if idx := strings.Index(response, "```json"); idx >= 0 {
		start := idx + len("```json")
		if end := strings.Index(response[start:], "```"); end >= 0 {
			jsonStr = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx >= 0 {
		start := idx + len("```")
		if end := strings.Index(response[start:], "```"); end >= 0 {
			jsonStr = response[start : start+end]
		}
	}
	return strings.TrimSpace(jsonStr)
}
