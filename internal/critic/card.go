package critic

import (
	"fmt"
	"strings"

	"idea2paper/internal/config"
	"idea2paper/internal/types"
)

// cardVersion is the schema version stamped on every BlindCard this
// round, pinning the τ table lookup alongside rubric_version and the
// judge model identifier (spec.md §4.4).
const cardVersion = "card-v1"

// aliasFor returns the opaque local alias ("A1".."AK") for the anchor
// at index i, stable across a round's prompt and parse.
func aliasFor(i int) string { return fmt.Sprintf("A%d", i+1) }

// anchorCard builds the BlindCard for one anchor, sourced only from its
// Pattern's cluster summary — never the Paper's own title, per
// types.NewBlindCardFromAnchor's contract.
func anchorCard(a anchor) types.BlindCard {
	var pattern *types.Pattern = a.pattern
	problem := strings.Join(pattern.Summary.CommonProblems, "; ")
	method := strings.Join(pattern.Summary.SolutionApproaches, "; ")
	contrib := strings.Join(pattern.Summary.RepresentativeIdeas, "; ")
	return types.NewBlindCardFromAnchor(problem, method, contrib, cardVersion)
}

// forbiddenTermViolation reports the first forbidden term found in a
// rationale string, case-insensitively, or "" if none.
func forbiddenTermViolation(cfg config.CriticConfig, rationale string) string {
	lower := strings.ToLower(rationale)
	for _, term := range cfg.ForbiddenTerms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return term
		}
	}
	return ""
}
