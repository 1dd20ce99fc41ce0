package critic

import (
	"fmt"
	"strings"

	"idea2paper/internal/types"
)

// rubricVersion is embedded in every role prompt and persisted in the
// audit; a τ-table version mismatch against this value is fatal
// (spec.md §4.4).
const rubricVersion = "rubric-v1"

// Versions returns the rubric and card schema versions this build of
// the critic embeds in every prompt and audit. cmd/idea2paper's
// Bootstrap checks these against judge_tau.json before any LLM call — a
// mismatch is a fatal ConfigError (spec.md §4.4, §7).
func Versions() (rubric, card string) { return rubricVersion, cardVersion }

var roleRubric = map[types.Role]string{
	types.RoleMethodology: `You are a blind peer reviewer judging METHODOLOGICAL rigor: soundness of the method, validity of the experimental design, and whether the approach could plausibly work.`,
	types.RoleNovelty:     `You are a blind peer reviewer judging NOVELTY: how much the framing and method differ from prior work, and whether the contribution is genuinely new rather than incremental.`,
	types.RoleStoryteller: `You are a blind peer reviewer judging NARRATIVE QUALITY: how compellingly the problem, gap, and method are framed as a coherent research story.`,
}

// buildRolePrompt constructs the per-role blind judgment prompt
// (spec.md §4.4): StoryCard, ordered AnchorCards A1..AK, role-specific
// rubric with rubric_version embedded. Never references anchor
// paper_id/title — only the local alias.
func buildRolePrompt(role types.Role, storyCard types.BlindCard, anchors []anchor) string {
	var sb strings.Builder
	sb.WriteString(roleRubric[role])
	sb.WriteString(fmt.Sprintf("\n\nRubric version: %s\n\n", rubricVersion))
	sb.WriteString("Story under review:\n")
	sb.WriteString(formatCard(storyCard))
	sb.WriteString("\n\nAnchor cards (each a blinded reference submission):\n")

	for i, a := range anchors {
		sb.WriteString(fmt.Sprintf("\n[%s]\n", aliasFor(i)))
		sb.WriteString(formatCard(anchorCard(a)))
	}

	sb.WriteString("\n\nFor EACH anchor above, judge the Story relative to it: is the Story better, tied, or worse? How strongly (weak/medium/strong)? Give a one-sentence rationale that never mentions a score, rating, numeric value, or accept/reject decision — describe only the qualitative comparison.\n\n")
	sb.WriteString("Return ONLY valid JSON in this exact shape, covering every anchor exactly once:\n")
	sb.WriteString(fmt.Sprintf(`{"rubric_version": %q, "comparisons": [{"anchor_id": "A1", "judgement": "better|tie|worse", "strength": "weak|medium|strong", "rationale": "..."}]}`, rubricVersion))
	return sb.String()
}

func formatCard(c types.BlindCard) string {
	return fmt.Sprintf("problem: %s\nmethod: %s\ncontrib: %s", c.Problem, c.Method, c.Contrib)
}

// orderedAliases returns the full set of A1..AK aliases, for coverage
// checks (order is irrelevant to set membership).
func orderedAliases(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = aliasFor(i)
	}
	return out
}
