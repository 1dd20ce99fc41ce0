package recall

import "idea2paper/internal/types"

// Result is one fused Pattern recommendation, carrying both the final
// fused score and each path's contribution for audit/debugging.
type Result struct {
	PatternID types.PatternId
	Final     float64
	Path1     float64
	Path2     float64
	Path3     float64
}

// IdeaContribution records one surviving idea's contribution to Path 1.
type IdeaContribution struct {
	IdeaID     types.IdeaId
	Similarity float64
}

// Path1Audit is the audit trail for the Similar-Idea path.
type Path1Audit struct {
	TopIdeas      []IdeaContribution
	DegradedToJaccard bool // true when embedding failed and fine stage fell back to Jaccard
}

// DomainMatch records one Domain's cosine similarity to the query and
// any sub-domain match within it.
type DomainMatch struct {
	DomainID      types.DomainId
	Similarity    float64
	TopSubDomain  string
	SubDomainSim  float64
}

// Path2Audit is the audit trail for the Domain path.
type Path2Audit struct {
	TopDomains        []DomainMatch
	DegradedToJaccard bool
}

// PaperContribution records one surviving paper's contribution to Path 3.
type PaperContribution struct {
	PaperID    types.PaperId
	Similarity float64
	Quality    float64
}

// Path3Audit is the audit trail for the Similar-Paper path.
type Path3Audit struct {
	TopPapers         []PaperContribution
	DegradedToJaccard bool
}

// FinalEntry is one row of the fused top-K audit.
type FinalEntry struct {
	PatternID types.PatternId
	Final     float64
	Path1     float64
	Path2     float64
	Path3     float64
}

// Audit is the complete recall() audit trail (spec.md §4.1).
type Audit struct {
	Path1     Path1Audit
	Path2     Path2Audit
	Path3     Path3Audit
	FinalTopK []FinalEntry

	// Reason is set, and FinalTopK left empty, when recall() returns no
	// candidates at all.
	Reason string
}
