// Package vectorindex provides the offline ANN index over Ideas,
// Papers, and the novelty corpus (C3). The index is built once (or
// loaded from a persisted artifact directory) and then queried
// read-only by the Novelty Checker (C10). The Recall Engine (C4) does
// not query it; it scores its candidates through the embedding gateway.
package vectorindex

import "context"

// Item is one embeddable unit stored in a collection: an Idea, a
// Paper, or a novelty-corpus paper, keyed by its KG node ID.
type Item struct {
	ID       string
	Text     string // the text actually embedded (title, description, ...)
	Metadata map[string]string
}

// SearchResult is one ANN hit.
type SearchResult struct {
	ID         string
	Similarity float64 // cosine similarity in [-1,1], higher is closer
	Metadata   map[string]string
}

// VectorIndex is the read/write contract the engine depends on.
// Collections partition the index by corpus (spec.md's "Ideas / Papers
// / Novelty corpus"); callers name them explicitly.
type VectorIndex interface {
	// Build embeds and stores items under collection using model,
	// creating the collection if absent. Safe to call once at setup
	// time; the engine itself never mutates the index at run time
	// (spec.md §1 out-of-scope: index construction tooling), except
	// where INDEX_ALLOW_BUILD explicitly opts in for local dry runs.
	Build(ctx context.Context, collection string, items []Item, model string) error

	// Search returns the top-k nearest neighbors to queryVec within
	// collection, ordered by descending similarity.
	Search(ctx context.Context, collection string, queryVec []float32, k int) ([]SearchResult, error)

	// HasCollection reports whether collection already exists, so
	// callers can skip a redundant Build.
	HasCollection(collection string) bool
}

const (
	// CollectionIdeas holds Idea description embeddings.
	CollectionIdeas = "ideas"
	// CollectionPapers holds Paper title embeddings.
	CollectionPapers = "papers"
	// CollectionNovelty holds recent-conference Paper embeddings scanned
	// by the Novelty Checker (C10).
	CollectionNovelty = "novelty"
)
