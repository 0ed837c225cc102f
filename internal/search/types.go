// Package search provides hybrid retrieval over the passage corpus: a vector
// leg on the IVF index and a lexical leg on a BM25 ranker rebuilt per query,
// merged by weighted max-normalized score fusion.
package search

import (
	"context"
	"time"

	"github.com/Aman-CERP/docqa/internal/store"
)

// Searcher is the caller-facing retrieval contract.
type Searcher interface {
	// Search returns up to opts.TopK passages ranked by fused score.
	Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error)

	// Stats returns engine statistics.
	Stats(ctx context.Context) (*EngineStats, error)
}

// SearchOptions configures a search query.
type SearchOptions struct {
	// TopK is the maximum number of results (default: 10, max: 100).
	TopK int

	// Filters restrict results by vector-side metadata.
	Filters Filters

	// Weights overrides the default vector/lexical weights.
	Weights *Weights

	// VectorOnly skips the lexical leg and ranks by raw vector similarity.
	VectorOnly bool
}

// Filters are post-fusion metadata restrictions. Zero values match everything.
type Filters struct {
	// DocumentID keeps only passages of this document.
	DocumentID *int64

	// SectionType keeps only passages of this section (e.g. "diagnostic").
	SectionType string
}

// Active reports whether any filter is set.
func (f Filters) Active() bool {
	return f.DocumentID != nil || f.SectionType != ""
}

// Weights configures the relative importance of vector vs lexical scores.
// They need not sum to 1.
type Weights struct {
	// Vector is the weight for the normalized vector score (default: 0.7).
	Vector float64

	// Lexical is the weight for the normalized BM25 score (default: 0.3).
	Lexical float64
}

// DefaultWeights returns the default fusion weights.
func DefaultWeights() Weights {
	return Weights{
		Vector:  0.7,
		Lexical: 0.3,
	}
}

// SearchResult represents a single search result with scores and metadata.
type SearchResult struct {
	PassageID  int64
	DocumentID int64
	Text       string

	// Score is the fused score (raw vector score in vector-only mode).
	Score float64

	// VectorScore and LexicalScore are the max-normalized leg scores.
	VectorScore  float64
	LexicalScore float64

	// RawVectorScore is 1/(1+L2 distance); RawLexicalScore is the BM25 score.
	RawVectorScore  float64
	RawLexicalScore float64

	SectionType string

	// Metadata is the vector-side metadata snapshot. Lexical-only matches
	// carry none.
	Metadata map[string]any
}

// EngineStats provides statistics about the search engine.
type EngineStats struct {
	Vector     store.VectorStats
	Passages   int
	Model      string
	Dimensions int
}

// EngineConfig configures the search engine.
type EngineConfig struct {
	// DefaultTopK is used when a caller passes TopK <= 0 (default: 10).
	DefaultTopK int

	// MaxTopK caps TopK (default: 100).
	MaxTopK int

	// DefaultWeights are the default vector/lexical weights.
	DefaultWeights Weights

	// OverFetch multiplies TopK for each leg before fusion (default: 2).
	OverFetch int

	// BM25 configures lexical scoring.
	BM25 store.BM25Config

	// SearchTimeout bounds a whole search; 0 disables it.
	SearchTimeout time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		DefaultTopK:    10,
		MaxTopK:        100,
		DefaultWeights: DefaultWeights(),
		OverFetch:      2,
		BM25:           store.DefaultBM25Config(),
		SearchTimeout:  30 * time.Second,
	}
}
