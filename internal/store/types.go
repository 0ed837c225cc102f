// Package store provides the persistence layer: the relational document and
// passage store (SQLite), the inverted-file vector index, and the in-memory
// BM25 ranker rebuilt from the passage corpus.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a document or passage does not exist.
var ErrNotFound = errors.New("not found")

// Document is the unit clients submit for indexing.
type Document struct {
	ID        int64
	Title     string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Passage is a persisted chunk of a document.
// Passages are immutable; re-indexing replaces all of a document's passages.
type Passage struct {
	ID          int64 // assigned by the store on creation
	DocumentID  int64
	Text        string
	Position    int
	SectionType string
	TokenStart  *int // nil when the section fit in one passage
	TokenEnd    *int
	Metadata    map[string]any
	CreatedAt   time.Time
}

// DocumentStore reads and writes documents.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id int64) (*Document, error)
	CountDocuments(ctx context.Context) (int, error)
}

// PassageStore persists passages.
type PassageStore interface {
	// CreatePassages inserts passages and sets their IDs.
	CreatePassages(ctx context.Context, passages []*Passage) error
	// ReplacePassages deletes a document's passages and inserts the new ones
	// in one transaction. Returns the number deleted.
	ReplacePassages(ctx context.Context, documentID int64, passages []*Passage) (int, error)
	// DeletePassagesByDocument removes all passages of a document.
	DeletePassagesByDocument(ctx context.Context, documentID int64) (int, error)
	GetPassage(ctx context.Context, id int64) (*Passage, error)
	// GetPassages returns the passages that exist, keyed by ID.
	GetPassages(ctx context.Context, ids []int64) (map[int64]*Passage, error)
	// ListPassages returns the whole corpus ordered by ID.
	ListPassages(ctx context.Context) ([]*Passage, error)
	ListPassagesByDocument(ctx context.Context, documentID int64) ([]*Passage, error)
	CountPassages(ctx context.Context) (int, error)
}

// Store is the relational-store collaborator.
type Store interface {
	DocumentStore
	PassageStore
	Close() error
}

// LexicalDocument is one entry of the BM25 corpus.
type LexicalDocument struct {
	PassageID int64
	Text      string
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	PassageID int64
	Score     float64
}

// BM25Config configures Okapi BM25 scoring.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.5)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// Epsilon floors negative IDF values at Epsilon * average IDF (default: 0.25)
	Epsilon float64
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:      1.5,
		B:       0.75,
		Epsilon: 0.25,
	}
}

// LexicalStats describes the current BM25 corpus.
type LexicalStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// IndexState is the vector index lifecycle: Uninitialized until opened,
// Untrained (exact search) until NList vectors exist, then Trained for good.
type IndexState int

const (
	StateUninitialized IndexState = iota
	StateUntrained
	StateTrained
)

// String returns the state name.
func (s IndexState) String() string {
	switch s {
	case StateUntrained:
		return "untrained"
	case StateTrained:
		return "trained"
	default:
		return "uninitialized"
	}
}

// VectorMetadata is the per-passage snapshot kept next to the vectors so
// search results can be filtered without a store round trip.
type VectorMetadata struct {
	DocumentID  int64          `json:"document_id"`
	PassageID   int64          `json:"passage_id"`
	SectionType string         `json:"section_type,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	PassageID int64
	Distance  float32 // L2, lower is more similar
	Score     float32 // 1 / (1 + Distance), in (0, 1]
	Metadata  VectorMetadata
}

// IVFConfig configures the inverted-file vector index.
type IVFConfig struct {
	// Dir holds the persisted index files. Empty keeps the index in memory.
	Dir string

	// Dimensions is the vector dimension (768 for nomic-embed-text)
	Dimensions int

	// NList is the number of partitions and the training threshold (default: 100)
	NList int

	// NProbe is how many partitions a trained search visits (default: 10)
	NProbe int

	// MaxIterations bounds k-means training (default: 25)
	MaxIterations int

	// Seed makes training deterministic
	Seed uint64

	// ReadOnly opens a lock-free snapshot of the committed generation and
	// rejects mutations
	ReadOnly bool
}

// DefaultIVFConfig returns sensible defaults for the vector index.
func DefaultIVFConfig(dir string, dimensions int) IVFConfig {
	return IVFConfig{
		Dir:           dir,
		Dimensions:    dimensions,
		NList:         100,
		NProbe:        10,
		MaxIterations: 25,
		Seed:          42,
	}
}

// VectorStats is reported by health and ops tooling.
type VectorStats struct {
	TotalVectors int
	Dimension    int
	Trained      bool
	NList        int
	NProbe       int
	State        string
	Generation   uint64
}

// VectorIndex is the approximate nearest-neighbor collaborator.
type VectorIndex interface {
	// Add inserts vectors; a passage id already present is replaced.
	Add(ctx context.Context, vectors [][]float32, passageIDs []int64, metas []VectorMetadata) error

	// Search returns up to k passages by ascending distance.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// DeleteByDocument removes every passage of a document and returns how many.
	DeleteByDocument(ctx context.Context, documentID int64) (int, error)

	// DeletePassages removes the given passages and returns how many existed.
	DeletePassages(ctx context.Context, passageIDs []int64) (int, error)

	// PassageIDs lists the indexed passage ids in ascending order.
	PassageIDs() []int64

	Stats() VectorStats
	Flush() error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
