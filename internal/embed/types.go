// Package embed provides the embedding collaborator: text in, fixed-dimension
// L2-normalized vectors out.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embedding request
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts
	DefaultMaxRetries = 3

	// DefaultDimensions is the embedding dimension of nomic-embed-text
	DefaultDimensions = 768

	// DefaultMaxChars caps input length; longer text is cut before embedding
	DefaultMaxChars = 1500
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// Truncate cuts text to at most maxChars runes. maxChars <= 0 disables the cap.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i]
		}
		n++
	}
	return text
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
