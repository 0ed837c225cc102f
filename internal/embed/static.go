package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings using a hash-based approach.
// Works without external dependencies (no network, no model download).
// Provides deterministic, fast embeddings with reduced semantic quality.
type StaticEmbedder struct {
	dims     int
	maxChars int

	mu     sync.RWMutex
	closed bool
}

// Weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// NewStaticEmbedder creates a static embedder producing dims-sized vectors.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &StaticEmbedder{dims: dims, maxChars: DefaultMaxChars}
}

// Embed generates embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(Truncate(text, e.maxChars))
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

// generateVector hashes words (weight 0.7) and character trigrams (weight 0.3)
// into buckets.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dims)

	for _, token := range tokenize(text) {
		vector[hashToIndex(token, e.dims)] += tokenWeight
	}
	for _, ngram := range extractNgrams(normalizeForNgrams(text), ngramSize) {
		vector[hashToIndex(ngram, e.dims)] += ngramWeight
	}
	return vector
}

// tokenize splits text into lowercase letter/digit runs.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalizeForNgrams keeps only lowercase letters and digits.
func normalizeForNgrams(text string) []rune {
	var result []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result = append(result, r)
		}
	}
	return result
}

// extractNgrams extracts n-rune sliding windows.
func extractNgrams(runes []rune, n int) []string {
	if len(runes) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return fmt.Sprintf("static-%d", e.dims)
}

// Available checks if the embedder is ready (always true for static).
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
