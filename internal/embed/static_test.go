package embed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// TS01: Basic Embedding
// ============================================================================

func TestStaticEmbedder_Embed_ReturnsConfiguredDimensions(t *testing.T) {
	tests := []struct {
		name string
		dims int
		want int
	}{
		{"explicit", 64, 64},
		{"default", 0, DefaultDimensions},
		{"negative falls back", -5, DefaultDimensions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := NewStaticEmbedder(tt.dims)
			defer func() { _ = embedder.Close() }()

			embedding, err := embedder.Embed(context.Background(), "patient reports fever")

			require.NoError(t, err)
			assert.Len(t, embedding, tt.want)
			assert.Equal(t, tt.want, embedder.Dimensions())
		})
	}
}

func TestStaticEmbedder_Embed_VectorIsNormalized(t *testing.T) {
	embedder := NewStaticEmbedder(128)
	defer func() { _ = embedder.Close() }()

	embedding, err := embedder.Embed(context.Background(), "DIAGNOSTIC: grippe confirmée")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.001, "vector should be normalized to unit length")
}

// ============================================================================
// TS02: Deterministic Output
// ============================================================================

func TestStaticEmbedder_Embed_DeterministicAcrossInstances(t *testing.T) {
	// Given: two separate embedder instances
	embedder1 := NewStaticEmbedder(256)
	embedder2 := NewStaticEmbedder(256)
	defer func() { _ = embedder1.Close() }()
	defer func() { _ = embedder2.Close() }()

	text := "Traitement: paracétamol 1g trois fois par jour"

	// When: I embed same text with different instances
	emb1, err1 := embedder1.Embed(context.Background(), text)
	emb2, err2 := embedder2.Embed(context.Background(), text)

	// Then: identical vectors are returned
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, emb1, emb2)
}

func TestStaticEmbedder_Embed_CaseInsensitive(t *testing.T) {
	embedder := NewStaticEmbedder(256)
	defer func() { _ = embedder.Close() }()

	upper, _ := embedder.Embed(context.Background(), "ANAMNÈSE FIÈVRE")
	lower, _ := embedder.Embed(context.Background(), "anamnèse fièvre")

	assert.Equal(t, upper, lower)
}

// ============================================================================
// TS03: Empty Input
// ============================================================================

func TestStaticEmbedder_Embed_BlankInput_ReturnsZeroVector(t *testing.T) {
	embedder := NewStaticEmbedder(32)
	defer func() { _ = embedder.Close() }()

	for _, text := range []string{"", "   \t\n  "} {
		embedding, err := embedder.Embed(context.Background(), text)

		require.NoError(t, err)
		assert.Len(t, embedding, 32)
		assert.Zero(t, vectorMagnitude(embedding))
	}
}

// ============================================================================
// TS04: Similar Text Has Higher Similarity
// ============================================================================

func TestStaticEmbedder_SimilarText_HasHigherSimilarity(t *testing.T) {
	embedder := NewStaticEmbedder(DefaultDimensions)
	defer func() { _ = embedder.Close() }()

	fever := "patient reports high fever and chills"
	feverAgain := "patient reports fever with chills"
	fracture := "open fracture of the left femur"

	feverEmb, _ := embedder.Embed(context.Background(), fever)
	againEmb, _ := embedder.Embed(context.Background(), feverAgain)
	fractureEmb, _ := embedder.Embed(context.Background(), fracture)

	close := cosineSimilarity(feverEmb, againEmb)
	far := cosineSimilarity(feverEmb, fractureEmb)
	assert.Greater(t, close, far,
		"overlapping text should be closer (%.4f) than unrelated text (%.4f)", close, far)
}

// ============================================================================
// TS05: Truncation
// ============================================================================

func TestStaticEmbedder_Embed_TruncatesLongInput(t *testing.T) {
	embedder := NewStaticEmbedder(128)
	defer func() { _ = embedder.Close() }()

	head := strings.Repeat("a", DefaultMaxChars)
	long, err := embedder.Embed(context.Background(), head+" tail words never seen")
	require.NoError(t, err)
	capped, err := embedder.Embed(context.Background(), head)
	require.NoError(t, err)

	assert.Equal(t, capped, long, "text past the character cap must not affect the vector")
}

// ============================================================================
// TS06: Batch
// ============================================================================

func TestStaticEmbedder_EmbedBatch_MatchesSingleEmbeds(t *testing.T) {
	embedder := NewStaticEmbedder(64)
	defer func() { _ = embedder.Close() }()
	ctx := context.Background()

	texts := []string{"first passage", "", "third passage"}
	batch, err := embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestStaticEmbedder_EmbedBatch_EmptyList_ReturnsEmpty(t *testing.T) {
	embedder := NewStaticEmbedder(64)
	defer func() { _ = embedder.Close() }()

	batch, err := embedder.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, batch)
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestStaticEmbedder_ModelName_IncludesDimensions(t *testing.T) {
	embedder := NewStaticEmbedder(384)
	assert.Equal(t, "static-384", embedder.ModelName())
}

func TestStaticEmbedder_Close(t *testing.T) {
	embedder := NewStaticEmbedder(16)
	assert.True(t, embedder.Available(context.Background()))

	assert.NoError(t, embedder.Close())
	assert.NoError(t, embedder.Close(), "close should be idempotent")

	_, err := embedder.Embed(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
	assert.False(t, embedder.Available(context.Background()))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     string
	}{
		{"under cap", "fever", 10, "fever"},
		{"exact cap", "fever", 5, "fever"},
		{"ascii cut", "fever", 3, "fev"},
		{"multibyte cut on rune boundary", "fièvre", 3, "fiè"},
		{"disabled", "fever", 0, "fever"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.text, tt.maxChars))
		})
	}
}
