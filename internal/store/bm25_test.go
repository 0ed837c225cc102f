package store

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexicalCorpus(texts ...string) []LexicalDocument {
	docs := make([]LexicalDocument, len(texts))
	for i, text := range texts {
		docs[i] = LexicalDocument{PassageID: int64(i + 1), Text: text}
	}
	return docs
}

// TS01: Search before Build returns empty, not an error
func TestLexicalIndex_SearchBeforeBuild(t *testing.T) {
	// Given: a fresh index
	idx := NewLexicalIndex(DefaultBM25Config())

	// When: searching
	results, err := idx.Search(context.Background(), "fever", 10)

	// Then: empty result
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TS02: Higher term frequency ranks first; non-matching passages are absent
func TestLexicalIndex_RanksByTermFrequency(t *testing.T) {
	// Given: a corpus where passage 3 repeats the query term
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Build(lexicalCorpus("fever and cough", "broken leg", "fever fever fever"))

	// When: searching for the term
	results, err := idx.Search(context.Background(), "fever", 10)

	// Then: passage 3 outranks passage 1, passage 2 never appears
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(3), results[0].PassageID)
	assert.Equal(t, int64(1), results[1].PassageID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Greater(t, results[1].Score, 0.0)
}

// TS03: Matching is case-insensitive and ignores punctuation
func TestLexicalIndex_CaseFolding(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Build(lexicalCorpus("DIAGNOSTIC: Flu confirmed.", "other text", "more text", "unrelated"))

	results, err := idx.Search(context.Background(), "flu", 5)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].PassageID)
}

// TS04: Equal scores keep corpus insertion order
func TestLexicalIndex_TiesKeepInsertionOrder(t *testing.T) {
	// Given: two identical passages
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Build([]LexicalDocument{
		{PassageID: 42, Text: "alpha beta"},
		{PassageID: 7, Text: "alpha beta"},
		{PassageID: 9, Text: "gamma"},
		{PassageID: 3, Text: "delta"},
		{PassageID: 5, Text: "epsilon"},
	})

	// When: searching repeatedly
	for range 5 {
		results, err := idx.Search(context.Background(), "alpha", 10)
		require.NoError(t, err)

		// Then: insertion order decides, not passage id
		require.Len(t, results, 2)
		assert.Equal(t, int64(42), results[0].PassageID)
		assert.Equal(t, int64(7), results[1].PassageID)
		assert.Equal(t, results[0].Score, results[1].Score)
	}
}

// TS05: Repeated query terms contribute once per occurrence
func TestLexicalIndex_DuplicateQueryTerms(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Build(lexicalCorpus("fever and cough", "broken leg", "headache", "rash"))

	single, err := idx.Search(context.Background(), "cough", 1)
	require.NoError(t, err)
	double, err := idx.Search(context.Background(), "cough cough", 1)
	require.NoError(t, err)

	require.Len(t, single, 1)
	require.Len(t, double, 1)
	assert.InDelta(t, 2*single[0].Score, double[0].Score, 1e-9)
}

// TS06: Build replaces the previous corpus entirely
func TestLexicalIndex_BuildReplacesCorpus(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Build(lexicalCorpus("fever"))
	idx.Build([]LexicalDocument{{PassageID: 99, Text: "cough"}})

	results, err := idx.Search(context.Background(), "fever", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	stats := idx.Stats()
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, 1, stats.TermCount)
}

func TestLexicalIndex_TopKTruncates(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Build(lexicalCorpus("fever one", "fever two", "fever three", "cough", "rash", "leg"))

	results, err := idx.Search(context.Background(), "fever", 2)

	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestLexicalIndex_UnknownAndEmptyQuery(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Build(lexicalCorpus("fever", "cough"))

	results, err := idx.Search(context.Background(), "zebra", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(context.Background(), "  ,. ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLexicalIndex_CancelledContext(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Build(lexicalCorpus("fever"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Search(ctx, "fever", 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeIDF_FloorsNegativeValues(t *testing.T) {
	// Given: "common" appears in 3 of 4 documents
	docFreq := map[string]int{"common": 3, "rare": 1, "other": 1}

	// When: computing IDF
	idf := computeIDF(docFreq, 4, 0.25)

	// Then: the negative value is replaced by epsilon * mean IDF
	assert.Greater(t, idf["rare"], 0.0)
	assert.Greater(t, idf["common"], 0.0)
	assert.Less(t, idf["common"], idf["rare"])
}

func TestComputeIDF_SameInputSameBits(t *testing.T) {
	// Given: a vocabulary large enough that summation order matters
	docFreq := make(map[string]int, 500)
	for i := range 500 {
		docFreq[fmt.Sprintf("term%03d", i)] = 1 + i%97
	}

	want := computeIDF(docFreq, 100, 0.25)
	for range 50 {
		got := computeIDF(docFreq, 100, 0.25)
		for term, v := range want {
			require.Equal(t, math.Float64bits(v), math.Float64bits(got[term]), term)
		}
	}
}

func TestTokenizeLexical(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{name: "empty", input: "", expect: nil},
		{name: "punctuation", input: "Patient reports FEVER, cough.", expect: []string{"patient", "reports", "fever", "cough"}},
		{name: "accented", input: "ANAMNÈSE: fièvre", expect: []string{"anamnèse", "fièvre"}},
		{name: "numbers", input: "dose 500 mg", expect: []string{"dose", "500", "mg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, TokenizeLexical(tt.input))
		})
	}
}
