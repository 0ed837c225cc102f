package search

import (
	"sort"

	"github.com/Aman-CERP/docqa/internal/store"
)

// FusedResult represents a single result after weighted fusion.
type FusedResult struct {
	PassageID    int64
	Score        float64 // w_v * VectorScore + w_l * LexicalScore
	VectorScore  float64 // normalized by the vector leg's max
	LexicalScore float64 // normalized by the lexical leg's max
	RawVector    float64
	RawLexical   float64
	HasVector    bool
	HasLexical   bool
	Metadata     store.VectorMetadata // zero value for lexical-only results
}

// WeightedFusion combines vector and lexical rankings by weighted
// max-normalized scores.
//
// Algorithm: fused(d) = w_v * V(d)/max(V) + w_l * L(d)/max(L)
//
// A leg whose map is empty or whose max is <= 0 contributes 0 to every result.
type WeightedFusion struct {
	Weights Weights
}

// NewWeightedFusion creates a fusion with the given weights.
func NewWeightedFusion(w Weights) *WeightedFusion {
	return &WeightedFusion{Weights: w}
}

// Fuse merges both result lists. Results are sorted by Score (desc), then
// PassageID (asc).
func (f *WeightedFusion) Fuse(vec []*store.VectorResult, lex []*store.BM25Result) []*FusedResult {
	if len(vec) == 0 && len(lex) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[int64]*FusedResult, len(vec)+len(lex))

	vecMax := 0.0
	for _, r := range vec {
		vecMax = max(vecMax, float64(r.Score))
	}
	for _, r := range vec {
		result := getOrCreate(scores, r.PassageID)
		// Duplicate ids keep the first (best ranked) entry.
		if result.HasVector {
			continue
		}
		result.HasVector = true
		result.RawVector = float64(r.Score)
		result.VectorScore = normalizeByMax(result.RawVector, vecMax)
		result.Metadata = r.Metadata
	}

	lexMax := 0.0
	for _, r := range lex {
		lexMax = max(lexMax, r.Score)
	}
	for _, r := range lex {
		result := getOrCreate(scores, r.PassageID)
		if result.HasLexical {
			continue
		}
		result.HasLexical = true
		result.RawLexical = r.Score
		result.LexicalScore = normalizeByMax(result.RawLexical, lexMax)
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		r.Score = f.Weights.Vector*r.VectorScore + f.Weights.Lexical*r.LexicalScore
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].PassageID < results[j].PassageID
	})
	return results
}

func getOrCreate(m map[int64]*FusedResult, id int64) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{PassageID: id}
	m[id] = r
	return r
}

// normalizeByMax divides by the leg maximum; a non-positive maximum yields 0.
func normalizeByMax(score, maxScore float64) float64 {
	if maxScore <= 0 {
		return 0
	}
	return score / maxScore
}
