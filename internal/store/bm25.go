package store

import (
	"context"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"
)

// LexicalIndex ranks passages with Okapi BM25 over an in-memory corpus.
// Build replaces the whole corpus; nothing is persisted.
type LexicalIndex struct {
	mu     sync.RWMutex
	config BM25Config

	ids      []int64
	termFreq []map[string]int
	docLens  []int
	avgDL    float64
	idf      map[string]float64
	built    bool
}

// NewLexicalIndex creates an empty index. Zero config fields take defaults.
func NewLexicalIndex(cfg BM25Config) *LexicalIndex {
	def := DefaultBM25Config()
	if cfg.K1 <= 0 {
		cfg.K1 = def.K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = def.B
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = def.Epsilon
	}
	return &LexicalIndex{config: cfg, idf: map[string]float64{}}
}

// Build replaces the corpus. Document order is the tie-break order for Search.
func (x *LexicalIndex) Build(docs []LexicalDocument) {
	ids := make([]int64, len(docs))
	termFreq := make([]map[string]int, len(docs))
	docLens := make([]int, len(docs))
	docFreq := make(map[string]int)

	var total int
	for i, d := range docs {
		terms := TokenizeLexical(d.Text)
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		for t := range tf {
			docFreq[t]++
		}
		ids[i] = d.PassageID
		termFreq[i] = tf
		docLens[i] = len(terms)
		total += len(terms)
	}

	avgDL := 0.0
	if len(docs) > 0 {
		avgDL = float64(total) / float64(len(docs))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.ids = ids
	x.termFreq = termFreq
	x.docLens = docLens
	x.avgDL = avgDL
	x.idf = computeIDF(docFreq, len(docs), x.config.Epsilon)
	x.built = true
}

// computeIDF uses ln(N-df+0.5) - ln(df+0.5); terms present in more than half
// the corpus would go negative and are floored at epsilon * mean IDF.
// Terms are summed in sorted order so the floor is identical across builds.
func computeIDF(docFreq map[string]int, n int, epsilon float64) map[string]float64 {
	idf := make(map[string]float64, len(docFreq))
	if len(docFreq) == 0 {
		return idf
	}

	var sum float64
	var negative []string
	for _, term := range slices.Sorted(maps.Keys(docFreq)) {
		df := docFreq[term]
		v := math.Log(float64(n-df)+0.5) - math.Log(float64(df)+0.5)
		idf[term] = v
		sum += v
		if v < 0 {
			negative = append(negative, term)
		}
	}

	floor := epsilon * sum / float64(len(idf))
	for _, term := range negative {
		idf[term] = floor
	}
	return idf
}

// Search returns up to topK passages containing at least one query term,
// ranked by descending score. Repeated query terms count once per occurrence.
func (x *LexicalIndex) Search(ctx context.Context, query string, topK int) ([]*BM25Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if !x.built || len(x.ids) == 0 || topK <= 0 {
		return []*BM25Result{}, nil
	}

	terms := TokenizeLexical(query)
	if len(terms) == 0 {
		return []*BM25Result{}, nil
	}

	k1, b := x.config.K1, x.config.B
	avgDL := x.avgDL
	if avgDL == 0 {
		avgDL = 1
	}

	results := make([]*BM25Result, 0, len(x.ids))
	for i, tf := range x.termFreq {
		var score float64
		matched := false
		norm := k1 * (1 - b + b*float64(x.docLens[i])/avgDL)
		for _, t := range terms {
			f := tf[t]
			if f == 0 {
				continue
			}
			matched = true
			score += x.idf[t] * (float64(f) * (k1 + 1) / (float64(f) + norm))
		}
		if matched {
			results = append(results, &BM25Result{PassageID: x.ids[i], Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Stats returns corpus statistics.
func (x *LexicalIndex) Stats() LexicalStats {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return LexicalStats{
		DocumentCount: len(x.ids),
		TermCount:     len(x.idf),
		AvgDocLength:  x.avgDL,
	}
}
