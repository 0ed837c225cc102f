package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docqa/internal/embed"
	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
	"github.com/Aman-CERP/docqa/internal/store"
)

// Engine is the retrieval orchestrator.
type Engine struct {
	vector   store.VectorIndex
	passages store.PassageStore
	embedder embed.Embedder
	config   EngineConfig
}

// Ensure Engine implements Searcher interface.
var _ Searcher = (*Engine)(nil)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// NewEngine creates a search engine. Returns an error if any dependency is nil.
// Zero config fields take their DefaultConfig values.
func NewEngine(
	vector store.VectorIndex,
	passages store.PassageStore,
	embedder embed.Embedder,
	config EngineConfig,
) (*Engine, error) {
	if vector == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if passages == nil {
		return nil, fmt.Errorf("%w: passage store is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}

	def := DefaultConfig()
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = def.DefaultTopK
	}
	if config.MaxTopK <= 0 {
		config.MaxTopK = def.MaxTopK
	}
	if config.OverFetch <= 0 {
		config.OverFetch = def.OverFetch
	}
	if config.DefaultWeights == (Weights{}) {
		config.DefaultWeights = def.DefaultWeights
	}

	return &Engine{
		vector:   vector,
		passages: passages,
		embedder: embedder,
		config:   config,
	}, nil
}

// Search embeds the query, runs the vector and lexical legs concurrently
// with TopK*OverFetch candidates each, fuses, filters, truncates and
// enriches with passage text. An empty lexical corpus degrades to vector
// ranking with the lexical contribution zeroed; any leg failure fails the call.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, docqaerrors.New(docqaerrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}

	opts, err := e.applyDefaults(opts)
	if err != nil {
		return nil, err
	}

	if e.config.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.SearchTimeout)
		defer cancel()
	}

	fetch := opts.TopK * e.config.OverFetch

	var fused []*FusedResult
	var vecCount, lexCount int
	if opts.VectorOnly {
		vecResults, err := e.vectorSearch(ctx, query, fetch)
		if err != nil {
			return nil, searchFailed(err)
		}
		vecCount = len(vecResults)
		fused = NewWeightedFusion(Weights{Vector: 1}).Fuse(vecResults, nil)
		for _, f := range fused {
			f.Score = f.RawVector
		}
	} else {
		vecResults, lexResults, err := e.parallelSearch(ctx, query, fetch)
		if err != nil {
			return nil, searchFailed(err)
		}
		vecCount, lexCount = len(vecResults), len(lexResults)
		fused = NewWeightedFusion(*opts.Weights).Fuse(vecResults, lexResults)
	}

	filtered := ApplyFilters(fused, opts.Filters)

	results, err := e.enrichResults(ctx, filtered, opts.TopK)
	if err != nil {
		return nil, searchFailed(err)
	}

	slog.Debug("search_completed",
		slog.String("query", embed.Truncate(query, 80)),
		slog.Bool("vector_only", opts.VectorOnly),
		slog.Int("vector_candidates", vecCount),
		slog.Int("lexical_candidates", lexCount),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))

	return results, nil
}

// applyDefaults fills in default values for search options.
func (e *Engine) applyDefaults(opts SearchOptions) (SearchOptions, error) {
	if opts.TopK <= 0 {
		opts.TopK = e.config.DefaultTopK
	}
	if opts.TopK > e.config.MaxTopK {
		opts.TopK = e.config.MaxTopK
	}

	if opts.Weights == nil {
		w := e.config.DefaultWeights
		opts.Weights = &w
	}
	if opts.Weights.Vector < 0 || opts.Weights.Lexical < 0 {
		return opts, docqaerrors.ValidationError(
			fmt.Sprintf("weights must be non-negative, got vector=%g lexical=%g",
				opts.Weights.Vector, opts.Weights.Lexical), nil)
	}
	return opts, nil
}

// parallelSearch executes both legs concurrently. The first failure cancels
// the other leg.
func (e *Engine) parallelSearch(ctx context.Context, query string, limit int) (
	vecResults []*store.VectorResult,
	lexResults []*store.BM25Result,
	err error,
) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var searchErr error
		vecResults, searchErr = e.vectorSearch(gctx, query, limit)
		return searchErr
	})

	g.Go(func() error {
		var searchErr error
		lexResults, searchErr = e.lexicalSearch(gctx, query, limit)
		return searchErr
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vecResults, lexResults, nil
}

func (e *Engine) vectorSearch(ctx context.Context, query string, limit int) ([]*store.VectorResult, error) {
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := e.vector.Search(ctx, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return results, nil
}

// lexicalSearch rebuilds a BM25 index from the current passage corpus and
// queries it. The index is local to this call, so the build and the query
// always see the same snapshot; the cost is one full corpus scan per search.
func (e *Engine) lexicalSearch(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	passages, err := e.passages.ListPassages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load lexical corpus: %w", err)
	}

	docs := make([]store.LexicalDocument, len(passages))
	for i, p := range passages {
		docs[i] = store.LexicalDocument{PassageID: p.ID, Text: p.Text}
	}

	idx := store.NewLexicalIndex(e.config.BM25)
	idx.Build(docs)

	results, err := idx.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return results, nil
}

// enrichResults fetches passage text in one batch and returns at most topK
// results in fused order. Passages deleted since the legs ran are skipped.
func (e *Engine) enrichResults(ctx context.Context, fused []*FusedResult, topK int) ([]*SearchResult, error) {
	if len(fused) == 0 {
		return []*SearchResult{}, nil
	}

	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.PassageID
	}

	passages, err := e.passages.GetPassages(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]*SearchResult, 0, min(topK, len(fused)))
	for _, f := range fused {
		if len(results) == topK {
			break
		}
		p, ok := passages[f.PassageID]
		if !ok {
			continue
		}

		result := &SearchResult{
			PassageID:       f.PassageID,
			DocumentID:      p.DocumentID,
			Text:            p.Text,
			Score:           f.Score,
			VectorScore:     f.VectorScore,
			LexicalScore:    f.LexicalScore,
			RawVectorScore:  f.RawVector,
			RawLexicalScore: f.RawLexical,
			SectionType:     p.SectionType,
			Metadata:        map[string]any{},
		}
		if f.HasVector {
			for k, v := range f.Metadata.Fields {
				result.Metadata[k] = v
			}
			result.Metadata["document_id"] = f.Metadata.DocumentID
			if f.Metadata.SectionType != "" {
				result.Metadata["section_type"] = f.Metadata.SectionType
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// Stats returns engine statistics.
func (e *Engine) Stats(ctx context.Context) (*EngineStats, error) {
	count, err := e.passages.CountPassages(ctx)
	if err != nil {
		return nil, err
	}
	return &EngineStats{
		Vector:     e.vector.Stats(),
		Passages:   count,
		Model:      e.embedder.ModelName(),
		Dimensions: e.embedder.Dimensions(),
	}, nil
}

// searchFailed keeps structured errors as they are and wraps the rest.
func searchFailed(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if _, ok := docqaerrors.As(err); ok {
		return err
	}
	return docqaerrors.New(docqaerrors.ErrCodeSearchFailed, "search failed", err)
}
