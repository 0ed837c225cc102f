package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Aman-CERP/docqa/internal/chunk"
	"github.com/Aman-CERP/docqa/internal/config"
	"github.com/Aman-CERP/docqa/internal/embed"
	"github.com/Aman-CERP/docqa/internal/index"
	"github.com/Aman-CERP/docqa/internal/ingest"
	"github.com/Aman-CERP/docqa/internal/search"
	"github.com/Aman-CERP/docqa/internal/store"
)

// app holds the components one command works with.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	vector   *store.IVFIndex
	embedder embed.Embedder // nil when opened without one
	indexer  *index.Indexer
	engine   *search.Engine
}

type appOptions struct {
	// readOnly opens a snapshot of the vector index without its lock.
	readOnly bool
	// embedder builds the embedder, indexer and search engine.
	embedder bool
	// lazyEmbedder defers connecting to the embedding backend until
	// something is embedded.
	lazyEmbedder bool
}

func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}

	s, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = s

	ivfCfg := store.DefaultIVFConfig(cfg.Vector.Dir, cfg.Vector.Dimensions)
	ivfCfg.NList = cfg.Vector.NList
	ivfCfg.NProbe = cfg.Vector.NProbe
	ivfCfg.ReadOnly = opts.readOnly
	v, err := store.OpenIVFIndex(ivfCfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.vector = v

	if !opts.embedder {
		return a, nil
	}

	provider, err := embed.ParseProvider(cfg.Embeddings.Provider)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	embedCfg := embed.Config{
		Provider:   provider,
		Host:       cfg.Embeddings.OllamaHost,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Vector.Dimensions,
		MaxChars:   cfg.Embeddings.MaxChars,
		BatchSize:  cfg.Embeddings.BatchSize,
		Timeout:    cfg.Embeddings.Timeout,
		CacheSize:  cfg.Embeddings.CacheSize,
	}
	var e embed.Embedder
	if opts.lazyEmbedder {
		e = embed.NewLazyFromConfig(embedCfg)
	} else if e, err = embed.NewEmbedder(ctx, embedCfg); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.embedder = e

	chunker, err := chunk.NewSectionChunker(chunk.Options{
		ChunkSize:    cfg.Chunking.ChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.indexer, err = index.NewIndexer(index.Dependencies{Store: s, Vector: v, Embedder: e, Chunker: chunker})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	engineCfg := search.DefaultConfig()
	engineCfg.DefaultTopK = cfg.Search.DefaultTopK
	engineCfg.MaxTopK = cfg.Search.MaxTopK
	engineCfg.DefaultWeights = search.Weights{Vector: cfg.Search.VectorWeight, Lexical: cfg.Search.LexicalWeight}
	engineCfg.BM25.K1 = cfg.Search.K1
	engineCfg.BM25.B = cfg.Search.B
	a.engine, err = search.NewEngine(v, s, e, engineCfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases everything that was opened.
func (a *app) Close() error {
	var errs []error
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.vector != nil {
		errs = append(errs, a.vector.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

func (a *app) checker() *index.ConsistencyChecker {
	return index.NewConsistencyChecker(a.store, a.vector)
}

func amqpConfig(cfg *config.Config) ingest.AMQPConfig {
	return ingest.AMQPConfig{
		URL:       cfg.Queue.URL,
		Queue:     cfg.Queue.Name,
		QueueType: strings.ToLower(cfg.Queue.Type),
		Prefetch:  cfg.Queue.Prefetch,
	}
}
