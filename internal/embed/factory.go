package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API (default)
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings; no server, reduced quality
	ProviderStatic ProviderType = "static"
)

// ParseProvider converts a provider name to ProviderType.
// Empty means ProviderOllama.
func ParseProvider(name string) (ProviderType, error) {
	switch ProviderType(strings.ToLower(strings.TrimSpace(name))) {
	case "", ProviderOllama:
		return ProviderOllama, nil
	case ProviderStatic:
		return ProviderStatic, nil
	default:
		return "", fmt.Errorf("unknown embedding provider %q (want ollama or static)", name)
	}
}

// Config selects and configures an embedder.
type Config struct {
	Provider   ProviderType
	Host       string
	Model      string
	Dimensions int // 0 = detect (ollama) or DefaultDimensions (static)
	MaxChars   int
	BatchSize  int
	Timeout    time.Duration
	// CacheSize bounds the LRU cache in front of the embedder.
	// 0 means DefaultEmbeddingCacheSize, negative disables the cache.
	CacheSize int
}

// NewEmbedder creates the configured embedder wrapped in a CachedEmbedder.
//
// There is no silent fallback: if Ollama is selected and unreachable the
// error is returned, because mixing static and model vectors in one index
// makes every search result meaningless.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch cfg.Provider {
	case "", ProviderOllama:
		oc := DefaultOllamaConfig()
		if cfg.Host != "" {
			oc.Host = cfg.Host
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		oc.Dimensions = cfg.Dimensions
		if cfg.MaxChars != 0 {
			oc.MaxChars = cfg.MaxChars
		}
		if cfg.BatchSize > 0 {
			oc.BatchSize = cfg.BatchSize
		}
		if cfg.Timeout > 0 {
			oc.Timeout = cfg.Timeout
		}
		embedder, err = NewOllamaEmbedder(ctx, oc)
	case ProviderStatic:
		embedder = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Dimensions > 0 && embedder.Dimensions() != cfg.Dimensions {
		_ = embedder.Close()
		return nil, fmt.Errorf("embedder %s produces %d dimensions, configured %d",
			embedder.ModelName(), embedder.Dimensions(), cfg.Dimensions)
	}

	slog.Info("embedder_selected",
		slog.String("provider", string(cfg.Provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	if cfg.CacheSize < 0 {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, cfg.CacheSize), nil
}
