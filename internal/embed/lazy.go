package embed

import (
	"context"
	"sync"
)

// LazyEmbedder defers building its embedder until text is first embedded.
// Commands that may never embed, such as deleting a document, can then run
// while the model server is down. A failed build is retried on the next call.
type LazyEmbedder struct {
	build      func(ctx context.Context) (Embedder, error)
	dimensions int
	model      string

	mu    sync.Mutex
	inner Embedder
}

// NewLazyEmbedder wraps build. dimensions and model are reported until the
// embedder exists.
func NewLazyEmbedder(build func(ctx context.Context) (Embedder, error), dimensions int, model string) *LazyEmbedder {
	return &LazyEmbedder{build: build, dimensions: dimensions, model: model}
}

// NewLazyFromConfig defers NewEmbedder(ctx, cfg).
func NewLazyFromConfig(cfg Config) *LazyEmbedder {
	return NewLazyEmbedder(func(ctx context.Context) (Embedder, error) {
		return NewEmbedder(ctx, cfg)
	}, cfg.Dimensions, cfg.Model)
}

func (l *LazyEmbedder) get(ctx context.Context) (Embedder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inner != nil {
		return l.inner, nil
	}
	e, err := l.build(ctx)
	if err != nil {
		return nil, err
	}
	l.inner = e
	return e, nil
}

func (l *LazyEmbedder) built() Embedder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner
}

// Embed builds the embedder if needed and embeds text.
func (l *LazyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

// EmbedBatch builds the embedder if needed and embeds texts.
func (l *LazyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}

func (l *LazyEmbedder) Dimensions() int {
	if e := l.built(); e != nil {
		return e.Dimensions()
	}
	return l.dimensions
}

func (l *LazyEmbedder) ModelName() string {
	if e := l.built(); e != nil {
		return e.ModelName()
	}
	return l.model
}

// Available builds the embedder if needed and reports whether it is ready.
func (l *LazyEmbedder) Available(ctx context.Context) bool {
	e, err := l.get(ctx)
	if err != nil {
		return false
	}
	return e.Available(ctx)
}

// Close closes the embedder if it was built.
func (l *LazyEmbedder) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inner == nil {
		return nil
	}
	err := l.inner.Close()
	l.inner = nil
	return err
}
