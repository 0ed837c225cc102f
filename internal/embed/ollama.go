package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
)

// OllamaEmbedder generates embeddings using Ollama's HTTP API
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport // Store for connection cleanup
	config    OllamaConfig
	modelName string
	dims      int
	breaker   *docqaerrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates a new Ollama embedder. Unless SkipHealthCheck is
// set it resolves an installed model and detects its dimension up front.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	def := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = def.FallbackModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	cfg.BatchSize = min(cfg.BatchSize, MaxBatchSize)
	if cfg.MaxChars == 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = def.BreakerReset
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}

	// No http.Client.Timeout: it would override the per-attempt context deadline.
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
		breaker: docqaerrors.NewCircuitBreaker("ollama",
			docqaerrors.WithMaxFailures(cfg.BreakerFailures),
			docqaerrors.WithResetTimeout(cfg.BreakerReset)),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout+cfg.Timeout)
		defer cancel()

		modelName, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, docqaerrors.TransientError(docqaerrors.ErrCodeModelUnavailable,
				"failed to connect to Ollama or find model", err).
				WithDetail("host", cfg.Host).
				WithSuggestion(fmt.Sprintf("run 'ollama pull %s' and make sure Ollama is running", cfg.Model))
		}
		e.modelName = modelName

		if cfg.Dimensions == 0 {
			vecs, err := e.doEmbed(checkCtx, []string{"dimension detection"})
			if err != nil {
				transport.CloseIdleConnections()
				return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
			}
			e.dims = len(vecs[0])
		}
	}

	if e.dims == 0 {
		e.dims = DefaultDimensions
	}

	slog.Debug("ollama_embedder_ready",
		slog.String("host", cfg.Host),
		slog.String("model", e.modelName),
		slog.Int("dimensions", e.dims))
	return e, nil
}

// listModels gets available models from Ollama
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
}

// findAvailableModel resolves the configured model, then the fallbacks,
// matching either the full "name:tag" or the bare name.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string) // normalized -> actual
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base := strings.Split(name, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = m.Name
		}
	}

	candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
	for _, c := range candidates {
		name := strings.ToLower(c)
		if actual, ok := available[name]; ok {
			return actual, nil
		}
		if actual, ok := available[strings.Split(name, ":")[0]]; ok {
			return actual, nil
		}
	}

	return "", fmt.Errorf("no embedding model available (tried %s and %v)", e.config.Model, e.config.FallbackModels)
}

// Embed generates embedding for a single text. Blank text yields a zero vector.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}

	embeddings, err := e.embedGuarded(ctx, []string{Truncate(text, e.config.MaxChars)})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts using Ollama's batch API
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, Truncate(text, e.config.MaxChars)})
		}
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+e.config.BatchSize, len(nonEmpty))
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := e.embedGuarded(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	return results, nil
}

// embedGuarded runs the retry loop behind the circuit breaker, so a dead
// server costs one fast failure per call once the circuit opens.
func (e *OllamaEmbedder) embedGuarded(ctx context.Context, texts []string) ([][]float32, error) {
	retryCfg := docqaerrors.RetryConfig{
		MaxRetries:   e.config.MaxRetries,
		InitialDelay: e.config.RetryDelay,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryIf:      docqaerrors.IsRetryable,
	}

	embeddings, err := docqaerrors.CircuitExecute(e.breaker, func() ([][]float32, error) {
		attempt := 0
		return docqaerrors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
			attempt++
			attemptCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()

			vecs, err := e.doEmbed(attemptCtx, texts)
			if err != nil {
				slog.Debug("embedding_attempt_failed",
					slog.Int("attempt", attempt),
					slog.Int("texts_count", len(texts)),
					slog.String("error", err.Error()))
			}
			return vecs, err
		})
	})
	if errors.Is(err, docqaerrors.ErrCircuitOpen) {
		return nil, docqaerrors.TransientError(docqaerrors.ErrCodeModelUnavailable,
			"embedding server is failing, circuit open", err)
	}
	if err != nil {
		if _, ok := docqaerrors.As(err); ok {
			return nil, err
		}
		return nil, docqaerrors.New(docqaerrors.ErrCodeEmbeddingFailed, "embedding request failed", err)
	}
	return embeddings, nil
}

// doEmbed performs a single /api/embed request. Connection failures and 5xx
// responses are retryable; other statuses are not.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(OllamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, docqaerrors.TransientError(docqaerrors.ErrCodeNetworkTimeout, "embedding request timed out", err)
		}
		return nil, docqaerrors.TransientError(docqaerrors.ErrCodeNetworkUnavailable, "cannot reach Ollama", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("embedding failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode >= 500 {
			return nil, docqaerrors.TransientError(docqaerrors.ErrCodeModelUnavailable, msg, nil)
		}
		return nil, docqaerrors.New(docqaerrors.ErrCodeEmbeddingFailed, msg, nil)
	}

	var apiResult OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, docqaerrors.New(docqaerrors.ErrCodeEmbeddingFailed, "failed to decode embedding response", err)
	}
	if len(apiResult.Embeddings) != len(texts) {
		return nil, docqaerrors.New(docqaerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(apiResult.Embeddings)), nil)
	}

	embeddings := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		if e.dims > 0 && len(emb) != e.dims {
			return nil, docqaerrors.New(docqaerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("model returned %d dimensions, expected %d", len(emb), e.dims), nil)
		}
		embedding := make([]float32, len(emb))
		for j, v := range emb {
			embedding[j] = float32(v)
		}
		embeddings[i] = normalizeVector(embedding)
	}
	return embeddings, nil
}

func (e *OllamaEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// Dimensions returns the embedding dimension
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier
func (e *OllamaEmbedder) ModelName() string {
	return e.modelName
}

// BreakerState reports the circuit breaker state for health output.
func (e *OllamaEmbedder) BreakerState() docqaerrors.State {
	return e.breaker.State()
}

// Available checks if Ollama is running and model is available
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.checkOpen() != nil {
		return false
	}

	models, err := e.listModels(ctx)
	if err != nil {
		return false
	}

	modelLower := strings.ToLower(e.modelName)
	for _, m := range models {
		if strings.Contains(strings.ToLower(m.Name), modelLower) ||
			strings.Contains(modelLower, strings.ToLower(m.Name)) {
			return true
		}
	}
	return false
}

// Close releases resources
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
