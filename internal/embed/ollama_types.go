package embed

import "time"

// Ollama API constants
const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a multilingual general-text embedding model (768 dims)
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout for initial health check
	OllamaConnectTimeout = 10 * time.Second

	// OllamaPoolSize for connection pool
	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order if primary model unavailable.
var FallbackOllamaModels = []string{
	"mxbai-embed-large",
	"all-minilm",
}

// OllamaConfig configures the Ollama embedder
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434)
	Host string

	// Model is the embedding model to use (default: nomic-embed-text)
	Model string

	// FallbackModels are tried in order if primary model unavailable
	FallbackModels []string

	// Dimensions can be set to override auto-detection (0 = auto-detect)
	Dimensions int

	// BatchSize for batch embedding requests (default: 32)
	BatchSize int

	// MaxChars truncates each input before it is sent (default: 1500)
	MaxChars int

	// Timeout for a single API request (default: 60s)
	Timeout time.Duration

	// ConnectTimeout for initial health check (default: 10s)
	ConnectTimeout time.Duration

	// MaxRetries for transient failures (default: 3)
	MaxRetries int

	// RetryDelay is the first backoff delay (default: 500ms)
	RetryDelay time.Duration

	// PoolSize for HTTP connection pool (default: 4)
	PoolSize int

	// BreakerFailures is how many failed calls in a row open the circuit (default: 5)
	BreakerFailures int

	// BreakerReset is how long the circuit stays open (default: 30s)
	BreakerReset time.Duration

	// SkipHealthCheck skips initial Ollama availability check (for testing)
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns sensible defaults
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:            DefaultOllamaHost,
		Model:           DefaultOllamaModel,
		FallbackModels:  FallbackOllamaModels,
		Dimensions:      0, // Auto-detect
		BatchSize:       DefaultBatchSize,
		MaxChars:        DefaultMaxChars,
		Timeout:         DefaultTimeout,
		ConnectTimeout:  OllamaConnectTimeout,
		MaxRetries:      DefaultMaxRetries,
		RetryDelay:      500 * time.Millisecond,
		PoolSize:        OllamaPoolSize,
		BreakerFailures: 5,
		BreakerReset:    30 * time.Second,
	}
}

// OllamaEmbedRequest is the Ollama /api/embed request
type OllamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string for batch
}

// OllamaEmbedResponse is the Ollama /api/embed response
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaModelListResponse is the Ollama /api/tags response
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// OllamaModelInfo describes an installed model
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
