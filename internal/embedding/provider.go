// Package embedding provides batch text embedding backends for the semantic
// outlier stage. Every backend returns L2-normalised vectors aligned with its
// input.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// ProviderType represents the type of embedding backend
type ProviderType string

const (
	ProviderGemini  ProviderType = "gemini"
	ProviderOllama  ProviderType = "ollama"
	ProviderHashing ProviderType = "hashing"
)

// ProviderConfig holds configuration for a single provider instance
type ProviderConfig struct {
	Type       ProviderType  `yaml:"type"`
	APIKey     string        `yaml:"api_key"`
	ModelName  string        `yaml:"model_name"`
	Endpoint   string        `yaml:"endpoint"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	// Rate limiting per provider
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Provider is a batch embedding backend.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
	GetModelInfo() map[string]interface{}
}

// ErrEmptyBatch is returned when a backend yields no vectors for a
// non-empty input.
var ErrEmptyBatch = errors.New("embedding backend returned no vectors")

// NewProvider builds the backend named by cfg.Type.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case ProviderGemini:
		return NewGeminiProvider(GeminiConfig{
			APIKey:     cfg.APIKey,
			ModelName:  cfg.ModelName,
			BatchSize:  cfg.BatchSize,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		}, logger)
	case ProviderOllama:
		return NewOllamaProvider(OllamaConfig{
			Endpoint:   cfg.Endpoint,
			ModelName:  cfg.ModelName,
			BatchSize:  cfg.BatchSize,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		}, logger)
	case ProviderHashing:
		return NewHashingProvider(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Type)
	}
}

// finalize checks a backend result against its input and normalises every
// vector to unit length.
func finalize(want int, vectors [][]float32) ([][]float32, error) {
	if want == 0 && len(vectors) == 0 {
		return [][]float32{}, nil
	}
	if want > 0 && len(vectors) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(vectors) != want {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), want)
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("embedding 0 is empty")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)
		}
		Normalize(v)
	}
	return vectors, nil
}

// Normalize scales v to unit L2 norm in place. Zero vectors are left as is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// chunk splits texts into consecutive batches of at most size items.
func chunk(texts []string, size int) [][]string {
	if size <= 0 || size >= len(texts) {
		return [][]string{texts}
	}
	var out [][]string
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, texts[start:end])
	}
	return out
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
