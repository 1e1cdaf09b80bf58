package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OllamaProvider embeds texts with a local Ollama server
type OllamaProvider struct {
	endpoint   string
	modelName  string
	httpClient *http.Client
	logger     *zap.Logger
	batchSize  int
	maxRetries int
	retryDelay time.Duration
}

// OllamaConfig for Ollama provider
type OllamaConfig struct {
	Endpoint   string // Default: "http://localhost:11434"
	ModelName  string // Default: "nomic-embed-text"
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaProvider creates a new Ollama embedding provider
func NewOllamaProvider(cfg OllamaConfig, logger *zap.Logger) (*OllamaProvider, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "nomic-embed-text"
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}

	logger.Info("Ollama embedding provider initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("model", cfg.ModelName))

	return &OllamaProvider{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		modelName:  cfg.ModelName,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Close closes the Ollama provider
func (p *OllamaProvider) Close() error {
	return nil
}

// EmbedBatch embeds texts with the batched /api/embed endpoint.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for _, part := range chunk(texts, p.batchSize) {
		out, err := p.embedChunk(ctx, part)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, out...)
	}
	return finalize(len(texts), vectors)
}

func (p *OllamaProvider) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	jsonData, err := json.Marshal(ollamaEmbedRequest{Model: p.modelName, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("Retrying Ollama request",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", p.maxRetries))
			if err := sleepCtx(ctx, p.retryDelay); err != nil {
				return nil, fmt.Errorf("ollama embedding cancelled: %w", err)
			}
		}

		out, err := p.post(ctx, jsonData)
		if err != nil {
			lastErr = err
			p.logger.Error("Ollama request failed", zap.Error(err), zap.Int("attempt", attempt+1))
			continue
		}
		if len(out) != len(texts) {
			lastErr = fmt.Errorf("ollama returned %d embeddings for %d texts", len(out), len(texts))
			continue
		}
		return out, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", p.maxRetries, lastErr)
}

func (p *OllamaProvider) post(ctx context.Context, body []byte) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Embeddings, nil
}

// GetModelInfo returns model information
func (p *OllamaProvider) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":    "ollama",
		"model":       p.modelName,
		"endpoint":    p.endpoint,
		"max_retries": p.maxRetries,
	}
}
