package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// geminiMaxBatch is the request limit of BatchEmbedContents.
const geminiMaxBatch = 100

// GeminiProvider embeds texts with a Gemini embedding model
type GeminiProvider struct {
	client     *genai.Client
	model      *genai.EmbeddingModel
	logger     *zap.Logger
	modelName  string
	batchSize  int
	maxRetries int
	retryDelay time.Duration
}

// GeminiConfig for Gemini provider
type GeminiConfig struct {
	APIKey     string
	ModelName  string // Default: "text-embedding-004"
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
	// ClientOptions are appended after the API key, mainly for tests.
	ClientOptions []option.ClientOption
}

// NewGeminiProvider creates a new Gemini embedding provider
func NewGeminiProvider(cfg GeminiConfig, logger *zap.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "text-embedding-004"
	}

	if cfg.BatchSize <= 0 || cfg.BatchSize > geminiMaxBatch {
		cfg.BatchSize = geminiMaxBatch
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	ctx := context.Background()
	opts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, cfg.ClientOptions...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.EmbeddingModel(cfg.ModelName)
	model.TaskType = genai.TaskTypeSemanticSimilarity

	logger.Info("Gemini embedding provider initialized",
		zap.String("model", cfg.ModelName),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("max_retries", cfg.MaxRetries))

	return &GeminiProvider{
		client:     client,
		model:      model,
		logger:     logger,
		modelName:  cfg.ModelName,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Close closes the Gemini client
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// EmbedBatch embeds texts in chunks of at most batchSize.
func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (p *GeminiProvider) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	batch := p.model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("Retrying Gemini embedding request",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", p.maxRetries))
			if err := sleepCtx(ctx, p.retryDelay); err != nil {
				return nil, fmt.Errorf("gemini embedding cancelled: %w", err)
			}
		}

		resp, err := p.model.BatchEmbedContents(ctx, batch)
		if err != nil {
			lastErr = fmt.Errorf("gemini API error: %w", err)
			p.logger.Error("Gemini API error", zap.Error(err), zap.Int("attempt", attempt+1))
			continue
		}

		if len(resp.Embeddings) != len(texts) {
			lastErr = fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
			p.logger.Error("Unexpected embedding count",
				zap.Int("got", len(resp.Embeddings)),
				zap.Int("want", len(texts)),
				zap.Int("attempt", attempt+1))
			continue
		}

		out := make([][]float32, len(resp.Embeddings))
		for i, e := range resp.Embeddings {
			if e != nil {
				out[i] = e.Values
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", p.maxRetries, lastErr)
}

// GetModelInfo returns model information
func (p *GeminiProvider) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":    "gemini",
		"model":       p.modelName,
		"batch_size":  p.batchSize,
		"max_retries": p.maxRetries,
		"retry_delay": p.retryDelay.String(),
	}
}
