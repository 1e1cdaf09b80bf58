package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FailoverProvider manages multiple embedding providers with fallback.
// All vectors of one batch always come from a single provider.
type FailoverProvider struct {
	providers    []*RateLimitedProvider
	currentIndex int
	mu           sync.RWMutex
	logger       *zap.Logger
	failureCount map[int]int
	maxFailures  int
}

// FailoverConfig holds configuration for multiple providers
type FailoverConfig struct {
	Providers   []ProviderConfig
	MaxFailures int // Max consecutive failures before switching provider
}

// NewFailoverProvider builds every configured provider, skipping the ones
// that cannot be initialised.
func NewFailoverProvider(cfg FailoverConfig, logger *zap.Logger) (*FailoverProvider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	providers := make([]Provider, 0, len(cfg.Providers))
	limits := make([]int, 0, len(cfg.Providers))

	for i, providerCfg := range cfg.Providers {
		provider, err := NewProvider(providerCfg, logger)
		if err != nil {
			logger.Error("Failed to create embedding provider",
				zap.String("type", string(providerCfg.Type)),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		providers = append(providers, provider)
		limits = append(limits, providerCfg.RequestsPerMinute)

		logger.Info("Embedding provider initialized",
			zap.String("type", string(providerCfg.Type)),
			zap.String("model", providerCfg.ModelName),
			zap.Int("rate_limit", providerCfg.RequestsPerMinute),
			zap.Int("index", i))
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no embedding providers could be initialized")
	}

	return NewFailoverFromProviders(providers, limits, cfg.MaxFailures, logger), nil
}

// NewFailoverFromProviders wraps ready providers. limits[i] is the
// requests-per-minute budget of providers[i]; missing entries mean unlimited.
func NewFailoverFromProviders(providers []Provider, limits []int, maxFailures int, logger *zap.Logger) *FailoverProvider {
	if maxFailures <= 0 {
		maxFailures = 3
	}

	wrapped := make([]*RateLimitedProvider, len(providers))
	for i, p := range providers {
		rpm := 0
		if i < len(limits) {
			rpm = limits[i]
		}
		wrapped[i] = NewRateLimitedProvider(p, rpm, logger)
	}

	return &FailoverProvider{
		providers:    wrapped,
		logger:       logger,
		failureCount: make(map[int]int),
		maxFailures:  maxFailures,
	}
}

// getCurrentProvider returns the current provider and its index
func (c *FailoverProvider) getCurrentProvider() (*RateLimitedProvider, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.providers[c.currentIndex], c.currentIndex
}

// switchToNextProvider moves off the provider at index from, unless another
// caller already did.
func (c *FailoverProvider) switchToNextProvider(from int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentIndex != from {
		return
	}
	c.currentIndex = (c.currentIndex + 1) % len(c.providers)

	c.logger.Info("Switching embedding provider",
		zap.Int("from_index", from),
		zap.Int("to_index", c.currentIndex),
		zap.Int("total_providers", len(c.providers)))
}

// recordFailure records a failure and reports whether the provider reached
// its failure budget.
func (c *FailoverProvider) recordFailure(providerIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount[providerIndex]++

	if c.failureCount[providerIndex] >= c.maxFailures {
		c.logger.Warn("Embedding provider reached max failures",
			zap.Int("provider_index", providerIndex),
			zap.Int("failures", c.failureCount[providerIndex]))
		c.failureCount[providerIndex] = 0
		return true
	}

	return false
}

func (c *FailoverProvider) resetFailureCount(providerIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount[providerIndex] = 0
}

// EmbedBatch tries the current provider first and falls through the rest in
// order. Each provider is attempted at most once per call.
func (c *FailoverProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	_, start := c.getCurrentProvider()

	var errs []error
	for attempt := 0; attempt < len(c.providers); attempt++ {
		index := (start + attempt) % len(c.providers)
		provider := c.providers[index]

		vectors, err := provider.EmbedBatch(ctx, texts)
		if err == nil {
			c.resetFailureCount(index)
			return vectors, nil
		}

		c.logger.Error("Embedding provider failed",
			zap.Int("provider_index", index),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("provider %d: %w", index, err))

		if ctx.Err() != nil {
			break
		}

		if c.recordFailure(index) || isRateLimitError(err) {
			c.switchToNextProvider(index)
		}
	}

	return nil, fmt.Errorf("all embedding providers failed: %w", errors.Join(errs...))
}

// isRateLimitError checks if error is a rate limit error
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted")
}

// Close closes all providers
func (c *FailoverProvider) Close() error {
	var errs []error
	for i, provider := range c.providers {
		if err := provider.Close(); err != nil {
			c.logger.Error("Failed to close embedding provider",
				zap.Int("index", i),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetModelInfo returns information about the current provider
func (c *FailoverProvider) GetModelInfo() map[string]interface{} {
	provider, index := c.getCurrentProvider()
	info := provider.GetModelInfo()

	c.mu.RLock()
	defer c.mu.RUnlock()
	info["provider_index"] = index
	info["total_providers"] = len(c.providers)
	info["failure_count"] = c.failureCount[index]
	return info
}

// GetProvidersInfo returns information about all providers
func (c *FailoverProvider) GetProvidersInfo() []map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := make([]map[string]interface{}, len(c.providers))
	for i, provider := range c.providers {
		providerInfo := provider.GetModelInfo()
		providerInfo["is_current"] = i == c.currentIndex
		providerInfo["failure_count"] = c.failureCount[i]
		info[i] = providerInfo
	}
	return info
}
