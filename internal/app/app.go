// Package app assembles the scanner from configuration for the server and
// the command line tool.
package app

import (
	"fmt"

	"dataset-scanner/internal/config"
	"dataset-scanner/internal/embedding"
	"dataset-scanner/internal/scanner"

	"go.uber.org/zap"
)

// Engine is a configured scanner together with its embedding providers.
type Engine struct {
	Scanner *scanner.Scanner
	// Providers is nil when semantic outlier detection is disabled.
	Providers *embedding.FailoverProvider

	logger *zap.Logger
}

// New builds a scanner with the configured embedding providers.
func New(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if cfg.Embedding.Disabled {
		logger.Info("Semantic outlier detection disabled")
		return &Engine{Scanner: scanner.New(cfg.Scanner, nil, logger), logger: logger}, nil
	}

	provider, err := embedding.NewFailoverProvider(embedding.FailoverConfig{
		Providers:   cfg.Embedding.Providers,
		MaxFailures: cfg.Embedding.MaxFailuresBeforeSwitch,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding providers: %w", err)
	}

	logger.Info("Embedding providers ready",
		zap.Int("provider_count", len(cfg.Embedding.Providers)),
		zap.Any("current", provider.GetModelInfo()))

	return &Engine{
		Scanner:   scanner.New(cfg.Scanner, provider, logger),
		Providers: provider,
		logger:    logger,
	}, nil
}

// ProvidersInfo reports every embedding provider with its failover state.
func (e *Engine) ProvidersInfo() []map[string]interface{} {
	if e.Providers == nil {
		return []map[string]interface{}{}
	}
	return e.Providers.GetProvidersInfo()
}

// Close releases provider clients.
func (e *Engine) Close() {
	if e.Providers == nil {
		return
	}
	if err := e.Providers.Close(); err != nil {
		e.logger.Warn("Failed to close embedding providers", zap.Error(err))
	}
}
