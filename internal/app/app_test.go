package app

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"dataset-scanner/internal/config"
	"dataset-scanner/internal/embedding"
	"dataset-scanner/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func corpus() []byte {
	var b strings.Builder
	topics := []string{"bake bread", "fix a bicycle chain", "water tomato plants", "write a cover letter", "tune a guitar"}
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "{\"instruction\":\"Explain how to %s, variant %d\"}\n", topics[i%len(topics)], i)
	}
	b.WriteString("{\"instruction\":\"Quantum chromodynamics gluon confinement lattice regularization\"}\n")
	return []byte(b.String())
}

func TestNewWithHashingProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	require.Equal(t, embedding.ProviderHashing, cfg.Embedding.Providers[0].Type)

	engine, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer engine.Close()

	report := engine.Scanner.Scan(context.Background(), corpus())
	assert.Equal(t, 21, report.TotalLines)
	// 20% of 21 eligible lines
	assert.Equal(t, 4, report.ReasonCounts[models.ReasonSemanticOutlier])

	info := engine.ProvidersInfo()
	require.Len(t, info, 1)
	assert.Equal(t, "hashing", info[0]["provider"])
	assert.Equal(t, true, info[0]["is_current"])
}

func TestNewDisabledEmbedding(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Embedding.Disabled = true

	engine, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer engine.Close()

	report := engine.Scanner.Scan(context.Background(), corpus())
	assert.Zero(t, report.ReasonCounts[models.ReasonSemanticOutlier])
	assert.Empty(t, engine.ProvidersInfo())
}

func TestNewNoUsableProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Embedding.Providers = []embedding.ProviderConfig{{Type: embedding.ProviderGemini}}

	_, err := New(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
