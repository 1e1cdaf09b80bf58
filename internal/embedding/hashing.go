package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

const defaultHashingDimensions = 384

// HashingProvider is an offline embedder built from hashed word and
// character-trigram features. It needs no network access and is
// deterministic, which makes it the fallback when no remote backend is
// configured.
type HashingProvider struct {
	dims int
}

// NewHashingProvider creates a hashing embedder with dims buckets.
func NewHashingProvider(dims int) *HashingProvider {
	if dims <= 0 {
		dims = defaultHashingDimensions
	}
	return &HashingProvider{dims: dims}
}

// EmbedBatch embeds every text independently.
func (p *HashingProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = p.embed(t)
	}
	return finalize(len(texts), vectors)
}

func (p *HashingProvider) embed(text string) []float32 {
	v := make([]float32, p.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		p.add(v, "w:"+w, 1.0)
		padded := []rune("#" + w + "#")
		for i := 0; i+3 <= len(padded); i++ {
			p.add(v, "t:"+string(padded[i:i+3]), 0.5)
		}
	}
	return v
}

// add hashes feature into a bucket with a hash-derived sign.
func (p *HashingProvider) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

// Close is a no-op.
func (p *HashingProvider) Close() error {
	return nil
}

// GetModelInfo returns model information
func (p *HashingProvider) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":   "hashing",
		"model":      "fnv-trigram",
		"dimensions": p.dims,
	}
}
