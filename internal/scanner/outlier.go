package scanner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sort"

	"dataset-scanner/internal/models"

	"go.uber.org/zap"
)

// Embedder turns texts into unit vectors of a fixed dimension, aligned by
// position with its input.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

var errNoEmbeddings = errors.New("embedding provider returned no vectors")

// candidate is a line with usable text that reached the outlier stage.
type candidate struct {
	line int
	text string
}

// detectOutliers flags the most atypical lines by distance from the corpus
// centroid, skipping lines already in flagged. Any failure is logged and
// yields no flags.
func (s *Scanner) detectOutliers(ctx context.Context, cands []candidate, flagged map[int]bool) []models.Flag {
	if len(cands) < s.cfg.MinOutlierLines {
		s.logger.Debug("Skipping semantic outlier stage",
			zap.Int("eligible_lines", len(cands)),
			zap.Int("min_lines", s.cfg.MinOutlierLines))
		return nil
	}
	if s.embedder == nil {
		s.logger.Debug("Skipping semantic outlier stage, no embedding provider")
		return nil
	}

	flags, err := s.safeOutliers(ctx, cands, flagged)
	if err != nil {
		s.logger.Warn("Semantic outlier stage failed", zap.Error(err))
		return nil
	}
	return flags
}

// safeOutliers converts panics raised by the provider or by malformed vectors
// into errors.
func (s *Scanner) safeOutliers(ctx context.Context, cands []candidate, flagged map[int]bool) (flags []models.Flag, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("Recovered outlier stage panic", zap.ByteString("stack", debug.Stack()))
			flags, err = nil, fmt.Errorf("outlier stage panic: %v", r)
		}
	}()

	texts := make([]string, len(cands))
	for i, c := range cands {
		texts[i] = c.text
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	scores, err := CentroidDistances(vectors)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(cands) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(scores), len(cands))
	}

	return s.selectOutliers(cands, scores, flagged), nil
}

// selectOutliers walks lines by descending score and flags the first
// target_k not already flagged.
func (s *Scanner) selectOutliers(cands []candidate, scores []float64, flagged map[int]bool) []models.Flag {
	targetK := int(math.Floor(s.cfg.OutlierFraction * float64(len(scores))))
	if targetK < 1 {
		targetK = 1
	}
	highCut := Quantile(scores, s.cfg.HighSeverityQuantile)

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	var flags []models.Flag
	for _, idx := range order {
		if len(flags) >= targetK {
			break
		}
		c := cands[idx]
		if flagged[c.line] {
			continue
		}

		score := scores[idx]
		severity := models.SeverityMedium
		if score >= highCut {
			severity = models.SeverityHigh
		}
		flags = append(flags, models.Flag{
			Line:     c.line,
			Reason:   models.ReasonSemanticOutlier,
			Severity: severity,
			Preview:  truncate(c.text, s.cfg.PreviewLength),
			Score:    &score,
		})
	}

	s.logger.Debug("Semantic outlier stage completed",
		zap.Int("eligible_lines", len(scores)),
		zap.Int("target_k", targetK),
		zap.Int("flagged", len(flags)),
		zap.Float64("high_cut", highCut))

	return flags
}

// CentroidDistances returns 1 - dot(v, centroid) for every vector, where the
// centroid is the unnormalised mean of all vectors.
func CentroidDistances(vectors [][]float32) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, errNoEmbeddings
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("embedding 0 has zero dimension")
	}

	centroid := make([]float64, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)
		}
		for j, x := range v {
			centroid[j] += float64(x)
		}
	}
	n := float64(len(vectors))
	for j := range centroid {
		centroid[j] /= n
	}

	scores := make([]float64, len(vectors))
	for i, v := range vectors {
		var dot float64
		for j, x := range v {
			dot += float64(x) * centroid[j]
		}
		score := 1.0 - dot
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, fmt.Errorf("non-finite distance for embedding %d", i)
		}
		scores[i] = score
	}
	return scores, nil
}

// Quantile returns the q-th quantile of values using linear interpolation
// between closest ranks.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
