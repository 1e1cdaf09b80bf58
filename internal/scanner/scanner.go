// Package scanner flags broken, low-quality, duplicated, adversarial and
// semantically anomalous lines in a JSONL instruction corpus.
package scanner

import (
	"context"
	"strings"

	"dataset-scanner/internal/models"

	"go.uber.org/zap"
)

// Config holds scanner tunables.
type Config struct {
	PrimaryField         string  `yaml:"primary_field"`
	FallbackField        string  `yaml:"fallback_field"`
	PreviewLength        int     `yaml:"preview_length"`
	SampleLimit          int     `yaml:"sample_limit"`
	MinOutlierLines      int     `yaml:"min_outlier_lines"`
	OutlierFraction      float64 `yaml:"outlier_fraction"`
	HighSeverityQuantile float64 `yaml:"high_severity_quantile"`
}

// DefaultConfig returns the standard scanner settings.
func DefaultConfig() Config {
	return Config{
		PrimaryField:         "instruction",
		FallbackField:        "text",
		PreviewLength:        120,
		SampleLimit:          300,
		MinOutlierLines:      10,
		OutlierFraction:      0.20,
		HighSeverityQuantile: 0.98,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PrimaryField == "" {
		c.PrimaryField = def.PrimaryField
	}
	if c.FallbackField == "" {
		c.FallbackField = def.FallbackField
	}
	if c.PreviewLength <= 0 {
		c.PreviewLength = def.PreviewLength
	}
	if c.SampleLimit <= 0 {
		c.SampleLimit = def.SampleLimit
	}
	if c.MinOutlierLines <= 0 {
		c.MinOutlierLines = def.MinOutlierLines
	}
	if c.OutlierFraction <= 0 {
		c.OutlierFraction = def.OutlierFraction
	}
	if c.HighSeverityQuantile <= 0 || c.HighSeverityQuantile > 1 {
		c.HighSeverityQuantile = def.HighSeverityQuantile
	}
	return c
}

// Scanner runs the line checks and the semantic outlier stage. It holds no
// per-scan state and may be shared between concurrent scans.
type Scanner struct {
	cfg      Config
	embedder Embedder
	logger   *zap.Logger
}

// New creates a scanner. A nil embedder disables the outlier stage.
func New(cfg Config, embedder Embedder, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		cfg:      cfg.withDefaults(),
		embedder: embedder,
		logger:   logger,
	}
}

// Scan decodes raw corpus bytes and scans them.
func (s *Scanner) Scan(ctx context.Context, raw []byte) *models.ScanReport {
	return s.ScanLines(ctx, SplitLines(raw))
}

// ScanLines scans an already split corpus. Line numbers are 1-indexed
// positions in lines.
func (s *Scanner) ScanLines(ctx context.Context, lines []string) *models.ScanReport {
	agg := newAggregator(s.cfg.SampleLimit)
	dups := newDuplicateTracker()
	var cands []candidate

	for i, line := range lines {
		lineNum := i + 1

		text, structural := s.validateLine(lineNum, line)
		if structural != nil {
			agg.add(*structural)
			continue
		}
		cands = append(cands, candidate{line: lineNum, text: text})

		preview := truncate(text, s.cfg.PreviewLength)
		if IsGibberish(text) {
			agg.add(models.Flag{Line: lineNum, Reason: models.ReasonLowQuality, Severity: models.SeverityHigh, Preview: preview})
		}
		if dups.Observe(text) {
			agg.add(models.Flag{Line: lineNum, Reason: models.ReasonDuplicate, Severity: models.SeverityLow, Preview: preview})
		}
		if LooksLikeInjection(text) {
			agg.add(models.Flag{Line: lineNum, Reason: models.ReasonPromptInjection, Severity: models.SeverityHigh, Preview: preview})
		}
	}

	for _, f := range s.detectOutliers(ctx, cands, agg.flaggedLines()) {
		agg.add(f)
	}

	report := agg.build(lines)
	s.logger.Debug("Scan completed",
		zap.Int("total_lines", report.TotalLines),
		zap.Int("eligible_lines", len(cands)),
		zap.Int("flagged_count", report.FlaggedCount))
	return report
}

// aggregator collects flags in emission order for one scan.
type aggregator struct {
	flags       []models.Flag
	lineReasons *models.LineReasons
	sampleLimit int
}

func newAggregator(sampleLimit int) *aggregator {
	return &aggregator{
		flags:       make([]models.Flag, 0),
		lineReasons: models.NewLineReasons(),
		sampleLimit: sampleLimit,
	}
}

func (a *aggregator) add(f models.Flag) {
	a.flags = append(a.flags, f)
	a.lineReasons.Add(f.Line, f.Reason)
}

// flaggedLines snapshots the set of lines carrying any flag so far.
func (a *aggregator) flaggedLines() map[int]bool {
	set := make(map[int]bool, a.lineReasons.Len())
	for _, line := range a.lineReasons.Lines() {
		set[line] = true
	}
	return set
}

func (a *aggregator) build(lines []string) *models.ScanReport {
	counts := make(map[models.Reason]int)
	for _, f := range a.flags {
		counts[f.Reason]++
	}

	sampleLen := len(a.flags)
	if sampleLen > a.sampleLimit {
		sampleLen = a.sampleLimit
	}
	samples := make([]models.Flag, sampleLen)
	copy(samples, a.flags[:sampleLen])

	rawLines := make([]string, len(lines))
	copy(rawLines, lines)

	var kept []string
	for i, line := range lines {
		if a.lineReasons.Has(i+1) || strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	cleaned := ""
	if len(kept) > 0 {
		cleaned = strings.Join(kept, "\n") + "\n"
	}

	return &models.ScanReport{
		TotalLines:         len(lines),
		FlaggedCount:       len(a.flags),
		ReasonCounts:       counts,
		FlaggedSamples:     samples,
		RawLines:           rawLines,
		FlaggedLineReasons: a.lineReasons,
		CleanedJSONL:       cleaned,
	}
}
