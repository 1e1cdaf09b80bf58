package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"text/tabwriter"

	"dataset-scanner/internal/app"
	"dataset-scanner/internal/models"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type scanOptions struct {
	outDir   string
	exclude  string
	asJSON   bool
	parallel int
}

type fileResult struct {
	File   string             `json:"file"`
	Report *models.ScanReport `json:"report"`
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan FILE...",
		Short: "Scan one or more JSONL files",
		Long: `Scan each file independently and print a summary per file.

With --out, a cleaned copy (<name>.cleaned.jsonl) and the full report
(<name>.report.json) are written for every input. Lines carrying any reason
listed in --exclude are dropped from the cleaned copy.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "",
		"directory for cleaned corpora and reports")
	cmd.Flags().StringVar(&opts.exclude, "exclude", defaultExcludeFlag(),
		"comma-separated reasons dropped from the cleaned corpus")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false,
		"print full reports as JSON instead of a summary table")
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "j", runtime.NumCPU(),
		"number of files scanned concurrently")

	return cmd
}

func defaultExcludeFlag() string {
	reasons := make([]string, 0, len(models.DefaultCleanExclusions))
	for _, r := range models.AllReasons {
		if models.DefaultCleanExclusions[r] {
			reasons = append(reasons, string(r))
		}
	}
	return strings.Join(reasons, ",")
}

func runScan(cmd *cobra.Command, files []string, opts *scanOptions) error {
	exclude, err := models.ParseReasonList(opts.exclude)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	engine, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	if opts.outDir != "" {
		if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	results := make([]fileResult, len(files))
	g, ctx := errgroup.WithContext(cmd.Context())
	if opts.parallel > 0 {
		g.SetLimit(opts.parallel)
	}

	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			report := engine.Scanner.Scan(ctx, raw)
			results[i] = fileResult{File: path, Report: report}
			logger.Debug("File scanned",
				zap.String("file", path),
				zap.Int("total_lines", report.TotalLines),
				zap.Int("flagged_count", report.FlaggedCount))

			if opts.outDir == "" {
				return nil
			}
			return writeOutputs(opts.outDir, path, report, exclude)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	return printSummary(cmd, results)
}

func writeOutputs(outDir, path string, report *models.ScanReport, exclude map[models.Reason]bool) error {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	cleaned := report.CleanedExcluding(exclude)
	if err := os.WriteFile(filepath.Join(outDir, base+".cleaned.jsonl"), []byte(cleaned), 0o644); err != nil {
		return fmt.Errorf("writing cleaned corpus for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report for %s: %w", path, err)
	}
	if err := os.WriteFile(filepath.Join(outDir, base+".report.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing report for %s: %w", path, err)
	}
	return nil
}

func printSummary(cmd *cobra.Command, results []fileResult) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tLINES\tFLAGS\tREASONS")
	for _, res := range results {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n",
			res.File, res.Report.TotalLines, res.Report.FlaggedCount, formatCounts(res.Report.ReasonCounts))
	}
	return w.Flush()
}

func formatCounts(counts map[models.Reason]int) string {
	if len(counts) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(counts))
	for reason, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
