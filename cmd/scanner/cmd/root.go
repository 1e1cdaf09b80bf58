package cmd

import (
	"errors"
	"fmt"
	"os"

	"dataset-scanner/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfgFile string
	verbose bool

	appVersion = "dev"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scanner",
		Short: "Scan JSONL instruction corpora for defects",
		Long: `scanner checks instruction-tuning datasets in JSONL form for structural
errors, low quality text, duplicates, prompt-injection phrases and semantic
outliers, and can write a cleaned copy of each corpus.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: built-in settings)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")

	root.AddCommand(newScanCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), appVersion)
		},
	})
	return root
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func SetVersion(version string) {
	appVersion = version
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.LoadConfig(cfgFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %s not found", cfgFile)
	}
	return cfg, err
}

// newLogger writes JSON logs to stderr so stdout stays machine readable.
func newLogger() (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}
