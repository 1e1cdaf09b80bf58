package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"dataset-scanner/internal/embedding"
	"dataset-scanner/internal/scanner"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	} `yaml:"server"`

	Scanner scanner.Config `yaml:"scanner"`

	Embedding struct {
		// Providers are tried in order; an empty list means the offline
		// hashing embedder.
		Providers               []embedding.ProviderConfig `yaml:"providers"`
		MaxFailuresBeforeSwitch int                        `yaml:"max_failures_before_switch"`
		Disabled                bool                       `yaml:"disabled"`
	} `yaml:"embedding"`

	Database struct {
		Enabled bool `yaml:"enabled"`
		// Driver is "sqlite" (Path) or "postgres" (DSN)
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8000"
	}

	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}

	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 64 << 20
	}

	def := scanner.DefaultConfig()
	if c.Scanner.PrimaryField == "" {
		c.Scanner.PrimaryField = def.PrimaryField
	}
	if c.Scanner.FallbackField == "" {
		c.Scanner.FallbackField = def.FallbackField
	}
	if c.Scanner.PreviewLength == 0 {
		c.Scanner.PreviewLength = def.PreviewLength
	}
	if c.Scanner.SampleLimit == 0 {
		c.Scanner.SampleLimit = def.SampleLimit
	}
	if c.Scanner.MinOutlierLines == 0 {
		c.Scanner.MinOutlierLines = def.MinOutlierLines
	}
	if c.Scanner.OutlierFraction == 0 {
		c.Scanner.OutlierFraction = def.OutlierFraction
	}
	if c.Scanner.HighSeverityQuantile == 0 {
		c.Scanner.HighSeverityQuantile = def.HighSeverityQuantile
	}

	if len(c.Embedding.Providers) == 0 {
		c.Embedding.Providers = []embedding.ProviderConfig{{Type: embedding.ProviderHashing}}
	}

	if c.Embedding.MaxFailuresBeforeSwitch == 0 {
		c.Embedding.MaxFailuresBeforeSwitch = 3
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Path == "" {
		c.Database.Path = "./data/scans.db"
	}

	c.Database.DSN = os.ExpandEnv(c.Database.DSN)

	// Expand environment variables in provider secrets
	for i := range c.Embedding.Providers {
		c.Embedding.Providers[i].APIKey = os.ExpandEnv(c.Embedding.Providers[i].APIKey)
		c.Embedding.Providers[i].Endpoint = os.ExpandEnv(c.Embedding.Providers[i].Endpoint)
	}
}

// Validate rejects settings the scanner cannot run with.
func (c *Config) Validate() error {
	if c.Scanner.OutlierFraction <= 0 || c.Scanner.OutlierFraction > 1 {
		return fmt.Errorf("scanner.outlier_fraction must be in (0, 1], got %v", c.Scanner.OutlierFraction)
	}
	if c.Scanner.HighSeverityQuantile <= 0 || c.Scanner.HighSeverityQuantile > 1 {
		return fmt.Errorf("scanner.high_severity_quantile must be in (0, 1], got %v", c.Scanner.HighSeverityQuantile)
	}
	if c.Scanner.PreviewLength < 0 || c.Scanner.SampleLimit < 0 || c.Scanner.MinOutlierLines < 0 {
		return fmt.Errorf("scanner limits must not be negative")
	}
	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server.max_upload_bytes must not be negative")
	}
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.Enabled && c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	for i, p := range c.Embedding.Providers {
		switch p.Type {
		case embedding.ProviderGemini, embedding.ProviderOllama, embedding.ProviderHashing:
		default:
			return fmt.Errorf("embedding.providers[%d]: unknown type %q", i, p.Type)
		}
	}
	return nil
}

// DatabaseDSN returns the connection string for the configured driver
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "postgres" {
		return c.Database.DSN
	}
	return c.Database.Path
}
