// Package config provides configuration types, defaults, and validation for tracelake.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/tracelake/internal/log"
	"github.com/zjrosen/tracelake/internal/tracing"
)

// DefaultBatchSize is the number of rows a write handle buffers before it
// flushes.
const DefaultBatchSize = 4096

// Config holds all configuration options for tracelake.
type Config struct {
	Output     string         `mapstructure:"output" yaml:"output"`
	Sequential bool           `mapstructure:"sequential" yaml:"sequential"`
	Workers    int            `mapstructure:"workers" yaml:"workers"` // 0 = runtime.NumCPU()
	BatchSize  int            `mapstructure:"batch_size" yaml:"batch_size"`
	Progress   bool           `mapstructure:"progress" yaml:"progress"`
	Log        LogConfig      `mapstructure:"log" yaml:"log"`
	Tracing    tracing.Config `mapstructure:"tracing" yaml:"tracing"`
	Watch      WatchConfig    `mapstructure:"watch" yaml:"watch"`
}

// LogConfig holds logging options.
type LogConfig struct {
	// File receives every log line. When empty only warnings and errors are
	// written, to stderr.
	File string `mapstructure:"file" yaml:"file"`

	// Level is one of "debug", "info", "warn", "error".
	Level string `mapstructure:"level" yaml:"level"`
}

// WatchConfig holds options for the watch command.
type WatchConfig struct {
	// Debounce is how long a file must stay unchanged before it is ingested.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`

	// Pattern is matched against base names with filepath.Match.
	Pattern string `mapstructure:"pattern" yaml:"pattern"`

	// SeenTTL bounds how long an ingested file version is remembered.
	SeenTTL time.Duration `mapstructure:"seen_ttl" yaml:"seen_ttl"`
}

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/tracelake/traces/traces.jsonl or empty string if home dir unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tracelake", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Output:     "trace.db",
		Sequential: false,
		Workers:    0,
		BatchSize:  DefaultBatchSize,
		Progress:   true,
		Log: LogConfig{
			File:  "",
			Level: "info",
		},
		Tracing: tracing.DefaultConfig(),
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
			Pattern:  "*",
			SeenTTL:  24 * time.Hour,
		},
	}
}

// Validate checks the whole configuration.
func Validate(cfg Config) error {
	if cfg.Output == "" {
		return fmt.Errorf("output is required")
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", cfg.Workers)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0, got %d", cfg.BatchSize)
	}
	if cfg.Log.Level != "" {
		if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	if err := ValidateTracing(cfg.Tracing); err != nil {
		return err
	}
	return ValidateWatch(cfg.Watch)
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	if tc.Exporter != "" {
		switch tc.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tc.Enabled {
		if tc.Exporter == "file" && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == "otlp" && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// ValidateWatch checks watch configuration for errors.
func ValidateWatch(w WatchConfig) error {
	if w.Debounce <= 0 {
		return fmt.Errorf("watch.debounce must be > 0, got %s", w.Debounce)
	}
	if w.SeenTTL < 0 {
		return fmt.Errorf("watch.seen_ttl must be >= 0, got %s", w.SeenTTL)
	}
	if w.Pattern == "" {
		return fmt.Errorf("watch.pattern is required")
	}
	if _, err := filepath.Match(w.Pattern, ""); err != nil {
		return fmt.Errorf("watch.pattern %q: %w", w.Pattern, err)
	}
	return nil
}

// Render marshals cfg as YAML.
func Render(cfg Config) (string, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(renderable(cfg)); err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()
	return buf.String(), nil
}

// renderable swaps durations for their string form so the output can be fed
// back through viper.
func renderable(cfg Config) map[string]any {
	return map[string]any{
		"output":     cfg.Output,
		"sequential": cfg.Sequential,
		"workers":    cfg.Workers,
		"batch_size": cfg.BatchSize,
		"progress":   cfg.Progress,
		"log":        cfg.Log,
		"tracing":    cfg.Tracing,
		"watch": map[string]any{
			"debounce": cfg.Watch.Debounce.String(),
			"pattern":  cfg.Watch.Pattern,
			"seen_ttl": cfg.Watch.SeenTTL.String(),
		},
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# tracelake configuration

# Output database (deleted and recreated on every ingest run)
output: trace.db

# Process files one after another instead of with the worker pool
sequential: false

# Worker pool size, 0 = number of CPUs
workers: 0

# Rows buffered per worker before they are written in one transaction
batch_size: 4096

# Show the progress bar when stdout is a terminal
progress: true

# Logging
log:
  # file: /tmp/tracelake.log   # Receives every log line (default: warnings to stderr)
  level: info                  # debug, info, warn, error

# Watch mode (tracelake watch DIR)
watch:
  debounce: 500ms   # A file must be quiet this long before it is ingested
  pattern: "*"      # Glob matched against file base names, e.g. "trace.*"
  seen_ttl: 24h     # How long an ingested file version is remembered

# Distributed tracing of ingestion runs
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/tracelake/traces/traces.jsonl  # Output file for file exporter
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
#   service_name: tracelake
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1  # Sample 10% of runs
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
