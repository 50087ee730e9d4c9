package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/tracelake/internal/config"
	"github.com/zjrosen/tracelake/internal/log"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts, so the terminal's OSC 11 response
	// cannot race with the progress program's input loop.
	_ = lipgloss.HasDarkBackground()
}

const localConfigPath = ".tracelake/config.yaml"

var (
	version    = "dev"
	cfgFile    string
	debugFlag  bool
	cfg        config.Config
	cfgLoadErr error
)

var rootCmd = &cobra.Command{
	Use:   "tracelake [files...]",
	Short: "Load strace output into a queryable database",
	Long: `Parse strace output files (strace -f -tt -T style) and load every
syscall into a SQLite database.

Arguments may be files, directories (their files are read, not recursively)
or glob patterns. The output database is recreated on every run.

Examples:
  tracelake -o trace.db trace.*
  tracelake -o trace.db --sequential ./traces
  tracelake -o trace.db --workers 4 --no-progress trace.1234`,
	Version:      version,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE:         runRoot,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return cfgLoadErr
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .tracelake/config.yaml or ~/.config/tracelake/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "output database path")
	rootCmd.PersistentFlags().String("log-file", "", "write every log line to this file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.Flags().BoolP("sequential", "s", false, "process files one at a time")
	rootCmd.Flags().IntP("workers", "w", 0, "worker pool size (default: number of CPUs)")
	rootCmd.Flags().Bool("no-progress", false, "disable the progress bar")

	// Bind flags to viper
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("sequential", rootCmd.Flags().Lookup("sequential"))
	_ = viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))
}

func initConfig() {
	cfg, cfgLoadErr = loadConfig(viper.GetViper(), cfgFile)
}

// loadConfig reads defaults, the config file and TRACELAKE_* environment
// variables into a validated Config.
func loadConfig(v *viper.Viper, explicitPath string) (config.Config, error) {
	setDefaults(v, config.Defaults())

	v.SetEnvPrefix("TRACELAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		// Config lookup order:
		// 1. .tracelake/config.yaml (current directory)
		// 2. ~/.config/tracelake/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			v.AddConfigPath(filepath.Join(home, ".config", "tracelake"))
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicitPath != "" || !errors.As(err, &notFound) {
			return config.Config{}, fmt.Errorf("reading config: %w", err)
		}
		// No config file anywhere: run on defaults
	}

	var c config.Config
	if err := v.Unmarshal(&c); err != nil {
		return config.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "file" && c.Tracing.FilePath == "" {
		c.Tracing.FilePath = config.DefaultTracesFilePath()
	}
	if err := config.Validate(c); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func setDefaults(v *viper.Viper, d config.Config) {
	v.SetDefault("output", d.Output)
	v.SetDefault("sequential", d.Sequential)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("progress", d.Progress)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.pattern", d.Watch.Pattern)
	v.SetDefault("watch.seen_ttl", d.Watch.SeenTTL)
}

// setupLogging initializes the global logger from the config. Without a log
// file only warnings and errors reach stderr.
func setupLogging(c config.Config) (func(), error) {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	debug := debugEnabled()
	if debug {
		level = log.LevelDebug
	}

	if c.Log.File == "" {
		if !debug {
			level = max(level, log.LevelWarn)
		}
		return log.InitWriter(os.Stderr, level), nil
	}

	cleanup, err := log.Init(c.Log.File, level)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	log.Info(log.CatCLI, "tracelake starting", "version", version, "debug", debug)
	return cleanup, nil
}

func debugEnabled() bool {
	return debugFlag || os.Getenv("TRACELAKE_DEBUG") != ""
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
