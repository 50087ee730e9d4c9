package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWithViper(t *testing.T, path string) Config {
	t.Helper()
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg := Defaults()
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg
}

func TestSetValue_CreatesNewFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, SetValue(configPath, "workers", "8"))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "workers: 8\n", string(data))
}

func TestSetValue_NestedKey(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, SetValue(configPath, "watch.pattern", "trace.*"))
	require.NoError(t, SetValue(configPath, "watch.debounce", "2s"))

	cfg := loadWithViper(t, configPath)
	assert.Equal(t, "trace.*", cfg.Watch.Pattern)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
	// Untouched keys keep their defaults
	assert.Equal(t, 24*time.Hour, cfg.Watch.SeenTTL)
}

func TestSetValue_PreservesOtherConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	initial := `# my settings
output: /data/trace.db # keep me
log:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(initial), 0o600))

	require.NoError(t, SetValue(configPath, "log.file", "/tmp/tl.log"))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "# my settings")
	assert.Contains(t, content, "# keep me")
	assert.Contains(t, content, "level: debug")
	assert.Contains(t, content, "file: /tmp/tl.log")
}

func TestSetValue_ReplacesExisting(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("sequential: false\nworkers: 2\n"), 0o600))

	require.NoError(t, SetValue(configPath, "sequential", "true"))

	cfg := loadWithViper(t, configPath)
	assert.True(t, cfg.Sequential)
	assert.Equal(t, 2, cfg.Workers)
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "sequential:"))
}

func TestSetValue_ReplacesScalarParent(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("tracing: off\n"), 0o600))

	require.NoError(t, SetValue(configPath, "tracing.enabled", "true"))

	cfg := loadWithViper(t, configPath)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestSetValue_UnknownKey(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	err := SetValue(configPath, "colour", "red")
	require.ErrorContains(t, err, `unknown config key "colour"`)

	_, statErr := os.Stat(configPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSetValue_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("output: [unclosed\n"), 0o600))

	err := SetValue(configPath, "output", "x.db")
	require.ErrorContains(t, err, "parsing config")
}

func TestSetValue_TopLevelSequence(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("- a\n- b\n"), 0o600))

	err := SetValue(configPath, "output", "x.db")
	require.ErrorContains(t, err, "not a mapping")
}

func TestSetValue_AtomicWrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	require.NoError(t, SetValue(configPath, "output", "a.db"))
	require.NoError(t, SetValue(configPath, "output", "b.db"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "config.yaml", entries[0].Name())
}

func TestSettableKeys_AllApply(t *testing.T) {
	values := map[string]string{
		"output":                "x.db",
		"sequential":            "true",
		"workers":               "3",
		"batch_size":            "100",
		"progress":              "false",
		"log.file":              "/tmp/x.log",
		"log.level":             "warn",
		"tracing.enabled":       "true",
		"tracing.exporter":      "stdout",
		"tracing.file_path":     "/tmp/t.jsonl",
		"tracing.otlp_endpoint": "collector:4317",
		"tracing.sample_rate":   "0.5",
		"tracing.service_name":  "svc",
		"watch.debounce":        "1s",
		"watch.pattern":         "trace.*",
		"watch.seen_ttl":        "1h",
	}
	require.Len(t, SettableKeys(), len(values))

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	for _, key := range SettableKeys() {
		value, ok := values[key]
		require.True(t, ok, "missing test value for %s", key)
		require.NoError(t, SetValue(configPath, key, value))
	}

	cfg := loadWithViper(t, configPath)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "x.db", cfg.Output)
	assert.True(t, cfg.Sequential)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.False(t, cfg.Progress)
	assert.Equal(t, "/tmp/x.log", cfg.Log.File)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "stdout", cfg.Tracing.Exporter)
	assert.InDelta(t, 0.5, cfg.Tracing.SampleRate, 1e-9)
	assert.Equal(t, "svc", cfg.Tracing.ServiceName)
	assert.Equal(t, time.Hour, cfg.Watch.SeenTTL)
}
