// Package engineconfig implements the engine's configuration layering:
// compiled-in defaults, then a YAML file under the engine's base
// directory, then CODESEARCH_* environment variable overrides, validated
// before use via a three-tier Load, merge-non-zero-values-only semantics,
// and a final Validate() pass, scoped to this engine's own tuning surface
// (indexing, lifecycle, backup).
package engineconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the well-known config file name, read from the engine's
// base directory.
const FileName = "config.yaml"

// Config is the complete engine configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Backup    BackupConfig    `yaml:"backup"`
	Circuit   CircuitConfig   `yaml:"circuit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IndexingConfig tunes the watcher and indexing pipeline (watch
// debounce, batch size, worker count).
type IndexingConfig struct {
	DebounceWindow string `yaml:"debounce_window"`
	BatchSize      int    `yaml:"batch_size"`
	Workers        int    `yaml:"workers"`
	MaxFiles       int    `yaml:"max_files"`
}

// LifecycleConfig tunes the lifecycle engine's thresholds and sweep
// timing.
type LifecycleConfig struct {
	AutoResolveThreshold  float64 `yaml:"auto_resolve_threshold"`
	PendingThreshold      float64 `yaml:"pending_threshold"`
	PendingSuppressWindow string  `yaml:"pending_suppress_window"`
	StaleSweepInterval    string  `yaml:"stale_sweep_interval"`
	StaleAfterDays        int     `yaml:"stale_after_days"`
}

// BackupConfig holds the backup settings. RetentionCount is loaded and
// validated, but the backup service does not read it and never prunes
// old backups.
type BackupConfig struct {
	RetentionCount   int    `yaml:"retention_count"`
	AutoBackupCron   string `yaml:"auto_backup_cron"`
	IncludeLocalByDefault bool `yaml:"include_local_by_default"`
}

// CircuitConfig tunes the circuit breaker's default thresholds.
type CircuitConfig struct {
	MaxFailures  int    `yaml:"max_failures"`
	OpenDuration string `yaml:"open_duration"`
}

// LoggingConfig tunes the ambient slog/rotation setup.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	MaxSizeBytes int64  `yaml:"max_size_bytes"`
	MaxFiles     int    `yaml:"max_files"`
	MirrorStderr bool   `yaml:"mirror_stderr"`
}

// Default returns the compiled-in defaults, matching the constants each
// component package names on its own (pipeline.DefaultBatchSize/
// DefaultDebounceWindow, lifecycle.DefaultConfig, circuit.Options
// zero-value defaults).
func Default() *Config {
	return &Config{
		Version: 1,
		Indexing: IndexingConfig{
			DebounceWindow: "500ms",
			BatchSize:      50,
			Workers:        4,
			MaxFiles:       100000,
		},
		Lifecycle: LifecycleConfig{
			AutoResolveThreshold:  0.8,
			PendingThreshold:      0.5,
			PendingSuppressWindow: "60s",
			StaleSweepInterval:    "24h",
			StaleAfterDays:        30,
		},
		Backup: BackupConfig{
			RetentionCount:        10,
			AutoBackupCron:        "",
			IncludeLocalByDefault: false,
		},
		Circuit: CircuitConfig{
			MaxFailures:  5,
			OpenDuration: "30s",
		},
		Logging: LoggingConfig{
			Level:        "info",
			MaxSizeBytes: 10 * 1024 * 1024,
			MaxFiles:     5,
			MirrorStderr: false,
		},
	}
}

// Load builds a Config by merging, in increasing precedence: compiled-in
// defaults, a YAML file at baseDir/config.yaml (if present), then
// CODESEARCH_* environment variables. The result is validated before
// being returned.
func Load(baseDir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(baseDir, FileName)
	if data, err := os.ReadFile(path); err == nil {
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("engineconfig: parse %s: %w", path, err)
		}
		cfg.mergeWith(&parsed)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("engineconfig: read %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engineconfig: invalid configuration: %w", err)
	}
	return cfg, nil
}

// mergeWith overlays other's non-zero fields onto c: merge-only-
// what-was-actually-set semantics, so an unset YAML field never clobbers
// a sibling default.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Indexing.DebounceWindow != "" {
		c.Indexing.DebounceWindow = other.Indexing.DebounceWindow
	}
	if other.Indexing.BatchSize != 0 {
		c.Indexing.BatchSize = other.Indexing.BatchSize
	}
	if other.Indexing.Workers != 0 {
		c.Indexing.Workers = other.Indexing.Workers
	}
	if other.Indexing.MaxFiles != 0 {
		c.Indexing.MaxFiles = other.Indexing.MaxFiles
	}
	if other.Lifecycle.AutoResolveThreshold != 0 {
		c.Lifecycle.AutoResolveThreshold = other.Lifecycle.AutoResolveThreshold
	}
	if other.Lifecycle.PendingThreshold != 0 {
		c.Lifecycle.PendingThreshold = other.Lifecycle.PendingThreshold
	}
	if other.Lifecycle.PendingSuppressWindow != "" {
		c.Lifecycle.PendingSuppressWindow = other.Lifecycle.PendingSuppressWindow
	}
	if other.Lifecycle.StaleSweepInterval != "" {
		c.Lifecycle.StaleSweepInterval = other.Lifecycle.StaleSweepInterval
	}
	if other.Lifecycle.StaleAfterDays != 0 {
		c.Lifecycle.StaleAfterDays = other.Lifecycle.StaleAfterDays
	}
	if other.Backup.RetentionCount != 0 {
		c.Backup.RetentionCount = other.Backup.RetentionCount
	}
	if other.Backup.AutoBackupCron != "" {
		c.Backup.AutoBackupCron = other.Backup.AutoBackupCron
	}
	if other.Backup.IncludeLocalByDefault {
		c.Backup.IncludeLocalByDefault = other.Backup.IncludeLocalByDefault
	}
	if other.Circuit.MaxFailures != 0 {
		c.Circuit.MaxFailures = other.Circuit.MaxFailures
	}
	if other.Circuit.OpenDuration != "" {
		c.Circuit.OpenDuration = other.Circuit.OpenDuration
	}
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.MaxSizeBytes != 0 {
		c.Logging.MaxSizeBytes = other.Logging.MaxSizeBytes
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
	if other.Logging.MirrorStderr {
		c.Logging.MirrorStderr = other.Logging.MirrorStderr
	}
}

// applyEnvOverrides applies CODESEARCH_* environment variables, the
// highest-precedence override tier for index tuning and file-watcher
// behavior.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CODESEARCH_DEBOUNCE_WINDOW"); v != "" {
		c.Indexing.DebounceWindow = v
	}
	if v := os.Getenv("CODESEARCH_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.BatchSize = n
		}
	}
	if v := os.Getenv("CODESEARCH_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.Workers = n
		}
	}
	if v := os.Getenv("CODESEARCH_MAX_FILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.MaxFiles = n
		}
	}
	if v := os.Getenv("CODESEARCH_AUTO_RESOLVE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Lifecycle.AutoResolveThreshold = f
		}
	}
	if v := os.Getenv("CODESEARCH_PENDING_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Lifecycle.PendingThreshold = f
		}
	}
	if v := os.Getenv("CODESEARCH_STALE_AFTER_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Lifecycle.StaleAfterDays = n
		}
	}
	if v := os.Getenv("CODESEARCH_BACKUP_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Backup.RetentionCount = n
		}
	}
	if v := os.Getenv("CODESEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the final, fully-layered configuration before it is
// used: validate after load, never mid-merge.
func (c *Config) Validate() error {
	if c.Lifecycle.AutoResolveThreshold < 0 || c.Lifecycle.AutoResolveThreshold > 1 {
		return fmt.Errorf("lifecycle.auto_resolve_threshold must be between 0 and 1, got %f", c.Lifecycle.AutoResolveThreshold)
	}
	if c.Lifecycle.PendingThreshold < 0 || c.Lifecycle.PendingThreshold > 1 {
		return fmt.Errorf("lifecycle.pending_threshold must be between 0 and 1, got %f", c.Lifecycle.PendingThreshold)
	}
	if c.Lifecycle.PendingThreshold > c.Lifecycle.AutoResolveThreshold {
		return fmt.Errorf("lifecycle.pending_threshold (%f) must not exceed auto_resolve_threshold (%f)",
			c.Lifecycle.PendingThreshold, c.Lifecycle.AutoResolveThreshold)
	}
	if c.Indexing.BatchSize <= 0 {
		return fmt.Errorf("indexing.batch_size must be positive, got %d", c.Indexing.BatchSize)
	}
	if c.Indexing.Workers <= 0 {
		return fmt.Errorf("indexing.workers must be positive, got %d", c.Indexing.Workers)
	}
	if _, err := time.ParseDuration(c.Indexing.DebounceWindow); err != nil {
		return fmt.Errorf("indexing.debounce_window is not a valid duration: %w", err)
	}
	if _, err := time.ParseDuration(c.Lifecycle.PendingSuppressWindow); err != nil {
		return fmt.Errorf("lifecycle.pending_suppress_window is not a valid duration: %w", err)
	}
	if _, err := time.ParseDuration(c.Lifecycle.StaleSweepInterval); err != nil {
		return fmt.Errorf("lifecycle.stale_sweep_interval is not a valid duration: %w", err)
	}
	if c.Backup.RetentionCount < 0 {
		return fmt.Errorf("backup.retention_count must be non-negative, got %d", c.Backup.RetentionCount)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %s", c.Logging.Level)
	}
	return nil
}

// DebounceWindow parses Indexing.DebounceWindow, already validated by
// Validate.
func (c *Config) DebounceWindow() time.Duration {
	d, _ := time.ParseDuration(c.Indexing.DebounceWindow)
	return d
}

// PendingSuppressWindow parses Lifecycle.PendingSuppressWindow.
func (c *Config) PendingSuppressWindow() time.Duration {
	d, _ := time.ParseDuration(c.Lifecycle.PendingSuppressWindow)
	return d
}

// StaleSweepInterval parses Lifecycle.StaleSweepInterval.
func (c *Config) StaleSweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.Lifecycle.StaleSweepInterval)
	return d
}

// WriteYAML writes the configuration to path, creating its parent
// directory if needed.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("engineconfig: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("engineconfig: mkdir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
