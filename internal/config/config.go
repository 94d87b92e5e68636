// Package config handles configuration loading from YAML files and environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Capture CaptureConfig `yaml:"capture"`
	Filters FilterConfig  `yaml:"filters"`
	Masking MaskingConfig `yaml:"masking"`
	Queue   QueueConfig   `yaml:"queue"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig configures file and database locations.
type StorageConfig struct {
	CaptureFile string `yaml:"capture_file"` // raw capture events (JSONL)
	MergedFile  string `yaml:"merged_file"`  // merged records (JSONL)
	SplitDir    string `yaml:"split_dir"`    // per-exchange text files
	DBPath      string `yaml:"db_path"`      // merged-record index
	AppendMode  bool   `yaml:"append_mode"`  // append to capture_file instead of truncating
}

// CaptureConfig configures the capture recorder.
type CaptureConfig struct {
	MaxBodyBytes   int `yaml:"max_body_bytes"`  // bodies above this are stored as a size placeholder
	InFlightMax    int `yaml:"in_flight_max"`   // tracked concurrent exchanges
	InFlightTTLSec int `yaml:"in_flight_ttl_s"` // abandoned exchanges expire after this
}

// FilterConfig configures URL capture filters. Exclude patterns win over
// include patterns.
type FilterConfig struct {
	IncludePatterns []string `yaml:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// MaskingConfig configures credential masking.
type MaskingConfig struct {
	Enabled             bool     `yaml:"enabled"`
	MaskPattern         string   `yaml:"mask_pattern"`
	SensitiveHeaders    []string `yaml:"sensitive_headers"`
	SensitiveBodyFields []string `yaml:"sensitive_body_fields"` // dotted JSON paths
}

// QueueConfig configures the event persistence queue.
type QueueConfig struct {
	MaxSize         int `yaml:"max_size"`
	BatchSize       int `yaml:"batch_size"`
	FlushIntervalMs int `yaml:"flush_interval_ms"`
}

// LoggingConfig configures log output and rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	File       string `yaml:"file"`  // empty means stderr only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig returns a Config with working defaults. Paths that depend on
// the platform are filled in by Load.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			CaptureFile: "capture.jsonl",
			MergedFile:  "merged.jsonl",
			SplitDir:    "records",
			DBPath:      "", // Set in Load based on platform
			AppendMode:  true,
		},
		Capture: CaptureConfig{
			MaxBodyBytes:   1048576, // 1MB
			InFlightMax:    1024,
			InFlightTTLSec: 600,
		},
		Filters: FilterConfig{
			IncludePatterns: []string{
				`https://api\.anthropic\.com/.*`,
				`https://api\.openai\.com/.*`,
				`https://generativelanguage\.googleapis\.com/.*`,
			},
			ExcludePatterns: []string{},
		},
		Masking: MaskingConfig{
			Enabled:     true,
			MaskPattern: "***MASKED***",
			SensitiveHeaders: []string{
				"authorization",
				"x-api-key",
				"api-key",
				"x-goog-api-key",
				"cookie",
				"set-cookie",
			},
			SensitiveBodyFields: []string{},
		},
		Queue: QueueConfig{
			MaxSize:         10000,
			BatchSize:       50,
			FlushIntervalMs: 1000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   false,
		},
	}
}

// ConfigDir returns the platform-specific config directory.
func ConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "lli"), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "lli"), nil
	default: // linux etc.
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, ".config", "lli"), nil
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "lli.yaml"), nil
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "lli.db"), nil
}

// Load loads configuration from file, with environment variable overrides.
// A missing config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Set default DB path
	dbPath, err := DefaultDBPath()
	if err != nil {
		return nil, fmt.Errorf("getting default db path: %w", err)
	}
	cfg.Storage.DBPath = dbPath

	// Determine config path
	if path == "" {
		path, err = DefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("getting default config path: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config to the specified path with secure permissions.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Captured traffic may contain credentials; keep the config owner-only too.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LLI_CAPTURE_FILE"); v != "" {
		c.Storage.CaptureFile = v
	}
	if v := os.Getenv("LLI_MERGED_FILE"); v != "" {
		c.Storage.MergedFile = v
	}
	if v := os.Getenv("LLI_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("LLI_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// SlogLevel maps the configured level string to a slog.Level.
// Unknown values fall back to info.
func (c *LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
