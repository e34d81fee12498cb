// Package config loads credengine settings from a TOML file, an optional
// .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override the config file.
const (
	EnvDatabase = "CREDENGINE_DATABASE"
	EnvDataset  = "CREDENGINE_DATASET"
	EnvBatch    = "CREDENGINE_BATCH_SIZE"
	EnvLogLevel = "LOG_LEVEL"
)

// Config holds all credengine configuration.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Daemon   DaemonConfig   `toml:"daemon"`
	Logging  LoggingConfig  `toml:"logging"`
}

// DatabaseConfig selects the canonical store. An empty DSN means the
// default SQLite file under the data directory; a postgres:// URL selects
// Postgres.
type DatabaseConfig struct {
	DSN string `toml:"dsn,omitempty"`
}

// PipelineConfig holds bulk run settings.
type PipelineConfig struct {
	BatchSize   int    `toml:"batch_size"`
	DatasetPath string `toml:"dataset_path,omitempty"`
}

// DaemonConfig holds HTTP and schedule settings for `credengine daemon`.
type DaemonConfig struct {
	Addr         string `toml:"addr"`
	Schedule     string `toml:"schedule,omitempty"`
	Timezone     string `toml:"timezone,omitempty"`
	EventsBuffer int    `toml:"events_buffer"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Pipeline: PipelineConfig{
			BatchSize: 5000,
		},
		Daemon: DaemonConfig{
			Addr:         "127.0.0.1:8787",
			EventsBuffer: 200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "credengine")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "credengine")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the config file, returning defaults if it doesn't exist, and
// applies environment overrides. A .env file in the working directory is
// loaded first; variables already set in the process win over it.
func Load() (Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), fmt.Errorf("reading .env: %w", err)
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvDatabase); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(EnvDataset); v != "" {
		cfg.Pipeline.DatasetPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvBatch); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: invalid batch size %q", EnvBatch, v)
		}
		cfg.Pipeline.BatchSize = n
	}
	return nil
}

// Save writes the config to disk.
func Save(cfg Config) error {
	return SaveFile(ConfigPath(), cfg)
}

// SaveFile is Save with an explicit config file path.
func SaveFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}
