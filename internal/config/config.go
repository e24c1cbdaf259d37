// Package config loads engine configuration and named remote definitions.
// Priority: env vars > ~/.horus/config.yaml > defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/temple-compute/horus/internal/remote"
	"github.com/temple-compute/horus/pkg/schema"
)

// Config holds all engine configuration.
type Config struct {
	DBPath       string `yaml:"db_path"`
	LogLevel     string `yaml:"log_level"`
	Concurrency  int    `yaml:"concurrency"`
	PollInterval string `yaml:"poll_interval"` // duration, e.g. "2s"
	ArtifactDir  string `yaml:"artifact_dir"`

	Retry schema.RetryPolicy `yaml:"retry"`
}

// PollIntervalDuration parses the remote poll interval. Validate guarantees
// the value parses after Load.
func (c Config) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// remotesFile models ~/.horus/remotes.yaml.
type remotesFile struct {
	Remotes []remote.Config `yaml:"remotes"`
}

// Dir returns the horus home directory (~/.horus).
func Dir() string {
	if v := os.Getenv("HORUS_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".horus"
	}
	return filepath.Join(home, ".horus")
}

func configPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// RemotesPath returns the on-disk location of the remotes file.
func RemotesPath() string {
	return filepath.Join(Dir(), "remotes.yaml")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath:       filepath.Join(Dir(), "horus.db"),
		LogLevel:     "info",
		Concurrency:  4,
		PollInterval: "2s",
		ArtifactDir:  filepath.Join(Dir(), "artifacts"),
		Retry: schema.RetryPolicy{
			Max:     3,
			Backoff: "exponential",
			Delay:   "1s",
		},
	}
}

// Load builds the effective configuration from defaults, the config file
// (ignored if missing) and HORUS_* environment overrides.
func Load() (Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(configPath()); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", configPath(), err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: read %s: %w", configPath(), err)
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HORUS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("HORUS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HORUS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("HORUS_POLL_INTERVAL"); v != "" {
		cfg.PollInterval = v
	}
	if v := os.Getenv("HORUS_ARTIFACT_DIR"); v != "" {
		cfg.ArtifactDir = v
	}
	if v := os.Getenv("HORUS_RETRY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.Max = n
		}
	}
}

func (c Config) validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if d, err := time.ParseDuration(c.PollInterval); err != nil || d <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration, got %q", c.PollInterval)
	}
	switch c.Retry.Backoff {
	case "", "none", "linear", "exponential":
	default:
		return fmt.Errorf("retry.backoff must be none, linear or exponential, got %q", c.Retry.Backoff)
	}
	if c.Retry.Max < 0 {
		return fmt.Errorf("retry.max must be >= 0, got %d", c.Retry.Max)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// LoadRemotes reads the named remote definitions. A missing file yields an
// empty list.
func LoadRemotes() ([]remote.Config, error) {
	return loadRemotesFrom(RemotesPath())
}

func loadRemotesFrom(path string) ([]remote.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var file remotesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(file.Remotes))
	for i, r := range file.Remotes {
		if r.Name == "" {
			return nil, fmt.Errorf("config: remotes[%d]: name is required", i)
		}
		if r.Host == "" {
			return nil, fmt.Errorf("config: remote %q: host is required", r.Name)
		}
		if r.User == "" {
			return nil, fmt.Errorf("config: remote %q: user is required", r.Name)
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("config: duplicate remote name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return file.Remotes, nil
}

// SaveRemotes persists the remote definitions back to the remotes file.
func SaveRemotes(remotes []remote.Config) error {
	if err := os.MkdirAll(Dir(), 0o755); err != nil {
		return fmt.Errorf("config: ensure dir: %w", err)
	}
	data, err := yaml.Marshal(remotesFile{Remotes: remotes})
	if err != nil {
		return fmt.Errorf("config: encode remotes: %w", err)
	}
	if err := os.WriteFile(RemotesPath(), data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", RemotesPath(), err)
	}
	return nil
}
