package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Iteration bounds mirror the envelope package.
const (
	minIterations = 200_000
	maxIterations = 10_000_000
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/cookiejar/cookiejar.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "cookiejar", "cookiejar.yaml"))
	}

	paths = append(paths, "cookiejar.yaml")

	if envPath := os.Getenv("COOKIEJAR_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/cookiejar/cookiejar.yaml < ~/.config/cookiejar/cookiejar.yaml < ./cookiejar.yaml < $COOKIEJAR_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values.
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("COOKIEJAR_API_TOKEN"); token != "" {
		cfg.Server.APIToken = token
	}
	if level := os.Getenv("COOKIEJAR_LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Server.Host == "0.0.0.0" {
		return fmt.Errorf("server.host must not be 0.0.0.0, the control API listens on localhost only")
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(cfg.Server.LogLevel)) {
		return fmt.Errorf("server.log_level must be one of debug, info, warn, error, got %q", cfg.Server.LogLevel)
	}

	if cfg.Crypto.Iterations < minIterations || cfg.Crypto.Iterations > maxIterations {
		return fmt.Errorf("crypto.iterations must be between %d and %d, got %d", minIterations, maxIterations, cfg.Crypto.Iterations)
	}

	if cfg.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}

	if cfg.Remote.PerPage < 1 || cfg.Remote.PerPage > 100 {
		return fmt.Errorf("remote.per_page must be between 1 and 100, got %d", cfg.Remote.PerPage)
	}

	if cfg.Remote.MaxPages < 1 {
		return fmt.Errorf("remote.max_pages must be at least 1")
	}

	if cfg.Sync.Debounce <= 0 {
		return fmt.Errorf("sync.debounce must be positive")
	}

	if cfg.Sync.MinRetryDelay < 0 || cfg.Sync.MaxBackoff < cfg.Sync.MinRetryDelay {
		return fmt.Errorf("sync.max_backoff (%s) must be at least sync.min_retry_delay (%s)", cfg.Sync.MaxBackoff, cfg.Sync.MinRetryDelay)
	}

	if cfg.Sync.MaxConcurrentRuns < 1 {
		return fmt.Errorf("sync.max_concurrent_runs must be at least 1")
	}

	if cfg.Secrets.Backend != "keyring" && cfg.Secrets.Backend != "store" {
		return fmt.Errorf("secrets.backend must be keyring or store, got %q", cfg.Secrets.Backend)
	}

	cfg.Server.DataDir = ExpandHome(cfg.Server.DataDir)
	cfg.Server.LogFile = ExpandHome(cfg.Server.LogFile)
	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Cookies.JarPath = ExpandHome(cfg.Cookies.JarPath)

	return nil
}
