package config

import "time"

// Config is the root configuration for cookiejar.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Remote      RemoteConfig      `yaml:"remote"`
	Crypto      CryptoConfig      `yaml:"crypto"`
	Cookies     CookiesConfig     `yaml:"cookies"`
	Sync        SyncConfig        `yaml:"sync"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Secrets     SecretsConfig     `yaml:"secrets"`
	MCP         MCPConfig         `yaml:"mcp"`
}

type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	DataDir       string `yaml:"data_dir"`
	APIToken      string `yaml:"api_token"`
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type RemoteConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIVersion  string        `yaml:"api_version"`
	Timeout     time.Duration `yaml:"timeout"`
	Description string        `yaml:"description"`
	PerPage     int           `yaml:"per_page"`
	MaxPages    int           `yaml:"max_pages"`
}

type CryptoConfig struct {
	Iterations int `yaml:"iterations"`
}

type CookiesConfig struct {
	JarPath string `yaml:"jar_path"`
	Watch   bool   `yaml:"watch"`
}

type SyncConfig struct {
	Debounce          time.Duration `yaml:"debounce"`
	MinRetryDelay     time.Duration `yaml:"min_retry_delay"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	ApplyThrottle     time.Duration `yaml:"apply_throttle"`
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
}

type PermissionsConfig struct {
	AutoGrant      bool     `yaml:"auto_grant"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Interactive    bool     `yaml:"interactive"`
}

type SecretsConfig struct {
	// Backend is "keyring" (OS keyring, then environment) or "store"
	// (local database, then environment).
	Backend       string `yaml:"backend"`
	Service       string `yaml:"service"`
	TokenEnv      string `yaml:"token_env"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

type MCPConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Path             string        `yaml:"path"`
	ProgressDebounce time.Duration `yaml:"progress_debounce"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          8421,
			DataDir:       "~/.config/cookiejar",
			LogLevel:      "info",
			LogMaxSizeMB:  10,
			LogMaxBackups: 3,
		},
		Database: DatabaseConfig{
			Path:          "~/.config/cookiejar/cookiejar.db",
			RetentionDays: 30,
		},
		Remote: RemoteConfig{
			BaseURL:     "https://api.github.com",
			APIVersion:  "2022-11-28",
			Timeout:     30 * time.Second,
			Description: "CookieJar - Encrypted Cookies",
			PerPage:     100,
			MaxPages:    10,
		},
		Crypto: CryptoConfig{
			Iterations: 200_000,
		},
		Cookies: CookiesConfig{
			JarPath: "~/.config/cookiejar/cookies.json",
			Watch:   true,
		},
		Sync: SyncConfig{
			Debounce:          60 * time.Second,
			MinRetryDelay:     5 * time.Second,
			MaxBackoff:        15 * time.Minute,
			ApplyThrottle:     100 * time.Millisecond,
			MaxConcurrentRuns: 2,
			RunTimeout:        10 * time.Minute,
		},
		Permissions: PermissionsConfig{
			Interactive: true,
		},
		Secrets: SecretsConfig{
			Backend:       "keyring",
			Service:       "cookiejar",
			TokenEnv:      "COOKIEJAR_GITHUB_TOKEN",
			PassphraseEnv: "COOKIEJAR_PASSPHRASE",
		},
		MCP: MCPConfig{
			Enabled:          true,
			Path:             "/mcp",
			ProgressDebounce: 2 * time.Second,
		},
	}
}
