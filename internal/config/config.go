package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	GitHub   GitHubConfig   `yaml:"github"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Notify   NotifyConfig   `yaml:"notify"`
	Defaults DefaultsConfig `yaml:"defaults"`
	CoreTeam []string       `yaml:"core_team"`
	Repos    []RepoConfig   `yaml:"repos"`
}

// GitHubConfig holds GitHub authentication settings.
type GitHubConfig struct {
	Auth           string `yaml:"auth"`
	Token          string `yaml:"token"`
	AppID          string `yaml:"app_id"`
	InstallationID string `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PrivateKey     string `yaml:"private_key"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	WebhookSecret  string   `yaml:"webhook_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig holds storage settings.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// NotifyConfig holds notification webhook URLs.
type NotifyConfig struct {
	SlackWebhook   string `yaml:"slack_webhook"`
	DiscordWebhook string `yaml:"discord_webhook"`
}

// DefaultsConfig holds default operational parameters.
type DefaultsConfig struct {
	WindowDays        int    `yaml:"window_days"`
	SyncIntervalRaw   string `yaml:"sync_interval"`
	RequestTimeoutRaw string `yaml:"request_timeout"`
	SyncWorkers       int    `yaml:"sync_workers"`
}

// RepoConfig names a repository to sync and report on.
type RepoConfig struct {
	Name string `yaml:"name"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Window returns the default statistics window.
func (d DefaultsConfig) Window() time.Duration {
	days := d.WindowDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// SyncInterval returns the parsed sync interval duration.
func (d DefaultsConfig) SyncInterval() (time.Duration, error) {
	if d.SyncIntervalRaw == "" {
		return 15 * time.Minute, nil
	}
	return time.ParseDuration(d.SyncIntervalRaw)
}

// RequestTimeout returns the parsed request timeout duration.
func (d DefaultsConfig) RequestTimeout() (time.Duration, error) {
	if d.RequestTimeoutRaw == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(d.RequestTimeoutRaw)
}

// envVarPattern matches ${VAR} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} placeholders with environment variable values.
// Full-line comments are left untouched. Returns an error if any referenced
// variable is not set.
func expandEnvVars(data []byte) ([]byte, error) {
	var missing []string

	lines := bytes.SplitAfter(data, []byte("\n"))
	for i, line := range lines {
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("#")) {
			continue
		}
		lines[i] = envVarPattern.ReplaceAllFunc(line, func(match []byte) []byte {
			varName := envVarPattern.FindSubmatch(match)[1]
			val, ok := os.LookupEnv(string(varName))
			if !ok {
				missing = append(missing, string(varName))
				return match
			}
			return []byte(val)
		})
	}
	result := bytes.Join(lines, nil)

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return expandTilde("~/.issuesla/config.yaml")
}

// Load reads and parses a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses config from raw YAML bytes, expanding env vars and validating.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8911"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverSQLite
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.issuesla/issuesla.db"
	}
	cfg.Store.Path = expandTilde(cfg.Store.Path)
	cfg.GitHub.PrivateKeyPath = expandTilde(cfg.GitHub.PrivateKeyPath)

	if cfg.Defaults.WindowDays == 0 {
		cfg.Defaults.WindowDays = 30
	}
	if cfg.Defaults.SyncIntervalRaw == "" {
		cfg.Defaults.SyncIntervalRaw = "15m"
	}
	if cfg.Defaults.RequestTimeoutRaw == "" {
		cfg.Defaults.RequestTimeoutRaw = "30s"
	}
	if cfg.Defaults.SyncWorkers == 0 {
		cfg.Defaults.SyncWorkers = 5
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}

	switch cfg.GitHub.Auth {
	case "":
	case "token":
		if cfg.GitHub.Token == "" {
			return fmt.Errorf("github.token is required for token auth")
		}
	case "app":
		if cfg.GitHub.AppID == "" || cfg.GitHub.InstallationID == "" {
			return fmt.Errorf("github.app_id and github.installation_id are required for app auth")
		}
		if cfg.GitHub.PrivateKey == "" && cfg.GitHub.PrivateKeyPath == "" {
			return fmt.Errorf("github.private_key or github.private_key_path is required for app auth")
		}
	default:
		return fmt.Errorf("unsupported github auth mode: %s", cfg.GitHub.Auth)
	}

	if cfg.Defaults.WindowDays < 0 {
		return fmt.Errorf("window_days must be positive, got %d", cfg.Defaults.WindowDays)
	}
	if cfg.Defaults.SyncWorkers < 0 {
		return fmt.Errorf("sync_workers must be positive, got %d", cfg.Defaults.SyncWorkers)
	}

	// Validate durations parse correctly
	if _, err := time.ParseDuration(cfg.Defaults.SyncIntervalRaw); err != nil {
		return fmt.Errorf("invalid sync_interval %q: %w", cfg.Defaults.SyncIntervalRaw, err)
	}
	if _, err := time.ParseDuration(cfg.Defaults.RequestTimeoutRaw); err != nil {
		return fmt.Errorf("invalid request_timeout %q: %w", cfg.Defaults.RequestTimeoutRaw, err)
	}

	for _, repo := range cfg.Repos {
		parts := strings.Split(repo.Name, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid repo name %q: expected owner/repo", repo.Name)
		}
	}

	return nil
}
