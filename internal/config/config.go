// Package config provides configuration loading and management for the sync server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment variables read by the server.
const EnvPrefix = "REPORANK"

const (
	defaultSyncInterval       = time.Hour
	defaultRepositoryPause    = time.Second
	defaultFetchTimeout       = 60 * time.Second
	defaultRecentCommitsLimit = 100
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Server holds the HTTP trigger surface settings
	Server ServerConfig `yaml:"server"`

	// GitHub holds the upstream API client settings
	GitHub GitHubConfig `yaml:"github"`

	// Sync holds the synchronization engine settings
	Sync SyncConfig `yaml:"sync"`

	// Database holds the Postgres connection settings
	Database *DatabaseConfig `yaml:"database,omitempty"`

	// Telemetry holds the metrics export settings
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig defines the OpenTelemetry metrics export settings. Metrics
// are disabled unless explicitly enabled.
type TelemetryConfig struct {
	// MetricsEnabled turns on OTLP metric export
	MetricsEnabled bool `yaml:"metricsEnabled,omitempty"`

	// Endpoint is the OTLP collector endpoint, host:port
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for the exporter connection
	Insecure bool `yaml:"insecure,omitempty"`
}

// ServerConfig defines the HTTP server settings
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080"
	Address string `yaml:"address,omitempty"`

	// AuthToken is the shared bearer credential guarding the sync endpoints.
	// Prefer AuthTokenFile or the REPORANK_AUTH_TOKEN environment variable.
	AuthToken string `yaml:"authToken,omitempty"`

	// AuthTokenFile is the path to a file containing the bearer credential
	AuthTokenFile string `yaml:"authTokenFile,omitempty"`
}

// GitHubConfig defines the upstream GitHub API client settings
type GitHubConfig struct {
	// Token is the GitHub API token. Prefer TokenFile or the
	// REPORANK_GITHUB_TOKEN environment variable.
	Token string `yaml:"token,omitempty"`

	// TokenFile is the path to a file containing the GitHub API token
	TokenFile string `yaml:"tokenFile,omitempty"`

	// BaseURL overrides the GitHub API base URL (for GitHub Enterprise
	// or test servers). Must end with a trailing slash when set.
	BaseURL string `yaml:"baseURL,omitempty"`
}

// SyncConfig defines synchronization engine settings
type SyncConfig struct {
	// Interval is the period between scheduled batch syncs (e.g. "1h")
	Interval string `yaml:"interval,omitempty"`

	// RepositoryPause is the pause between repositories within a batch.
	// This keeps the batch under the upstream rate ceiling; a full pass
	// takes roughly N x (fetch time + pause).
	RepositoryPause string `yaml:"repositoryPause,omitempty"`

	// FetchTimeout bounds a single repository's metric fetch (e.g. "60s")
	FetchTimeout string `yaml:"fetchTimeout,omitempty"`

	// RecentCommitsLimit caps the fallback recent-commit listing used when
	// the commit-activity series is unavailable
	RecentCommitsLimit int `yaml:"recentCommitsLimit,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// This is the recommended approach for production deployments.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateDuration("sync.interval", c.Sync.Interval); err != nil {
		return err
	}
	if err := validateDuration("sync.repositoryPause", c.Sync.RepositoryPause); err != nil {
		return err
	}
	if err := validateDuration("sync.fetchTimeout", c.Sync.FetchTimeout); err != nil {
		return err
	}
	if c.Sync.RecentCommitsLimit < 0 {
		return fmt.Errorf("sync.recentCommitsLimit must not be negative")
	}

	if c.GitHub.BaseURL != "" {
		u, err := url.Parse(c.GitHub.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("github.baseURL must be a valid absolute URL")
		}
	}

	if c.Database != nil {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Port == 0 {
			return fmt.Errorf("database.port is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required")
		}
		if c.Database.ConnMaxLifetime != "" {
			if _, err := time.ParseDuration(c.Database.ConnMaxLifetime); err != nil {
				return fmt.Errorf("database.connMaxLifetime must be a valid duration: %w", err)
			}
		}
	}

	return nil
}

func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30m', '1h'): %w", field, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative", field)
	}
	return nil
}

// GetAddress returns the listen address, defaulting to ":8080"
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return ":8080"
	}
	return s.Address
}

// GetAuthToken returns the shared bearer credential using the following priority:
// 1. Read from AuthTokenFile if specified
// 2. Read from the REPORANK_AUTH_TOKEN environment variable
// 3. The inline authToken value
func (s *ServerConfig) GetAuthToken() (string, error) {
	if s.AuthTokenFile != "" {
		return readSecretFile(s.AuthTokenFile)
	}
	if env := os.Getenv(EnvPrefix + "_AUTH_TOKEN"); env != "" {
		return env, nil
	}
	if s.AuthToken != "" {
		return s.AuthToken, nil
	}
	return "", fmt.Errorf(
		"no auth token configured: set server.authTokenFile or the %s_AUTH_TOKEN environment variable", EnvPrefix)
}

// GetToken returns the GitHub API token using the following priority:
// 1. Read from TokenFile if specified
// 2. Read from the REPORANK_GITHUB_TOKEN environment variable
// 3. The inline token value
func (g *GitHubConfig) GetToken() (string, error) {
	if g.TokenFile != "" {
		return readSecretFile(g.TokenFile)
	}
	if env := os.Getenv(EnvPrefix + "_GITHUB_TOKEN"); env != "" {
		return env, nil
	}
	if g.Token != "" {
		return g.Token, nil
	}
	return "", fmt.Errorf(
		"no GitHub token configured: set github.tokenFile or the %s_GITHUB_TOKEN environment variable", EnvPrefix)
}

// GetInterval returns the scheduled batch sync interval
func (s *SyncConfig) GetInterval() time.Duration {
	return durationOrDefault(s.Interval, defaultSyncInterval)
}

// GetRepositoryPause returns the inter-repository pause within a batch
func (s *SyncConfig) GetRepositoryPause() time.Duration {
	return durationOrDefault(s.RepositoryPause, defaultRepositoryPause)
}

// GetFetchTimeout returns the per-repository fetch deadline
func (s *SyncConfig) GetFetchTimeout() time.Duration {
	return durationOrDefault(s.FetchTimeout, defaultFetchTimeout)
}

// GetRecentCommitsLimit returns the cap on the fallback recent-commit listing
func (s *SyncConfig) GetRecentCommitsLimit() int {
	if s.RecentCommitsLimit == 0 {
		return defaultRecentCommitsLimit
	}
	return s.RecentCommitsLimit
}

func durationOrDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from the REPORANK_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		return readSecretFile(d.PasswordFile)
	}

	if envPassword := os.Getenv(EnvPrefix + "_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or the %s_DATABASE_PASSWORD environment variable", EnvPrefix)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	return d.connectionString("postgres")
}

// GetMigrationConnectionString builds a connection string for the migration
// tooling, which expects the pgx5:// scheme.
func (d *DatabaseConfig) GetMigrationConnectionString() (string, error) {
	return d.connectionString("pgx5")
}

func (d *DatabaseConfig) connectionString(scheme string) (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"%s://%s:%s@%s:%d/%s?sslmode=%s",
		scheme,
		d.User,
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

func readSecretFile(path string) (string, error) {
	// Use filepath.Clean to prevent path traversal attacks
	cleanPath := filepath.Clean(path)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret from file %s: %w", path, err)
	}

	return strings.TrimSpace(string(data)), nil
}
