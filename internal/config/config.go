// ABOUTME: Configuration loading and parsing for claude-relay
// ABOUTME: YAML or TOML files with environment variable expansion, defaults, and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config location.
const EnvConfigPath = "CLAUDE_RELAY_CONFIG"

// DefaultAllowedTools is the tool allowlist handed to the Claude CLI when
// none is configured.
var DefaultAllowedTools = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep", "WebFetch", "WebSearch"}

// Config represents the complete claude-relay configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Claude   ClaudeConfig   `yaml:"claude" toml:"claude"`
	Relay    RelayConfig    `yaml:"relay" toml:"relay"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the local HTTP API configuration
type ServerConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig selects and configures the session store backend
type DatabaseConfig struct {
	// Backend is one of sqlite, file, redis, dynamodb, memory.
	Backend string `yaml:"backend" toml:"backend"`
	// Path is the SQLite database or JSON mapping file.
	Path string `yaml:"path" toml:"path"`
	// Driver is the database/sql driver for sqlite: "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `yaml:"driver" toml:"driver"`

	Redis    RedisConfig    `yaml:"redis" toml:"redis"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb" toml:"dynamodb"`

	LockTTL    time.Duration `yaml:"-" toml:"-"`
	LockTTLRaw string        `yaml:"lock_ttl" toml:"lock_ttl"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
	// Lock enables the distributed per-user lock for multi-process deployments.
	Lock bool `yaml:"lock" toml:"lock"`
}

// DynamoDBConfig holds DynamoDB table settings
type DynamoDBConfig struct {
	Table    string `yaml:"table" toml:"table"`
	Region   string `yaml:"region" toml:"region"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"` // local testing (dynamodb-local)
}

// ClaudeConfig configures the Claude CLI invocation
type ClaudeConfig struct {
	Binary       string   `yaml:"binary" toml:"binary"`
	Model        string   `yaml:"model" toml:"model"`
	WorkDir      string   `yaml:"work_dir" toml:"work_dir"`
	AllowedTools []string `yaml:"allowed_tools" toml:"allowed_tools"`
	ExtraArgs    []string `yaml:"extra_args" toml:"extra_args"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// RelayConfig holds message handling settings shared by all transports
type RelayConfig struct {
	// MaxLength caps rendered replies in characters. Unset means 4000,
	// negative disables the cap.
	MaxLength    int      `yaml:"max_length" toml:"max_length"`
	AllowedUsers []string `yaml:"allowed_users" toml:"allowed_users"`

	DedupeTTL    time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
	DedupeSize   int           `yaml:"dedupe_size" toml:"dedupe_size"`
}

// MatrixConfig holds Matrix transport configuration
type MatrixConfig struct {
	Enabled       bool     `yaml:"enabled" toml:"enabled"`
	Homeserver    string   `yaml:"homeserver" toml:"homeserver"`
	UserID        string   `yaml:"user_id" toml:"user_id"`
	AccessToken   string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms  []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	CommandPrefix string   `yaml:"command_prefix" toml:"command_prefix"`

	TypingIndicator bool `yaml:"typing_indicator" toml:"typing_indicator"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// DefaultPath returns the config file location: $CLAUDE_RELAY_CONFIG if set,
// otherwise $XDG_CONFIG_HOME/claude-relay/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "claude-relay", "config.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Database.Backend == "" {
		c.Database.Backend = "sqlite"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			switch c.Database.Backend {
			case "sqlite":
				c.Database.Path = filepath.Join(home, ".claude-relay", "sessions.db")
			case "file":
				c.Database.Path = filepath.Join(home, ".claude-relay-sessions.json")
			}
		}
	}
	if c.Database.Redis.Prefix == "" {
		c.Database.Redis.Prefix = "claude-relay:"
	}
	if c.Claude.Binary == "" {
		c.Claude.Binary = "claude"
	}
	if len(c.Claude.AllowedTools) == 0 {
		c.Claude.AllowedTools = append([]string(nil), DefaultAllowedTools...)
	}
	if c.Claude.Timeout == 0 {
		c.Claude.Timeout = 10 * time.Minute
	}
	if c.Relay.MaxLength == 0 {
		c.Relay.MaxLength = 4000
	}
	if c.Relay.DedupeTTL == 0 {
		c.Relay.DedupeTTL = 10 * time.Minute
	}
	if c.Relay.DedupeSize == 0 {
		c.Relay.DedupeSize = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Server.Enabled && !c.Matrix.Enabled {
		return errors.New("at least one transport must be enabled (server.enabled or matrix.enabled)")
	}
	if c.Server.Enabled && c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required when the server is enabled")
	}

	switch c.Database.Backend {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for the sqlite backend")
		}
		if c.Database.Driver != "sqlite" && c.Database.Driver != "sqlite3" {
			return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
		}
	case "file":
		if c.Database.Path == "" {
			return errors.New("database.path is required for the file backend")
		}
	case "redis":
		if c.Database.Redis.Addr == "" {
			return errors.New("database.redis.addr is required for the redis backend")
		}
	case "dynamodb":
		if c.Database.DynamoDB.Table == "" {
			return errors.New("database.dynamodb.table is required for the dynamodb backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database.backend %q", c.Database.Backend)
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" {
			return errors.New("matrix.homeserver is required when matrix is enabled")
		}
		if c.Matrix.UserID == "" {
			return errors.New("matrix.user_id is required when matrix is enabled")
		}
		if c.Matrix.AccessToken == "" {
			return errors.New("matrix.access_token is required when matrix is enabled")
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"database.lock_ttl", cfg.Database.LockTTLRaw, &cfg.Database.LockTTL},
		{"claude.timeout", cfg.Claude.TimeoutRaw, &cfg.Claude.Timeout},
		{"relay.dedupe_ttl", cfg.Relay.DedupeTTLRaw, &cfg.Relay.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
