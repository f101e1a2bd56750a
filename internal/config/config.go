package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	// DefaultAccessTokenTTL is the access token lifetime in seconds
	DefaultAccessTokenTTL = 900
	// DefaultRefreshTokenTTL is the refresh token lifetime in seconds (30 days)
	DefaultRefreshTokenTTL = 2592000
	// DefaultSweepInterval is the session sweeper interval in seconds
	DefaultSweepInterval = 86400
	// DefaultBlacklistSweepInterval is the blacklist cleanup interval in seconds
	DefaultBlacklistSweepInterval = 3600
	// DefaultStoreTimeout is the per-operation store timeout in milliseconds
	DefaultStoreTimeout = 2000
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Signing algorithms
const (
	SigningRS256 = "rs256"
	SigningHS256 = "hs256"
)

// Config holds the application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Session  SessionConfig  `yaml:"session"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig holds app-specific configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	Domain         string          `yaml:"domain"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-IP rate limiting configuration
type RateLimitConfig struct {
	Max        int `yaml:"max"`
	Expiration int `yaml:"expiration"` // seconds
}

// AuthConfig holds token and cookie configuration
type AuthConfig struct {
	Signing                string       `yaml:"signing"` // rs256, hs256
	KeysPath               string       `yaml:"keys_path"`
	ActiveKID              string       `yaml:"active_kid"`
	AccessTokenTTL         int          `yaml:"access_token_ttl"`  // seconds
	RefreshTokenTTL        int          `yaml:"refresh_token_ttl"` // seconds
	RotateRefreshOnRefresh bool         `yaml:"rotate_refresh_on_refresh"`
	BlacklistFailOpen      bool         `yaml:"blacklist_fail_open"`
	IdentityCacheTTL       int          `yaml:"identity_cache_ttl"` // seconds, 0 disables
	Cookie                 CookieConfig `yaml:"cookie"`
}

// CookieConfig holds refresh token cookie attributes
type CookieConfig struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Domain   string `yaml:"domain"`
	Secure   bool   `yaml:"secure"`
	SameSite string `yaml:"same_site"`
}

// SessionConfig holds session storage and sweeping configuration
type SessionConfig struct {
	Store                  string `yaml:"store"` // memory, redis, postgres
	StoreTimeout           int    `yaml:"store_timeout"`            // milliseconds
	SweepInterval          int    `yaml:"sweep_interval"`           // seconds
	BlacklistSweepInterval int    `yaml:"blacklist_sweep_interval"` // seconds
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds redis connection configuration
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logging-specific configuration
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads configuration from a YAML file and fills in defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Auth.Signing == "" {
		c.Auth.Signing = SigningRS256
	}
	c.Auth.Signing = strings.ToLower(c.Auth.Signing)
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.Auth.Cookie.Name == "" {
		c.Auth.Cookie.Name = "refresh_token"
	}
	if c.Auth.Cookie.Path == "" {
		c.Auth.Cookie.Path = "/v1/auth"
	}
	if c.Auth.Cookie.SameSite == "" {
		c.Auth.Cookie.SameSite = "Lax"
	}
	if c.Session.Store == "" {
		c.Session.Store = StoreRedis
	}
	c.Session.Store = strings.ToLower(c.Session.Store)
	if c.Session.StoreTimeout <= 0 {
		c.Session.StoreTimeout = DefaultStoreTimeout
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = DefaultSweepInterval
	}
	if c.Session.BlacklistSweepInterval <= 0 {
		c.Session.BlacklistSweepInterval = DefaultBlacklistSweepInterval
	}
	if c.Server.RateLimit.Max <= 0 {
		c.Server.RateLimit.Max = 100
	}
	if c.Server.RateLimit.Expiration <= 0 {
		c.Server.RateLimit.Expiration = 60
	}
}

// Validate checks enumerated settings
func (c *Config) Validate() error {
	switch c.Auth.Signing {
	case SigningRS256, SigningHS256:
	default:
		return fmt.Errorf("unknown signing algorithm %q", c.Auth.Signing)
	}

	switch c.Session.Store {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}

	if c.Auth.IdentityCacheTTL < 0 {
		return fmt.Errorf("identity_cache_ttl must not be negative")
	}

	if c.Auth.AccessTokenTTL >= c.Auth.RefreshTokenTTL {
		return fmt.Errorf("access_token_ttl must be shorter than refresh_token_ttl")
	}

	return nil
}

// AccessTTL returns the access token lifetime
func (a *AuthConfig) AccessTTL() time.Duration {
	return time.Duration(a.AccessTokenTTL) * time.Second
}

// RefreshTTL returns the refresh token lifetime
func (a *AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(a.RefreshTokenTTL) * time.Second
}

// IdentityCacheEvery returns how long a looked-up identity stays cached
func (a *AuthConfig) IdentityCacheEvery() time.Duration {
	return time.Duration(a.IdentityCacheTTL) * time.Second
}

// Timeout returns the per-operation store timeout
func (s *SessionConfig) Timeout() time.Duration {
	return time.Duration(s.StoreTimeout) * time.Millisecond
}

// SweepEvery returns the session sweeper interval
func (s *SessionConfig) SweepEvery() time.Duration {
	return time.Duration(s.SweepInterval) * time.Second
}

// BlacklistSweepEvery returns the blacklist cleanup interval
func (s *SessionConfig) BlacklistSweepEvery() time.Duration {
	return time.Duration(s.BlacklistSweepInterval) * time.Second
}

// Address returns the server address in the format "host:port"
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Address returns the redis address in the format "host:port"
func (r *RedisConfig) Address() string {
	return net.JoinHostPort(r.Host, fmt.Sprintf("%d", r.Port))
}

// quoteDSNValue quotes a DSN value if it contains spaces or special characters.
// Single quotes inside the value are escaped by doubling them.
func quoteDSNValue(value string) string {
	needsQuoting := value == ""
	for _, r := range value {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_' || r == '/' || r == '@' || r == ':') {
			needsQuoting = true
			break
		}
	}

	if !needsQuoting {
		return value
	}

	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// DSN returns the database connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSNValue(d.Host),
		d.Port,
		quoteDSNValue(d.User),
		quoteDSNValue(d.Password),
		quoteDSNValue(d.DBName),
		quoteDSNValue(d.SSLMode),
	)
}

// URL returns the database connection URL in postgres:// format for golang-migrate
func (d *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, fmt.Sprintf("%d", d.Port)),
		Path:     "/" + d.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s&search_path=public", url.QueryEscape(d.SSLMode)),
	}

	return u.String()
}
