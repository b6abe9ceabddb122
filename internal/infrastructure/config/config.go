package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Session registry backends.
const (
	SessionBackendSQLite = "sqlite"
	SessionBackendRedis  = "redis"
)

// MinJWTSecretLength is the shortest HMAC secret accepted for token signing.
const MinJWTSecretLength = 32

// Config is the root configuration structure for the ATCS core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Relay     RelayConfig     `yaml:"relay"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the deployment.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the log-stream WebSocket.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RelayConfig controls the vehicle-count to signal-timing relay.
type RelayConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CalculateURL    string `yaml:"calculate_url"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	CountsTopic     string `yaml:"counts_topic"`
	GreenTimesTopic string `yaml:"green_times_topic"`
	// DefaultJunction is used when a count message omits junction_id.
	DefaultJunction int64  `yaml:"default_junction_id"`
}

// Timeout returns the calculator request timeout as a Duration.
func (r RelayConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains authentication and abuse-control settings.
type SecurityConfig struct {
	JWT            JWTConfig            `yaml:"jwt"`
	Sessions       SessionsConfig       `yaml:"sessions"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	BootstrapAdmin BootstrapAdminConfig `yaml:"bootstrap_admin"`

	// TrustedProxies lists CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For header is believed. Empty means the header is ignored.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// JWTConfig contains token settings. TTLs are in minutes.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
}

// AccessTTL returns the access token lifetime.
func (j JWTConfig) AccessTTL() time.Duration {
	return time.Duration(j.AccessTokenTTL) * time.Minute
}

// RefreshTTL returns the refresh token and session lifetime.
func (j JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(j.RefreshTokenTTL) * time.Minute
}

// SessionsConfig selects and tunes the session registry.
type SessionsConfig struct {
	Backend              string      `yaml:"backend"`
	Redis                RedisConfig `yaml:"redis"`
	PurgeIntervalMinutes int         `yaml:"purge_interval_minutes"`
}

// PurgeInterval returns how often expired sessions are swept.
func (s SessionsConfig) PurgeInterval() time.Duration {
	return time.Duration(s.PurgeIntervalMinutes) * time.Minute
}

// RedisConfig contains Redis connection settings for the session registry.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RateLimitConfig contains per-client rate limiting for credential endpoints.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// BootstrapAdminConfig names the administrator created on first boot.
type BootstrapAdminConfig struct {
	Username string `yaml:"username"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ATCS_SECTION_KEY
// For example: ATCS_DATABASE_PATH, ATCS_JWT_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "atcs-001",
			Name:     "FlexTraff ATCS",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/atcs.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "atcs-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Relay: RelayConfig{
			CalculateURL:    "http://localhost:8001/api/v1/traffic/calculate-timing",
			TimeoutSeconds:  30,
			CountsTopic:     "flextraff/car_counts",
			GreenTimesTopic: "flextraff/green_times",
			DefaultJunction: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  30,
				RefreshTokenTTL: 10080,
			},
			Sessions: SessionsConfig{
				Backend: SessionBackendSQLite,
				Redis: RedisConfig{
					Addr:      "localhost:6379",
					KeyPrefix: "atcs",
				},
				PurgeIntervalMinutes: 60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 10,
				Burst:             5,
			},
			BootstrapAdmin: BootstrapAdminConfig{
				Username: "admin",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets are expected to arrive this way rather than from the file.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"ATCS_DATABASE_PATH":       &cfg.Database.Path,
		"ATCS_MQTT_HOST":           &cfg.MQTT.Broker.Host,
		"ATCS_MQTT_USERNAME":       &cfg.MQTT.Auth.Username,
		"ATCS_MQTT_PASSWORD":       &cfg.MQTT.Auth.Password,
		"ATCS_API_HOST":            &cfg.API.Host,
		"ATCS_INFLUXDB_URL":        &cfg.InfluxDB.URL,
		"ATCS_INFLUXDB_TOKEN":      &cfg.InfluxDB.Token,
		"ATCS_RELAY_CALCULATE_URL": &cfg.Relay.CalculateURL,
		"ATCS_LOG_LEVEL":           &cfg.Logging.Level,
		"ATCS_JWT_SECRET":          &cfg.Security.JWT.Secret,
		"ATCS_SESSIONS_BACKEND":    &cfg.Security.Sessions.Backend,
		"ATCS_REDIS_ADDR":          &cfg.Security.Sessions.Redis.Addr,
		"ATCS_REDIS_PASSWORD":      &cfg.Security.Sessions.Redis.Password,
		"ATCS_BOOTSTRAP_ADMIN":     &cfg.Security.BootstrapAdmin.Username,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"ATCS_API_PORT":       &cfg.API.Port,
		"ATCS_MQTT_PORT":      &cfg.MQTT.Broker.Port,
		"ATCS_JWT_ACCESS_TTL": &cfg.Security.JWT.AccessTokenTTL,
		"ATCS_REDIS_DB":       &cfg.Security.Sessions.Redis.DB,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", key, err)
		}
		*dst = n
	}

	if v := os.Getenv("ATCS_RELAY_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing ATCS_RELAY_ENABLED: %w", err)
		}
		cfg.Relay.Enabled = b
	}

	return nil
}

// Validate checks the configuration for errors and security issues.
// Every problem is reported, not just the first.
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent field checks
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// A forged token grants signal control at every junction the claims name.
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set ATCS_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < MinJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}
	if c.Security.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}
	if c.Security.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, "security.jwt.refresh_token_ttl must be positive")
	} else if c.Security.JWT.RefreshTokenTTL < c.Security.JWT.AccessTokenTTL {
		errs = append(errs, "security.jwt.refresh_token_ttl must not be shorter than access_token_ttl")
	}

	switch c.Security.Sessions.Backend {
	case SessionBackendSQLite:
	case SessionBackendRedis:
		if c.Security.Sessions.Redis.Addr == "" {
			errs = append(errs, "security.sessions.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("security.sessions.backend must be %q or %q", SessionBackendSQLite, SessionBackendRedis))
	}
	if c.Security.Sessions.PurgeIntervalMinutes <= 0 {
		errs = append(errs, "security.sessions.purge_interval_minutes must be positive")
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be positive when enabled")
	}

	for _, p := range c.Security.TrustedProxies {
		if !validProxyEntry(p) {
			errs = append(errs, fmt.Sprintf("security.trusted_proxies entry %q is not a CIDR or IP address", p))
		}
	}

	if c.Relay.Enabled {
		if u, err := url.Parse(c.Relay.CalculateURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "relay.calculate_url must be an absolute URL")
		}
		if c.Relay.TimeoutSeconds <= 0 {
			errs = append(errs, "relay.timeout_seconds must be positive")
		}
		if c.Relay.CountsTopic == "" || c.Relay.GreenTimesTopic == "" {
			errs = append(errs, "relay topics are required")
		}
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validProxyEntry(s string) bool {
	s = strings.TrimSpace(s)
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
