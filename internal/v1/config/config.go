// Package config loads the hierarchical application configuration from
// environment variables, an optional YAML file, and built-in defaults, via
// Viper. Sections mirror the service boundary: server, database, kv, cache,
// pipeline, collaboration, metrics, auth.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig holds HTTP listener and rate-limit settings.
type ServerConfig struct {
	Port            string
	AllowedOrigins  string
	DevelopmentMode bool
	RateLimits      RateLimitConfig
}

// RateLimitConfig holds per-route-group limiter specs in ulule/limiter
// format ("<limit>-<period>", period one of S/M/H/D).
type RateLimitConfig struct {
	Global    string
	Public    string
	Artifacts string
	Comments  string
	WsIP      string
	WsUser    string
}

// DatabaseConfig holds the durable-store connection.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	QueryTimeout    time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// KVConfig holds the shared KV store connection.
type KVConfig struct {
	Enabled  bool
	Addr     string
	Password string
	Timeout  time.Duration
}

// CacheConfig holds two-tier cache sizing and TTLs.
type CacheConfig struct {
	Tier1MaxBytes int64
	Tier1TTL      time.Duration
	Tier2TTL      time.Duration
}

// PipelineConfig holds inference pipeline worker and throughput settings.
type PipelineConfig struct {
	WorkersHigh       int
	WorkersMedium     int
	WorkersLow        int
	MaxTagsPerRequest int
	ThroughputPerSec  float64
}

// CollaborationConfig holds Hub/Room lifecycle settings.
type CollaborationConfig struct {
	RoomGracePeriod time.Duration
	PresenceTTL     time.Duration
}

// MetricsConfig holds the periodic Collector snapshot schedule.
type MetricsConfig struct {
	SampleInterval time.Duration
	Retention      time.Duration
}

// AuthConfig holds JWT/JWKS validation settings.
type AuthConfig struct {
	JWTSecret     string
	Auth0Domain   string
	Auth0Audience string
	SkipAuth      bool
}

// Config is the root configuration value, built once at process startup.
type Config struct {
	GoEnv         string
	LogLevel      string
	Server        ServerConfig
	Database      DatabaseConfig
	KV            KVConfig
	Cache         CacheConfig
	Pipeline      PipelineConfig
	Collaboration CollaborationConfig
	Metrics       MetricsConfig
	Auth          AuthConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("go_env", "production")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", "")
	v.SetDefault("server.development_mode", false)
	v.SetDefault("server.rate_limits.global", "1000-M")
	v.SetDefault("server.rate_limits.public", "100-M")
	v.SetDefault("server.rate_limits.artifacts", "200-M")
	v.SetDefault("server.rate_limits.comments", "500-M")
	v.SetDefault("server.rate_limits.ws_ip", "100-M")
	v.SetDefault("server.rate_limits.ws_user", "10-M")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:collab.db?cache=shared&_pragma=busy_timeout(5000)")
	v.SetDefault("database.query_timeout", "30s")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")

	v.SetDefault("kv.enabled", false)
	v.SetDefault("kv.addr", "localhost:6379")
	v.SetDefault("kv.password", "")
	v.SetDefault("kv.timeout", "5s")

	v.SetDefault("cache.tier1_max_bytes", int64(64<<20))
	v.SetDefault("cache.tier1_ttl", "5m")
	v.SetDefault("cache.tier2_ttl", "24h")

	v.SetDefault("pipeline.workers_high", 4)
	v.SetDefault("pipeline.workers_medium", 2)
	v.SetDefault("pipeline.workers_low", 1)
	v.SetDefault("pipeline.max_tags_per_request", 10)
	v.SetDefault("pipeline.throughput_per_sec", 20.0)

	v.SetDefault("collaboration.room_grace_period", "30s")
	v.SetDefault("collaboration.presence_ttl", "5m")

	v.SetDefault("metrics.sample_interval", "1s")
	v.SetDefault("metrics.retention", "1h")

	v.SetDefault("auth.skip_auth", false)
}

// Load builds a Config from (in increasing precedence) built-in defaults, an
// optional YAML file at configPath, a local .env file if present, and
// environment variables. Returns a validation error listing every problem
// found rather than failing on the first.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	cfg := &Config{
		GoEnv:    v.GetString("go_env"),
		LogLevel: v.GetString("log_level"),
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			AllowedOrigins:  v.GetString("server.allowed_origins"),
			DevelopmentMode: v.GetBool("server.development_mode"),
			RateLimits: RateLimitConfig{
				Global:    v.GetString("server.rate_limits.global"),
				Public:    v.GetString("server.rate_limits.public"),
				Artifacts: v.GetString("server.rate_limits.artifacts"),
				Comments:  v.GetString("server.rate_limits.comments"),
				WsIP:      v.GetString("server.rate_limits.ws_ip"),
				WsUser:    v.GetString("server.rate_limits.ws_user"),
			},
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			DSN:             v.GetString("database.dsn"),
			QueryTimeout:    v.GetDuration("database.query_timeout"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		KV: KVConfig{
			Enabled:  v.GetBool("kv.enabled"),
			Addr:     v.GetString("kv.addr"),
			Password: v.GetString("kv.password"),
			Timeout:  v.GetDuration("kv.timeout"),
		},
		Cache: CacheConfig{
			Tier1MaxBytes: v.GetInt64("cache.tier1_max_bytes"),
			Tier1TTL:      v.GetDuration("cache.tier1_ttl"),
			Tier2TTL:      v.GetDuration("cache.tier2_ttl"),
		},
		Pipeline: PipelineConfig{
			WorkersHigh:       v.GetInt("pipeline.workers_high"),
			WorkersMedium:     v.GetInt("pipeline.workers_medium"),
			WorkersLow:        v.GetInt("pipeline.workers_low"),
			MaxTagsPerRequest: v.GetInt("pipeline.max_tags_per_request"),
			ThroughputPerSec:  v.GetFloat64("pipeline.throughput_per_sec"),
		},
		Collaboration: CollaborationConfig{
			RoomGracePeriod: v.GetDuration("collaboration.room_grace_period"),
			PresenceTTL:     v.GetDuration("collaboration.presence_ttl"),
		},
		Metrics: MetricsConfig{
			SampleInterval: v.GetDuration("metrics.sample_interval"),
			Retention:      v.GetDuration("metrics.retention"),
		},
		Auth: AuthConfig{
			JWTSecret:     v.GetString("auth.jwt_secret"),
			Auth0Domain:   v.GetString("auth.auth0_domain"),
			Auth0Audience: v.GetString("auth.auth0_audience"),
			SkipAuth:      v.GetBool("auth.skip_auth"),
		},
	}

	if errs := cfg.validate(); len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

func (c *Config) validate() []string {
	var errs []string

	if !c.Auth.SkipAuth {
		if c.Auth.JWTSecret == "" {
			errs = append(errs, "auth.jwt_secret is required unless auth.skip_auth is set")
		} else if len(c.Auth.JWTSecret) < 32 {
			errs = append(errs, fmt.Sprintf("auth.jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret)))
		}
	}

	if c.Server.Port == "" {
		errs = append(errs, "server.port is required")
	} else if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be a valid port number between 1 and 65535 (got '%s')", c.Server.Port))
	}

	if c.KV.Enabled && !isValidHostPort(c.KV.Addr) {
		errs = append(errs, fmt.Sprintf("kv.addr must be in format 'host:port' (got '%s')", c.KV.Addr))
	}

	if c.Pipeline.WorkersHigh+c.Pipeline.WorkersMedium+c.Pipeline.WorkersLow == 0 {
		errs = append(errs, "pipeline must configure at least one worker across priority tiers")
	}

	return errs
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// RedactSecret shows only the first 8 characters of a secret, for logging.
func RedactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
