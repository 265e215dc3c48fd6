package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	CORS       CORSConfig       `mapstructure:"cors"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	API        APIConfig        `mapstructure:"api"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	Session    SessionConfig    `mapstructure:"session"`
	Membership MembershipConfig `mapstructure:"membership"`
	Read       ReadConfig       `mapstructure:"read"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds the local UI bridge settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// AuthConfig holds API keys accepted by the UI bridge.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// CORSConfig holds CORS policy settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// RateLimitConfig holds rate limiting settings for the UI bridge.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// APIConfig holds settings for the marketplace REST API.
type APIConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	Token             string  `mapstructure:"token"`
	TimeoutSec        int     `mapstructure:"timeout_sec"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	PageLimit         int     `mapstructure:"page_limit"`
}

// CacheConfig selects the GET cache backend.
type CacheConfig struct {
	Backend   string `mapstructure:"backend"` // memory | redis
	TTLSec    int    `mapstructure:"ttl_sec"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RealtimeConfig holds push channel settings (durations in ms/sec for YAML/env compat).
type RealtimeConfig struct {
	URL              string `mapstructure:"url"`
	BaseBackoffMs    int    `mapstructure:"base_backoff_ms"`
	MaxBackoffMs     int    `mapstructure:"max_backoff_ms"`
	MaxRetries       int    `mapstructure:"max_retries"`
	LivenessSec      int    `mapstructure:"liveness_sec"`
	PingIntervalSec  int    `mapstructure:"ping_interval_sec"`
	SendBuffer       int    `mapstructure:"send_buffer"`
	HandshakeTimeout int    `mapstructure:"handshake_timeout_sec"`
}

// SessionConfig identifies the signed-in user.
type SessionConfig struct {
	UserID string `mapstructure:"user_id"`
}

// MembershipConfig configures where clan memberships come from.
type MembershipConfig struct {
	Source       string   `mapstructure:"source"` // static | poll
	StaticGroups []string `mapstructure:"static_groups"`
	Endpoint     string   `mapstructure:"endpoint"`
	IntervalSec  int      `mapstructure:"interval_sec"`
}

// ReadConfig holds mark-as-read batching settings.
type ReadConfig struct {
	DebounceMs int `mapstructure:"debounce_ms"`
	MaxBatch   int `mapstructure:"max_batch"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from config.yaml and environment variables.
// Environment variables use the GIGSYNC_ prefix and underscore separators.
// Example: GIGSYNC_API_BASE_URL overrides api.base_url in config.yaml.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file path. An empty path searches
// the default locations.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Load .env file if it exists
	_ = godotenv.Load()

	v.SetEnvPrefix("GIGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional, env vars can provide everything)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Comma-separated lists from env vars
	cfg.Auth.APIKeys = splitList(v.GetString("auth.api_keys"), cfg.Auth.APIKeys)
	cfg.Membership.StaticGroups = splitList(v.GetString("membership.static_groups"), cfg.Membership.StaticGroups)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8790)
	v.SetDefault("auth.api_keys", []string{})
	v.SetDefault("server.mode", "release")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "DELETE"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "X-API-Key"})
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout_sec", 10)
	v.SetDefault("api.requests_per_second", 10)
	v.SetDefault("api.burst", 20)
	v.SetDefault("api.page_limit", 20)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl_sec", 300) // 5 minutes
	v.SetDefault("cache.key_prefix", "gigsync:cache:")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("realtime.url", "")
	v.SetDefault("realtime.base_backoff_ms", 1000)
	v.SetDefault("realtime.max_backoff_ms", 30000)
	v.SetDefault("realtime.max_retries", 0) // unlimited
	v.SetDefault("realtime.liveness_sec", 45)
	v.SetDefault("realtime.ping_interval_sec", 20)
	v.SetDefault("realtime.send_buffer", 64)
	v.SetDefault("realtime.handshake_timeout_sec", 10)
	v.SetDefault("session.user_id", "")
	v.SetDefault("membership.source", "static")
	v.SetDefault("membership.static_groups", []string{})
	v.SetDefault("membership.endpoint", "/api/clans/mine")
	v.SetDefault("membership.interval_sec", 60)
	v.SetDefault("read.debounce_ms", 300)
	v.SetDefault("read.max_batch", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Realtime.URL == "" {
		return fmt.Errorf("realtime.url is required")
	}
	if c.Session.UserID == "" {
		return fmt.Errorf("session.user_id is required")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	switch c.Membership.Source {
	case "static", "poll":
	default:
		return fmt.Errorf("unsupported membership source: %s", c.Membership.Source)
	}
	return nil
}

func splitList(raw string, current []string) []string {
	if raw == "" {
		return current
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
