package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Redis     RedisConfig     `json:"redis"`
	Database  DatabaseConfig  `json:"database"`
	Account   AccountConfig   `json:"account"`
	Auth      AuthConfig      `json:"auth"`
	Reward    RewardConfig    `json:"reward"`
	Features  FeaturesConfig  `json:"features"`
	Tracing   TracingConfig   `json:"tracing"`
	LogLevel  string          `json:"log_level"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port   string `json:"port"`
	Host   string `json:"host"`
	// NodeID distinguishes record id generators of processes sharing one store.
	NodeID int64  `json:"node_id"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS and live feed origins (comma-separated). Empty keeps the
	// feed same-origin.
	AllowedOrigins string `json:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

// RedisConfig holds the key-value store connection.
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// DatabaseConfig holds the identity-link database.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// AccountConfig holds the external account service client settings.
type AccountConfig struct {
	BaseURL       string  `json:"base_url"`
	AdminUsername string  `json:"admin_username"`
	AdminPassword string  `json:"admin_password"`
	TimeoutSec    int     `json:"timeout_sec"`
	SessionTTLSec int     `json:"session_ttl_sec"`
	RatePerSec    float64 `json:"rate_per_sec"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret   string `json:"jwt_secret"`
	TokenTTLMin int    `json:"token_ttl_min"`
}

// RewardConfig holds the reward runtime settings.
type RewardConfig struct {
	ConfigPath           string `json:"config_path"`
	Timezone             string `json:"timezone"`
	ReconcileIntervalSec int    `json:"reconcile_interval_sec"`
	PendingMaxAgeHours   int    `json:"pending_max_age_hours"`
	PendingCapacity      int64  `json:"pending_capacity"`
	RecentCapacity       int64  `json:"recent_capacity"`
	UserHistoryCapacity  int64  `json:"user_history_capacity"`
	ArchiveRetentionDays int    `json:"archive_retention_days"`
}

// FeaturesConfig holds the initial feature flag values.
type FeaturesConfig struct {
	AutoReconcile bool `json:"auto_reconcile"`
	LiveFeed      bool `json:"live_feed"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint"`
	Environment string  `json:"environment"`
	SampleRatio float64 `json:"sample_ratio"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 1 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    60,
			Window:  60,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "reward:",
		},
		Database: DatabaseConfig{
			Path: "./daily_reward.db",
		},
		Account: AccountConfig{
			TimeoutSec:    10,
			SessionTTLSec: 3600,
			RatePerSec:    10,
		},
		Auth: AuthConfig{
			TokenTTLMin: 60,
		},
		Reward: RewardConfig{
			Timezone:             "Asia/Shanghai",
			ReconcileIntervalSec: 60,
			PendingMaxAgeHours:   24,
			PendingCapacity:      1000,
			RecentCapacity:       100,
			UserHistoryCapacity:  50,
			ArchiveRetentionDays: 90,
		},
		Features: FeaturesConfig{
			AutoReconcile: true,
			LiveFeed:      true,
		},
		Tracing: TracingConfig{
			Endpoint:    "http://localhost:14268/api/traces",
			Environment: "development",
		},
		LogLevel: "info",
	}
}

// LoadConfig loads configuration from a .env file, an optional JSON config
// file, and environment variables. Environment variables take precedence.
func LoadConfig(configFile string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Defaults()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrideFromEnv(cfg)

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	envString("SERVER_PORT", &cfg.Server.Port)
	envString("SERVER_HOST", &cfg.Server.Host)
	envInt64("NODE_ID", &cfg.Server.NodeID)
	envInt64("MAX_REQUEST_BODY_SIZE", &cfg.Security.MaxRequestBodySize)
	envString("ALLOWED_ORIGINS", &cfg.Security.AllowedOrigins)

	envBool("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	envInt("RATE_LIMIT_RATE", &cfg.RateLimit.Rate)
	envInt("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)

	envString("REDIS_ADDR", &cfg.Redis.Addr)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("REDIS_DB", &cfg.Redis.DB)
	envString("REDIS_KEY_PREFIX", &cfg.Redis.KeyPrefix)

	envString("DATABASE_PATH", &cfg.Database.Path)

	envString("ACCOUNT_BASE_URL", &cfg.Account.BaseURL)
	envString("ACCOUNT_ADMIN_USERNAME", &cfg.Account.AdminUsername)
	envString("ACCOUNT_ADMIN_PASSWORD", &cfg.Account.AdminPassword)
	envInt("ACCOUNT_TIMEOUT_SEC", &cfg.Account.TimeoutSec)
	envInt("ACCOUNT_SESSION_TTL_SEC", &cfg.Account.SessionTTLSec)
	envFloat("ACCOUNT_RATE_PER_SEC", &cfg.Account.RatePerSec)

	envString("JWT_SECRET", &cfg.Auth.JWTSecret)
	envInt("JWT_TTL_MIN", &cfg.Auth.TokenTTLMin)

	envString("REWARD_CONFIG_PATH", &cfg.Reward.ConfigPath)
	envString("REWARD_TIMEZONE", &cfg.Reward.Timezone)
	envInt("RECONCILE_INTERVAL_SEC", &cfg.Reward.ReconcileIntervalSec)
	envInt("PENDING_MAX_AGE_HOURS", &cfg.Reward.PendingMaxAgeHours)
	envInt64("PENDING_CAPACITY", &cfg.Reward.PendingCapacity)
	envInt64("RECENT_CAPACITY", &cfg.Reward.RecentCapacity)
	envInt64("USER_HISTORY_CAPACITY", &cfg.Reward.UserHistoryCapacity)
	envInt("ARCHIVE_RETENTION_DAYS", &cfg.Reward.ArchiveRetentionDays)

	envBool("FEATURE_AUTO_RECONCILE", &cfg.Features.AutoReconcile)
	envBool("FEATURE_LIVE_FEED", &cfg.Features.LiveFeed)

	envBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	envString("TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	envString("ENVIRONMENT", &cfg.Tracing.Environment)
	envFloat("TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio)

	envString("LOG_LEVEL", &cfg.LogLevel)
}

func envString(key string, dst *string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func envBool(key string, dst *bool) {
	if value := os.Getenv(key); value != "" {
		*dst = strings.ToLower(value) == "true" || value == "1"
	}
}

func envInt(key string, dst *int) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			*dst = i
		}
	}
}

func envInt64(key string, dst *int64) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			*dst = f
		}
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Account.BaseURL == "" {
		return fmt.Errorf("account service base URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if c.Server.NodeID < 0 || c.Server.NodeID > 1023 {
		return fmt.Errorf("node id must be between 0 and 1023")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Reward.ReconcileIntervalSec <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}
	return nil
}

// ReconcileInterval returns the periodic reconciliation interval.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reward.ReconcileIntervalSec) * time.Second
}

// PendingMaxAge returns how long an unresolved disbursement is retried.
func (c *Config) PendingMaxAge() time.Duration {
	return time.Duration(c.Reward.PendingMaxAgeHours) * time.Hour
}

// ArchiveRetention returns the day-archive TTL.
func (c *Config) ArchiveRetention() time.Duration {
	return time.Duration(c.Reward.ArchiveRetentionDays) * 24 * time.Hour
}
