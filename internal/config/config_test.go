package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"daily-reward-api/internal/validation"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Redis.KeyPrefix != "reward:" {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
	if cfg.ReconcileInterval() != time.Minute || cfg.PendingMaxAge() != 24*time.Hour {
		t.Errorf("Unexpected durations %v %v", cfg.ReconcileInterval(), cfg.PendingMaxAge())
	}
	if cfg.ArchiveRetention() != 90*24*time.Hour {
		t.Errorf("Unexpected archive retention %v", cfg.ArchiveRetention())
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"server": {"port": "9000"},
		"redis": {"addr": "file:6379", "db": 2},
		"account": {"base_url": "http://file"}
	}`)
	t.Setenv("REDIS_ADDR", "env:6379")
	t.Setenv("ACCOUNT_RATE_PER_SEC", "2.5")
	t.Setenv("FEATURE_LIVE_FEED", "false")
	t.Setenv("RATE_LIMIT_RATE", "not-a-number")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Port != "9000" {
		t.Errorf("Expected file port, got %s", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "env:6379" || cfg.Redis.DB != 2 {
		t.Errorf("Expected env addr with file db, got %+v", cfg.Redis)
	}
	if cfg.Account.RatePerSec != 2.5 || cfg.Account.BaseURL != "http://file" {
		t.Errorf("Unexpected account config %+v", cfg.Account)
	}
	if cfg.Features.LiveFeed {
		t.Error("Expected live feed disabled by env")
	}
	if cfg.RateLimit.Rate != 60 {
		t.Errorf("Expected unparsable env to keep default, got %d", cfg.RateLimit.Rate)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Account.BaseURL = "http://accounts"
		cfg.Auth.JWTSecret = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"no port", func(c *Config) { c.Server.Port = "" }, true},
		{"no redis", func(c *Config) { c.Redis.Addr = "" }, true},
		{"no account url", func(c *Config) { c.Account.BaseURL = "" }, true},
		{"no secret", func(c *Config) { c.Auth.JWTSecret = "" }, true},
		{"node id out of range", func(c *Config) { c.Server.NodeID = 1024 }, true},
		{"zero rate", func(c *Config) { c.RateLimit.Rate = 0 }, true},
		{"zero rate while disabled", func(c *Config) { c.RateLimit.Enabled = false; c.RateLimit.Rate = 0 }, false},
		{"zero interval", func(c *Config) { c.Reward.ReconcileIntervalSec = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadReward_File(t *testing.T) {
	path := writeFile(t, "rewards.yaml", `
enabled: true
daily_cap: "12.34"
quota_per_unit: 100
tiers:
  - id: a
    label: "A"
    value: "0.1"
    weight: 3
  - id: b
    label: "B"
    value: "2"
    weight: 0
`)
	cfg, err := LoadReward(path)
	if err != nil {
		t.Fatalf("LoadReward failed: %v", err)
	}
	if !cfg.DailyCap.Equal(decimal.RequireFromString("12.34")) || cfg.QuotaPerUnit != 100 {
		t.Errorf("Unexpected reward config %+v", cfg)
	}
	if len(cfg.Tiers) != 2 || !cfg.Tiers[0].Value.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("Unexpected tiers %+v", cfg.Tiers)
	}
	if err := validation.ValidateRewardConfig(cfg); err != nil {
		t.Errorf("Expected file config to validate: %v", err)
	}
}

func TestLoadReward_BadValue(t *testing.T) {
	path := writeFile(t, "rewards.yaml", `
daily_cap: "10"
quota_per_unit: 100
tiers:
  - id: a
    value: "ten"
    weight: 1
`)
	if _, err := LoadReward(path); err == nil {
		t.Error("Expected error for non-decimal tier value")
	}
}

func TestLoadReward_DefaultsValidate(t *testing.T) {
	cfg, err := LoadReward("")
	if err != nil {
		t.Fatalf("LoadReward failed: %v", err)
	}
	if err := validation.ValidateRewardConfig(cfg); err != nil {
		t.Errorf("Expected built-in defaults to validate: %v", err)
	}
}

func TestLoadReward_ShippedFile(t *testing.T) {
	cfg, err := LoadReward(filepath.Join("..", "..", "config", "rewards.yaml"))
	if err != nil {
		t.Fatalf("LoadReward failed: %v", err)
	}
	if err := validation.ValidateRewardConfig(cfg); err != nil {
		t.Errorf("Expected shipped file to validate: %v", err)
	}
}
