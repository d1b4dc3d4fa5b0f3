package validation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"daily-reward-api/internal/models"
)

func validConfig() models.RewardConfig {
	return models.RewardConfig{
		Enabled:      true,
		DailyCap:     decimal.NewFromInt(100),
		QuotaPerUnit: 500000,
		Tiers: []models.RewardTier{
			{ID: "small", Label: "$0.5", Value: decimal.RequireFromString("0.5"), Weight: 80},
			{ID: "big", Label: "$5", Value: decimal.NewFromInt(5), Weight: 0},
		},
	}
}

func TestValidateRewardConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *models.RewardConfig)
		field  string
	}{
		{name: "valid", mutate: func(c *models.RewardConfig) {}},
		{name: "zero cap allowed", mutate: func(c *models.RewardConfig) { c.DailyCap = decimal.Zero }},
		{name: "negative cap", mutate: func(c *models.RewardConfig) { c.DailyCap = decimal.NewFromInt(-1) }, field: "daily_cap"},
		{name: "no quota rate", mutate: func(c *models.RewardConfig) { c.QuotaPerUnit = 0 }, field: "quota_per_unit"},
		{name: "no tiers", mutate: func(c *models.RewardConfig) { c.Tiers = nil }, field: "tiers"},
		{name: "duplicate ids", mutate: func(c *models.RewardConfig) { c.Tiers[1].ID = "small" }, field: "tiers"},
		{name: "zero value", mutate: func(c *models.RewardConfig) { c.Tiers[0].Value = decimal.Zero }, field: "tiers[0].value"},
		{name: "negative weight", mutate: func(c *models.RewardConfig) { c.Tiers[1].Weight = -1 }, field: "tiers[1].weight"},
		{name: "all weights zero", mutate: func(c *models.RewardConfig) { c.Tiers[0].Weight = 0 }, field: "tiers"},
		{name: "bad id", mutate: func(c *models.RewardConfig) { c.Tiers[0].ID = "has space" }, field: "tiers[0].id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := ValidateRewardConfig(cfg)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got %v", err)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, vErr.Field)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"42", "user_1", "a.b-c:d"} {
		if err := ValidateID(id, "user_id"); err != nil {
			t.Errorf("Expected %q to be valid, got %v", id, err)
		}
	}
	for _, id := range []string{"", "a b", "../etc", string(make([]byte, 65))} {
		if err := ValidateID(id, "user_id"); err == nil {
			t.Errorf("Expected %q to be rejected", id)
		}
	}
}

func TestValidateDay(t *testing.T) {
	if err := ValidateDay("2025-10-21"); err != nil {
		t.Errorf("Expected valid day, got %v", err)
	}
	for _, day := range []string{"", "2025-13-01", "21-10-2025"} {
		if err := ValidateDay(day); err == nil {
			t.Errorf("Expected %q to be rejected", day)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  al\x00ice\t "); got != "alice" {
		t.Errorf("Expected %q, got %q", "alice", got)
	}
}
