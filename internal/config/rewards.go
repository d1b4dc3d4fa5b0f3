package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"daily-reward-api/internal/models"
)

// TierFile is one tier in the reward defaults file. Money is written as a
// decimal string so no float rounding happens on load.
type TierFile struct {
	ID     string  `yaml:"id"`
	Label  string  `yaml:"label"`
	Value  string  `yaml:"value"`
	Weight float64 `yaml:"weight"`
	Color  string  `yaml:"color"`
}

// RewardFile is the on-disk shape of the reward defaults.
type RewardFile struct {
	Enabled      bool       `yaml:"enabled"`
	DailyCap     string     `yaml:"daily_cap"`
	QuotaPerUnit int64      `yaml:"quota_per_unit"`
	Tiers        []TierFile `yaml:"tiers"`
}

// DefaultReward is the reward config seeded when no file is configured.
func DefaultReward() models.RewardConfig {
	return models.RewardConfig{
		Enabled:      true,
		DailyCap:     decimal.NewFromInt(100),
		QuotaPerUnit: 500000,
		Tiers: []models.RewardTier{
			{ID: "small", Label: "$0.50", Value: decimal.RequireFromString("0.5"), Weight: 60, Color: "#9ca3af"},
			{ID: "medium", Label: "$1", Value: decimal.NewFromInt(1), Weight: 30, Color: "#3b82f6"},
			{ID: "large", Label: "$5", Value: decimal.NewFromInt(5), Weight: 9, Color: "#f59e0b"},
			{ID: "jackpot", Label: "$20", Value: decimal.NewFromInt(20), Weight: 1, Color: "#ef4444"},
		},
	}
}

// LoadReward reads reward defaults from a YAML file. An empty path returns
// DefaultReward.
func LoadReward(path string) (models.RewardConfig, error) {
	if path == "" {
		return DefaultReward(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.RewardConfig{}, fmt.Errorf("read reward config: %w", err)
	}

	var file RewardFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return models.RewardConfig{}, fmt.Errorf("parse reward config: %w", err)
	}

	return file.toModel()
}

func (f RewardFile) toModel() (models.RewardConfig, error) {
	dailyCap, err := decimal.NewFromString(f.DailyCap)
	if err != nil {
		return models.RewardConfig{}, fmt.Errorf("parse reward config: daily_cap %q: %w", f.DailyCap, err)
	}

	cfg := models.RewardConfig{
		Enabled:      f.Enabled,
		DailyCap:     dailyCap,
		QuotaPerUnit: f.QuotaPerUnit,
		Tiers:        make([]models.RewardTier, 0, len(f.Tiers)),
	}
	for _, t := range f.Tiers {
		value, err := decimal.NewFromString(t.Value)
		if err != nil {
			return models.RewardConfig{}, fmt.Errorf("parse reward config: tier %q value %q: %w", t.ID, t.Value, err)
		}
		cfg.Tiers = append(cfg.Tiers, models.RewardTier{
			ID:     t.ID,
			Label:  t.Label,
			Value:  value,
			Weight: t.Weight,
			Color:  t.Color,
		})
	}
	return cfg, nil
}
