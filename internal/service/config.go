package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"daily-reward-api/internal/lock"
	"daily-reward-api/internal/models"
	"daily-reward-api/internal/store"
	"daily-reward-api/internal/validation"
)

const (
	configKey     = "config"
	configLock    = "config"
	configLockTTL = 10 * time.Second
)

// ConfigStore keeps the reward configuration in the shared store so every
// process sees the same tiers and cap.
type ConfigStore struct {
	store    store.Store
	locker   *lock.Locker
	defaults models.RewardConfig
	now      func() time.Time
}

// NewConfigStore seeds the store from defaults on first read.
func NewConfigStore(s store.Store, locker *lock.Locker, defaults models.RewardConfig) *ConfigStore {
	return &ConfigStore{store: s, locker: locker, defaults: defaults, now: time.Now}
}

// Get returns the current configuration.
func (c *ConfigStore) Get(ctx context.Context) (models.RewardConfig, error) {
	var cfg models.RewardConfig
	err := store.GetJSON(ctx, c.store, configKey, &cfg)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.RewardConfig{}, fmt.Errorf("read reward config: %w", err)
	}

	seed := c.defaults
	if seed.UpdatedAt.IsZero() {
		seed.UpdatedAt = c.now().UTC()
	}
	if err := c.seed(ctx, seed); err != nil {
		return models.RewardConfig{}, err
	}
	if err := store.GetJSON(ctx, c.store, configKey, &cfg); err != nil {
		return models.RewardConfig{}, fmt.Errorf("read reward config: %w", err)
	}
	return cfg, nil
}

// seed writes cfg unless another process already has.
func (c *ConfigStore) seed(ctx context.Context, cfg models.RewardConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal reward config: %w", err)
	}
	if _, err := c.store.SetNX(ctx, configKey, string(data), 0); err != nil {
		return fmt.Errorf("seed reward config: %w", err)
	}
	return nil
}

// Update applies the non-nil fields of upd under the config lock.
func (c *ConfigStore) Update(ctx context.Context, upd models.RewardConfigUpdate) (models.RewardConfig, error) {
	var updated models.RewardConfig
	err := c.locker.WithLock(ctx, configLock, configLockTTL, func(ctx context.Context) error {
		cfg, err := c.Get(ctx)
		if err != nil {
			return err
		}
		if upd.Enabled != nil {
			cfg.Enabled = *upd.Enabled
		}
		if upd.DailyCap != nil {
			cfg.DailyCap = *upd.DailyCap
		}
		if upd.QuotaPerUnit != nil {
			cfg.QuotaPerUnit = *upd.QuotaPerUnit
		}
		if upd.Tiers != nil {
			cfg.Tiers = sanitizeTiers(upd.Tiers)
		}
		if err := validation.ValidateRewardConfig(cfg); err != nil {
			return err
		}
		cfg.UpdatedAt = c.now().UTC()

		if err := store.SetJSON(ctx, c.store, configKey, cfg, 0); err != nil {
			return fmt.Errorf("write reward config: %w", err)
		}
		updated = cfg
		return nil
	})
	if err != nil {
		return models.RewardConfig{}, err
	}
	return updated, nil
}

func sanitizeTiers(tiers []models.RewardTier) []models.RewardTier {
	out := make([]models.RewardTier, len(tiers))
	for i, t := range tiers {
		t.ID = validation.SanitizeString(t.ID)
		t.Label = validation.SanitizeString(t.Label)
		if t.Label == "" {
			t.Label = t.Value.String()
		}
		t.Color = validation.SanitizeString(t.Color)
		out[i] = t
	}
	return out
}
