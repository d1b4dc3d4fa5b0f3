package service

import (
	"context"
	"fmt"

	"daily-reward-api/internal/features"
	"daily-reward-api/internal/models"
	"daily-reward-api/internal/money"
	"daily-reward-api/internal/validation"
)

const (
	defaultPageSize = 20
	maxHistory      = 50
	maxRecent       = 100
)

func clampLimit(limit, max int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > max {
		return max
	}
	return limit
}

// Status reports whether userID can attempt today.
func (s *Service) Status(ctx context.Context, userID string) (models.StatusResponse, error) {
	if err := validation.ValidateID(userID, "user_id"); err != nil {
		return models.StatusResponse{}, err
	}

	cfg, err := s.Config.Get(ctx)
	if err != nil {
		return models.StatusResponse{}, err
	}
	claimed, err := s.Attempts.HasClaimed(ctx, userID)
	if err != nil {
		return models.StatusResponse{}, fmt.Errorf("failed to read daily claim: %w", err)
	}

	s.maybeReconcile(ctx)

	return models.StatusResponse{
		Enabled:        cfg.Enabled,
		CanAttempt:     cfg.Enabled && !claimed,
		AttemptedToday: claimed,
		Tiers:          visibleTiers(cfg.Tiers),
	}, nil
}

// visibleTiers hides disabled tiers from players.
func visibleTiers(tiers []models.RewardTier) []models.RewardTier {
	out := make([]models.RewardTier, 0, len(tiers))
	for _, t := range tiers {
		if t.Weight > 0 {
			out = append(out, t)
		}
	}
	return out
}

// History returns userID's most recent records.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]models.RewardRecord, error) {
	if err := validation.ValidateID(userID, "user_id"); err != nil {
		return nil, err
	}
	return s.Records.ByUser(ctx, userID, clampLimit(limit, maxHistory))
}

// RecentGlobal returns the newest records across all users.
func (s *Service) RecentGlobal(ctx context.Context, limit, offset int) ([]models.RewardRecord, error) {
	if offset < 0 {
		return nil, &validation.ValidationError{Field: "offset", Message: "must be non-negative"}
	}
	return s.Records.Recent(ctx, clampLimit(limit, maxRecent), offset)
}

// Stats summarizes today's activity.
func (s *Service) Stats(ctx context.Context) (models.StatsResponse, error) {
	day := s.Calendar.Today()

	total, err := s.Budget.Total(ctx, day)
	if err != nil {
		return models.StatsResponse{}, fmt.Errorf("failed to read budget: %w", err)
	}
	attempts, err := s.Attempts.Count(ctx, day)
	if err != nil {
		return models.StatsResponse{}, fmt.Errorf("failed to read attempt count: %w", err)
	}
	todays, err := s.Records.ByDay(ctx, day)
	if err != nil {
		return models.StatsResponse{}, fmt.Errorf("failed to read day archive: %w", err)
	}
	users := make(map[string]struct{}, len(todays))
	for _, r := range todays {
		users[r.UserID] = struct{}{}
	}
	records, err := s.Records.TotalCount(ctx)
	if err != nil {
		return models.StatsResponse{}, fmt.Errorf("failed to read record count: %w", err)
	}
	pendingCount, err := s.Pending.Count(ctx)
	if err != nil {
		return models.StatsResponse{}, fmt.Errorf("failed to read pending count: %w", err)
	}

	if pendingCount > 0 {
		s.maybeReconcile(ctx)
	}

	return models.StatsResponse{
		Day:           day,
		TodayTotal:    money.FromSubunits(total),
		TodayUsers:    len(users),
		TodayAttempts: attempts,
		TotalRecords:  records,
		PendingCount:  pendingCount,
	}, nil
}

// maybeReconcile starts a background pass when credits are pending.
func (s *Service) maybeReconcile(ctx context.Context) {
	if s.Runner == nil || !s.Features.IsEnabled(features.FeatureAutoReconcile) {
		return
	}
	n, err := s.Pending.Count(ctx)
	if err != nil {
		s.log.Warn("pending count failed", "error", err)
		return
	}
	if n > 0 {
		s.Runner.TriggerAsync()
	}
}

// GetConfig returns the reward configuration.
func (s *Service) GetConfig(ctx context.Context) (models.RewardConfig, error) {
	return s.Config.Get(ctx)
}

// UpdateConfig applies a partial configuration update.
func (s *Service) UpdateConfig(ctx context.Context, upd models.RewardConfigUpdate) (models.RewardConfig, error) {
	cfg, err := s.Config.Update(ctx, upd)
	if err != nil {
		return models.RewardConfig{}, err
	}
	s.log.Info("reward config updated", "enabled", cfg.Enabled, "daily_cap", cfg.DailyCap.String(), "tiers", len(cfg.Tiers))
	return cfg, nil
}

// ReconcileNow runs one reconciliation pass.
func (s *Service) ReconcileNow(ctx context.Context) (models.ReconcileReport, error) {
	return s.Reconciler.Reconcile(ctx)
}

// DayArchive returns every record of day.
func (s *Service) DayArchive(ctx context.Context, day string) ([]models.RewardRecord, error) {
	if err := validation.ValidateDay(day); err != nil {
		return nil, err
	}
	return s.Records.ByDay(ctx, day)
}

// LinkAccount links userID to an external account.
func (s *Service) LinkAccount(ctx context.Context, userID string, req models.LinkAccountRequest) (models.AccountLink, error) {
	if err := validation.ValidateID(userID, "user_id"); err != nil {
		return models.AccountLink{}, err
	}
	accountID := validation.SanitizeString(req.ExternalAccountID)
	if err := validation.ValidateID(accountID, "external_account_id"); err != nil {
		return models.AccountLink{}, err
	}
	return s.Identity.Link(ctx, models.AccountLink{
		UserID:            userID,
		ExternalAccountID: accountID,
		Username:          validation.SanitizeString(req.Username),
	})
}
