package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"daily-reward-api/internal/models"
)

var idRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

const (
	maxTiers      = 50
	maxLabelRunes = 64
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateRewardConfig checks a complete reward configuration.
func ValidateRewardConfig(cfg models.RewardConfig) error {
	if cfg.DailyCap.IsNegative() {
		return &ValidationError{
			Field:   "daily_cap",
			Message: "must be non-negative",
		}
	}

	if cfg.QuotaPerUnit <= 0 {
		return &ValidationError{
			Field:   "quota_per_unit",
			Message: "must be positive",
		}
	}

	if len(cfg.Tiers) == 0 {
		return &ValidationError{
			Field:   "tiers",
			Message: "at least one tier is required",
		}
	}

	if len(cfg.Tiers) > maxTiers {
		return &ValidationError{
			Field:   "tiers",
			Message: fmt.Sprintf("cannot contain more than %d tiers", maxTiers),
		}
	}

	seen := make(map[string]bool)
	positive := false
	for i, tier := range cfg.Tiers {
		field := fmt.Sprintf("tiers[%d]", i)

		if err := ValidateID(tier.ID, field+".id"); err != nil {
			return err
		}
		if seen[tier.ID] {
			return &ValidationError{
				Field:   "tiers",
				Message: fmt.Sprintf("duplicate tier id: %s", tier.ID),
			}
		}
		seen[tier.ID] = true

		if !tier.Value.IsPositive() {
			return &ValidationError{
				Field:   field + ".value",
				Message: "must be positive",
			}
		}
		if tier.Weight < 0 {
			return &ValidationError{
				Field:   field + ".weight",
				Message: "must be non-negative",
			}
		}
		if tier.Weight > 0 {
			positive = true
		}
		if len([]rune(tier.Label)) > maxLabelRunes {
			return &ValidationError{
				Field:   field + ".label",
				Message: fmt.Sprintf("cannot exceed %d characters", maxLabelRunes),
			}
		}
	}

	if !positive {
		return &ValidationError{
			Field:   "tiers",
			Message: "at least one tier must have a positive weight",
		}
	}

	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ValidateID checks a user, account or tier identifier.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if !idRegex.MatchString(SanitizeString(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be 1-64 letters, digits or _.:-",
		}
	}

	return nil
}

// ValidateDay parses a local-day string.
func ValidateDay(day string) error {
	if day == "" {
		return &ValidationError{
			Field:   "day",
			Message: "is required",
		}
	}

	if _, err := time.Parse("2006-01-02", day); err != nil {
		return &ValidationError{
			Field:   "day",
			Message: "must be formatted as YYYY-MM-DD",
		}
	}

	return nil
}
