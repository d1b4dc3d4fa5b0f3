package records

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"daily-reward-api/internal/models"
)

// legacyRecord is the shape written before records carried ids and tiers.
type legacyRecord struct {
	UserID    json.RawMessage `json:"user_id"`
	Username  string          `json:"username"`
	PrizeID   json.RawMessage `json:"prize_id"`
	PrizeName string          `json:"prize_name"`
	Amount    float64         `json:"amount"`
	Success   *bool           `json:"success"`
	Timestamp int64           `json:"timestamp"`
}

// Normalize decodes a stored record. The current format is tried first, then
// the legacy format; anything else is rejected.
func Normalize(raw string) (models.RewardRecord, bool) {
	var rec models.RewardRecord
	if err := json.Unmarshal([]byte(raw), &rec); err == nil && rec.ID != "" && rec.UserID != "" && !rec.CreatedAt.IsZero() {
		if rec.Username == "" {
			rec.Username = rec.UserID
		}
		if rec.TierLabel == "" {
			rec.TierLabel = rec.TierID
		}
		return rec, true
	}

	var legacy legacyRecord
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return models.RewardRecord{}, false
	}
	userID := scalar(legacy.UserID)
	if userID == "" || legacy.Timestamp <= 0 || legacy.Amount <= 0 {
		return models.RewardRecord{}, false
	}

	committed := true
	if legacy.Success != nil {
		committed = *legacy.Success
	}
	username := legacy.Username
	if username == "" {
		username = userID
	}
	tierID := scalar(legacy.PrizeID)
	label := legacy.PrizeName
	if label == "" {
		label = tierID
	}

	return models.RewardRecord{
		ID:        fmt.Sprintf("legacy-%d-%s", legacy.Timestamp, userID),
		UserID:    userID,
		Username:  username,
		TierID:    tierID,
		TierLabel: label,
		Value:     decimal.NewFromFloat(legacy.Amount),
		Committed: committed,
		CreatedAt: time.Unix(legacy.Timestamp, 0).UTC(),
	}, true
}

// scalar renders a JSON string or number as a plain string.
func scalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

func normalizeAll(raws []string) []models.RewardRecord {
	out := make([]models.RewardRecord, 0, len(raws))
	for _, raw := range raws {
		if rec, ok := Normalize(raw); ok {
			out = append(out, rec)
		}
	}
	return out
}
