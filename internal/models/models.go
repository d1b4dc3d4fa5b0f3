package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RewardTier is one slice of the prize wheel.
type RewardTier struct {
	ID     string          `json:"id"`
	Label  string          `json:"label"`
	Value  decimal.Decimal `json:"value"`  // credit amount, always positive
	Weight float64         `json:"weight"` // relative selection weight, 0 disables the tier
	Color  string          `json:"color,omitempty"`
}

// RewardConfig is the administrative configuration of the daily reward.
type RewardConfig struct {
	Enabled      bool            `json:"enabled"`
	DailyCap     decimal.Decimal `json:"daily_cap"`
	QuotaPerUnit int64           `json:"quota_per_unit"` // external balance units per 1.0 credit
	Tiers        []RewardTier    `json:"tiers"`
	UpdatedAt    time.Time       `json:"updated_at,omitempty"`
}

// RewardConfigUpdate is a partial update; nil fields are left unchanged.
type RewardConfigUpdate struct {
	Enabled      *bool            `json:"enabled,omitempty"`
	DailyCap     *decimal.Decimal `json:"daily_cap,omitempty"`
	QuotaPerUnit *int64           `json:"quota_per_unit,omitempty"`
	Tiers        []RewardTier     `json:"tiers,omitempty"`
}

// RewardRecord is one disbursement in the history indices.
type RewardRecord struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Username        string          `json:"username"`
	TierID          string          `json:"tier_id"`
	TierLabel       string          `json:"tier_label"`
	Value           decimal.Decimal `json:"value"`
	Committed       bool            `json:"committed"`
	CreditedBalance *int64          `json:"credited_balance,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PendingDisbursement tracks a commit whose outcome could not be determined.
type PendingDisbursement struct {
	ID                   string       `json:"id"`
	Record               RewardRecord `json:"record"`
	ExternalAccountID    string       `json:"external_account_id"`
	ExpectedBalanceFloor int64        `json:"expected_balance_floor"`
	ReservationDay       string       `json:"reservation_day"`
	BudgetAmount         int64        `json:"budget_amount"` // reserved subunits
	StoredAt             time.Time    `json:"stored_at"`
}

// AccountLink maps a local user to an account in the external balance service.
type AccountLink struct {
	UserID            string    `json:"user_id"`
	ExternalAccountID string    `json:"external_account_id"`
	Username          string    `json:"username"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

// User is the authenticated caller.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

// AttemptStatus is the terminal state of one attempt.
type AttemptStatus string

const (
	AttemptGranted AttemptStatus = "granted"
	AttemptDenied  AttemptStatus = "denied"
	AttemptPending AttemptStatus = "pending"
)

// Denial reasons.
const (
	ReasonNoAttemptsLeft  = "no attempts left"
	ReasonDisabled        = "disabled"
	ReasonBudgetExhausted = "budget exhausted"
	ReasonCommitFailed    = "commit failed"
	ReasonInternalError   = "internal error"
	ReasonNotLinked       = "account not linked"
)

// AttemptResult is returned by an attempt.
type AttemptResult struct {
	Status  AttemptStatus `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	Message string        `json:"message"`
	Record  *RewardRecord `json:"record,omitempty"`
}

// StatusResponse is the read-only view of a user's attempt state.
type StatusResponse struct {
	Enabled        bool         `json:"enabled"`
	CanAttempt     bool         `json:"can_attempt"`
	AttemptedToday bool         `json:"attempted_today"`
	Tiers          []RewardTier `json:"tiers"`
}

// StatsResponse summarizes today's activity.
type StatsResponse struct {
	Day           string          `json:"day"`
	TodayTotal    decimal.Decimal `json:"today_total"`
	TodayUsers    int             `json:"today_users"`
	TodayAttempts int64           `json:"today_attempts"`
	TotalRecords  int64           `json:"total_records"`
	PendingCount  int64           `json:"pending_count"`
}

// ReconcileReport counts the outcome of one reconciliation pass.
type ReconcileReport struct {
	Confirmed    int `json:"confirmed"`
	Failed       int `json:"failed"`
	Expired      int `json:"expired"`
	StillPending int `json:"still_pending"`
}

// LinkAccountRequest is the body of an identity link update.
type LinkAccountRequest struct {
	ExternalAccountID string `json:"external_account_id"`
	Username          string `json:"username"`
}

// RecordsResponse wraps a page of records.
type RecordsResponse struct {
	Records []RewardRecord `json:"records"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
