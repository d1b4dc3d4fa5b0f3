package ledger

import (
	"context"
	"fmt"
	"time"

	"daily-reward-api/internal/store"
)

// Attempts is the daily attempt ledger: one claim token per user per day.
type Attempts struct {
	store store.Store
	cal   *Calendar
}

func NewAttempts(s store.Store, cal *Calendar) *Attempts {
	return &Attempts{store: s, cal: cal}
}

func attemptKey(userID, day string) string {
	return fmt.Sprintf("attempt:%s:%s", day, userID)
}

func attemptCountKey(day string) string {
	return "attempt_count:" + day
}

// Claim sets the user's token for day if absent. granted=false means the
// attempt was already consumed.
func (a *Attempts) Claim(ctx context.Context, userID, day string) (bool, error) {
	ok, err := a.store.SetNX(ctx, attemptKey(userID, day), "1", a.cal.UntilEndOf(day))
	if err != nil {
		return false, fmt.Errorf("claim attempt: %w", err)
	}
	if ok {
		// Statistics only.
		if _, err := a.store.IncrBy(ctx, attemptCountKey(day), 1); err == nil {
			_ = a.store.Expire(ctx, attemptCountKey(day), a.cal.UntilEndOf(day)+time.Hour)
		}
	}
	return ok, nil
}

// Release deletes the user's token for day. Only used as compensation.
func (a *Attempts) Release(ctx context.Context, userID, day string) error {
	if err := a.store.Delete(ctx, attemptKey(userID, day)); err != nil {
		return fmt.Errorf("release attempt: %w", err)
	}
	return nil
}

// HasClaimed reports whether the user holds today's token.
func (a *Attempts) HasClaimed(ctx context.Context, userID string) (bool, error) {
	return a.store.Exists(ctx, attemptKey(userID, a.cal.Today()))
}

// Count returns how many claims were granted on day.
func (a *Attempts) Count(ctx context.Context, day string) (int64, error) {
	return readCounter(ctx, a.store, attemptCountKey(day))
}
