package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"daily-reward-api/internal/store"
)

// BudgetTTL keeps a day's accumulator a little past the day itself.
const BudgetTTL = 25 * time.Hour

// reserveScript increments the accumulator and reverts the increment when the
// cap would be exceeded. Returns {granted, total}.
//
// KEYS[1] = budget key
// ARGV[1] = amount (subunits)
// ARGV[2] = cap (subunits)
// ARGV[3] = ttl seconds, applied when the key has none
const reserveScript = `
local total = redis.call('INCRBY', KEYS[1], ARGV[1])
if redis.call('TTL', KEYS[1]) < 0 then
    redis.call('EXPIRE', KEYS[1], ARGV[3])
end
if total > tonumber(ARGV[2]) then
    total = redis.call('DECRBY', KEYS[1], ARGV[1])
    return {0, total}
end
return {1, total}
`

// rollbackScript decrements only an existing accumulator so a rollback
// arriving after expiry cannot leave a negative key without a TTL.
const rollbackScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return redis.call('DECRBY', KEYS[1], ARGV[1])
end
return 0
`

var (
	reserve  = store.NewScript(reserveScript)
	rollback = store.NewScript(rollbackScript)
)

// Budget is the daily budget ledger, accumulating reserved subunits per day.
type Budget struct {
	store store.Store
}

func NewBudget(s store.Store) *Budget {
	return &Budget{store: s}
}

func budgetKey(day string) string {
	return "budget:" + day
}

// Reserve atomically adds amount to day's total unless that would exceed
// limit. On denial total is the accumulator as it stood before the attempt.
func (b *Budget) Reserve(ctx context.Context, day string, amount, limit int64) (bool, int64, error) {
	if amount <= 0 {
		return false, 0, fmt.Errorf("reserve budget: amount must be positive, got %d", amount)
	}
	v, err := b.store.Eval(ctx, reserve, []string{budgetKey(day)}, amount, limit, int64(BudgetTTL/time.Second))
	if err != nil {
		return false, 0, fmt.Errorf("reserve budget: %w", err)
	}
	granted, total, err := store.Int64Pair(v)
	if err != nil {
		return false, 0, fmt.Errorf("reserve budget: %w", err)
	}
	return granted == 1, total, nil
}

// Rollback returns amount to day's budget.
func (b *Budget) Rollback(ctx context.Context, day string, amount int64) error {
	if _, err := b.store.Eval(ctx, rollback, []string{budgetKey(day)}, amount); err != nil {
		return fmt.Errorf("rollback budget: %w", err)
	}
	return nil
}

// Total returns the subunits reserved on day.
func (b *Budget) Total(ctx context.Context, day string) (int64, error) {
	return readCounter(ctx, b.store, budgetKey(day))
}

// Remaining returns limit minus day's total, floored at zero. It is advisory:
// Reserve is the authoritative check.
func (b *Budget) Remaining(ctx context.Context, day string, limit int64) (int64, error) {
	total, err := b.Total(ctx, day)
	if err != nil {
		return 0, err
	}
	if left := limit - total; left > 0 {
		return left, nil
	}
	return 0, nil
}

func readCounter(ctx context.Context, s store.Store, key string) (int64, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", key, err)
	}
	return n, nil
}
