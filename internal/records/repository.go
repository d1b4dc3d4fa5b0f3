package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"daily-reward-api/internal/models"
	"daily-reward-api/internal/store"
)

const (
	recentKey = "records:recent"
	totalKey  = "records:total"
	// legacyKey is the unbounded global list written by the previous schema.
	legacyKey = "records:all"
)

func dayKey(day string) string {
	return "records:day:" + day
}

func userKey(userID string) string {
	return "records:user:" + userID
}

// relabelScript rewrites, in each list, the first element containing ARGV[1].
const relabelScript = `
local n = 0
for _, key in ipairs(KEYS) do
    local items = redis.call('LRANGE', key, 0, -1)
    for i, item in ipairs(items) do
        if string.find(item, ARGV[1], 1, true) then
            redis.call('LSET', key, i - 1, ARGV[2])
            n = n + 1
            break
        end
    end
end
return n
`

var relabel = store.NewScript(relabelScript)

// Options bounds the history indices.
type Options struct {
	RecentCapacity   int64
	UserCapacity     int64
	ArchiveRetention time.Duration
}

// DefaultOptions returns the capacities used in production.
func DefaultOptions() Options {
	return Options{
		RecentCapacity:   100,
		UserCapacity:     50,
		ArchiveRetention: 90 * 24 * time.Hour,
	}
}

// Repository is the append-only disbursement history.
type Repository struct {
	store        store.Store
	opts         Options
	log          *slog.Logger
	counterReady atomic.Bool
}

func NewRepository(s store.Store, opts Options, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{store: s, opts: opts, log: logger}
}

// Append writes rec to the recent, day and user indices and bumps the total
// counter. Each write is independent and failures are only logged.
func (r *Repository) Append(ctx context.Context, day string, rec models.RewardRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		r.log.Error("record encode failed", "record_id", rec.ID, "error", err)
		return
	}
	raw := string(data)

	if err := r.push(ctx, recentKey, raw, r.opts.RecentCapacity); err != nil {
		r.log.Warn("recent index write failed", "record_id", rec.ID, "error", err)
	}
	if _, err := r.store.LPush(ctx, dayKey(day), raw); err != nil {
		r.log.Warn("day archive write failed", "record_id", rec.ID, "day", day, "error", err)
	} else if err := r.store.Expire(ctx, dayKey(day), r.opts.ArchiveRetention); err != nil {
		r.log.Warn("day archive expire failed", "day", day, "error", err)
	}
	if err := r.push(ctx, userKey(rec.UserID), raw, r.opts.UserCapacity); err != nil {
		r.log.Warn("user index write failed", "record_id", rec.ID, "user_id", rec.UserID, "error", err)
	}
	if err := r.ensureCounter(ctx); err != nil {
		r.log.Warn("record counter init failed", "error", err)
	}
	if _, err := r.store.IncrBy(ctx, totalKey, 1); err != nil {
		r.log.Warn("record counter increment failed", "error", err)
	}
}

func (r *Repository) push(ctx context.Context, key, raw string, capacity int64) error {
	if _, err := r.store.LPush(ctx, key, raw); err != nil {
		return err
	}
	if capacity > 0 {
		return r.store.LTrim(ctx, key, 0, capacity-1)
	}
	return nil
}

// Recent returns the newest records, newest first. Before the recent index
// exists it falls back to the legacy list.
func (r *Repository) Recent(ctx context.Context, limit, offset int) ([]models.RewardRecord, error) {
	if limit <= 0 {
		return []models.RewardRecord{}, nil
	}
	start, stop := int64(offset), int64(offset+limit-1)

	raws, err := r.store.LRange(ctx, recentKey, start, stop)
	if err != nil {
		return nil, fmt.Errorf("read recent records: %w", err)
	}
	if len(raws) == 0 && offset == 0 {
		if raws, err = r.store.LRange(ctx, legacyKey, start, stop); err != nil {
			return nil, fmt.Errorf("read legacy records: %w", err)
		}
	}
	return normalizeAll(raws), nil
}

// ByUser returns the user's newest records, newest first.
func (r *Repository) ByUser(ctx context.Context, userID string, limit int) ([]models.RewardRecord, error) {
	if limit <= 0 {
		return []models.RewardRecord{}, nil
	}
	raws, err := r.store.LRange(ctx, userKey(userID), 0, int64(limit-1))
	if err != nil {
		return nil, fmt.Errorf("read user records: %w", err)
	}
	return normalizeAll(raws), nil
}

// ByDay returns every archived record of day, newest first.
func (r *Repository) ByDay(ctx context.Context, day string) ([]models.RewardRecord, error) {
	raws, err := r.store.LRange(ctx, dayKey(day), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read day archive: %w", err)
	}
	return normalizeAll(raws), nil
}

// TotalCount returns the number of records ever appended.
func (r *Repository) TotalCount(ctx context.Context) (int64, error) {
	if err := r.ensureCounter(ctx); err != nil {
		return 0, err
	}
	raw, err := r.store.Get(ctx, totalKey)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// ensureCounter seeds the counter from the legacy list length the first time.
func (r *Repository) ensureCounter(ctx context.Context) error {
	if r.counterReady.Load() {
		return nil
	}
	exists, err := r.store.Exists(ctx, totalKey)
	if err != nil {
		return err
	}
	if !exists {
		n, err := r.store.LLen(ctx, legacyKey)
		if err != nil {
			return err
		}
		if _, err := r.store.SetNX(ctx, totalKey, strconv.FormatInt(n, 10), 0); err != nil {
			return err
		}
	}
	r.counterReady.Store(true)
	return nil
}

// MarkCommitted flips the committed flag of rec in every index that still
// holds it. Value and id are never changed.
func (r *Repository) MarkCommitted(ctx context.Context, day string, rec models.RewardRecord, creditedBalance *int64) error {
	rec.Committed = true
	if creditedBalance != nil {
		rec.CreditedBalance = creditedBalance
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	idField, _ := json.Marshal(rec.ID)
	needle := `"id":` + string(idField)

	keys := []string{recentKey, dayKey(day), userKey(rec.UserID)}
	if _, err := r.store.Eval(ctx, relabel, keys, needle, string(data)); err != nil {
		return fmt.Errorf("relabel record %s: %w", rec.ID, err)
	}
	return nil
}
