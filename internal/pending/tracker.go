// Package pending tracks credits whose outcome is unknown and resolves them
// against the external balance later.
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"daily-reward-api/internal/models"
	"daily-reward-api/internal/store"
)

const (
	listKey = "pending"
	// DefaultCapacity bounds the pending list.
	DefaultCapacity = 1000
)

// Entry is one stored pending disbursement. Raw is the exact stored value and
// is the handle used to remove it.
type Entry struct {
	Raw  string
	Item models.PendingDisbursement
	// Corrupt is set when Raw could not be decoded.
	Corrupt bool
}

// Tracker is the bounded list of pending disbursements.
type Tracker struct {
	store    store.Store
	capacity int64
	log      *slog.Logger
}

func NewTracker(s store.Store, capacity int64, logger *slog.Logger) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: s, capacity: capacity, log: logger}
}

// Store appends p to the list. When the list is over capacity the oldest
// entries are dropped and logged.
func (t *Tracker) Store(ctx context.Context, p models.PendingDisbursement) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending: %w", err)
	}
	n, err := t.store.LPush(ctx, listKey, string(data))
	if err != nil {
		return fmt.Errorf("store pending: %w", err)
	}
	if n > t.capacity {
		dropped, _ := t.store.LRange(ctx, listKey, t.capacity, -1)
		for _, raw := range dropped {
			t.log.Error("pending list over capacity, dropping entry", "entry", raw)
		}
		if err := t.store.LTrim(ctx, listKey, 0, t.capacity-1); err != nil {
			t.log.Warn("pending list trim failed", "error", err)
		}
	}
	return nil
}

// List returns up to limit entries, oldest first. limit <= 0 means all.
func (t *Tracker) List(ctx context.Context, limit int64) ([]Entry, error) {
	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	raws, err := t.store.LRange(ctx, listKey, start, -1)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	entries := make([]Entry, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		e := Entry{Raw: raws[i]}
		if err := json.Unmarshal([]byte(raws[i]), &e.Item); err != nil || e.Item.ExternalAccountID == "" {
			e.Corrupt = true
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Count returns the number of pending entries.
func (t *Tracker) Count(ctx context.Context) (int64, error) {
	return t.store.LLen(ctx, listKey)
}

// Remove deletes e from the list. It reports whether this caller removed it,
// which makes the caller the sole owner of the entry's resolution.
func (t *Tracker) Remove(ctx context.Context, e Entry) (bool, error) {
	n, err := t.store.LRem(ctx, listKey, 1, e.Raw)
	if err != nil {
		return false, fmt.Errorf("remove pending: %w", err)
	}
	return n > 0, nil
}
