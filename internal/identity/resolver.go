package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"daily-reward-api/internal/models"
	"daily-reward-api/internal/store"
)

// CacheTTL is how long a resolved link is served from the store.
const CacheTTL = 10 * time.Minute

func cacheKey(userID string) string {
	return "identity:" + userID
}

// LinkStore is the durable link table.
type LinkStore interface {
	UpsertLink(ctx context.Context, link models.AccountLink) error
	GetLink(ctx context.Context, userID string) (models.AccountLink, error)
}

// Resolver reads links through a store cache.
type Resolver struct {
	db    LinkStore
	cache store.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewResolver(db LinkStore, cache store.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{db: db, cache: cache, log: logger, now: time.Now}
}

// Resolve returns the external account linked to userID.
func (r *Resolver) Resolve(ctx context.Context, userID string) (models.AccountLink, error) {
	var link models.AccountLink
	err := store.GetJSON(ctx, r.cache, cacheKey(userID), &link)
	if err == nil && link.ExternalAccountID != "" {
		return link, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.log.Warn("identity cache read failed", "user_id", userID, "error", err)
	}

	link, err = r.db.GetLink(ctx, userID)
	if err != nil {
		return models.AccountLink{}, err
	}
	if err := store.SetJSON(ctx, r.cache, cacheKey(userID), link, CacheTTL); err != nil {
		r.log.Warn("identity cache write failed", "user_id", userID, "error", err)
	}
	return link, nil
}

// Link stores a link and drops the cached copy.
func (r *Resolver) Link(ctx context.Context, link models.AccountLink) (models.AccountLink, error) {
	link.UpdatedAt = r.now().UTC().Truncate(time.Second)
	if err := r.db.UpsertLink(ctx, link); err != nil {
		return models.AccountLink{}, err
	}
	if err := r.cache.Delete(ctx, cacheKey(link.UserID)); err != nil {
		return models.AccountLink{}, fmt.Errorf("invalidate link cache: %w", err)
	}
	return link, nil
}
