package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"daily-reward-api/internal/store"
)

var (
	// ErrBusy is returned when the lock could not be acquired within the retry budget.
	ErrBusy = errors.New("lock: resource busy")
	// ErrNotHeld is returned when releasing a lock whose token no longer matches.
	ErrNotHeld = errors.New("lock: not held")
)

// releaseScript deletes the key only while it still carries the holder's token.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

var release = store.NewScript(releaseScript)

// refreshScript resets the TTL only while the key still carries the holder's token.
const refreshScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

var refresh = store.NewScript(refreshScript)

// Options controls acquisition retries.
type Options struct {
	RetryDelay  time.Duration
	MaxAttempts int
}

// DefaultOptions returns the retry policy used for account and config locks.
func DefaultOptions() Options {
	return Options{
		RetryDelay:  100 * time.Millisecond,
		MaxAttempts: 30,
	}
}

// Locker hands out token-guarded locks stored as NX keys.
type Locker struct {
	store store.Store
	opts  Options
	log   *slog.Logger
}

func NewLocker(s store.Store, opts Options, logger *slog.Logger) *Locker {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{store: s, opts: opts, log: logger}
}

// Lock is a held lock.
type Lock struct {
	Resource string
	Token    string
	locker   *Locker
}

func lockKey(resource string) string {
	return "lock:" + resource
}

// Acquire tries to take the lock, retrying with a fixed delay. It never blocks
// past MaxAttempts and returns ErrBusy instead.
func (l *Locker) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	for attempt := 1; attempt <= l.opts.MaxAttempts; attempt++ {
		ok, err := l.store.SetNX(ctx, lockKey(resource), token, ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", resource, err)
		}
		if ok {
			return &Lock{Resource: resource, Token: token, locker: l}, nil
		}
		if attempt == l.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.opts.RetryDelay):
		}
	}
	l.log.Warn("lock acquisition exhausted", "resource", resource, "attempts", l.opts.MaxAttempts)
	return nil, ErrBusy
}

// Release deletes the lock if it is still ours.
func (lk *Lock) Release(ctx context.Context) error {
	v, err := lk.locker.store.Eval(ctx, release, []string{lockKey(lk.Resource)}, lk.Token)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lk.Resource, err)
	}
	n, err := store.Int64(v)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Refresh extends the lock to ttl from now. It returns ErrNotHeld once the
// lock has expired or passed to another holder; callers must then stop
// before doing anything the lock protects.
func (lk *Lock) Refresh(ctx context.Context, ttl time.Duration) error {
	v, err := lk.locker.store.Eval(ctx, refresh, []string{lockKey(lk.Resource)}, lk.Token, ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("refresh lock %s: %w", lk.Resource, err)
	}
	n, err := store.Int64(v)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// WithLock runs fn while holding the lock. The lock is released even when fn
// fails; a release failure is logged and does not override fn's result.
func (l *Locker) WithLock(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lk, err := l.Acquire(ctx, resource, ttl)
	if err != nil {
		return err
	}
	defer func() {
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
			l.log.Error("lock release failed", "resource", resource, "error", err)
		}
	}()
	return fn(ctx)
}
