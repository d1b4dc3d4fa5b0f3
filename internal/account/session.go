package account

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"daily-reward-api/internal/store"
)

const (
	sessionKey = "admin:session"
	// refreshMargin renews the session this long before it expires.
	refreshMargin = 5 * time.Minute
)

// Session is a privileged session with the account service.
type Session struct {
	Cookie    string    `json:"cookie"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionCache shares one admin session across processes through the store.
type SessionCache struct {
	store store.Store
	ttl   time.Duration
	login func(ctx context.Context) (Session, error)
	group singleflight.Group
	now   func() time.Time
}

func newSessionCache(kv store.Store, ttl time.Duration, login func(ctx context.Context) (Session, error)) *SessionCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionCache{store: kv, ttl: ttl, login: login, now: time.Now}
}

// Get returns a usable session. force discards the cached session first,
// which callers do after the service rejected it.
func (s *SessionCache) Get(ctx context.Context, force bool) (Session, error) {
	if !force {
		var cached Session
		err := store.GetJSON(ctx, s.store, sessionKey, &cached)
		if err == nil && s.now().Before(cached.ExpiresAt.Add(-refreshMargin)) {
			return cached, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Session{}, fmt.Errorf("read session: %w", err)
		}
	}

	v, err, _ := s.group.Do("login", func() (interface{}, error) {
		sess, err := s.login(ctx)
		if err != nil {
			return Session{}, err
		}
		if sess.ExpiresAt.IsZero() {
			sess.ExpiresAt = s.now().Add(s.ttl)
		}
		if err := store.SetJSON(ctx, s.store, sessionKey, sess, sess.ExpiresAt.Sub(s.now())); err != nil {
			return Session{}, fmt.Errorf("cache session: %w", err)
		}
		return sess, nil
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Client) login(ctx context.Context, username, password string) (Session, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/user/login", loginRequest{Username: username, Password: password}, nil)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	resp, body, err := c.send(req)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("%w: login status=%d", ErrAuth, resp.StatusCode)
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if !env.Success {
		return Session{}, fmt.Errorf("%w: %s", ErrAuth, env.Message)
	}

	var parts []string
	for _, ck := range resp.Cookies() {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	if len(parts) == 0 {
		return Session{}, fmt.Errorf("%w: login returned no session cookie", ErrAuth)
	}

	c.log.Info("account service admin session refreshed")
	return Session{Cookie: strings.Join(parts, "; ")}, nil
}
