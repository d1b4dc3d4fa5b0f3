package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"daily-reward-api/internal/lock"
	"daily-reward-api/internal/store"
	"daily-reward-api/internal/tracing"
)

var (
	// ErrAuth is returned when the admin session is rejected or cannot be created.
	ErrAuth = errors.New("account: admin authentication failed")
	// ErrNotFound is returned when the external account does not exist.
	ErrNotFound = errors.New("account: not found")
)

// Config configures the external account service client.
type Config struct {
	BaseURL       string
	AdminUsername string
	AdminPassword string
	Timeout       time.Duration
	SessionTTL    time.Duration
	RatePerSec    float64
	LockTTL       time.Duration
}

// Client talks to the external account-balance service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	sessions   *SessionCache
	locker     *lock.Locker
	lockTTL    time.Duration
	log        *slog.Logger
	tracer     trace.Tracer
}

func NewClient(cfg Config, kv store.Store, locker *lock.Locker, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.LockTTL <= 0 {
		// Worst case under the lock: login, rejected read, login, read,
		// rejected update, login, update, each bounded by Timeout, plus
		// limiter waits. The lock is also refreshed before every update.
		cfg.LockTTL = 8 * cfg.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(cfg.RatePerSec)+1),
		locker:  locker,
		lockTTL: cfg.LockTTL,
		log:     logger,
		tracer:  tracing.Tracer("account"),
	}
	c.sessions = newSessionCache(kv, cfg.SessionTTL, func(ctx context.Context) (Session, error) {
		return c.login(ctx, cfg.AdminUsername, cfg.AdminPassword)
	})
	return c
}

// envelope is the response wrapper used by every endpoint of the account service.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// newRequest builds a request. Nothing has been sent when it fails.
func (c *Client) newRequest(ctx context.Context, method, path string, body any, sess *Session) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if sess != nil {
		req.Header.Set("Cookie", sess.Cookie)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return req, nil
}

// send dispatches req. Any error it returns may have happened after the
// service received the request.
func (c *Client) send(req *http.Request) (*http.Response, []byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("read response: %w", err)
	}

	c.log.Debug("account service call",
		"method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "elapsed", time.Since(start))
	return resp, body, nil
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func decodeEnvelope(body []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("malformed response: %w", err)
	}
	return env, nil
}
