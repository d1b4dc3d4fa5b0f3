package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"daily-reward-api/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubValidator struct {
	users map[string]models.User
}

func (s *stubValidator) Validate(token string) (models.User, error) {
	u, ok := s.users[token]
	if !ok {
		return models.User{}, errors.New("invalid")
	}
	return u, nil
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if u, ok := UserFromCtx(r.Context()); ok {
		w.Write([]byte(u.ID))
	}
})

func newValidator() *stubValidator {
	return &stubValidator{users: map[string]models.User{
		"player": {ID: "u1"},
		"admin":  {ID: "root", IsAdmin: true},
	}}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAuthenticate(t *testing.T) {
	h := Authenticate(newValidator())(okHandler)

	tests := []struct {
		name   string
		method string
		target string
		header string
		status int
		body   string
	}{
		{"bearer header", http.MethodPost, "/", "Bearer player", http.StatusOK, "u1"},
		{"lowercase scheme", http.MethodGet, "/", "bearer player", http.StatusOK, "u1"},
		{"query token on GET", http.MethodGet, "/?access_token=player", "", http.StatusOK, "u1"},
		{"query token on POST", http.MethodPost, "/?access_token=player", "", http.StatusUnauthorized, ""},
		{"missing", http.MethodGet, "/", "", http.StatusUnauthorized, ""},
		{"invalid", http.MethodGet, "/", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, rec.Code)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("Expected body %q, got %q", tt.body, rec.Body.String())
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	h := Authenticate(newValidator())(RequireAdmin(okHandler))

	for token, want := range map[string]int{"player": http.StatusForbidden, "admin": http.StatusOK} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%s: expected %d, got %d", token, want, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	RequireAdmin(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a user, got %d", rec.Code)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("Expected burst of 2 to be allowed")
	}
	if rl.Allow("a") {
		t.Error("Expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Error("Expected a different client to be allowed")
	}
}

func TestRateLimitMiddleware_KeysByUser(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()
	h := Authenticate(newValidator())(RateLimitMiddleware(rl)(okHandler))

	do := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if do("player") != http.StatusOK {
		t.Fatal("Expected first request allowed")
	}
	if do("player") != http.StatusTooManyRequests {
		t.Error("Expected second request from the same user limited")
	}
	if do("admin") != http.StatusOK {
		t.Error("Expected another user behind the same address allowed")
	}
}

func TestGetClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := GetClientKey(req); got != "ip:192.0.2.1" {
		t.Errorf("Expected remote host, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := GetClientKey(req); got != "ip:203.0.113.9" {
		t.Errorf("Expected first forwarded address, got %q", got)
	}

	req = req.WithContext(WithUser(req.Context(), models.User{ID: "u1"}))
	if got := GetClientKey(req); got != "user:u1" {
		t.Errorf("Expected user key, got %q", got)
	}
}

func TestTracingMiddleware_PassesThrough(t *testing.T) {
	h := TracingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected handler status, got %d", rec.Code)
	}
}
