// Package accounttest provides an in-process fake of the external account service.
package accounttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const sessionCookie = "session"

// Server is a fake account service backed by an in-memory balance table.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	balances map[string]int64
	token    int
	logins   int
	updates  int

	// FailUpdates makes updates answer {"success": false, "message": FailUpdates}.
	FailUpdates string
	// MalformedUpdates makes updates answer with a non-JSON body after applying them.
	MalformedUpdates bool
	// UpdateDelay delays the update response after it has been applied.
	UpdateDelay time.Duration
	// DropUpdates makes updates time out without being applied.
	DropUpdates bool
	// RejectNext answers the next n authenticated requests with 401.
	RejectNext int
	// FailReads makes balance reads answer 500 with a non-JSON body.
	FailReads bool
	// OnRead runs before each balance read is answered, outside the server lock.
	OnRead func(id string)
}

// NewServer starts a fake with the given accounts. It is closed with the test.
func NewServer(t testing.TB, balances map[string]int64) *Server {
	t.Helper()
	s := &Server{balances: make(map[string]int64)}
	for id, b := range balances {
		s.balances[id] = b
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/user/login", s.handleLogin)
	mux.HandleFunc("GET /api/user/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/user/", s.handleUpdate)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Balance returns the account's current balance.
func (s *Server) Balance(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[id]
}

// SetBalance overwrites the account's balance.
func (s *Server) SetBalance(id string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[id] = balance
}

// Logins returns how many admin logins were performed.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Updates returns how many update calls were received.
func (s *Server) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// Configure mutates behaviour flags under the server lock.
func (s *Server) Configure(fn func(s *Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username != "admin" || body.Password != "secret" {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "invalid credentials"})
		return
	}

	s.mu.Lock()
	s.logins++
	s.token++
	token := strconv.Itoa(s.token)
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: token, Path: "/"})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": ""})
}

// authorized must be called with s.mu held.
func (s *Server) authorized(r *http.Request) bool {
	ck, err := r.Cookie(sessionCookie)
	if err != nil || ck.Value == "" {
		return false
	}
	if s.RejectNext > 0 {
		s.RejectNext--
		return false
	}
	return true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	hook := s.OnRead
	s.mu.Unlock()
	if hook != nil {
		hook(r.PathValue("id"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "unauthorized"})
		return
	}
	if s.FailReads {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream error"))
		return
	}
	id := r.PathValue("id")
	balance, ok := s.balances[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"id":       id,
			"username": "user-" + id,
			"quota":    balance,
			"group":    "default",
		},
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID    json.RawMessage `json:"id"`
		Quota int64           `json:"quota"`
		Group string          `json:"group"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "bad request"})
		return
	}
	id := strings.Trim(string(body.ID), `"`)

	s.mu.Lock()
	s.updates++
	if !s.authorized(r) {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "unauthorized"})
		return
	}
	if s.FailUpdates != "" {
		msg := s.FailUpdates
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": msg})
		return
	}
	drop, delay, malformed := s.DropUpdates, s.UpdateDelay, s.MalformedUpdates
	if !drop {
		s.balances[id] = body.Quota
	}
	s.mu.Unlock()

	if drop {
		time.Sleep(delay)
		return
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if malformed {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": ""})
}
