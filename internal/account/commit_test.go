package account

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"daily-reward-api/internal/account/accounttest"
	"daily-reward-api/internal/lock"
	"daily-reward-api/internal/store"
	"daily-reward-api/internal/store/storetest"
)

func setupTestClient(t *testing.T, balances map[string]int64, timeout time.Duration) (*Client, *accounttest.Server, store.Store) {
	t.Helper()
	srv := accounttest.NewServer(t, balances)
	kv, _ := storetest.New(t)
	locker := lock.NewLocker(kv, lock.Options{RetryDelay: time.Millisecond, MaxAttempts: 3}, nil)
	c := NewClient(Config{
		BaseURL:       srv.URL,
		AdminUsername: "admin",
		AdminPassword: "secret",
		Timeout:       timeout,
		RatePerSec:    1000,
	}, kv, locker, nil)
	return c, srv, kv
}

func TestCommit_Success(t *testing.T) {
	c, srv, _ := setupTestClient(t, map[string]int64{"42": 1000}, time.Second)

	res := c.Commit(context.Background(), "42", 250)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("Expected success, got %v (%s)", res.Outcome, res.Reason)
	}
	if res.NewBalance != 1250 {
		t.Errorf("Expected new balance 1250, got %d", res.NewBalance)
	}
	if got := srv.Balance("42"); got != 1250 {
		t.Errorf("Expected service balance 1250, got %d", got)
	}
}

func TestCommit_ExplicitFailure(t *testing.T) {
	c, srv, _ := setupTestClient(t, map[string]int64{"42": 1000}, time.Second)
	srv.Configure(func(s *accounttest.Server) { s.FailUpdates = "quota frozen" })

	res := c.Commit(context.Background(), "42", 250)
	if res.Outcome != OutcomeFailure {
		t.Fatalf("Expected failure, got %v", res.Outcome)
	}
	if res.Reason != "quota frozen" {
		t.Errorf("Expected service message as reason, got %q", res.Reason)
	}
	if got := srv.Balance("42"); got != 1000 {
		t.Errorf("Expected balance unchanged, got %d", got)
	}
}

func TestCommit_TimeoutAfterDispatchIsUncertain(t *testing.T) {
	c, srv, _ := setupTestClient(t, map[string]int64{"42": 1000}, 100*time.Millisecond)
	srv.Configure(func(s *accounttest.Server) { s.UpdateDelay = 300 * time.Millisecond })

	res := c.Commit(context.Background(), "42", 250)
	if res.Outcome != OutcomeUncertain {
		t.Fatalf("Expected uncertain, got %v (%s)", res.Outcome, res.Reason)
	}
	if res.ExpectedBalanceFloor != 1250 {
		t.Errorf("Expected floor 1250, got %d", res.ExpectedBalanceFloor)
	}
}

func TestCommit_MalformedResponseIsUncertain(t *testing.T) {
	c, srv, _ := setupTestClient(t, map[string]int64{"42": 1000}, time.Second)
	srv.Configure(func(s *accounttest.Server) { s.MalformedUpdates = true })

	res := c.Commit(context.Background(), "42", 250)
	if res.Outcome != OutcomeUncertain {
		t.Fatalf("Expected uncertain, got %v", res.Outcome)
	}
}

func TestCommit_BalanceReadFailureIsFailure(t *testing.T) {
	c, srv, _ := setupTestClient(t, map[string]int64{"42": 1000}, time.Second)
	srv.Configure(func(s *accounttest.Server) { s.FailReads = true })

	res := c.Commit(context.Background(), "42", 250)
	if res.Outcome != OutcomeFailure {
		t.Fatalf("Expected failure before dispatch, got %v", res.Outcome)
	}
	if srv.Updates() != 0 {
		t.Errorf("Expected no update call, got %d", srv.Updates())
	}
}

func TestCommit_RenewsRejectedSessionOnce(t *testing.T) {
	c, srv, _ := setupTestClient(t, map[string]int64{"42": 1000}, time.Second)
	ctx := context.Background()

	if _, err := c.Balance(ctx, "42"); err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	srv.Configure(func(s *accounttest.Server) { s.RejectNext = 1 })

	res := c.Commit(ctx, "42", 100)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("Expected success after re-login, got %v (%s)", res.Outcome, res.Reason)
	}
	if srv.Logins() != 2 {
		t.Errorf("Expected 2 logins, got %d", srv.Logins())
	}
}

func TestCommit_GivesUpAfterSecondRejection(t *testing.T) {
	c, srv, _ := setupTestClient(t, map[string]int64{"42": 1000}, time.Second)
	srv.Configure(func(s *accounttest.Server) { s.RejectNext = 100 })

	res := c.Commit(context.Background(), "42", 100)
	if res.Outcome != OutcomeFailure {
		t.Fatalf("Expected failure, got %v", res.Outcome)
	}
	if got := srv.Balance("42"); got != 1000 {
		t.Errorf("Expected balance unchanged, got %d", got)
	}
}

func TestCommit_LockBusyIsFailure(t *testing.T) {
	c, srv, kv := setupTestClient(t, map[string]int64{"42": 1000}, time.Second)
	ctx := context.Background()

	holder := lock.NewLocker(kv, lock.Options{MaxAttempts: 1}, nil)
	if _, err := holder.Acquire(ctx, "account:42", time.Minute); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	res := c.Commit(ctx, "42", 100)
	if res.Outcome != OutcomeFailure || res.Reason != "account busy" {
		t.Fatalf("Expected busy failure, got %v (%s)", res.Outcome, res.Reason)
	}
	if srv.Updates() != 0 {
		t.Errorf("Expected no update while locked, got %d", srv.Updates())
	}
}

func TestSession_CachedAcrossCalls(t *testing.T) {
	c, srv, kv := setupTestClient(t, map[string]int64{"1": 0, "2": 0}, time.Second)
	ctx := context.Background()

	c.Commit(ctx, "1", 10)
	c.Commit(ctx, "2", 10)

	if srv.Logins() != 1 {
		t.Errorf("Expected a single login, got %d", srv.Logins())
	}
	var sess Session
	if err := store.GetJSON(ctx, kv, sessionKey, &sess); err != nil {
		t.Fatalf("Expected cached session: %v", err)
	}
	if sess.Cookie == "" {
		t.Error("Expected cached session cookie")
	}
}

func TestSession_RefreshedNearExpiry(t *testing.T) {
	c, srv, _ := setupTestClient(t, map[string]int64{"1": 0}, time.Second)
	ctx := context.Background()

	if _, err := c.Balance(ctx, "1"); err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	c.sessions.now = func() time.Time { return time.Now().Add(time.Hour - refreshMargin/2) }
	if _, err := c.Balance(ctx, "1"); err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if srv.Logins() != 2 {
		t.Errorf("Expected proactive refresh, got %d logins", srv.Logins())
	}
}

func TestBalance_NotFound(t *testing.T) {
	c, _, _ := setupTestClient(t, map[string]int64{}, time.Second)

	_, err := c.Balance(context.Background(), "404")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestNewClient_LockOutlivesCallChain(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://accounts", Timeout: 10 * time.Second}, nil, nil, nil)
	if c.lockTTL != 80*time.Second {
		t.Errorf("Expected lock TTL of eight timeouts, got %v", c.lockTTL)
	}
}

func TestCommit_LockLostBeforeUpdateIsFailure(t *testing.T) {
	srv := accounttest.NewServer(t, map[string]int64{"42": 1000})
	kv, mr := storetest.New(t)
	ctx := context.Background()
	locker := lock.NewLocker(kv, lock.Options{RetryDelay: time.Millisecond, MaxAttempts: 3}, nil)
	c := NewClient(Config{
		BaseURL:       srv.URL,
		AdminUsername: "admin",
		AdminPassword: "secret",
		Timeout:       time.Second,
		RatePerSec:    1000,
		LockTTL:       time.Second,
	}, kv, locker, nil)

	// A slow read lets the lock expire and a second commit take it over.
	other := lock.NewLocker(kv, lock.Options{MaxAttempts: 1}, nil)
	var takeover atomic.Pointer[lock.Lock]
	srv.Configure(func(s *accounttest.Server) {
		s.OnRead = func(string) {
			if takeover.Load() != nil {
				return
			}
			mr.FastForward(2 * time.Second)
			if lk, err := other.Acquire(ctx, "account:42", time.Minute); err == nil {
				takeover.Store(lk)
			}
		}
	})

	res := c.Commit(ctx, "42", 100)
	if takeover.Load() == nil {
		t.Fatal("Expected the expired lock to be taken over")
	}
	if res.Outcome != OutcomeFailure || res.Reason != "account lock lost" {
		t.Fatalf("Expected lock-lost failure, got %v (%s)", res.Outcome, res.Reason)
	}
	if srv.Updates() != 0 {
		t.Errorf("Expected no update after losing the lock, got %d", srv.Updates())
	}
	if got := srv.Balance("42"); got != 1000 {
		t.Errorf("Expected balance unchanged, got %d", got)
	}
}

func TestCommit_ConcurrentCreditsAllLand(t *testing.T) {
	c, srv, _ := setupTestClient(t, map[string]int64{"42": 1000}, time.Second)
	srv.Configure(func(s *accounttest.Server) { s.RejectNext = 1 })

	var wg sync.WaitGroup
	results := make([]CommitResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Commit(context.Background(), "42", 100)
		}(i)
	}
	wg.Wait()

	var credited int64
	for _, res := range results {
		if res.Outcome == OutcomeSuccess {
			credited += 100
		}
	}
	if got := srv.Balance("42"); got != 1000+credited {
		t.Errorf("Expected balance %d for %d successful credits, got %d", 1000+credited, credited/100, got)
	}
}
