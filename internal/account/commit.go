package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"daily-reward-api/internal/lock"
)

// Outcome classifies a commit.
type Outcome int

const (
	// OutcomeSuccess means the service confirmed the credit.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure means the credit is known not to have been applied.
	OutcomeFailure
	// OutcomeUncertain means the update was dispatched but its effect is unknown.
	OutcomeUncertain
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeUncertain:
		return "uncertain"
	default:
		return "unknown"
	}
}

// CommitResult is the outcome of a credit.
type CommitResult struct {
	Outcome Outcome
	// NewBalance is the confirmed balance on success.
	NewBalance int64
	// ExpectedBalanceFloor is the balance the account has if an uncertain update landed.
	ExpectedBalanceFloor int64
	Reason               string
}

func failure(reason string) CommitResult {
	return CommitResult{Outcome: OutcomeFailure, Reason: reason}
}

func uncertain(floor int64, reason string) CommitResult {
	return CommitResult{Outcome: OutcomeUncertain, ExpectedBalanceFloor: floor, Reason: reason}
}

// remoteUser keeps every field of the account so the update writes it back untouched.
type remoteUser map[string]json.RawMessage

func (u remoteUser) quota() (int64, error) {
	raw, ok := u["quota"]
	if !ok {
		return 0, errors.New("account has no quota field")
	}
	var q int64
	if err := json.Unmarshal(raw, &q); err != nil {
		return 0, fmt.Errorf("parse quota: %w", err)
	}
	return q, nil
}

// Balance returns the account's current balance.
func (c *Client) Balance(ctx context.Context, accountID string) (int64, error) {
	_, balance, err := c.fetchUser(ctx, accountID)
	return balance, err
}

// fetchUser reads the account, renewing the admin session once if it is rejected.
func (c *Client) fetchUser(ctx context.Context, accountID string) (remoteUser, int64, error) {
	for attempt := 0; attempt < 2; attempt++ {
		sess, err := c.sessions.Get(ctx, attempt > 0)
		if err != nil {
			return nil, 0, err
		}
		req, err := c.newRequest(ctx, http.MethodGet, "/api/user/"+url.PathEscape(accountID), nil, &sess)
		if err != nil {
			return nil, 0, err
		}
		resp, body, err := c.send(req)
		if err != nil {
			return nil, 0, err
		}
		if isAuthStatus(resp.StatusCode) {
			c.log.Warn("admin session rejected, renewing", "status", resp.StatusCode)
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, 0, ErrNotFound
		}

		env, err := decodeEnvelope(body)
		if err != nil {
			return nil, 0, err
		}
		if !env.Success {
			return nil, 0, fmt.Errorf("get account %s: %s", accountID, env.Message)
		}
		var user remoteUser
		if err := json.Unmarshal(env.Data, &user); err != nil || user == nil {
			return nil, 0, fmt.Errorf("get account %s: malformed data", accountID)
		}
		balance, err := user.quota()
		if err != nil {
			return nil, 0, fmt.Errorf("get account %s: %w", accountID, err)
		}
		return user, balance, nil
	}
	return nil, 0, ErrAuth
}

// Commit credits amount to the account. It serializes commits per account with
// a distributed lock, reads the balance, and writes balance+amount back. Any
// error after the update has been dispatched yields OutcomeUncertain.
func (c *Client) Commit(ctx context.Context, accountID string, amount int64) (result CommitResult) {
	ctx, span := c.tracer.Start(ctx, "account.Commit")
	span.SetAttributes(attribute.String("account.id", accountID), attribute.Int64("account.amount", amount))
	defer func() {
		span.SetAttributes(attribute.String("account.outcome", result.Outcome.String()))
		if result.Outcome != OutcomeSuccess {
			span.SetStatus(codes.Error, result.Reason)
		}
		span.End()
	}()

	lk, err := c.locker.Acquire(ctx, "account:"+accountID, c.lockTTL)
	if err != nil {
		c.log.Warn("commit lock unavailable", "account_id", accountID, "error", err)
		return failure("account busy")
	}
	defer func() {
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
			c.log.Error("commit lock release failed", "account_id", accountID, "error", err)
		}
	}()

	user, balance, err := c.fetchUser(ctx, accountID)
	if err != nil {
		c.log.Warn("commit balance read failed", "account_id", accountID, "error", err)
		return failure("balance unavailable")
	}

	newBalance := balance + amount
	quota, _ := json.Marshal(newBalance)
	user["quota"] = quota

	return c.update(ctx, lk, accountID, user, newBalance)
}

// update writes the new balance. Each dispatch is preceded by a lock refresh:
// once the lock is lost another commit may have read the same balance, so
// the write is abandoned before it is sent.
func (c *Client) update(ctx context.Context, lk *lock.Lock, accountID string, user remoteUser, newBalance int64) CommitResult {
	for attempt := 0; attempt < 2; attempt++ {
		sess, err := c.sessions.Get(ctx, attempt > 0)
		if err != nil {
			return failure("admin session unavailable")
		}
		req, err := c.newRequest(ctx, http.MethodPut, "/api/user/", user, &sess)
		if err != nil {
			return failure("request not sent")
		}
		if err := lk.Refresh(ctx, c.lockTTL); err != nil {
			c.log.Warn("commit lock lost before update", "account_id", accountID, "error", err)
			return failure("account lock lost")
		}

		resp, body, err := c.send(req)
		if err != nil {
			c.log.Warn("commit outcome unknown", "account_id", accountID, "expected_balance", newBalance, "error", err)
			return uncertain(newBalance, err.Error())
		}
		if isAuthStatus(resp.StatusCode) {
			c.log.Warn("admin session rejected on update, renewing", "status", resp.StatusCode)
			continue
		}

		env, err := decodeEnvelope(body)
		if err != nil {
			c.log.Warn("commit outcome unknown", "account_id", accountID, "status", resp.StatusCode, "error", err)
			return uncertain(newBalance, err.Error())
		}
		if !env.Success {
			return failure(env.Message)
		}
		return CommitResult{Outcome: OutcomeSuccess, NewBalance: newBalance}
	}
	return failure("admin session rejected")
}
