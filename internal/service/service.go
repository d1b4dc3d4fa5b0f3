package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"daily-reward-api/internal/account"
	"daily-reward-api/internal/events"
	"daily-reward-api/internal/features"
	"daily-reward-api/internal/identity"
	"daily-reward-api/internal/ledger"
	"daily-reward-api/internal/models"
	"daily-reward-api/internal/money"
	"daily-reward-api/internal/pending"
	"daily-reward-api/internal/prize"
	"daily-reward-api/internal/records"
	"daily-reward-api/internal/tracing"
	"daily-reward-api/internal/validation"
)

// Committer credits an external account.
type Committer interface {
	Commit(ctx context.Context, accountID string, amount int64) account.CommitResult
}

// Identity resolves and stores links to external accounts.
type Identity interface {
	Resolve(ctx context.Context, userID string) (models.AccountLink, error)
	Link(ctx context.Context, link models.AccountLink) (models.AccountLink, error)
}

// Deps are the collaborators of the service. Runner, Events and Features may be nil.
type Deps struct {
	Calendar   *ledger.Calendar
	Attempts   *ledger.Attempts
	Budget     *ledger.Budget
	Selector   *prize.Selector
	Accounts   Committer
	Identity   Identity
	Records    *records.Repository
	Pending    *pending.Tracker
	Reconciler *pending.Reconciler
	Runner     *pending.Runner
	Config     *ConfigStore
	Events     *events.Manager
	Features   *features.Manager
	// NodeID seeds record ids; processes sharing a store need distinct ids.
	NodeID int64
	Logger *slog.Logger
}

// Service provides the daily reward operations.
type Service struct {
	Deps
	ids    *snowflake.Node
	log    *slog.Logger
	tracer trace.Tracer
}

// NewService creates a new service instance.
func NewService(deps Deps) (*Service, error) {
	node, err := snowflake.NewNode(deps.NodeID)
	if err != nil {
		return nil, fmt.Errorf("record id generator: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Deps:   deps,
		ids:    node,
		log:    logger,
		tracer: tracing.Tracer("service"),
	}, nil
}

// saga tracks what an attempt has taken so compensation can give it back.
type saga struct {
	userID   string
	day      string
	reserved int64
	// holdsClaim is set only once Claim reported this attempt took the token.
	holdsClaim bool
	// settled is the result once the credit may have landed. From then on
	// nothing is compensated.
	settled *models.AttemptResult
}

// settle keeps the claim and reservation for a credit that may have landed.
func (st *saga) settle(result models.AttemptResult) {
	st.reserved = 0
	st.holdsClaim = false
	st.settled = &result
}

// Attempt runs one daily attempt for user. Business outcomes are reported in
// the result; an error is returned only for invalid input.
func (s *Service) Attempt(ctx context.Context, user models.User) (result models.AttemptResult, err error) {
	if err := validation.ValidateID(user.ID, "user_id"); err != nil {
		return models.AttemptResult{}, err
	}

	// Once started, an attempt runs to a terminal state with its compensations.
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "service.Attempt")
	span.SetAttributes(attribute.String("user.id", user.ID))
	defer func() {
		span.SetAttributes(attribute.String("attempt.status", string(result.Status)), attribute.String("attempt.reason", result.Reason))
		span.End()
	}()

	logger := s.log.With("user_id", user.ID)

	link, err := s.Identity.Resolve(ctx, user.ID)
	if errors.Is(err, identity.ErrNotLinked) {
		return denied(models.ReasonNotLinked), nil
	}
	if err != nil {
		logger.Error("identity lookup failed", "error", err)
		return denied(models.ReasonInternalError), nil
	}

	st := &saga{userID: user.ID, day: s.Calendar.Today()}
	granted, err := s.Attempts.Claim(ctx, st.userID, st.day)
	if err != nil {
		// The token may be from an earlier attempt or may have been written
		// before the reply was lost, so it is left in place.
		logger.Error("daily claim failed", "day", st.day, "error", err)
		return denied(models.ReasonInternalError), nil
	}
	if !granted {
		return denied(models.ReasonNoAttemptsLeft), nil
	}
	st.holdsClaim = true

	defer func() {
		if r := recover(); r != nil {
			if st.settled != nil {
				logger.Error("attempt panicked after commit, nothing compensated", "panic", r, "day", st.day)
				result = *st.settled
				return
			}
			logger.Error("attempt panicked", "panic", r, "day", st.day, "reserved", st.reserved)
			s.compensate(ctx, st, "panic")
			result = denied(models.ReasonInternalError)
		}
	}()

	return s.disburse(ctx, user, link, st, logger), nil
}

func (s *Service) disburse(ctx context.Context, user models.User, link models.AccountLink, st *saga, logger *slog.Logger) models.AttemptResult {
	cfg, err := s.Config.Get(ctx)
	if err != nil {
		logger.Error("reward config unavailable", "error", err)
		s.compensate(ctx, st, "config error")
		return denied(models.ReasonInternalError)
	}
	if !cfg.Enabled {
		s.compensate(ctx, st, "disabled")
		return denied(models.ReasonDisabled)
	}

	limit := money.ToSubunits(cfg.DailyCap)
	remaining, err := s.Budget.Remaining(ctx, st.day, limit)
	if err != nil {
		logger.Error("budget read failed", "day", st.day, "error", err)
		s.compensate(ctx, st, "budget read error")
		return denied(models.ReasonInternalError)
	}

	tier, ok := s.Selector.Select(cfg.Tiers, remaining)
	if !ok {
		s.compensate(ctx, st, "no affordable tier")
		return denied(models.ReasonBudgetExhausted)
	}

	amount := money.ToSubunits(tier.Value)
	reserved, total, err := s.Budget.Reserve(ctx, st.day, amount, limit)
	if err != nil {
		// The script may or may not have run, so only the claim is returned.
		logger.Error("budget reserve failed", "day", st.day, "amount", amount, "error", err)
		s.compensate(ctx, st, "reserve error")
		return denied(models.ReasonInternalError)
	}
	if !reserved {
		logger.Info("budget reservation rejected", "day", st.day, "amount", amount, "total", total, "cap", limit)
		s.compensate(ctx, st, "reservation rejected")
		return denied(models.ReasonBudgetExhausted)
	}
	st.reserved = amount

	name := user.Name
	if name == "" {
		name = link.Username
	}
	rec := models.RewardRecord{
		ID:        s.ids.Generate().String(),
		UserID:    user.ID,
		Username:  name,
		TierID:    tier.ID,
		TierLabel: tier.Label,
		Value:     tier.Value,
		CreatedAt: s.Calendar.Now(),
	}

	res := s.Accounts.Commit(ctx, link.ExternalAccountID, money.ToQuota(tier.Value, cfg.QuotaPerUnit))
	logger = logger.With("record_id", rec.ID, "account_id", link.ExternalAccountID, "outcome", res.Outcome.String())

	switch res.Outcome {
	case account.OutcomeSuccess:
		balance := res.NewBalance
		rec.Committed = true
		rec.CreditedBalance = &balance
		result := models.AttemptResult{
			Status:  models.AttemptGranted,
			Message: fmt.Sprintf("Congratulations! You won %s.", tier.Label),
			Record:  &rec,
		}
		st.settle(result)
		s.Records.Append(ctx, st.day, rec)
		s.Events.PublishGranted(ctx, rec)
		logger.Info("reward granted", "tier_id", tier.ID, "value", tier.Value.String())
		return result

	case account.OutcomeUncertain:
		result := models.AttemptResult{
			Status:  models.AttemptPending,
			Message: "Your reward is being processed. Please check your balance later.",
			Record:  &rec,
		}
		st.settle(result)
		// The pending entry goes first: it is what lets the reconciler settle the money.
		p := models.PendingDisbursement{
			ID:                   uuid.NewString(),
			Record:               rec,
			ExternalAccountID:    link.ExternalAccountID,
			ExpectedBalanceFloor: res.ExpectedBalanceFloor,
			ReservationDay:       st.day,
			BudgetAmount:         amount,
			StoredAt:             s.Calendar.Now(),
		}
		if err := s.Pending.Store(ctx, p); err != nil {
			logger.Error("pending disbursement not stored, manual review required",
				"error", err, "record", rec, "expected_balance_floor", p.ExpectedBalanceFloor,
				"day", st.day, "budget_amount", amount)
		} else {
			logger.Warn("reward outcome uncertain, deferred to reconciliation",
				"expected_balance_floor", p.ExpectedBalanceFloor, "reason", res.Reason)
		}
		s.Records.Append(ctx, st.day, rec)
		s.Events.PublishPending(ctx, rec)
		return result

	default:
		logger.Warn("commit failed", "reason", res.Reason)
		s.compensate(ctx, st, "commit failed")
		return denied(models.ReasonCommitFailed)
	}
}

// compensate returns whatever st holds. Failures are logged; there is nothing
// further to undo.
func (s *Service) compensate(ctx context.Context, st *saga, cause string) {
	logger := s.log.With("user_id", st.userID, "day", st.day, "cause", cause)
	if st.reserved > 0 {
		if err := s.Budget.Rollback(ctx, st.day, st.reserved); err != nil {
			logger.Error("compensation: budget rollback failed", "amount", st.reserved, "error", err)
		} else {
			logger.Warn("compensation: budget rolled back", "amount", st.reserved)
		}
		st.reserved = 0
	}
	if !st.holdsClaim {
		return
	}
	if err := s.Attempts.Release(ctx, st.userID, st.day); err != nil {
		logger.Error("compensation: claim release failed", "error", err)
		return
	}
	st.holdsClaim = false
	logger.Debug("compensation: claim released")
}

var deniedMessages = map[string]string{
	models.ReasonNoAttemptsLeft:  "You have already used today's attempt. Come back tomorrow.",
	models.ReasonDisabled:        "The daily reward is currently disabled.",
	models.ReasonBudgetExhausted: "Today's reward budget has been used up. Please try again tomorrow.",
	models.ReasonCommitFailed:    "The reward could not be credited. Your attempt has been restored, please try again.",
	models.ReasonInternalError:   "Something went wrong. Please try again later.",
	models.ReasonNotLinked:       "Your account is not linked to a balance account.",
}

func denied(reason string) models.AttemptResult {
	return models.AttemptResult{
		Status:  models.AttemptDenied,
		Reason:  reason,
		Message: deniedMessages[reason],
	}
}
