package pending

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"daily-reward-api/internal/events"
	"daily-reward-api/internal/models"
	"daily-reward-api/internal/tracing"
)

// Reconciliation outcomes, also used as event outcomes.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeFailed    = "failed"
	OutcomeExpired   = "expired"

	outcomeSkipped = "skipped"
)

// BalanceChecker reads an external account balance.
type BalanceChecker interface {
	Balance(ctx context.Context, accountID string) (int64, error)
}

// BudgetRollback returns reserved subunits to a day's budget.
type BudgetRollback interface {
	Rollback(ctx context.Context, day string, amount int64) error
}

// ClaimReleaser releases a user's daily claim.
type ClaimReleaser interface {
	Release(ctx context.Context, userID, day string) error
}

// Relabeler marks a stored record as committed.
type Relabeler interface {
	MarkCommitted(ctx context.Context, day string, rec models.RewardRecord, creditedBalance *int64) error
}

// Config tunes the reconciler.
type Config struct {
	MaxAge    time.Duration
	BatchSize int64
	// Now defaults to time.Now.
	Now func() time.Time
}

// Reconciler resolves pending disbursements.
type Reconciler struct {
	tracker  *Tracker
	balances BalanceChecker
	budget   BudgetRollback
	claims   ClaimReleaser
	records  Relabeler
	events   *events.Manager
	cfg      Config
	log      *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewReconciler(tracker *Tracker, balances BalanceChecker, budget BudgetRollback, claims ClaimReleaser,
	records Relabeler, bus *events.Manager, cfg Config, logger *slog.Logger) *Reconciler {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		tracker:  tracker,
		balances: balances,
		budget:   budget,
		claims:   claims,
		records:  records,
		events:   bus,
		cfg:      cfg,
		log:      logger,
		tracer:   tracing.Tracer("pending"),
		now:      cfg.Now,
	}
}

// Reconcile evaluates up to one batch of pending entries. Every entry is
// removed from the list before it is acted on, so concurrent passes never
// resolve the same entry twice.
func (r *Reconciler) Reconcile(ctx context.Context) (models.ReconcileReport, error) {
	ctx, span := r.tracer.Start(ctx, "pending.Reconcile")
	defer span.End()

	var report models.ReconcileReport
	entries, err := r.tracker.List(ctx, r.cfg.BatchSize)
	if err != nil {
		return report, err
	}

	for _, e := range entries {
		if e.Corrupt {
			if _, err := r.tracker.Remove(ctx, e); err != nil {
				r.log.Warn("remove corrupt pending entry failed", "error", err)
			}
			r.log.Error("dropped corrupt pending entry", "entry", e.Raw)
			continue
		}
		switch r.resolve(ctx, e) {
		case OutcomeConfirmed:
			report.Confirmed++
		case OutcomeFailed:
			report.Failed++
		case OutcomeExpired:
			report.Expired++
		case "":
			report.StillPending++
		}
	}

	span.SetAttributes(
		attribute.Int("reconcile.confirmed", report.Confirmed),
		attribute.Int("reconcile.failed", report.Failed),
		attribute.Int("reconcile.expired", report.Expired),
		attribute.Int("reconcile.still_pending", report.StillPending),
	)
	if len(entries) > 0 {
		r.log.Info("reconcile pass finished",
			"confirmed", report.Confirmed, "failed", report.Failed,
			"expired", report.Expired, "still_pending", report.StillPending)
	}
	return report, nil
}

// resolve returns the outcome for e, "" if it stays pending, or
// outcomeSkipped when another reconciler took it first.
func (r *Reconciler) resolve(ctx context.Context, e Entry) string {
	p := e.Item
	logger := r.log.With("record_id", p.Record.ID, "user_id", p.Record.UserID, "account_id", p.ExternalAccountID)

	if r.now().Sub(p.StoredAt) > r.cfg.MaxAge {
		if owned, err := r.take(ctx, e); !owned {
			return skippedOrPending(err, logger)
		}
		logger.Warn("pending disbursement expired without resolution",
			"stored_at", p.StoredAt, "budget_amount", p.BudgetAmount, "day", p.ReservationDay)
		r.events.PublishReconciled(ctx, p.Record, OutcomeExpired)
		return OutcomeExpired
	}

	balance, err := r.balances.Balance(ctx, p.ExternalAccountID)
	if err != nil {
		logger.Warn("pending balance check failed, will retry", "error", err)
		return ""
	}

	if owned, err := r.take(ctx, e); !owned {
		return skippedOrPending(err, logger)
	}

	if balance >= p.ExpectedBalanceFloor {
		if err := r.records.MarkCommitted(ctx, p.ReservationDay, p.Record, &balance); err != nil {
			logger.Warn("relabel confirmed record failed", "error", err)
		}
		logger.Info("pending disbursement confirmed", "balance", balance, "floor", p.ExpectedBalanceFloor)
		r.events.PublishReconciled(ctx, p.Record, OutcomeConfirmed)
		return OutcomeConfirmed
	}

	if err := r.budget.Rollback(ctx, p.ReservationDay, p.BudgetAmount); err != nil {
		logger.Error("compensation: budget rollback failed", "day", p.ReservationDay, "amount", p.BudgetAmount, "error", err)
	}
	if err := r.claims.Release(ctx, p.Record.UserID, p.ReservationDay); err != nil {
		logger.Error("compensation: claim release failed", "day", p.ReservationDay, "error", err)
	}
	logger.Warn("pending disbursement did not land, compensated",
		"balance", balance, "floor", p.ExpectedBalanceFloor, "day", p.ReservationDay)
	r.events.PublishReconciled(ctx, p.Record, OutcomeFailed)
	return OutcomeFailed
}

// take removes e and reports whether this caller owns its resolution.
func (r *Reconciler) take(ctx context.Context, e Entry) (bool, error) {
	return r.tracker.Remove(ctx, e)
}

// skippedOrPending maps a failed take: a store error leaves the entry for a
// later pass, otherwise another reconciler already owns it.
func skippedOrPending(err error, logger *slog.Logger) string {
	if err != nil {
		logger.Warn("claim pending entry failed", "error", err)
		return ""
	}
	return outcomeSkipped
}
