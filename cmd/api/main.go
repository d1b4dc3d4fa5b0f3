package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"daily-reward-api/internal/account"
	"daily-reward-api/internal/auth"
	"daily-reward-api/internal/config"
	"daily-reward-api/internal/events"
	"daily-reward-api/internal/fanout"
	"daily-reward-api/internal/features"
	"daily-reward-api/internal/handler"
	"daily-reward-api/internal/identity"
	"daily-reward-api/internal/ledger"
	"daily-reward-api/internal/lock"
	"daily-reward-api/internal/middleware"
	"daily-reward-api/internal/pending"
	"daily-reward-api/internal/prize"
	"daily-reward-api/internal/records"
	"daily-reward-api/internal/service"
	"daily-reward-api/internal/store"
	"daily-reward-api/internal/tracing"
	"daily-reward-api/internal/validation"
)

func main() {
	configFile := flag.String("config", "", "Optional JSON config file")
	port := flag.String("port", "", "Server port (overrides config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	rewardDefaults, err := config.LoadReward(cfg.Reward.ConfigPath)
	if err != nil {
		return err
	}
	if err := validation.ValidateRewardConfig(rewardDefaults); err != nil {
		return fmt.Errorf("invalid reward defaults: %w", err)
	}

	if err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
	}); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	kv, err := store.NewRedisStore(store.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return err
	}
	defer kv.Close()

	db, err := identity.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	locker := lock.NewLocker(kv, lock.DefaultOptions(), logger.With("component", "lock"))
	accounts := account.NewClient(account.Config{
		BaseURL:       cfg.Account.BaseURL,
		AdminUsername: cfg.Account.AdminUsername,
		AdminPassword: cfg.Account.AdminPassword,
		Timeout:       time.Duration(cfg.Account.TimeoutSec) * time.Second,
		SessionTTL:    time.Duration(cfg.Account.SessionTTLSec) * time.Second,
		RatePerSec:    cfg.Account.RatePerSec,
	}, kv, locker, logger.With("component", "account"))

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMin)*time.Minute)
	if err != nil {
		return err
	}

	calendar := ledger.NewCalendar(ledger.LoadLocation(cfg.Reward.Timezone), nil)
	attempts := ledger.NewAttempts(kv, calendar)
	budget := ledger.NewBudget(kv)
	repo := records.NewRepository(kv, records.Options{
		RecentCapacity:   cfg.Reward.RecentCapacity,
		UserCapacity:     cfg.Reward.UserHistoryCapacity,
		ArchiveRetention: cfg.ArchiveRetention(),
	}, logger.With("component", "records"))

	bus := events.NewManager(true, logger.With("component", "events"))
	defer bus.Shutdown()
	flags := features.NewDefaultManager(cfg.Features.AutoReconcile, cfg.Features.LiveFeed)

	tracker := pending.NewTracker(kv, cfg.Reward.PendingCapacity, logger.With("component", "pending"))
	reconciler := pending.NewReconciler(tracker, accounts, budget, attempts, repo, bus, pending.Config{
		MaxAge: cfg.PendingMaxAge(),
	}, logger.With("component", "reconciler"))
	runner := pending.NewRunner(reconciler, tracker, cfg.ReconcileInterval(), logger.With("component", "reconciler"))
	runner.Start()
	defer runner.Stop()

	svc, err := service.NewService(service.Deps{
		Calendar:   calendar,
		Attempts:   attempts,
		Budget:     budget,
		Selector:   prize.NewSelector(nil),
		Accounts:   accounts,
		Identity:   identity.NewResolver(db, kv, logger.With("component", "identity")),
		Records:    repo,
		Pending:    tracker,
		Reconciler: reconciler,
		Runner:     runner,
		Config:     service.NewConfigStore(kv, locker, rewardDefaults),
		Events:     bus,
		Features:   flags,
		NodeID:     cfg.Server.NodeID,
		Logger:     logger.With("component", "service"),
	})
	if err != nil {
		return err
	}

	feed := fanout.NewServer(bus, flags, allowedOrigins(cfg.Security.AllowedOrigins), logger.With("component", "fanout"))
	defer feed.Close()

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Features:    flags,
		Logger:      logger.With("component", "http"),
	})

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
	}

	r := newRouter(cfg, h, feed, tokens, rateLimiter)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server",
			"addr", addr,
			"redis", cfg.Redis.Addr,
			"database", cfg.Database.Path,
			"rate_limit", cfg.RateLimit.Enabled,
		)
		errCh <- server.ListenAndServe()
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-sigint:
		logger.Info("shutting down server", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	feed.Close()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// allowedOrigins splits the comma-separated origin list. An empty list lets
// CORS fall back to its default and keeps the live feed same-origin.
func allowedOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func newRouter(cfg *config.Config, h *handler.Handler, feed *fanout.Server, tokens auth.Validator, rateLimiter *middleware.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.Security.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(tokens))
		// Keyed by user, so it must run after authentication.
		if rateLimiter != nil {
			r.Use(middleware.RateLimitMiddleware(rateLimiter))
		}

		r.Route("/api/reward", func(r chi.Router) {
			r.Get("/status", h.Status)
			r.Post("/attempt", h.Attempt)
			r.Get("/history", h.History)
			r.Get("/recent", h.Recent)
			r.Get("/stats", h.Stats)
			r.Get("/feed", feed.HandleWS)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/reward/config", h.GetConfig)
			r.Put("/reward/config", h.UpdateConfig)
			r.Post("/reward/reconcile", h.Reconcile)
			r.Get("/reward/days/{day}", h.DayArchive)
			r.Put("/links/{user_id}", h.LinkAccount)
			r.Get("/features", h.Features)
		})
	})

	return r
}
