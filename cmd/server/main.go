package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/autogrowth/growth-engine/internal/accrual"
	"github.com/autogrowth/growth-engine/internal/auth"
	"github.com/autogrowth/growth-engine/internal/config"
	"github.com/autogrowth/growth-engine/internal/growth"
	"github.com/autogrowth/growth-engine/internal/metrics"
	"github.com/autogrowth/growth-engine/internal/store"
	"github.com/autogrowth/growth-engine/internal/tier"
	"github.com/autogrowth/growth-engine/internal/upgrade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}

		st = store.NewRetryStore(st, cfg.RetryAttempts, 50*time.Millisecond)
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	seedTiers(st)

	// --- WebSocket hub ---
	hub := growth.NewEventHub()
	go hub.Run()

	// --- Engine, coordinator, service ---
	engine := accrual.NewEngine(st)
	coord := upgrade.NewCoordinator(st, engine)
	svc := growth.NewService(st, engine, coord, hub)

	// --- Accrual scheduler ---
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go runScheduler(schedulerCtx, svc, cfg.AccrualInterval)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"growth-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time engine events.
		r.Get("/ws", hub.HandleWS)

		// Public surface: the catalog and platform-wide totals.
		r.Get("/tiers", svc.ListTiers)
		r.Get("/stats", svc.SystemStats)

		// Operational trigger for the accrual batch. Idempotent per day,
		// so double invocation by an external cron is harmless.
		r.Post("/accrual/trigger", svc.TriggerAccrual)

		// User surface: requires a bearer token.
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware([]byte(cfg.JWTSecret)))

			r.Get("/status", svc.GetStatus)
			r.Post("/positions", svc.OpenPosition)
			r.Post("/upgrade", svc.UpgradeTier)
			r.Post("/claim", svc.ClaimROI)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("growth-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down growth-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("growth-engine stopped")
}

// seedTiers installs the default catalog on first boot. An existing catalog
// is never touched; administrators own it after the seed.
func seedTiers(st store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	existing, err := st.ListTiers(ctx)
	if err != nil {
		slog.Error("failed to load tier catalog", "err", err)
		os.Exit(1)
	}
	if len(existing) > 0 {
		return
	}

	for _, t := range tier.DefaultTiers() {
		if err := st.CreateTier(ctx, &t); err != nil {
			slog.Error("failed to seed tier", "tier", t.ID, "err", err)
			os.Exit(1)
		}
	}
	slog.Info("seeded default tier catalog", "tiers", len(tier.DefaultTiers()))
}

// runScheduler invokes the accrual batch on a fixed cadence. The batch is
// idempotent per elapsed day, so overlap with the HTTP trigger is safe.
func runScheduler(ctx context.Context, svc *growth.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("accrual scheduler started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("accrual scheduler stopped")
			return
		case <-ticker.C:
			report := svc.RunScheduledAccrual(ctx, time.Now().UTC())
			if !report.Success {
				slog.Error("scheduled accrual run failed", "run_id", report.RunID, "errors", report.Errors)
			}
		}
	}
}
