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
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fleetshare/finance-engine/internal/api"
	"github.com/fleetshare/finance-engine/internal/config"
	"github.com/fleetshare/finance-engine/internal/dashboard"
	"github.com/fleetshare/finance-engine/internal/investment"
	"github.com/fleetshare/finance-engine/internal/metrics"
	"github.com/fleetshare/finance-engine/internal/rateio"
	"github.com/fleetshare/finance-engine/internal/reserve"
	"github.com/fleetshare/finance-engine/internal/scheduler"
	"github.com/fleetshare/finance-engine/internal/store"
	"github.com/fleetshare/finance-engine/internal/yield"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

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
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
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
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- Engines and services ---
	engine := yield.NewEngine(yield.ReferenceRates{CDI: cfg.CDIAnnualRate, SELIC: cfg.SELICAnnualRate})
	investments := investment.NewService(st, engine)
	rateioSvc := rateio.NewService(st, st)
	reserves := reserve.NewService(st, reserve.Defaults{
		RequiredMinimum:       cfg.ReserveRequiredMinimum,
		AlertThresholdPercent: cfg.ReserveAlertThresholdPercent,
		SeedBalance:           cfg.ReserveSeedBalance,
	}, wsHub)
	loader := dashboard.NewLoader(st, reserves)

	// --- Background jobs ---
	sched := scheduler.New(time.Minute)
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.ProjectionSchedule, scheduler.ProjectionRefreshJob{Positions: investments}},
		{cfg.ReserveWatchSchedule, scheduler.ReserveWatchJob{Reserves: reserves, Alerter: wsHub}},
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			slog.Error("invalid job schedule", "job", j.job.Name(), "schedule", j.schedule, "err", err)
			os.Exit(1)
		}
	}
	sched.Start()

	h := &api.Handler{
		Yield:       engine,
		Investments: investments,
		Rateio:      rateioSvc,
		Reserves:    reserves,
		Ownership:   st,
		Dashboard:   loader,
		Hub:         wsHub,
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"finance-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", h.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("finance-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down finance-engine...")
	sched.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("finance-engine stopped")
}
