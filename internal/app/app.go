// Package app wires configuration into the stores, services and provider
// clients shared by the api and worker processes.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pablodelmoral/gritoncall/internal/audit"
	"github.com/pablodelmoral/gritoncall/internal/config"
	"github.com/pablodelmoral/gritoncall/internal/dispatch"
	"github.com/pablodelmoral/gritoncall/internal/plans"
	"github.com/pablodelmoral/gritoncall/internal/reconcile"
	"github.com/pablodelmoral/gritoncall/internal/reporting"
	"github.com/pablodelmoral/gritoncall/internal/scheduling"
	"github.com/pablodelmoral/gritoncall/internal/store"
	"github.com/pablodelmoral/gritoncall/internal/streaks"
	"github.com/pablodelmoral/gritoncall/internal/telephony"
	"github.com/pablodelmoral/gritoncall/pkg/utils"

	"github.com/redis/go-redis/v9"
)

type App struct {
	Config config.Config
	Log    *slog.Logger

	DB    *sql.DB
	Redis *redis.Client // nil when Redis is not configured
	Store *store.Postgres

	Scheduler  *scheduling.Service
	Dispatcher *dispatch.Dispatcher
	Limiter    dispatch.Limiter
	Reconciler *reconcile.Reconciler
	Updater    *streaks.Updater
	Plans      *plans.Service
	Reporting  *reporting.Service
	Audit      *audit.Service
}

// New opens Postgres (and Redis when configured), optionally applies
// migrations, and constructs every service.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}
	a := &App{Config: cfg, Log: log, DB: db, Store: store.NewPostgres(db)}

	if cfg.DB.AutoMigrate {
		if err := store.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("migrations applied")
	}

	a.Limiter = dispatch.NoopLimiter{}
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("redis init: %w", err)
		}
		a.Redis = rdb
		a.Limiter = dispatch.NewRedisLimiter(rdb, cfg.Scheduler.MaxInFlightCalls, cfg.Scheduler.DispatchLease)
	}

	provider, err := telephony.NewVapiProvider(cfg.Vapi, &http.Client{Timeout: cfg.Vapi.HTTPTimeout})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("voice provider init: %w", err)
	}

	a.Scheduler = scheduling.NewService(a.Store, log.With("component", "scheduler"))
	a.Dispatcher = dispatch.NewDispatcher(a.Store, provider, a.Limiter, dispatch.Options{
		Assistant: dispatch.AssistantSettings{
			ServerURL:   cfg.Vapi.ServerURL,
			Model:       cfg.Vapi.Model,
			Temperature: cfg.Vapi.Temperature,
		},
		BatchSize:   cfg.Scheduler.BatchSize,
		Concurrency: cfg.Scheduler.DispatchConcurrency,
		RetryDelay:  cfg.Scheduler.RetryDelay,
		Lease:       cfg.Scheduler.DispatchLease,
	}, log.With("component", "dispatcher"))
	a.Updater = streaks.NewUpdater(a.Store, log.With("component", "streaks"))
	a.Reconciler = reconcile.NewReconciler(a.Store, a.Updater, cfg.Scheduler.RetryDelay, log.With("component", "reconciler"))
	a.Plans = plans.NewService(a.Store, log.With("component", "plans"))
	a.Reporting = reporting.NewService(a.Store)
	a.Audit = audit.NewService(a.Store)
	return a, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
