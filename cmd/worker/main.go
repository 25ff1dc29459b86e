package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/app"
	"github.com/pablodelmoral/gritoncall/internal/config"
	"github.com/pablodelmoral/gritoncall/internal/dispatch"
	"github.com/pablodelmoral/gritoncall/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// jobTimeout bounds one scheduled run.
const jobTimeout = 4 * time.Minute

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env).With("process", "worker")
	slog.SetDefault(log)

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	cronLog := slogCronLogger{log: log.With("component", "cron")}
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	if _, err := c.AddFunc(cfg.Scheduler.ScanCron, func() { runSchedule(rootCtx, a) }); err != nil {
		log.Error("invalid scan schedule", "cron", cfg.Scheduler.ScanCron, "err", err)
		os.Exit(1)
	}
	if _, err := c.AddFunc(cfg.Scheduler.DispatchCron, func() { runDispatch(rootCtx, a) }); err != nil {
		log.Error("invalid dispatch schedule", "cron", cfg.Scheduler.DispatchCron, "err", err)
		os.Exit(1)
	}

	c.Start()
	log.Info("worker started", "scan_cron", cfg.Scheduler.ScanCron, "dispatch_cron", cfg.Scheduler.DispatchCron)

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	// Wait for running jobs to finish.
	<-c.Stop().Done()
}

func runSchedule(ctx context.Context, a *app.App) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	res, err := a.Scheduler.Run(ctx)
	if err != nil {
		a.Log.Error("schedule run failed", "err", err)
		return
	}
	a.Log.Info("schedule run finished", "checked", res.Checked, "scheduled", res.Scheduled, "skipped", res.Skipped, "failed", res.Failed)
}

func runDispatch(ctx context.Context, a *app.App) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	res, err := a.Dispatcher.Run(ctx)
	if err != nil {
		a.Log.Error("dispatch run failed", "err", err)
		return
	}
	attrs := []any{"checked", res.Checked, "dispatched", res.Dispatched, "failed", res.Failed, "deferred", res.Deferred}
	if rl, ok := a.Limiter.(*dispatch.RedisLimiter); ok {
		if n, err := rl.InFlight(ctx); err == nil {
			attrs = append(attrs, "in_flight", n)
		}
	}
	a.Log.Info("dispatch run finished", attrs...)
}

// slogCronLogger adapts slog to cron.Logger.
type slogCronLogger struct {
	log *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}
