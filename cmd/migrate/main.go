package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/config"
	"github.com/pablodelmoral/gritoncall/internal/store"
	"github.com/pablodelmoral/gritoncall/pkg/logger"
	"github.com/pablodelmoral/gritoncall/pkg/utils"

	"github.com/joho/godotenv"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [up|down|status]\n", os.Args[0])
	}
	flag.Parse()
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env).With("process", "migrate")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 1})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	switch cmd {
	case "up":
		err = store.Migrate(ctx, db)
	case "down":
		err = store.Rollback(ctx, db)
	case "status":
		err = store.MigrationStatus(ctx, db)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error("migration failed", "cmd", cmd, "err", err)
		os.Exit(1)
	}
	log.Info("migration finished", "cmd", cmd)
}
