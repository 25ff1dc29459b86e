// Command token mints a service token signed with JWT_SECRET. Use it to
// bootstrap the first admin token and to provision cron callers of the job
// endpoints.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/auth"
	"github.com/pablodelmoral/gritoncall/internal/config"
	"github.com/pablodelmoral/gritoncall/internal/rbac"

	"github.com/joho/godotenv"
)

func main() {
	subject := flag.String("subject", "", "token subject, e.g. worker or ops:alice")
	role := flag.String("role", rbac.RoleScheduler, "admin, scheduler or viewer")
	ttl := flag.Duration("ttl", 0, "token lifetime (default JWT_ACCESS_TTL)")
	flag.Parse()

	if *subject == "" || !rbac.Known(*role) {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		slog.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	tok, err := m.Issue(time.Now(), *subject, *role, *ttl)
	if err != nil {
		slog.Error("issue token failed", "err", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
