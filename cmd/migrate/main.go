package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

const usage = "usage: migrate [up|down|status|version]"

func main() {
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		logging.New("dev").Fatal("config load error", zap.Error(err))
	}
	logger := logging.New(cfg.Env).Named("migrate")
	defer func() { _ = logger.Sync() }()

	if cfg.PostgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pool.Close()

	mig, err := db.NewMigrator(pool, logger)
	if err != nil {
		logger.Fatal("migrator", zap.Error(err))
	}
	defer func() { _ = mig.Close() }()

	switch command {
	case "up":
		err = mig.Up(ctx)
	case "down":
		err = mig.Down(ctx)
	case "status":
		err = mig.Status(ctx)
	case "version":
		var v int64
		if v, err = mig.Version(ctx); err == nil {
			fmt.Println(v)
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("migrate "+command+" failed", zap.Error(err))
	}
	logger.Info("migrate done", zap.String("command", command))
}
