package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"kasirinaja/opscore/internal/logger"
	pgstore "kasirinaja/opscore/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "goose command: up|down|status|version|redo|reset")
	flag.Parse()

	logg := logger.New(logger.Options{
		ServiceName: "opscore-migrate",
		Level:       logger.ParseLevel(os.Getenv("LOG_LEVEL")),
		Format:      os.Getenv("LOG_FORMAT"),
	})
	ctx := logg.WithField(context.Background(), "cmd", *cmd)

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pg, err := pgstore.New(connectCtx, databaseURL)
	if err != nil {
		logg.Error(ctx, "database unavailable", err)
		os.Exit(1)
	}
	defer pg.Close()

	if err := pgstore.Migrate(ctx, pg.DB(), *cmd, flag.Args()...); err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration finished")
}
