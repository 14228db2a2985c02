package main

import (
	"context"
	"log/slog"
	"os"

	"CryptoBotListener/internal/app"
	"CryptoBotListener/internal/config"
	"CryptoBotListener/internal/db"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(app.NewLogger(os.Stdout, cfg.Log.Level))

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}
	n, err := db.Migrate(ctx, pool, dir)
	if err != nil {
		slog.Error("migrate failed", "error", err)
		pool.Close()
		os.Exit(1)
	}
	slog.Info("migrations done", "applied", n)
}
