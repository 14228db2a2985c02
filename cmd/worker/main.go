package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"CryptoBotListener/internal/app"
	"CryptoBotListener/internal/config"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	w, err := a.Worker()
	if err != nil {
		slog.Error("source setup failed", "error", err)
		a.Close()
		os.Exit(1)
	}

	slog.Info("worker started",
		"sources", len(w.Sources),
		"outbox", cfg.Webhook.Outbox,
		"dedup_cache", a.Redis != nil,
	)
	w.Run(ctx)
	slog.Info("worker stopped")
}
