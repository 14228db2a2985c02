// Package app builds the listener's dependency graph from configuration.
package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"CryptoBotListener/internal/cache"
	"CryptoBotListener/internal/config"
	"CryptoBotListener/internal/db"
	"CryptoBotListener/internal/dedup"
	"CryptoBotListener/internal/deposits"
	"CryptoBotListener/internal/feed"
	"CryptoBotListener/internal/notify"
	"CryptoBotListener/internal/parser"
	"CryptoBotListener/internal/payments"
	"CryptoBotListener/internal/services"
	"CryptoBotListener/internal/store"
	"CryptoBotListener/internal/telegram"
	"CryptoBotListener/internal/worker"

	"github.com/redis/go-redis/v9"
)

const serviceName = "cryptobot-listener"

type App struct {
	Config   *config.Config
	Pool     *db.Pool
	Redis    *redis.Client
	Store    *store.Store
	Notifier *notify.Notifier
	Payments *services.PaymentService

	closers []io.Closer
}

// NewLogger returns a JSON logger at level; unknown levels fall back to info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})).With("service", serviceName)
}

// New connects to Postgres and, when configured, Redis and Kafka, and assembles
// the payment pipeline. The caller owns Close.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := NewLogger(os.Stdout, cfg.Log.Level)
	slog.SetDefault(logger)

	pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Pool: pool, Store: store.New(pool)}

	var gateClient redis.Cmdable
	if cfg.Redis.URL != "" {
		client, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
		a.closers = append(a.closers, client)
		gateClient = client
	} else {
		logger.WarnContext(ctx, "redis url is empty, dedup cache disabled")
	}

	sinks := []notify.Sink{notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.WebhookTimeout())}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.WarnContext(ctx, "kafka sink disabled", "error", err)
		} else {
			sinks = append(sinks, k)
			a.closers = append(a.closers, k)
		}
	}
	a.Notifier = notify.New(sinks...)
	a.Notifier.Timeout = cfg.WebhookTimeout()

	a.Payments = &services.PaymentService{
		Parser:    parser.NewCryptoBot(cfg.Payments.CodePrefix),
		Dedup:     dedup.NewGate(gateClient, cfg.DedupTTL()),
		Deposits:  deposits.Matcher{Store: a.Store},
		Completer: payments.Completer{Store: a.Store},
		Notifier:  a.Notifier,
		Outbox:    cfg.Webhook.Outbox,
	}
	return a, nil
}

// Sources builds the inbound transports enabled in config.
func (a *App) Sources() ([]worker.Source, error) {
	var out []worker.Source
	if len(a.Config.Feed.WSEndpoints) > 0 {
		src, err := feed.NewSource(a.Config.Feed.WSEndpoints, a.Config.Feed.FailoverThreshold)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if a.Config.Telegram.BotToken != "" {
		src, err := telegram.New(a.Config.Telegram.BotToken, a.Config.Telegram.Senders)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// Worker returns the listener worker, with outbox delivery when it is enabled.
func (a *App) Worker() (*worker.Worker, error) {
	sources, err := a.Sources()
	if err != nil {
		return nil, err
	}
	w := &worker.Worker{Handler: a.Payments, Sources: sources}
	if a.Config.Webhook.Outbox {
		w.Outbox = &worker.OutboxDelivery{
			Store:       a.Store,
			Dispatcher:  a.Notifier,
			Interval:    a.Config.OutboxInterval(),
			BatchSize:   a.Config.Webhook.BatchSize,
			MaxAttempts: a.Config.Webhook.MaxAttempts,
			Lease:       2 * a.Config.WebhookTimeout(),
		}
	}
	return w, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Default().Warn("close failed", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
