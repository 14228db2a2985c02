package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr          string `yaml:"addr"`
		OperatorToken string `yaml:"operator_token"`
	} `yaml:"server"`
	DB struct {
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"db"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Webhook struct {
		URL             string `yaml:"url"`
		Secret          string `yaml:"secret"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
		Outbox          bool   `yaml:"outbox"`
		MaxAttempts     int    `yaml:"max_attempts"`
		IntervalSeconds int    `yaml:"interval_seconds"`
		BatchSize       int    `yaml:"batch_size"`
	} `yaml:"webhook"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Feed struct {
		WSEndpoints       []string `yaml:"ws_endpoints"`
		FailoverThreshold int      `yaml:"failover_threshold"`
	} `yaml:"feed"`
	Telegram struct {
		BotToken string   `yaml:"bot_token"`
		Senders  []string `yaml:"senders"`
	} `yaml:"telegram"`
	Payments struct {
		CodePrefix    string `yaml:"code_prefix"`
		DedupTTLHours int    `yaml:"dedup_ttl_hours"`
	} `yaml:"payments"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads the yaml file, applies a .env file and environment overrides, and
// validates the result. A missing yaml file is fine when the environment carries
// every required key.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Webhook.URL == "" || cfg.Webhook.Secret == "" {
		return nil, errors.New("webhook.url and webhook.secret are required")
	}
	return &cfg, nil
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutSeconds) * time.Second
}

func (c *Config) OutboxInterval() time.Duration {
	return time.Duration(c.Webhook.IntervalSeconds) * time.Second
}

func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.Payments.DedupTTLHours) * time.Hour
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8081"
	}
	if cfg.DB.MaxConns <= 0 {
		cfg.DB.MaxConns = 10
	}
	if cfg.Webhook.TimeoutSeconds <= 0 {
		cfg.Webhook.TimeoutSeconds = 10
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 8
	}
	if cfg.Webhook.IntervalSeconds <= 0 {
		cfg.Webhook.IntervalSeconds = 5
	}
	if cfg.Webhook.BatchSize <= 0 {
		cfg.Webhook.BatchSize = 20
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "deposit.completed"
	}
	if cfg.Feed.FailoverThreshold <= 0 {
		cfg.Feed.FailoverThreshold = 3
	}
	if len(cfg.Telegram.Senders) == 0 {
		cfg.Telegram.Senders = []string{"CryptoBot"}
	}
	if cfg.Payments.CodePrefix == "" {
		cfg.Payments.CodePrefix = "MASK"
	}
	if cfg.Payments.DedupTTLHours <= 0 {
		cfg.Payments.DedupTTLHours = 24
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("OPERATOR_TOKEN"); v != "" {
		cfg.Server.OperatorToken = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		cfg.DB.MaxConns = int32(atoiOr(int(cfg.DB.MaxConns), v))
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("MAIN_API_WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("WEBHOOK_TIMEOUT_SECONDS"); v != "" {
		cfg.Webhook.TimeoutSeconds = atoiOr(cfg.Webhook.TimeoutSeconds, v)
	}
	if v := os.Getenv("WEBHOOK_OUTBOX"); v != "" {
		cfg.Webhook.Outbox = boolOr(cfg.Webhook.Outbox, v)
	}
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		cfg.Webhook.MaxAttempts = atoiOr(cfg.Webhook.MaxAttempts, v)
	}
	if v := os.Getenv("WEBHOOK_INTERVAL_SECONDS"); v != "" {
		cfg.Webhook.IntervalSeconds = atoiOr(cfg.Webhook.IntervalSeconds, v)
	}
	if v := os.Getenv("WEBHOOK_BATCH_SIZE"); v != "" {
		cfg.Webhook.BatchSize = atoiOr(cfg.Webhook.BatchSize, v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCommaList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("FEED_WS_ENDPOINTS"); v != "" {
		cfg.Feed.WSEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("FEED_FAILOVER_THRESHOLD"); v != "" {
		cfg.Feed.FailoverThreshold = atoiOr(cfg.Feed.FailoverThreshold, v)
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_SENDERS"); v != "" {
		cfg.Telegram.Senders = splitCommaList(v)
	}
	if v := os.Getenv("PAYMENT_CODE_PREFIX"); v != "" {
		cfg.Payments.CodePrefix = v
	}
	if v := os.Getenv("DEDUP_TTL_HOURS"); v != "" {
		cfg.Payments.DedupTTLHours = atoiOr(cfg.Payments.DedupTTLHours, v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func boolOr(fallback bool, v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
