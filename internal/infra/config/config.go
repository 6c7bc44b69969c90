package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token         string        `envconfig:"TG_BOT_TOKEN"`
		WebhookSecret string        `envconfig:"TG_WEBHOOK_SECRET"`
		InitDataTTL   time.Duration `envconfig:"TG_INIT_DATA_TTL" default:"24h"`
	} `envconfig:""`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"5"`

	RedisAddr   string `envconfig:"REDIS_ADDR"`
	RedisPrefix string `envconfig:"REDIS_PREFIX" default:"karma"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Impact struct {
		WeekStart    string        `envconfig:"IMPACT_WEEK_START" default:"sunday"`
		HistoryLimit int           `envconfig:"IMPACT_HISTORY_LIMIT" default:"20"`
		DailyTTL     time.Duration `envconfig:"IMPACT_DAILY_TTL" default:"72h"`
		MarkerTTL    time.Duration `envconfig:"IMPACT_MARKER_TTL" default:"0s"`
		LockTTL      time.Duration `envconfig:"IMPACT_LOCK_TTL" default:"10s"`
	} `envconfig:""`

	Queues struct {
		Driver         string `envconfig:"IMPACT_QUEUE_DRIVER" default:"redis"`
		Impact         string `envconfig:"IMPACT_QUEUE_KEY" default:"impact_events"`
		NotifyAttempts int    `envconfig:"NOTIFY_MAX_ATTEMPTS" default:"5"`
	} `envconfig:""`

	Schedule struct {
		Interval    time.Duration `envconfig:"SCHEDULE_INTERVAL" default:"1h"`
		Concurrency int           `envconfig:"SCHEDULE_CONCURRENCY" default:"4"`
	} `envconfig:""`

	Limits struct {
		RPS   float64 `envconfig:"API_RATE_RPS" default:"2"`
		Burst int     `envconfig:"API_RATE_BURST" default:"10"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Location возвращает часовой пояс из TZ.
func (c AppConfig) Location() (*time.Location, error) {
	if c.TZ == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return nil, fmt.Errorf("часовой пояс %q: %w", c.TZ, err)
	}
	return loc, nil
}
