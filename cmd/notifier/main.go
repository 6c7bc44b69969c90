package main

import (
	"context"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"karma-impact/internal/adapters/notifier"
	"karma-impact/internal/adapters/repo"
	"karma-impact/internal/domain"
	"karma-impact/internal/infra/cache"
	"karma-impact/internal/infra/config"
	"karma-impact/internal/infra/db"
	applog "karma-impact/internal/infra/log"
	"karma-impact/internal/infra/metrics"
	"karma-impact/internal/infra/queue"
	"karma-impact/internal/usecase/notify"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("notifier: не указан адрес Redis (REDIS_ADDR)")
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	store := cache.NewRedis(rdb, cfg.RedisPrefix)

	events, closeEvents, err := queue.Open(cfg.Queues.Driver, rdb, cfg.RabbitURL, cfg.Queues.Impact)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Queues.Driver).Msg("notifier: не удалось открыть очередь событий")
	}
	defer func() { _ = closeEvents() }()
	if events == nil {
		logger.Fatal().Msg("notifier: очередь событий отключена (IMPACT_QUEUE_DRIVER=none)")
	}

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("notifier: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier: не удалось создать бота")
	}

	var analytics domain.BusinessMetricRepo
	if cfg.PGDSN != "" {
		pool, err := db.Connect(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("notifier: нет подключения к БД")
		}
		defer pool.Close()
		analytics = repo.NewPostgres(pool)
	}

	tg := notifier.NewTelegram(botAPI, applog.Component(logger, "telegram"))
	worker := notify.NewWorker(events, tg, store, analytics, applog.Component(logger, "notify"), cfg.Queues.NotifyAttempts)

	logger.Info().Str("queue", cfg.Queues.Driver).Msg("notifier: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("notifier: остановлен")
}
