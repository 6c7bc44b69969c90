package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"karma-impact/internal/adapters/repo"
	"karma-impact/internal/infra/cache"
	"karma-impact/internal/infra/config"
	"karma-impact/internal/infra/db"
	applog "karma-impact/internal/infra/log"
	"karma-impact/internal/infra/metrics"
	"karma-impact/internal/infra/queue"
	"karma-impact/internal/usecase/impact"
	"karma-impact/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректный TZ")
	}
	weekStart, err := impact.ParseWeekday(cfg.Impact.WeekStart)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректный IMPACT_WEEK_START")
	}

	pool, err := db.Connect(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("scheduler: не указан адрес Redis (REDIS_ADDR)")
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	store := cache.NewRedis(rdb, cfg.RedisPrefix)

	events, closeEvents, err := queue.Open(cfg.Queues.Driver, rdb, cfg.RabbitURL, cfg.Queues.Impact)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось открыть очередь событий")
	}
	defer func() { _ = closeEvents() }()

	opts := []impact.Option{impact.WithLedgerMirror(repoAdapter), impact.WithAnalytics(repoAdapter)}
	if events != nil {
		opts = append(opts, impact.WithEvents(events))
	}
	service := impact.NewService(store, store, repoAdapter, repoAdapter, applog.Component(logger, "impact"), impact.Config{
		Location:     loc,
		WeekStart:    weekStart,
		HistoryLimit: cfg.Impact.HistoryLimit,
		DailyTTL:     cfg.Impact.DailyTTL,
		MarkerTTL:    cfg.Impact.MarkerTTL,
		LockTTL:      cfg.Impact.LockTTL,
	}, opts...)

	sweeper := schedule.NewService(repoAdapter, service, loc, weekStart, cfg.Schedule.Concurrency, applog.Component(logger, "scheduler"))
	logger.Info().Dur("interval", cfg.Schedule.Interval).Msg("scheduler: запуск")
	sweeper.Run(ctx, cfg.Schedule.Interval)
	logger.Info().Msg("scheduler: остановлен")
}
