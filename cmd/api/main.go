package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"karma-impact/internal/adapters/repo"
	"karma-impact/internal/infra/cache"
	"karma-impact/internal/infra/config"
	"karma-impact/internal/infra/db"
	httpinfra "karma-impact/internal/infra/http"
	applog "karma-impact/internal/infra/log"
	"karma-impact/internal/infra/metrics"
	"karma-impact/internal/infra/queue"
	"karma-impact/internal/usecase/impact"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("api: некорректный TZ")
	}
	weekStart, err := impact.ParseWeekday(cfg.Impact.WeekStart)
	if err != nil {
		logger.Fatal().Err(err).Str("value", cfg.Impact.WeekStart).Msg("api: некорректный IMPACT_WEEK_START")
	}
	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("api: не указан токен Telegram (TG_BOT_TOKEN)")
	}

	pool, err := db.Connect(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("api: не указан адрес Redis (REDIS_ADDR)")
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	store := cache.NewRedis(rdb, cfg.RedisPrefix)

	events, closeEvents, err := queue.Open(cfg.Queues.Driver, rdb, cfg.RabbitURL, cfg.Queues.Impact)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Queues.Driver).Msg("api: не удалось открыть очередь событий")
	}
	defer func() { _ = closeEvents() }()

	opts := []impact.Option{
		impact.WithLedgerMirror(repoAdapter),
		impact.WithAnalytics(repoAdapter),
	}
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

	limiter := httpinfra.NewRateLimiter(cfg.Limits.RPS, cfg.Limits.Burst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	}()

	server := httpinfra.NewServer(applog.Component(logger, "http"))
	api := httpinfra.NewAPI(service, repoAdapter, repoAdapter, repoAdapter, loc, applog.Component(logger, "api"))
	server.Router.Group(func(protected chi.Router) {
		protected.Use(httpinfra.WebAppAuthMiddleware(cfg.Telegram.Token, cfg.Telegram.InitDataTTL))
		protected.Use(limiter.Handler)
		api.Mount(protected)
	})

	go func() {
		logger.Info().Str("week_start", weekStart.String()).Str("tz", loc.String()).Str("queue", cfg.Queues.Driver).Msg("api: старт")
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки сервера")
	}
}
