package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"karma-impact/internal/adapters/bot"
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
		logger.Fatal().Err(err).Msg("bot-gateway: некорректный TZ")
	}
	weekStart, err := impact.ParseWeekday(cfg.Impact.WeekStart)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: некорректный IMPACT_WEEK_START")
	}

	pool, err := db.Connect(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось подключиться к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("bot-gateway: не указан адрес Redis (REDIS_ADDR)")
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	store := cache.NewRedis(rdb, cfg.RedisPrefix)

	events, closeEvents, err := queue.Open(cfg.Queues.Driver, rdb, cfg.RabbitURL, cfg.Queues.Impact)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось открыть очередь событий")
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

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("bot-gateway: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}

	h := bot.NewHandler(botAPI, applog.Component(logger, "bot"), service, repoAdapter, repoAdapter, loc)

	server := httpinfra.NewServer(applog.Component(logger, "http"))
	server.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Telegram.WebhookSecret != "" && r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != cfg.Telegram.WebhookSecret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		logger.Info().Msg("bot-gateway: запущен")
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("bot-gateway: HTTP сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("bot-gateway: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
