package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	RecomputeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "impact_recompute_total",
		Help: "Количество пересчётов состояния по статусу",
	}, []string{"status"})
	RecomputeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "impact_recompute_seconds",
		Help:    "Время пересчёта состояния",
		Buckets: prometheus.DefBuckets,
	})
	UnitsCredited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "impact_units_credited_total",
		Help: "Начисленные единицы по действию",
	}, []string{"action"})
	LedgerEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "impact_ledger_entries_total",
		Help: "Созданные записи журнала по действию",
	}, []string{"action"})
	CorruptValues = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "impact_corrupt_values_total",
		Help: "Нечитаемые значения в хранилище, принятые за отсутствующие",
	}, []string{"key"})
	HistoryClears = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "impact_history_clears_total",
		Help: "Сбросы истории пользователями",
	})
	NotifySendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "impact_notify_send_errors_total",
		Help: "Ошибки отправки уведомлений о начислении",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		RecomputeTotal,
		RecomputeSeconds,
		UnitsCredited,
		LedgerEntries,
		CorruptValues,
		HistoryClears,
		NotifySendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveRecompute записывает длительность и исход пересчёта.
func ObserveRecompute(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RecomputeTotal.WithLabelValues(status).Inc()
	RecomputeSeconds.Observe(time.Since(start).Seconds())
}

// ObserveCredit учитывает новое начисление.
func ObserveCredit(action string, newUnits int64) {
	if action == "" {
		action = "unknown"
	}
	LedgerEntries.WithLabelValues(action).Inc()
	if newUnits > 0 {
		UnitsCredited.WithLabelValues(action).Add(float64(newUnits))
	}
}

// IncCorruptValue учитывает значение, которое не удалось разобрать.
func IncCorruptValue(key string) {
	CorruptValues.WithLabelValues(key).Inc()
}
