package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"karma-impact/internal/domain"
)

const (
	defaultMaxAttempts = 5
	deliveredTTL       = 30 * 24 * time.Hour
	receiveBackoff     = time.Second
	attemptsTTL        = time.Hour
)

type attemptState struct {
	count    int
	lastSeen time.Time
}

// Notifier доставляет уведомление о начислении.
type Notifier interface {
	NotifyCredit(ctx context.Context, event domain.ImpactCreditedEvent) error
}

// Worker читает события начислений и доставляет уведомления.
type Worker struct {
	queue       domain.ImpactEventQueue
	notifier    Notifier
	once        domain.OnceRunner
	analytics   domain.BusinessMetricRepo
	log         zerolog.Logger
	maxAttempts int

	mu       sync.Mutex
	attempts map[string]attemptState
	now      func() time.Time
}

// NewWorker создаёт обработчик очереди. analytics может быть nil.
func NewWorker(queue domain.ImpactEventQueue, notifier Notifier, once domain.OnceRunner, analytics domain.BusinessMetricRepo, logger zerolog.Logger, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Worker{
		queue:       queue,
		notifier:    notifier,
		once:        once,
		analytics:   analytics,
		log:         logger,
		maxAttempts: maxAttempts,
		attempts:    make(map[string]attemptState),
		now:         time.Now,
	}
}

// Run обрабатывает очередь до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	for {
		event, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return
				}
			}
			w.log.Error().Err(err).Msg("notify: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}
		w.process(ctx, event, ack)
	}
}

func (w *Worker) process(ctx context.Context, event domain.ImpactCreditedEvent, ack domain.AckFunc) {
	eventLog := w.log.With().Str("event_id", event.ID).Int64("user", event.UserID).Str("entry", event.Entry.ID).Logger()

	if event.ID == "" {
		eventLog.Error().Msg("notify: событие без идентификатора, подтверждаем и пропускаем")
		if err := ack(true); err != nil {
			eventLog.Error().Err(err).Msg("notify: не удалось подтвердить событие")
		}
		return
	}

	err := w.Handle(ctx, event)
	if err == nil {
		w.forget(event.ID)
		if err := ack(true); err != nil {
			eventLog.Error().Err(err).Msg("notify: не удалось подтвердить событие")
		}
		return
	}

	attempt := w.attempt(event.ID)
	eventLog = eventLog.With().Int("attempt", attempt).Logger()
	if attempt < w.maxAttempts {
		eventLog.Warn().Err(err).Msg("notify: доставка не удалась, повторим позже")
		if err := ack(false); err != nil {
			eventLog.Error().Err(err).Msg("notify: не удалось вернуть событие в очередь")
		}
		return
	}
	eventLog.Error().Err(err).Msg("notify: достигнут предел попыток, событие отброшено")
	w.forget(event.ID)
	if err := ack(true); err != nil {
		eventLog.Error().Err(err).Msg("notify: не удалось подтвердить событие")
	}
}

// Handle доставляет уведомление не более одного раза на событие.
func (w *Worker) Handle(ctx context.Context, event domain.ImpactCreditedEvent) error {
	return w.once.Once(ctx, "notified:"+event.ID, deliveredTTL, func() error {
		if err := w.notifier.NotifyCredit(ctx, event); err != nil {
			return err
		}
		if w.analytics != nil {
			userID := event.UserID
			metric := domain.BusinessMetric{
				Event:      domain.BusinessMetricEventNotified,
				UserID:     &userID,
				Metadata:   map[string]any{"entry_id": event.Entry.ID, "units": event.Entry.Units},
				OccurredAt: time.Now().UTC(),
			}
			if err := w.analytics.RecordBusinessMetric(ctx, metric); err != nil {
				w.log.Warn().Err(err).Msg("notify: не удалось сохранить бизнес-метрику")
			}
		}
		return nil
	})
}

// attempt увеличивает счётчик попыток. Счётчики событий, которые давно не возвращались
// (например, доставлены другим процессом), удаляются.
func (w *Worker) attempt(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	for key, st := range w.attempts {
		if now.Sub(st.lastSeen) > attemptsTTL {
			delete(w.attempts, key)
		}
	}
	st := w.attempts[id]
	st.count++
	st.lastSeen = now
	w.attempts[id] = st
	return st.count
}

func (w *Worker) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.attempts)
}

func (w *Worker) forget(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, id)
}
