package impact

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"karma-impact/internal/domain"
	"karma-impact/internal/infra/metrics"
)

const (
	keyTotalUnits      = "karma_total_units_v1"
	keyHistory         = "karma_history_v1"
	keyProcessedPrefix = "karma_processed_units_"
	keyDailyPrefix     = "karma_daily_"
	lockPrefix         = "karma_lock:"
)

// DefaultHistoryLimit — сколько последних записей журнала хранится.
const DefaultHistoryLimit = 20

// Config задаёт параметры расчёта.
type Config struct {
	Location     *time.Location
	WeekStart    time.Weekday
	HistoryLimit int
	// DailyTTL — срок жизни дневных отметок; вчерашняя должна дожить до завтра.
	DailyTTL time.Duration
	// MarkerTTL — срок жизни отметок обработанных единиц, 0 — бессрочно.
	MarkerTTL time.Duration
	LockTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.DailyTTL <= 0 {
		c.DailyTTL = 72 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
	return c
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPolicy подменяет выбор действия и текст сообщения.
func WithPolicy(policy ActionPolicy, format MessageFormatter) Option {
	return func(s *Service) {
		if policy != nil {
			s.policy = policy
		}
		if format != nil {
			s.format = format
		}
	}
}

// WithLedgerMirror включает аудиторскую копию начислений.
func WithLedgerMirror(mirror domain.LedgerMirror) Option {
	return func(s *Service) { s.mirror = mirror }
}

// WithEvents включает публикацию событий начисления.
func WithEvents(queue domain.ImpactEventQueue) Option {
	return func(s *Service) { s.events = queue }
}

// WithAnalytics включает запись бизнесовых метрик.
func WithAnalytics(repo domain.BusinessMetricRepo) Option {
	return func(s *Service) { s.analytics = repo }
}

// Service ведёт учёт сэкономленных калорий и начислений по пользователям.
type Service struct {
	stores    domain.UserStoreFactory
	locker    domain.Locker
	nutrition domain.NutritionSource
	workouts  domain.WorkoutSource
	mirror    domain.LedgerMirror
	events    domain.ImpactEventQueue
	analytics domain.BusinessMetricRepo
	log       zerolog.Logger
	cfg       Config
	now       func() time.Time
	policy    ActionPolicy
	format    MessageFormatter

	flight singleflight.Group

	mu        sync.RWMutex
	snapshots map[int64]domain.ImpactState
}

// NewService создаёт сервис учёта.
func NewService(stores domain.UserStoreFactory, locker domain.Locker, nutrition domain.NutritionSource, workouts domain.WorkoutSource, logger zerolog.Logger, cfg Config, opts ...Option) *Service {
	s := &Service{
		stores:    stores,
		locker:    locker,
		nutrition: nutrition,
		workouts:  workouts,
		log:       logger,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		policy:    SelectAction,
		format:    FormatMessage,
		snapshots: make(map[int64]domain.ImpactState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Recompute пересчитывает состояние пользователя. Одновременные вызовы для
// одного пользователя объединяются. Ошибки хранилища не возвращаются:
// они логируются, а вызывающий получает последнее успешно посчитанное состояние.
func (s *Service) Recompute(ctx context.Context, userID int64) domain.ImpactState {
	return s.run(ctx, userID, false)
}

// RecomputeAfterChange запускает новый пересчёт, не присоединяясь к уже идущему,
// чтобы учесть только что записанные данные.
func (s *Service) RecomputeAfterChange(ctx context.Context, userID int64) domain.ImpactState {
	return s.run(ctx, userID, true)
}

func (s *Service) run(ctx context.Context, userID int64, fresh bool) domain.ImpactState {
	key := strconv.FormatInt(userID, 10)
	if fresh {
		s.flight.Forget(key)
	}
	start := time.Now()
	ch := s.flight.DoChan(key, func() (any, error) {
		return s.recompute(context.WithoutCancel(ctx), userID)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = singleflight.Result{Err: ctx.Err()}
	}
	metrics.ObserveRecompute(start, res.Err)
	if res.Err != nil {
		s.log.Error().Err(res.Err).Int64("user", userID).Msg("impact: пересчёт не выполнен, состояние не изменено")
		state, _ := s.Snapshot(userID)
		return state
	}
	return res.Val.(domain.ImpactState)
}

// Snapshot возвращает последнее посчитанное состояние без пересчёта.
func (s *Service) Snapshot(userID int64) (domain.ImpactState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.snapshots[userID]
	if !ok {
		return emptyState(), false
	}
	return state, true
}

// History читает сохранённый журнал начислений.
func (s *Service) History(ctx context.Context, userID int64) ([]domain.ImpactLedgerEntry, error) {
	return s.loadHistory(ctx, s.stores.ForUser(userID))
}

// ClearHistory удаляет журнал и общий счётчик. Отметки обработанных единиц
// по неделям сохраняются, поэтому уже засчитанная неделя повторно не начисляется.
func (s *Service) ClearHistory(ctx context.Context, userID int64) error {
	unlock, err := s.locker.Lock(ctx, lockPrefix+strconv.FormatInt(userID, 10), s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("блокировка пользователя: %w", err)
	}
	defer unlock()

	store := s.stores.ForUser(userID)
	if err := store.Remove(ctx, keyHistory, keyTotalUnits); err != nil {
		return fmt.Errorf("удаление истории: %w", err)
	}

	s.mu.Lock()
	state, ok := s.snapshots[userID]
	if !ok {
		state = emptyState()
	}
	state.History = []domain.ImpactLedgerEntry{}
	state.TotalUnits = 0
	state.LastAction = nil
	s.snapshots[userID] = state
	s.mu.Unlock()

	metrics.HistoryClears.Inc()
	s.record(ctx, userID, domain.BusinessMetricEventHistoryCleared, nil)
	return nil
}

func (s *Service) recompute(ctx context.Context, userID int64) (domain.ImpactState, error) {
	now := s.now().In(s.cfg.Location)
	weekStart, weekEnd := WeekWindow(now, s.cfg.WeekStart)
	dayStart, dayEnd := DayWindow(now)
	weekKey := domain.NewWeekKey(weekStart)

	weekly, err := s.nutrition.WeeklySummary(ctx, userID, weekStart, weekEnd)
	if err != nil {
		return domain.ImpactState{}, fmt.Errorf("недельная сводка питания: %w", err)
	}
	daily, err := s.nutrition.DailyNutrition(ctx, userID, dayStart)
	if err != nil {
		return domain.ImpactState{}, fmt.Errorf("дневная сводка питания: %w", err)
	}
	workouts, err := s.workouts.ListWorkouts(ctx, userID, weekStart)
	if err != nil {
		return domain.ImpactState{}, fmt.Errorf("список тренировок: %w", err)
	}

	saved := SavedCalories(weekly, workouts, weekStart, weekEnd)
	units := UnitsFor(saved)
	state := domain.ImpactState{
		WeekStart:     weekKey,
		KcalSavedWeek: saved,
		UnitsWeek:     units,
	}

	var credited *domain.ImpactLedgerEntry
	err = func() error {
		unlock, err := s.locker.Lock(ctx, lockPrefix+strconv.FormatInt(userID, 10), s.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("блокировка пользователя: %w", err)
		}
		defer unlock()

		store := s.stores.ForUser(userID)
		history, err := s.loadHistory(ctx, store)
		if err != nil {
			return err
		}
		total, err := s.loadInt(ctx, store, keyTotalUnits)
		if err != nil {
			return err
		}

		if units > 0 {
			processedKey := keyProcessedPrefix + string(weekKey)
			processed, err := s.loadInt(ctx, store, processedKey)
			if err != nil {
				return err
			}
			newUnits := max(0, units-processed)
			if newUnits > 0 {
				action := s.policy(units)
				if !action.Valid() {
					s.log.Warn().Str("action", string(action)).Int64("units", units).Msg("impact: политика вернула неизвестное действие, используем пороговую")
					action = SelectAction(units)
				}
				entry := domain.ImpactLedgerEntry{
					ID:        uuid.NewString(),
					WeekStart: weekKey,
					KcalSaved: saved,
					Units:     units,
					Action:    action,
					Message:   s.format(action, units),
					CreatedAt: now,
				}
				// Отметка пишется первой: при сбое посередине единицы недоначисляются, но не дублируются.
				if err := s.saveJSON(ctx, store, processedKey, units, s.cfg.MarkerTTL); err != nil {
					return err
				}
				total += newUnits
				if err := s.saveJSON(ctx, store, keyTotalUnits, total, 0); err != nil {
					return err
				}
				history = prependCapped(history, entry, s.cfg.HistoryLimit)
				if err := s.saveJSON(ctx, store, keyHistory, history, 0); err != nil {
					return err
				}
				metrics.ObserveCredit(string(action), newUnits)
				credited = &entry
				state.LastAction = &entry
				s.log.Info().Int64("user", userID).Str("week", string(weekKey)).Int64("units", units).Int64("new_units", newUnits).Str("action", string(action)).Msg("impact: начислены единицы")
			} else {
				state.LastAction = latestForWeek(history, weekKey)
			}
		}
		state.TotalUnits = total
		state.History = history

		dailySaved := SavedCalories(daily, workouts, dayStart, dayEnd)
		if err := s.saveJSON(ctx, store, keyDailyPrefix+domain.DayKey(dayStart), dailySaved, s.cfg.DailyTTL); err != nil {
			return err
		}
		yesterday, err := s.loadInt(ctx, store, keyDailyPrefix+domain.DayKey(dayStart.AddDate(0, 0, -1)))
		if err != nil {
			return err
		}
		state.DailySaved = dailySaved
		state.YesterdaySaved = yesterday
		state.DailyTrend = CompareTrend(dailySaved, yesterday)

		// Снимок публикуется под блокировкой: ClearHistory после начисления не перезаписывается.
		s.mu.Lock()
		s.snapshots[userID] = state
		s.mu.Unlock()
		return nil
	}()
	if err != nil {
		return domain.ImpactState{}, err
	}

	if credited != nil {
		s.afterCredit(ctx, userID, *credited, state.TotalUnits)
	}
	return state, nil
}

// afterCredit распространяет начисление во внешние системы; их сбои не влияют на учёт.
func (s *Service) afterCredit(ctx context.Context, userID int64, entry domain.ImpactLedgerEntry, total int64) {
	if s.mirror != nil {
		if err := s.mirror.AppendImpactEntry(ctx, userID, entry); err != nil {
			s.log.Error().Err(err).Int64("user", userID).Str("entry", entry.ID).Msg("impact: не удалось сохранить копию записи")
		}
	}
	if s.events != nil {
		event := domain.ImpactCreditedEvent{
			ID:         uuid.NewString(),
			UserID:     userID,
			ChatID:     userID,
			Entry:      entry,
			TotalUnits: total,
			OccurredAt: entry.CreatedAt,
		}
		if err := s.events.Publish(ctx, event); err != nil {
			s.log.Error().Err(err).Int64("user", userID).Str("entry", entry.ID).Msg("impact: не удалось опубликовать событие")
		}
	}
	s.record(ctx, userID, domain.BusinessMetricEventImpactCredited, map[string]any{
		"week_start": string(entry.WeekStart),
		"units":      entry.Units,
		"action":     string(entry.Action),
	})
}

func (s *Service) record(ctx context.Context, userID int64, event string, meta map[string]any) {
	if s.analytics == nil {
		return
	}
	id := userID
	metric := domain.BusinessMetric{Event: event, UserID: &id, Metadata: meta, OccurredAt: s.now().UTC()}
	if err := s.analytics.RecordBusinessMetric(ctx, metric); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("impact: не удалось сохранить бизнес-метрику")
	}
}

func (s *Service) loadHistory(ctx context.Context, store domain.KVStore) ([]domain.ImpactLedgerEntry, error) {
	raw, ok, err := store.Get(ctx, keyHistory)
	if err != nil {
		return nil, fmt.Errorf("чтение истории: %w", err)
	}
	history := []domain.ImpactLedgerEntry{}
	if !ok {
		return history, nil
	}
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		s.corrupt(keyHistory, err)
		return []domain.ImpactLedgerEntry{}, nil
	}
	return history, nil
}

func (s *Service) loadInt(ctx context.Context, store domain.KVStore, key string) (int64, error) {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("чтение %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	var value int64
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		s.corrupt(key, err)
		return 0, nil
	}
	return value, nil
}

func (s *Service) saveJSON(ctx context.Context, store domain.KVStore, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("кодирование %s: %w", key, err)
	}
	if err := store.Set(ctx, key, string(payload), ttl); err != nil {
		return fmt.Errorf("запись %s: %w", key, err)
	}
	return nil
}

func (s *Service) corrupt(key string, err error) {
	label := key
	switch {
	case strings.HasPrefix(key, keyProcessedPrefix):
		label = keyProcessedPrefix
	case strings.HasPrefix(key, keyDailyPrefix):
		label = keyDailyPrefix
	}
	s.log.Warn().Err(err).Str("key", key).Msg("impact: повреждённое значение, считаем отсутствующим")
	metrics.IncCorruptValue(label)
}

func prependCapped(history []domain.ImpactLedgerEntry, entry domain.ImpactLedgerEntry, limit int) []domain.ImpactLedgerEntry {
	out := make([]domain.ImpactLedgerEntry, 0, min(len(history)+1, limit))
	out = append(out, entry)
	for _, e := range history {
		if len(out) >= limit {
			break
		}
		out = append(out, e)
	}
	return out
}

func latestForWeek(history []domain.ImpactLedgerEntry, week domain.WeekKey) *domain.ImpactLedgerEntry {
	for i := range history {
		if history[i].WeekStart == week {
			entry := history[i]
			return &entry
		}
	}
	return nil
}

func emptyState() domain.ImpactState {
	return domain.ImpactState{History: []domain.ImpactLedgerEntry{}, DailyTrend: domain.TrendStable}
}
