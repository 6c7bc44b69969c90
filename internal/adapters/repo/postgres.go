package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"karma-impact/internal/domain"
	"karma-impact/internal/infra/metrics"
)

// ErrInvalidCalories возвращается для отрицательных или нечисловых калорий.
var ErrInvalidCalories = errors.New("калории должны быть неотрицательными")

// Postgres реализует источники питания и тренировок, копию журнала и бизнес-метрики.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.NutritionSource    = (*Postgres)(nil)
	_ domain.NutritionWriter    = (*Postgres)(nil)
	_ domain.WorkoutSource      = (*Postgres)(nil)
	_ domain.WorkoutWriter      = (*Postgres)(nil)
	_ domain.LedgerMirror       = (*Postgres)(nil)
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
	_ domain.ActiveUserSource   = (*Postgres)(nil)
	_ domain.LedgerReader       = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, user_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4)
`, metric.Event, metric.UserID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// WeeklySummary реализует domain.NutritionSource: потребление суммируется по
// записанным дням, цель — дневная цель на число дней окна.
func (p *Postgres) WeeklySummary(ctx context.Context, userID int64, from, to time.Time) (domain.NutritionSnapshot, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	days := daysBetween(from, to)
	var snapshot domain.NutritionSnapshot
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT
    COALESCE((SELECT SUM(total_calories) FROM nutrition_days
              WHERE user_id = $1 AND day >= $2::date AND day < $3::date), 0),
    COALESCE((SELECT daily_goal_calories FROM nutrition_goals WHERE user_id = $1), 0) * $4
`, userID, domain.DayKey(from), domain.DayKey(to), days).Scan(&snapshot.TotalCalories, &snapshot.GoalCalories)
	metrics.ObserveNetworkRequest("postgres", "nutrition_weekly_summary", "nutrition_days", start, err)
	if err != nil {
		return domain.NutritionSnapshot{}, fmt.Errorf("недельная сводка: %w", err)
	}
	return snapshot, nil
}

// DailyNutrition реализует domain.NutritionSource.
func (p *Postgres) DailyNutrition(ctx context.Context, userID int64, day time.Time) (domain.NutritionSnapshot, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var snapshot domain.NutritionSnapshot
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT
    COALESCE((SELECT total_calories FROM nutrition_days WHERE user_id = $1 AND day = $2::date), 0),
    COALESCE((SELECT daily_goal_calories FROM nutrition_goals WHERE user_id = $1), 0)
`, userID, domain.DayKey(day)).Scan(&snapshot.TotalCalories, &snapshot.GoalCalories)
	metrics.ObserveNetworkRequest("postgres", "nutrition_daily", "nutrition_days", start, err)
	if err != nil {
		return domain.NutritionSnapshot{}, fmt.Errorf("дневная сводка: %w", err)
	}
	return snapshot, nil
}

// UpsertNutritionDay сохраняет итог потребления за день.
func (p *Postgres) UpsertNutritionDay(ctx context.Context, userID int64, day time.Time, totalCalories float64) error {
	if totalCalories < 0 {
		return ErrInvalidCalories
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO nutrition_days (user_id, day, total_calories, updated_at)
VALUES ($1, $2::date, $3, now())
ON CONFLICT (user_id, day) DO UPDATE SET total_calories = EXCLUDED.total_calories, updated_at = now()
`, userID, domain.DayKey(day), totalCalories)
	metrics.ObserveNetworkRequest("postgres", "nutrition_days_upsert", "nutrition_days", start, err)
	return err
}

// SetDailyGoal сохраняет дневную цель калорий.
func (p *Postgres) SetDailyGoal(ctx context.Context, userID int64, goalCalories float64) error {
	if goalCalories < 0 {
		return ErrInvalidCalories
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO nutrition_goals (user_id, daily_goal_calories, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (user_id) DO UPDATE SET daily_goal_calories = EXCLUDED.daily_goal_calories, updated_at = now()
`, userID, goalCalories)
	metrics.ObserveNetworkRequest("postgres", "nutrition_goals_upsert", "nutrition_goals", start, err)
	return err
}

// ListWorkouts реализует domain.WorkoutSource.
func (p *Postgres) ListWorkouts(ctx context.Context, userID int64, since time.Time) ([]domain.WorkoutSession, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, performed_at, calories
FROM workouts
WHERE user_id = $1 AND performed_at >= $2
ORDER BY performed_at
`, userID, since)
	metrics.ObserveNetworkRequest("postgres", "workouts_list", "workouts", start, err)
	if err != nil {
		return nil, err
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.WorkoutSession, error) {
		var w domain.WorkoutSession
		err := row.Scan(&w.ID, &w.Timestamp, &w.Calories)
		return w, err
	})
	if err != nil {
		return nil, fmt.Errorf("чтение тренировок: %w", err)
	}
	return sessions, nil
}

// AddWorkout сохраняет тренировку.
func (p *Postgres) AddWorkout(ctx context.Context, userID int64, workout domain.WorkoutSession) (domain.WorkoutSession, error) {
	if workout.Calories < 0 {
		return domain.WorkoutSession{}, ErrInvalidCalories
	}
	if workout.Timestamp.IsZero() {
		workout.Timestamp = time.Now().UTC()
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO workouts (user_id, performed_at, calories)
VALUES ($1, $2, $3)
RETURNING id
`, userID, workout.Timestamp, workout.Calories).Scan(&workout.ID)
	metrics.ObserveNetworkRequest("postgres", "workouts_insert", "workouts", start, err)
	if err != nil {
		return domain.WorkoutSession{}, err
	}
	return workout, nil
}

// AppendImpactEntry реализует domain.LedgerMirror. Повтор той же недели с тем
// же числом единиц игнорируется.
func (p *Postgres) AppendImpactEntry(ctx context.Context, userID int64, entry domain.ImpactLedgerEntry) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO impact_ledger (id, user_id, week_start, kcal_saved, units, action, message, created_at)
VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, week_start, units) DO NOTHING
`, entry.ID, userID, string(entry.WeekStart), entry.KcalSaved, entry.Units, string(entry.Action), entry.Message, entry.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "impact_ledger_insert", "impact_ledger", start, err)
	return err
}

// ListImpactEntries реализует domain.LedgerReader.
func (p *Postgres) ListImpactEntries(ctx context.Context, userID int64, limit int) ([]domain.ImpactLedgerEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, to_char(week_start, 'YYYY-MM-DD'), kcal_saved, units, action, message, created_at
FROM impact_ledger
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "impact_ledger_list", "impact_ledger", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.ImpactLedgerEntry
	for rows.Next() {
		var (
			e      domain.ImpactLedgerEntry
			week   string
			action string
		)
		if err := rows.Scan(&e.ID, &week, &e.KcalSaved, &e.Units, &action, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.WeekStart = domain.WeekKey(week)
		e.Action = domain.ImpactAction(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListActiveUsers реализует domain.ActiveUserSource: пользователи с записями
// питания или тренировками начиная с since.
func (p *Postgres) ListActiveUsers(ctx context.Context, since time.Time) ([]int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id FROM nutrition_days WHERE day >= $1::date AND total_calories > 0
UNION
SELECT user_id FROM workouts WHERE performed_at >= $2
ORDER BY user_id
`, domain.DayKey(since), since)
	metrics.ObserveNetworkRequest("postgres", "active_users_list", "nutrition_days", start, err)
	if err != nil {
		return nil, err
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("чтение активных пользователей: %w", err)
	}
	return users, nil
}

func daysBetween(from, to time.Time) int {
	days := 0
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}
